package host

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"math"
)

var (
	magicWASM  = []byte{0x00, 0x61, 0x73, 0x6d}
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte{0x42, 0x5a, 0x68}
)

// Expand returns the raw wasm bytes of obj, which may be a plain module or a
// gzip or bzip2 compressed one. The expanded size is limited to limit bytes.
func Expand(obj []byte, limit int64) ([]byte, error) {
	var r io.Reader
	switch {
	case bytes.HasPrefix(obj, magicWASM):
		return obj, nil
	case bytes.HasPrefix(obj, magicGzip):
		zr, err := gzip.NewReader(bytes.NewReader(obj))
		if err != nil {
			return nil, &ObjectError{Err: err}
		}
		defer zr.Close()
		r = zr
	case bytes.HasPrefix(obj, magicBzip2):
		r = bzip2.NewReader(bytes.NewReader(obj))
	default:
		return nil, &ObjectError{Err: ErrUnknownMagic}
	}

	// Read one byte past the limit to detect oversized objects.
	read := limit
	if read < math.MaxInt64 {
		read++
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, read))
	if err != nil {
		return nil, &ObjectError{Err: err}
	}
	if n > limit {
		return nil, &ObjectError{Err: fmt.Errorf("%w: more than %d bytes", ErrObjectTooLarge, limit)}
	}
	if !bytes.HasPrefix(buf.Bytes(), magicWASM) {
		return nil, &ObjectError{Err: fmt.Errorf("decompressed %w", ErrUnknownMagic)}
	}
	return buf.Bytes(), nil
}
