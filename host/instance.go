package host

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// Instance is a loaded module. Calls on an Instance are serialized.
type Instance struct {
	module api.Module
	mem    api.Memory
	alloc  api.Function
	free   api.Function
	funcs  map[string]boundFunc
	logger *slog.Logger

	mu sync.Mutex
	// live maps addresses the host allocated, and has yet to release, to
	// their size.
	live map[uint32]uint32
}

type boundFunc struct {
	fn  api.Function
	sig Signature
}

// Name returns the module name the instance was loaded under.
func (i *Instance) Name() string {
	return i.module.Name()
}

// Module exposes the underlying wazero module for raw access to exports.
func (i *Instance) Module() api.Module {
	return i.module
}

// Funcs returns the names of the bound exports, sorted.
func (i *Instance) Funcs() []string {
	names := make([]string, 0, len(i.funcs))
	for name := range i.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Signature returns the declaration an export was bound with.
func (i *Instance) Signature(name string) (Signature, bool) {
	b, ok := i.funcs[name]
	return b.sig, ok
}

// Live reports the allocations the host has made and not yet released.
func (i *Instance) Live() (count int, size uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, n := range i.live {
		size += uint64(n)
	}
	return len(i.live), size
}

// Close closes the module.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// Allocate calls the module's allocate export. A zero size is passed through;
// the module decides what it returns. A null result for a non-zero size is
// ErrNullPointer.
func (i *Instance) Allocate(ctx context.Context, size uint32) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.allocate(ctx, size)
}

// Deallocate releases memory obtained from Allocate or WriteCString.
// Releasing an address the host does not hold is ErrInvalidFree and is not
// forwarded to the module. The null address is forwarded as is.
func (i *Instance) Deallocate(ctx context.Context, ptr, size uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.deallocate(ctx, ptr, size)
}

// WriteCString places s, NUL-terminated, in a fresh guest allocation and
// returns its address. Bytes after the first NUL in s are dropped.
func (i *Instance) WriteCString(ctx context.Context, s string) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.writeCString(ctx, s)
}

// ReadCString returns a copy of the NUL-terminated string at ptr.
func (i *Instance) ReadCString(ptr uint32) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.readCString(ptr)
}

// AddOne calls add_one.
func (i *Instance) AddOne(ctx context.Context, x int64) (int64, error) {
	v, err := i.Call(ctx, "add_one", x)
	if err != nil {
		return 0, err
	}
	return asResult[int64](i, "add_one", v)
}

// Sum calls sum.
func (i *Instance) Sum(ctx context.Context, x, y int64) (int64, error) {
	v, err := i.Call(ctx, "sum", x, y)
	if err != nil {
		return 0, err
	}
	return asResult[int64](i, "sum", v)
}

// Concat calls concat.
func (i *Instance) Concat(ctx context.Context, a, b string) (string, error) {
	v, err := i.Call(ctx, "concat", a, b)
	if err != nil {
		return "", err
	}
	return asResult[string](i, "concat", v)
}

func asResult[T any](i *Instance, name string, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		sig, _ := i.Signature(name)
		return t, &SignatureError{Func: name, Err: fmt.Errorf("declared as %s", sig)}
	}
	return t, nil
}

// Call invokes a bound export with Go arguments converted per its
// declaration. *C.char and string parameters accept string or []byte, and
// slice parameters the matching Go slice; all are placed in guest memory for
// the duration of the call. A *C.char result is read back as a string and its
// buffer released with deallocate. A string or slice result is read from a
// return slot the host allocates and releases; the memory it points at stays
// with the module.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	b, ok := i.funcs[name]
	if !ok {
		return nil, &CallError{Func: name, Args: args, Err: ErrUnknownFunction}
	}
	if len(args) != len(b.sig.Params) {
		return nil, &CallError{Func: name, Args: args, Err: fmt.Errorf("want %d arguments, have %d", len(b.sig.Params), len(args))}
	}

	var held []uint32
	defer func() {
		for _, ptr := range held {
			if err := i.deallocate(ctx, ptr, i.live[ptr]); err != nil {
				i.logger.WarnContext(ctx, "host: failed to release argument", "function", name, "ptr", ptr, "error", err)
			}
		}
	}()

	var (
		params []uint64
		slot   uint32
	)
	if b.sig.Result.indirect() {
		if i.free == nil {
			return nil, &CallError{Func: name, Args: args, Err: ErrNoDeallocator}
		}
		var err error
		slot, err = i.allocate(ctx, b.sig.Result.headerSize())
		if err != nil {
			return nil, &CallError{Func: name, Args: args, Err: fmt.Errorf("return slot: %w", err)}
		}
		held = append(held, slot)
		params = append(params, api.EncodeU32(slot))
	}
	for n, arg := range args {
		vals, err := i.encodeArg(ctx, b.sig.Params[n], arg, &held)
		if err != nil {
			return nil, &CallError{Func: name, Args: args, Err: fmt.Errorf("argument %d: %w", n, err)}
		}
		params = append(params, vals...)
	}

	i.logger.DebugContext(ctx, "host: call", "function", name, "args", formatArgs(args))
	res, err := b.fn.Call(ctx, params...)
	if err != nil {
		return nil, &CallError{Func: name, Args: args, Err: err}
	}
	var out any
	if b.sig.Result.indirect() {
		out, err = i.readSlot(b.sig.Result, slot)
	} else {
		out, err = i.decode(ctx, b.sig.Result, res[0])
	}
	if err != nil {
		return nil, &CallError{Func: name, Args: args, Err: err}
	}
	return out, nil
}

// encodeArg converts arg to the wasm values of kind. Guest buffers it
// allocates are appended to held.
func (i *Instance) encodeArg(ctx context.Context, kind Kind, arg any, held *[]uint32) ([]uint64, error) {
	switch kind {
	case KindCString:
		s, err := asString(arg)
		if err != nil {
			return nil, err
		}
		ptr, err := i.writeCString(ctx, s)
		if err != nil {
			return nil, err
		}
		*held = append(*held, ptr)
		return []uint64{api.EncodeU32(ptr)}, nil
	case KindString:
		s, err := asString(arg)
		if err != nil {
			return nil, err
		}
		ptr, err := i.writeBytes(ctx, []byte(s), held)
		if err != nil {
			return nil, err
		}
		return []uint64{api.EncodeU32(ptr), api.EncodeU32(uint32(len(s)))}, nil
	}
	if !kind.IsSlice() {
		v, err := encode(kind, arg)
		if err != nil {
			return nil, err
		}
		return []uint64{v}, nil
	}

	data, n, err := i.sliceBytes(ctx, kind, arg, held)
	if err != nil {
		return nil, err
	}
	ptr, err := i.writeBytes(ctx, data, held)
	if err != nil {
		return nil, err
	}
	return []uint64{api.EncodeU32(ptr), api.EncodeU32(uint32(n)), api.EncodeU32(uint32(n))}, nil
}

// sliceBytes lays out the elements of a slice argument as the guest expects
// them and returns the bytes with the element count. Strings in a []string
// are written to guest memory first and laid out as (ptr, len) headers.
func (i *Instance) sliceBytes(ctx context.Context, kind Kind, arg any, held *[]uint32) ([]byte, int, error) {
	switch kind {
	case KindBytes:
		switch v := arg.(type) {
		case []byte:
			return v, len(v), nil
		case string:
			return []byte(v), len(v), nil
		}
	case KindBoolSlice:
		if v, ok := arg.([]bool); ok {
			b := make([]byte, len(v))
			for n, t := range v {
				if t {
					b[n] = 1
				}
			}
			return b, len(v), nil
		}
	case KindInt64Slice:
		if v, ok := arg.([]int64); ok {
			b := make([]byte, 0, 8*len(v))
			for _, x := range v {
				b = binary.LittleEndian.AppendUint64(b, uint64(x))
			}
			return b, len(v), nil
		}
	case KindFloat64Slice:
		if v, ok := arg.([]float64); ok {
			b := make([]byte, 0, 8*len(v))
			for _, x := range v {
				b = binary.LittleEndian.AppendUint64(b, math.Float64bits(x))
			}
			return b, len(v), nil
		}
	case KindStringSlice:
		if v, ok := arg.([]string); ok {
			b := make([]byte, 0, 8*len(v))
			for _, s := range v {
				ptr, err := i.writeBytes(ctx, []byte(s), held)
				if err != nil {
					return nil, 0, err
				}
				b = binary.LittleEndian.AppendUint32(b, ptr)
				b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
			}
			return b, len(v), nil
		}
	}
	return nil, 0, fmt.Errorf("%v is not a %s: %[1]T", arg, kind)
}

func asString(arg any) (string, error) {
	switch arg := arg.(type) {
	case string:
		return arg, nil
	case []byte:
		return string(arg), nil
	default:
		return "", fmt.Errorf("%v is not a string: %[1]T", arg)
	}
}

// readSlot decodes the string or slice header the export wrote at slot.
func (i *Instance) readSlot(kind Kind, slot uint32) (any, error) {
	hdr, ok := i.mem.Read(slot, kind.headerSize())
	if !ok {
		return nil, fmt.Errorf("read header at %#x: %w", slot, ErrOutOfBounds)
	}
	ptr := binary.LittleEndian.Uint32(hdr[0:4])
	n := binary.LittleEndian.Uint32(hdr[4:8])

	data, err := i.readBytes(ptr, uint64(n)*uint64(kind.elemSize()))
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindString:
		return string(data), nil
	case KindBytes:
		return bytes.Clone(data), nil
	case KindBoolSlice:
		out := make([]bool, n)
		for k := range out {
			out[k] = data[k] != 0
		}
		return out, nil
	case KindInt64Slice:
		out := make([]int64, n)
		for k := range out {
			out[k] = int64(binary.LittleEndian.Uint64(data[8*k:]))
		}
		return out, nil
	case KindFloat64Slice:
		out := make([]float64, n)
		for k := range out {
			out[k] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*k:]))
		}
		return out, nil
	case KindStringSlice:
		out := make([]string, n)
		for k := range out {
			sptr := binary.LittleEndian.Uint32(data[8*k:])
			slen := binary.LittleEndian.Uint32(data[8*k+4:])
			s, err := i.readBytes(sptr, uint64(slen))
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", k, err)
			}
			out[k] = string(s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid result kind: %v", kind)
	}
}

// readBytes returns a view of n bytes at ptr. Empty reads need no address.
func (i *Instance) readBytes(ptr uint32, n uint64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if n > math.MaxUint32 {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", n, ptr, ErrOutOfBounds)
	}
	b, ok := i.mem.Read(ptr, uint32(n))
	if !ok {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", n, ptr, ErrOutOfBounds)
	}
	return b, nil
}

// writeBytes copies b into a fresh guest allocation recorded in held. An
// empty b needs no allocation and is passed as the null address.
func (i *Instance) writeBytes(ctx context.Context, b []byte, held *[]uint32) (uint32, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if i.free == nil {
		return 0, ErrNoDeallocator
	}
	if uint64(len(b)) > math.MaxUint32 {
		return 0, fmt.Errorf("%d bytes: %w", len(b), ErrOutOfBounds)
	}
	size := uint32(len(b))
	ptr, err := i.allocate(ctx, size)
	if err != nil {
		return 0, err
	}
	*held = append(*held, ptr)
	if !i.mem.Write(ptr, b) {
		return 0, fmt.Errorf("write %d bytes at %#x: %w", size, ptr, ErrOutOfBounds)
	}
	return ptr, nil
}

func (i *Instance) allocate(ctx context.Context, size uint32) (uint32, error) {
	if i.alloc == nil {
		return 0, ErrNoAllocator
	}
	res, err := i.alloc.Call(ctx, api.EncodeU32(size))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate in guest: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		if size == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("allocate(%d): %w", size, ErrNullPointer)
	}
	if uint64(ptr)+uint64(size) > uint64(i.mem.Size()) {
		return 0, fmt.Errorf("allocate(%d) = %#x: %w", size, ptr, ErrOutOfBounds)
	}
	i.live[ptr] = size
	return ptr, nil
}

func (i *Instance) deallocate(ctx context.Context, ptr, size uint32) error {
	if ptr != 0 {
		if _, ok := i.live[ptr]; !ok {
			return fmt.Errorf("%w: %#x", ErrInvalidFree, ptr)
		}
		delete(i.live, ptr)
	}
	return i.release(ctx, ptr, size)
}

// release calls deallocate without consulting the host's accounting, for
// buffers the module allocated itself.
func (i *Instance) release(ctx context.Context, ptr, size uint32) error {
	if i.free == nil {
		return ErrNoDeallocator
	}
	if _, err := i.free.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(size)); err != nil {
		return fmt.Errorf("failed to deallocate in guest: %w", err)
	}
	return nil
}

func (i *Instance) writeCString(ctx context.Context, s string) (uint32, error) {
	if n := strings.IndexByte(s, 0); n >= 0 {
		s = s[:n]
	}
	if i.free == nil {
		return 0, ErrNoDeallocator
	}
	size := uint32(len(s) + 1)
	ptr, err := i.allocate(ctx, size)
	if err != nil {
		return 0, err
	}
	if !i.mem.Write(ptr, append([]byte(s), 0)) {
		_ = i.deallocate(ctx, ptr, size)
		return 0, fmt.Errorf("write %d bytes at %#x: %w", size, ptr, ErrOutOfBounds)
	}
	return ptr, nil
}

func (i *Instance) readCString(ptr uint32) ([]byte, error) {
	if ptr == 0 {
		return nil, ErrNullPointer
	}
	size := i.mem.Size()
	if ptr >= size {
		return nil, fmt.Errorf("read at %#x: %w", ptr, ErrOutOfBounds)
	}
	buf, ok := i.mem.Read(ptr, size-ptr)
	if !ok {
		return nil, fmt.Errorf("read at %#x: %w", ptr, ErrOutOfBounds)
	}
	s, _, found := bytes.Cut(buf, []byte{0})
	if !found {
		return nil, fmt.Errorf("read at %#x: %w", ptr, ErrNoTerminator)
	}
	return bytes.Clone(s), nil
}

// takeCString reads the C string at ptr and hands its buffer back to the
// module.
func (i *Instance) takeCString(ctx context.Context, ptr uint32) (string, error) {
	s, err := i.readCString(ptr)
	if err != nil {
		if ptr != 0 {
			// Without a terminator the length is unknown; deallocate ignores it.
			if rerr := i.release(ctx, ptr, 0); rerr != nil {
				i.logger.WarnContext(ctx, "host: failed to release result", "ptr", ptr, "error", rerr)
			}
		}
		return "", err
	}
	if err := i.release(ctx, ptr, uint32(len(s)+1)); err != nil {
		return "", err
	}
	return string(s), nil
}

func (i *Instance) decode(ctx context.Context, kind Kind, v uint64) (any, error) {
	switch kind {
	case KindBool:
		return api.DecodeI32(v) != 0, nil
	case KindInt32:
		return api.DecodeI32(v), nil
	case KindInt64:
		return int64(v), nil
	case KindUint32:
		return api.DecodeU32(v), nil
	case KindUint64:
		return v, nil
	case KindFloat32:
		return api.DecodeF32(v), nil
	case KindFloat64:
		return api.DecodeF64(v), nil
	case KindCString:
		return i.takeCString(ctx, api.DecodeU32(v))
	default:
		return nil, fmt.Errorf("invalid result kind: %v", kind)
	}
}

func encode(kind Kind, arg any) (uint64, error) {
	switch kind {
	case KindBool:
		b, ok := arg.(bool)
		if !ok {
			return 0, fmt.Errorf("%v is not a bool: %[1]T", arg)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case KindInt32:
		n, ok := toInt64(arg)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%v is not an int32: %[1]T", arg)
		}
		return api.EncodeI32(int32(n)), nil
	case KindInt64:
		n, ok := toInt64(arg)
		if !ok {
			return 0, fmt.Errorf("%v is not an int64: %[1]T", arg)
		}
		return api.EncodeI64(n), nil
	case KindUint32:
		n, ok := toUint64(arg)
		if !ok || n > math.MaxUint32 {
			return 0, fmt.Errorf("%v is not a uint32: %[1]T", arg)
		}
		return api.EncodeU32(uint32(n)), nil
	case KindUint64:
		n, ok := toUint64(arg)
		if !ok {
			return 0, fmt.Errorf("%v is not a uint64: %[1]T", arg)
		}
		return n, nil
	case KindFloat32:
		f, ok := toFloat64(arg)
		if !ok {
			return 0, fmt.Errorf("%v is not a float32: %[1]T", arg)
		}
		return api.EncodeF32(float32(f)), nil
	case KindFloat64:
		f, ok := toFloat64(arg)
		if !ok {
			return 0, fmt.Errorf("%v is not a float64: %[1]T", arg)
		}
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("invalid parameter kind: %v", kind)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	default:
		s, ok := toInt64(v)
		if !ok || s < 0 {
			return 0, false
		}
		return uint64(s), true
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
