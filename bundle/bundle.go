// Package bundle packages compiled modules for embedding in harness
// configurations and txtar test scripts.
package bundle

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/tools/txtar"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the archive member holding the harness configuration.
const ConfigFile = "cfg.yaml"

// LineWidth is the column at which encoded objects are folded.
const LineWidth = 80

// ErrNoConfig is returned when an archive has no ConfigFile member.
var ErrNoConfig = errors.New("archive has no " + ConfigFile)

// Encode gzips wasm and returns it base64 encoded, folded at LineWidth.
func Encode(wasm []byte) (string, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(wasm); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	enc := base64.StdEncoding.EncodeToString(buf.Bytes())

	var b strings.Builder
	for len(enc) > LineWidth {
		b.WriteString(enc[:LineWidth])
		b.WriteByte('\n')
		enc = enc[LineWidth:]
	}
	b.WriteString(enc)
	b.WriteByte('\n')
	return b.String(), nil
}

// Rewrite replaces the object of module lib in the archive's ConfigFile with
// obj and returns the reformatted archive. Other archive members are kept.
func Rewrite(archive []byte, lib, obj string) ([]byte, error) {
	ar := txtar.Parse(archive)
	i := -1
	for n, f := range ar.Files {
		if f.Name == ConfigFile {
			i = n
			break
		}
	}
	if i < 0 {
		return nil, ErrNoConfig
	}

	var cfg map[string]any
	if err := yaml.Unmarshal(ar.Files[i].Data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFile, err)
	}
	if cfg == nil {
		cfg = make(map[string]any)
	}
	mods, _ := cfg["wasm"].(map[string]any)
	if mods == nil {
		mods = make(map[string]any)
		cfg["wasm"] = mods
	}
	mod, _ := mods[lib].(map[string]any)
	if mod == nil {
		mod = make(map[string]any)
		mods[lib] = mod
	}
	mod["obj"] = obj

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to format %s: %w", ConfigFile, err)
	}
	ar.Files[i].Data = data
	return txtar.Format(ar), nil
}
