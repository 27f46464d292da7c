// Package devseed loads module fixtures used to pre-populate the in-memory
// wasmstore mock and the sandbox server.
package devseed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ModuleSeedEntry is one module to add at startup.
type ModuleSeedEntry struct {
	Path   string
	Branch string
	Data   []byte
}

type rawModuleEntry struct {
	Path   string `yaml:"path"`
	Branch string `yaml:"branch"`
	File   string `yaml:"file"`
	Base64 string `yaml:"base64"`
	Text   string `yaml:"text"`
}

type rawModuleSeed struct {
	Modules []rawModuleEntry `yaml:"modules"`
}

// LoadModuleSeed reads a YAML (or JSON) seed file. Each entry names a module
// path and exactly one content source: file (relative to the seed file),
// base64, or text.
func LoadModuleSeed(path string) ([]ModuleSeedEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devseed: read %s: %w", path, err)
	}
	return ParseModuleSeed(raw, filepath.Dir(path))
}

// ParseModuleSeed decodes seed content. Relative file references resolve
// against dir.
func ParseModuleSeed(raw []byte, dir string) ([]ModuleSeedEntry, error) {
	var seed rawModuleSeed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("devseed: decode: %w", err)
	}

	out := make([]ModuleSeedEntry, 0, len(seed.Modules))
	for i, e := range seed.Modules {
		if strings.TrimSpace(e.Path) == "" {
			return nil, fmt.Errorf("devseed: entry %d: path is required", i)
		}
		data, err := e.content(dir)
		if err != nil {
			return nil, fmt.Errorf("devseed: entry %d (%s): %w", i, e.Path, err)
		}
		out = append(out, ModuleSeedEntry{
			Path:   e.Path,
			Branch: e.Branch,
			Data:   data,
		})
	}
	return out, nil
}

func (e rawModuleEntry) content(dir string) ([]byte, error) {
	sources := 0
	for _, s := range []string{e.File, e.Base64, e.Text} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of file, base64 or text is required")
	}

	switch {
	case e.File != "":
		p := e.File
		if !filepath.IsAbs(p) && dir != "" {
			p = filepath.Join(dir, p)
		}
		return os.ReadFile(p)
	case e.Base64 != "":
		return base64.StdEncoding.DecodeString(e.Base64)
	default:
		return []byte(e.Text), nil
	}
}
