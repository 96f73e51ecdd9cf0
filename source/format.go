package source

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Format decodes raw source bytes into content of type T.
type Format[T any] struct {
	Name       string
	Extensions []string // Lower-case, with the leading dot.
	Decode     func(data []byte) (T, error)
}

// JSON decodes with encoding/json.
func JSON[T any]() Format[T] {
	return Format[T]{
		Name:       "json",
		Extensions: []string{".json"},
		Decode: func(data []byte) (T, error) {
			var out T
			err := json.Unmarshal(data, &out)
			return out, err
		},
	}
}

// YAML decodes with gopkg.in/yaml.v3.
func YAML[T any]() Format[T] {
	return Format[T]{
		Name:       "yaml",
		Extensions: []string{".yaml", ".yml"},
		Decode: func(data []byte) (T, error) {
			var out T
			err := yaml.Unmarshal(data, &out)
			return out, err
		},
	}
}

// TOML decodes with github.com/pelletier/go-toml. Decoding into any yields
// a map[string]any.
func TOML[T any]() Format[T] {
	return Format[T]{
		Name:       "toml",
		Extensions: []string{".toml"},
		Decode: func(data []byte) (T, error) {
			var out T
			if p, ok := any(&out).(*any); ok {
				tree, err := toml.LoadBytes(data)
				if err != nil {
					return out, err
				}
				*p = tree.ToMap()
				return out, nil
			}
			err := toml.Unmarshal(data, &out)
			return out, err
		},
	}
}

// Bytes keeps the raw content.
func Bytes() Format[[]byte] {
	return Format[[]byte]{
		Name: "bytes",
		Decode: func(data []byte) ([]byte, error) {
			return append([]byte(nil), data...), nil
		},
	}
}

type compiledFormat struct {
	name   string
	exts   []string
	decode func(data []byte) (any, error)
}

func (f compiledFormat) format() Format[any] {
	return Format[any]{
		Name:       f.name,
		Extensions: append([]string(nil), f.exts...),
		Decode:     f.decode,
	}
}

// Formats stores formats by name and file extension. Decoded content is
// returned as any, which suits config-driven stores of mixed assets.
type Formats struct {
	mu     sync.RWMutex
	byName map[string]compiledFormat
	byExt  map[string]string
}

func NewFormats() *Formats {
	return &Formats{
		byName: make(map[string]compiledFormat),
		byExt:  make(map[string]string),
	}
}

// DefaultFormats returns a registry with json, yaml, toml and bytes.
func DefaultFormats() *Formats {
	r := NewFormats()
	MustRegister(r, JSON[any]())
	MustRegister(r, YAML[any]())
	MustRegister(r, TOML[any]())
	MustRegister(r, Bytes())
	return r
}

// Register registers one format with generics.
func Register[T any](r *Formats, f Format[T]) error {
	if r == nil {
		return fmt.Errorf("register format: registry is nil")
	}
	if f.Name == "" {
		return fmt.Errorf("register format: name is empty")
	}
	if f.Decode == nil {
		return fmt.Errorf("register format: decode func is nil for %s", f.Name)
	}

	exts := make([]string, 0, len(f.Extensions))
	for _, ext := range f.Extensions {
		exts = append(exts, normalizeExt(ext))
	}
	compiled := compiledFormat{
		name: f.Name,
		exts: exts,
		decode: func(data []byte) (any, error) {
			return f.Decode(data)
		},
	}

	key := strings.ToLower(f.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("register format: duplicate format %s", f.Name)
	}
	for _, ext := range exts {
		if owner, taken := r.byExt[ext]; taken {
			return fmt.Errorf("register format %s: extension %s already owned by %s", f.Name, ext, owner)
		}
	}
	r.byName[key] = compiled
	for _, ext := range exts {
		r.byExt[ext] = key
	}
	return nil
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func MustRegister[T any](r *Formats, f Format[T]) {
	if err := Register(r, f); err != nil {
		panic(err)
	}
}

// Lookup returns the format registered under name.
func (r *Formats) Lookup(name string) (Format[any], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Format[any]{}, false
	}
	return f.format(), true
}

// ForPath returns the format owning the extension of path.
func (r *Formats) ForPath(path string) (Format[any], bool) {
	ext := normalizeExt(filepath.Ext(path))
	r.mu.RLock()
	name, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return Format[any]{}, false
	}
	return r.Lookup(name)
}

// Resolve picks the format named by name, or the one matching the extension
// of path when name is empty.
func (r *Formats) Resolve(name, path string) (Format[any], error) {
	if name != "" {
		f, ok := r.Lookup(name)
		if !ok {
			return Format[any]{}, fmt.Errorf("unknown format %q", name)
		}
		return f, nil
	}
	f, ok := r.ForPath(path)
	if !ok {
		return Format[any]{}, fmt.Errorf("no format for extension of %q", path)
	}
	return f, nil
}

// Names returns registered format names, sorted.
func (r *Formats) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
