package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chenyanchen/hotreload"
	"github.com/chenyanchen/hotreload/source"
)

// AssetSpec declares one file-backed asset.
// Format is a registered format name; empty picks one by file extension.
type AssetSpec struct {
	Kind   string `json:"kind" yaml:"kind"`
	Name   string `json:"name" yaml:"name"`
	Path   string `json:"path" yaml:"path"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

func (s AssetSpec) Key() hotreload.AssetKey {
	return hotreload.AssetKey{Kind: s.Kind, Name: s.Name}
}

// Manifest is a list of asset declarations.
type Manifest struct {
	Assets []AssetSpec `json:"assets" yaml:"assets"`
}

// Load reads a YAML manifest. Relative asset paths are resolved against the
// manifest's directory.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest YAML. baseDir resolves relative asset paths.
func Parse(data []byte, baseDir string) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	m.Assets = ResolvePaths(baseDir, m.Assets)
	if err := Validate(m.Assets); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Format decodes a manifest file as a hot reloadable source, so edits to
// the asset list are noticed like edits to any asset.
func Format(baseDir string) source.Format[Manifest] {
	return source.Format[Manifest]{
		Name:       "manifest",
		Extensions: []string{".yaml", ".yml"},
		Decode: func(data []byte) (Manifest, error) {
			return Parse(data, baseDir)
		},
	}
}

// ResolvePaths returns a copy of specs with relative paths joined to baseDir.
func ResolvePaths(baseDir string, specs []AssetSpec) []AssetSpec {
	if specs == nil {
		return nil
	}
	out := make([]AssetSpec, len(specs))
	for i, spec := range specs {
		if spec.Path != "" && !filepath.IsAbs(spec.Path) {
			spec.Path = filepath.Join(baseDir, spec.Path)
		}
		out[i] = spec
	}
	return out
}

// Validate checks every spec has a key and a path, and that keys are unique.
func Validate(specs []AssetSpec) error {
	seen := make(map[hotreload.AssetKey]struct{}, len(specs))
	for i, spec := range specs {
		if spec.Kind == "" {
			return fmt.Errorf("asset #%d: kind is empty", i)
		}
		if spec.Name == "" {
			return fmt.Errorf("asset #%d (%s): name is empty", i, spec.Kind)
		}
		if spec.Path == "" {
			return fmt.Errorf("asset %s: path is empty", spec.Key().String())
		}
		if _, dup := seen[spec.Key()]; dup {
			return hotreload.DuplicateAssetError{Key: spec.Key()}
		}
		seen[spec.Key()] = struct{}{}
	}
	return nil
}
