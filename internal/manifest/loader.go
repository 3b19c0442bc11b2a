package manifest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nictes1/automatizacion-ai-sub000/internal/dialog"
)

//go:embed builtin/manifests.yaml
var builtinFS embed.FS

// rawFile mirrors the on-disk layout: vertical → tool specs.
type rawFile struct {
	Verticals map[string][]Tool `yaml:"verticals"`
}

// Load reads a manifest file. An empty path loads the builtin manifests.
func Load(path string) (Set, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = builtinFS.ReadFile("builtin/manifests.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (Set, error) {
	expanded := os.ExpandEnv(string(data))
	var raw rawFile
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(raw.Verticals) == 0 {
		return nil, fmt.Errorf("manifest declares no verticals")
	}
	set := make(Set, len(raw.Verticals))
	for name, tools := range raw.Verticals {
		vertical := dialog.Vertical(name)
		if !vertical.Valid() {
			return nil, fmt.Errorf("manifest declares unknown vertical %q", name)
		}
		m, err := newManifest(vertical, tools)
		if err != nil {
			return nil, err
		}
		set[vertical] = m
	}
	return set, nil
}
