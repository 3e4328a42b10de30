package config

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
)

//go:embed catalog.toml
var defaultCatalog string

type catalogFile struct {
	Layers []model.LayerSpec `toml:"layers"`
}

// DefaultCatalog returns the built-in layer list.
func DefaultCatalog() ([]model.LayerSpec, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a TOML layer catalog from path. An empty path yields the
// built-in catalog.
func LoadCatalog(path string) ([]model.LayerSpec, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog()
	}
	var f catalogFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return f.Layers, nil
}

func ParseCatalog(doc string) ([]model.LayerSpec, error) {
	var f catalogFile
	md, err := toml.Decode(doc, &f)
	if err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	return f.Layers, nil
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return fmt.Errorf("unknown catalog keys: %s", strings.Join(names, ", "))
	}
	return nil
}
