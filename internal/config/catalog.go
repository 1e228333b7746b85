package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Catalog declares the API keys, models and engines applied at startup.
// Entries that already exist are left untouched.
type Catalog struct {
	ApiKeys []CatalogKey    `yaml:"api_keys"`
	Models  []CatalogModel  `yaml:"models"`
	Engines []CatalogEngine `yaml:"engines"`
}

// CatalogKey declares one API key.
type CatalogKey struct {
	Key        string `yaml:"key"`
	Owner      string `yaml:"owner"`
	Permission string `yaml:"permission"`
	Suspended  bool   `yaml:"suspended"`
}

// CatalogModel declares one pipeline stage. Config is taken inline or read
// from ConfigFile, which is relative to the catalog file.
type CatalogModel struct {
	Name       string `yaml:"name"`
	Config     string `yaml:"config"`
	ConfigFile string `yaml:"config_file"`
}

// CatalogEngine declares an engine and its released versions, oldest first.
type CatalogEngine struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Versions    []CatalogVersion `yaml:"versions"`
}

// CatalogVersion declares one engine version and its models in pipeline order.
type CatalogVersion struct {
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Models      []string `yaml:"models"`
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	dir := filepath.Dir(path)
	for i := range c.Models {
		m := &c.Models[i]
		if m.ConfigFile == "" {
			continue
		}
		p := m.ConfigFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("model %s: read config: %w", m.Name, err)
		}
		m.Config = string(b)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	for _, k := range c.ApiKeys {
		if k.Key == "" {
			return fmt.Errorf("api key for %q: key is empty", k.Owner)
		}
		switch k.Permission {
		case "USER", "SUPER_USER":
		default:
			return fmt.Errorf("api key for %q: unknown permission %q", k.Owner, k.Permission)
		}
	}

	models := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model with empty name")
		}
		models[m.Name] = true
	}

	for _, e := range c.Engines {
		if e.Name == "" {
			return fmt.Errorf("engine with empty name")
		}
		for _, v := range e.Versions {
			if n := len(v.Models); n < 2 || n > 3 {
				return fmt.Errorf("engine %s version %s: %d models, want 2 or 3", e.Name, v.Version, n)
			}
			for _, name := range v.Models {
				if !models[name] {
					return fmt.Errorf("engine %s version %s: unknown model %q", e.Name, v.Version, name)
				}
			}
		}
	}
	return nil
}
