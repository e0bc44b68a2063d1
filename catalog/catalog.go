// Package catalog loads model definitions from a YAML file. The catalog is
// the single source of truth for context limits and per-token pricing; the
// engine consults it instead of hardcoding model tables.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mbaranowski/loom"
)

// Catalog maps provider/model pairs to their limits and rates.
type Catalog struct {
	models map[string]loom.Model
}

type fileDTO struct {
	Providers []providerDTO `yaml:"providers"`
}

type providerDTO struct {
	ID     string     `yaml:"id"`
	Family string     `yaml:"family"`
	Models []modelDTO `yaml:"models"`
}

type modelDTO struct {
	ID    string   `yaml:"id"`
	Limit limitDTO `yaml:"limit"`
	Cost  costDTO  `yaml:"cost"`
}

type limitDTO struct {
	Context int `yaml:"context"`
	Input   int `yaml:"input"`
	Output  int `yaml:"output"`
}

type costDTO struct {
	Input        float64 `yaml:"input"`
	Output       float64 `yaml:"output"`
	CacheRead    float64 `yaml:"cache_read"`
	CacheWrite5m float64 `yaml:"cache_write_5m"`
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return c, nil
}

// Parse parses catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var file fileDTO
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	models := make(map[string]loom.Model)
	for _, p := range file.Providers {
		if p.ID == "" {
			return nil, fmt.Errorf("provider with empty id")
		}
		for _, m := range p.Models {
			if m.ID == "" {
				return nil, fmt.Errorf("provider %s: model with empty id", p.ID)
			}
			key := modelKey(p.ID, m.ID)
			if _, ok := models[key]; ok {
				return nil, fmt.Errorf("duplicate model %s/%s", p.ID, m.ID)
			}
			models[key] = loom.Model{
				ID:         m.ID,
				ProviderID: p.ID,
				Family:     loom.Family(p.Family),
				Limit: loom.Limit{
					Context: m.Limit.Context,
					Input:   m.Limit.Input,
					Output:  m.Limit.Output,
				},
				Cost: loom.Rates{
					Input:        m.Cost.Input,
					Output:       m.Cost.Output,
					CacheRead:    m.Cost.CacheRead,
					CacheWrite5m: m.Cost.CacheWrite5m,
				},
			}
		}
	}
	return &Catalog{models: models}, nil
}

// Lookup returns the model for a provider/model pair.
func (c *Catalog) Lookup(providerID, modelID string) (loom.Model, error) {
	m, ok := c.models[modelKey(providerID, modelID)]
	if !ok {
		return loom.Model{}, &loom.ModelError{
			ProviderID: providerID,
			ModelID:    modelID,
			Message:    "model not found in catalog",
		}
	}
	return m, nil
}

// Models returns all models sorted by provider then model id.
func (c *Catalog) Models() []loom.Model {
	out := make([]loom.Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func modelKey(providerID, modelID string) string {
	return providerID + "/" + modelID
}
