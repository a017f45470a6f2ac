// Package samples holds the canned example queries shipped with sqldraft.
package samples

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brfsskit/sqldraft/internal/dataset"
)

//go:embed samples.yaml
var builtin []byte

// Sample is a ready-made prompt with a known-good query.
type Sample struct {
	ID            string         `yaml:"id" json:"id"`
	Label         string         `yaml:"label" json:"label"`
	Prompt        string         `yaml:"prompt" json:"prompt"`
	RequiredYears []dataset.Year `yaml:"required_years" json:"required_years"`
	SQL           string         `yaml:"sql" json:"sql"`
}

// MissingYears returns the required years absent from loaded, in required order.
func (s Sample) MissingYears(loaded []dataset.Year) []dataset.Year {
	have := make(map[dataset.Year]bool, len(loaded))
	for _, y := range loaded {
		have[y] = true
	}
	var missing []dataset.Year
	for _, y := range s.RequiredYears {
		if !have[y] {
			missing = append(missing, y)
		}
	}
	return missing
}

// Catalog is an ordered set of samples.
type Catalog struct {
	samples []Sample
}

// Load returns the built-in catalog.
func Load() (*Catalog, error) {
	return Parse(builtin)
}

// Parse decodes a samples document and validates every entry.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Samples []Sample `yaml:"samples"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing samples: %w", err)
	}

	seen := make(map[string]bool, len(doc.Samples))
	for i, s := range doc.Samples {
		if s.ID == "" {
			return nil, fmt.Errorf("sample %d: missing id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("sample %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		for _, y := range s.RequiredYears {
			if !dataset.IsKnown(y) {
				return nil, fmt.Errorf("sample %q: unknown year %d", s.ID, int(y))
			}
		}
		doc.Samples[i].SQL = strings.TrimSpace(s.SQL)
	}
	return &Catalog{samples: doc.Samples}, nil
}

// All returns the samples in document order.
func (c *Catalog) All() []Sample {
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// Get returns the sample with the given id.
func (c *Catalog) Get(id string) (Sample, bool) {
	for _, s := range c.samples {
		if s.ID == id {
			return s, true
		}
	}
	return Sample{}, false
}
