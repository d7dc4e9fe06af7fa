package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
)

// sourceSeedDocument is the on-disk shape of a bulk source-definition file:
// a shared defaults block (applied to every entry that omits a field) plus
// the list of sources themselves. This is the teacher's YAML-config idiom
// (pkg/config/loader.go) repurposed for seeding api_sources/
// api_source_configurations instead of agent/chain definitions.
type sourceSeedDocument struct {
	Defaults domain.SourceConfiguration `yaml:"defaults"`
	Sources  []sourceSeedEntry          `yaml:"sources"`
}

type sourceSeedEntry struct {
	domain.Source `yaml:",inline"`
}

// LoadSourceSeeds reads a YAML bulk source-definition file from path,
// merging the document's shared `defaults` configuration block into every
// source entry that leaves a configuration field unset (dario.cat/mergo,
// teacher idiom from pkg/config/loader.go's resolveXConfig family), then
// validates each resulting Source (§3).
//
// cmd/adminserver's `-seed-file` flag loads a file through this function and
// creates each resulting Source at startup; the admin HTTP API (§6) is the
// normal way to register sources at runtime.
func LoadSourceSeeds(path string) ([]domain.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
	}

	var doc sourceSeedDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, path, err)
	}

	sources := make([]domain.Source, 0, len(doc.Sources))
	for i, entry := range doc.Sources {
		cfg := entry.Configuration
		if err := mergo.Merge(&cfg, doc.Defaults); err != nil {
			return nil, fmt.Errorf("failed to merge defaults into source %d (%s): %w", i, entry.ID, err)
		}
		entry.Configuration = cfg

		if err := entry.Source.Validate(); err != nil {
			return nil, fmt.Errorf("%w: source %d (%s): %v", ErrValidationFailed, i, entry.ID, err)
		}
		if err := entry.Configuration.Validate(); err != nil {
			return nil, fmt.Errorf("%w: source %d (%s) configuration: %v", ErrValidationFailed, i, entry.ID, err)
		}
		sources = append(sources, entry.Source)
	}
	return sources, nil
}
