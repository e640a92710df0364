package taxonomy

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed data/*.yaml
var builtin embed.FS

// ErrAliasCollision is returned by strict loads when an alias maps to several keys.
var ErrAliasCollision = errors.New("taxonomy alias collision")

// LoadOptions selects the taxonomy sources. Empty paths use the built-in documents.
type LoadOptions struct {
	DegreesPath       string
	EligibilitiesPath string
	// Strict turns alias collisions into a load error.
	Strict bool
}

// Load parses one taxonomy document from path, or the built-in one when path is empty.
func Load(domain Domain, path string, strict bool) (*Taxonomy, error) {
	data, source, err := read(domain, path)
	if err != nil {
		return nil, err
	}

	entries, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s taxonomy %s: %w", domain, source, err)
	}

	t := New(domain, entries)
	if strict {
		if collisions := t.Collisions(); len(collisions) > 0 {
			parts := make([]string, 0, len(collisions))
			for _, c := range collisions {
				parts = append(parts, c.String())
			}
			return nil, fmt.Errorf("%w in %s taxonomy %s: %s", ErrAliasCollision, domain, source, strings.Join(parts, "; "))
		}
	}

	return t, nil
}

// LoadSet loads both taxonomies.
func LoadSet(opts LoadOptions) (*Set, error) {
	degrees, err := Load(DomainDegree, opts.DegreesPath, opts.Strict)
	if err != nil {
		return nil, err
	}

	eligibilities, err := Load(DomainEligibility, opts.EligibilitiesPath, opts.Strict)
	if err != nil {
		return nil, err
	}

	return &Set{Degrees: degrees, Eligibilities: eligibilities}, nil
}

func read(domain Domain, path string) ([]byte, string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("read %s taxonomy: %w", domain, err)
		}
		return data, path, nil
	}

	var name string
	switch domain {
	case DomainDegree:
		name = "data/degrees.yaml"
	case DomainEligibility:
		name = "data/eligibilities.yaml"
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	data, err := builtin.ReadFile(name)
	if err != nil {
		return nil, name, fmt.Errorf("read built-in %s taxonomy: %w", domain, err)
	}
	return data, "builtin:" + name, nil
}
