// Package taxonomy holds the canonical degree and eligibility dictionaries and the
// alias lookup built from them. A Taxonomy is immutable once constructed.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/pds-matcher/internal/textsim"
)

// Domain names one taxonomy.
type Domain string

const (
	DomainDegree      Domain = "degree"
	DomainEligibility Domain = "eligibility"
)

// ErrUnknownDomain is returned when a domain name is not recognised.
var ErrUnknownDomain = errors.New("unknown taxonomy domain")

// ParseDomain accepts the domain name in any case, plus a few plural spellings.
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "degree", "degrees", "education":
		return DomainDegree, nil
	case "eligibility", "eligibilities":
		return DomainEligibility, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
	}
}

// Entry is one canonical concept.
type Entry struct {
	Key        string   `json:"key" yaml:"key"`
	Canonical  string   `json:"canonical" yaml:"canonical"`
	Level      string   `json:"level,omitempty" yaml:"level,omitempty"`
	Category   string   `json:"category,omitempty" yaml:"category,omitempty"`
	FieldGroup string   `json:"field_group,omitempty" yaml:"field_group,omitempty"`
	Aliases    []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Collision reports a normalized alias claimed by more than one key.
type Collision struct {
	Alias string
	Keys  []string
}

func (c Collision) String() string {
	return fmt.Sprintf("%q -> %s", c.Alias, strings.Join(c.Keys, ", "))
}

// Taxonomy is a read-only dictionary for one domain.
type Taxonomy struct {
	domain  Domain
	entries []Entry
	byKey   map[string]int
	lookup  map[string]string

	collisions map[string][]string
}

// New indexes entries. Entries sharing a key are merged into the first one; when a
// normalized alias is claimed by several keys the first claimant keeps it and the
// conflict is recorded in Collisions.
func New(domain Domain, entries []Entry) *Taxonomy {
	t := &Taxonomy{
		domain:     domain,
		byKey:      make(map[string]int, len(entries)),
		lookup:     make(map[string]string),
		collisions: make(map[string][]string),
	}

	for _, e := range entries {
		e.Key = strings.TrimSpace(e.Key)
		e.Canonical = strings.TrimSpace(e.Canonical)
		if e.Key == "" || e.Canonical == "" {
			continue
		}

		if idx, ok := t.byKey[e.Key]; ok {
			merged := t.entries[idx]
			merged.Aliases = uniqueStrings(append(merged.Aliases, e.Aliases...))
			t.entries[idx] = merged
		} else {
			e.Aliases = uniqueStrings(e.Aliases)
			t.byKey[e.Key] = len(t.entries)
			t.entries = append(t.entries, e)
		}
	}

	for _, e := range t.entries {
		names := append([]string{e.Key, e.Canonical}, e.Aliases...)
		for _, name := range names {
			t.claim(textsim.Normalize(name), e.Key)
		}
	}

	return t
}

func (t *Taxonomy) claim(alias, key string) {
	if alias == "" {
		return
	}

	owner, ok := t.lookup[alias]
	if !ok {
		t.lookup[alias] = key
		return
	}
	if owner == key {
		return
	}

	keys := t.collisions[alias]
	if len(keys) == 0 {
		keys = append(keys, owner)
	}
	for _, k := range keys {
		if k == key {
			return
		}
	}
	t.collisions[alias] = append(keys, key)
}

// Domain returns the taxonomy's domain.
func (t *Taxonomy) Domain() Domain { return t.domain }

// Len returns the number of canonical entries.
func (t *Taxonomy) Len() int { return len(t.entries) }

// Entries returns a copy of the entries in document order.
func (t *Taxonomy) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		e.Aliases = append([]string(nil), e.Aliases...)
		out[i] = e
	}
	return out
}

// Entry returns the entry with the given key.
func (t *Taxonomy) Entry(key string) (Entry, bool) {
	idx, ok := t.byKey[strings.TrimSpace(key)]
	if !ok {
		return Entry{}, false
	}
	return t.entries[idx], true
}

// Lookup resolves a raw string through the alias dictionary.
func (t *Taxonomy) Lookup(raw string) (Entry, bool) {
	key, ok := t.lookup[textsim.Normalize(raw)]
	if !ok {
		return Entry{}, false
	}
	return t.Entry(key)
}

// Aliases returns the normalized alias dictionary size.
func (t *Taxonomy) Aliases() int { return len(t.lookup) }

// Collisions lists every normalized alias owned by more than one key, sorted by alias.
func (t *Taxonomy) Collisions() []Collision {
	out := make([]Collision, 0, len(t.collisions))
	for alias, keys := range t.collisions {
		out = append(out, Collision{Alias: alias, Keys: append([]string(nil), keys...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Set bundles the degree and eligibility taxonomies handed to both engines.
type Set struct {
	Degrees       *Taxonomy
	Eligibilities *Taxonomy
}

// For returns the taxonomy for the given domain, or nil.
func (s *Set) For(domain Domain) *Taxonomy {
	if s == nil {
		return nil
	}
	switch domain {
	case DomainDegree:
		return s.Degrees
	case DomainEligibility:
		return s.Eligibilities
	default:
		return nil
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

var levelRanks = map[string]int{
	"elementary": 1,
	"secondary":  2,
	"vocational": 3,
	"associate":  4,
	"bachelors":  5,
	"masters":    6,
	"doctorate":  7,
}

// LevelRank orders educational levels from elementary (1) to doctorate (7). Unknown levels rank 0.
func LevelRank(level string) int {
	return levelRanks[strings.ToLower(strings.TrimSpace(level))]
}
