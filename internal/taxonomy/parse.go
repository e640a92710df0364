package taxonomy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned when a taxonomy document holds no entries at all.
var ErrEmptyDocument = errors.New("taxonomy document is empty")

// wrapperKeys are top-level keys that hold the entry collection instead of an entry.
var wrapperKeys = map[string]struct{}{
	"entries":       {},
	"items":         {},
	"degrees":       {},
	"eligibilities": {},
	"taxonomy":      {},
}

// fieldNames maps accepted spellings to the canonical field name. Earlier spellings win
// when a document carries several of them.
var fieldNames = []struct {
	target   string
	spelling []string
}{
	{target: "key", spelling: []string{"key", "id", "code"}},
	{target: "canonical", spelling: []string{"canonical", "canonical_label", "canonicallabel", "label", "name", "title"}},
	{target: "level", spelling: []string{"level", "degree_level"}},
	{target: "category", spelling: []string{"category", "type", "class"}},
	{target: "field_group", spelling: []string{"field_group", "fieldgroup", "field", "group"}},
	{target: "aliases", spelling: []string{"aliases", "alias", "synonyms", "variants"}},
}

type rawEntry struct {
	Key        string   `mapstructure:"key"`
	Canonical  string   `mapstructure:"canonical"`
	Level      string   `mapstructure:"level"`
	Category   string   `mapstructure:"category"`
	FieldGroup string   `mapstructure:"field_group"`
	Aliases    []string `mapstructure:"aliases"`
}

// ParseDocument reads a YAML (or JSON) taxonomy document. It accepts a list of entries,
// a map keyed by entry identifier, or either of those under a single wrapper key such
// as "degrees" or "entries". Entries without a key or canonical label are skipped.
func ParseDocument(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode taxonomy document: %w", err)
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, ErrEmptyDocument
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		root = root.Content[0]
	}

	entries, err := parseNode(root, true)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyDocument
	}

	return entries, nil
}

func parseNode(n *yaml.Node, top bool) ([]Entry, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return parseNode(n.Alias, top)
	case yaml.SequenceNode:
		entries := make([]Entry, 0, len(n.Content))
		for _, item := range n.Content {
			entry, ok, err := decodeEntry(item, "")
			if err != nil {
				return nil, err
			}
			if ok {
				entries = append(entries, entry)
			}
		}
		return entries, nil
	case yaml.MappingNode:
		if top && len(n.Content) == 2 {
			name := strings.ToLower(strings.TrimSpace(n.Content[0].Value))
			value := n.Content[1]
			_, wrapped := wrapperKeys[name]
			if value.Kind == yaml.SequenceNode || (wrapped && value.Kind == yaml.MappingNode) {
				return parseNode(value, false)
			}
		}

		entries := make([]Entry, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			entry, ok, err := decodeEntry(n.Content[i+1], n.Content[i].Value)
			if err != nil {
				return nil, err
			}
			if ok {
				entries = append(entries, entry)
			}
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("unsupported taxonomy document shape at line %d: expected a list or a map of entries", n.Line)
	}
}

// decodeEntry turns one mapping node into an Entry. Non-mapping items and entries that
// fail to decode or lack required fields are reported as not ok.
func decodeEntry(n *yaml.Node, defaultKey string) (Entry, bool, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Kind != yaml.MappingNode {
		return Entry{}, false, nil
	}

	var fields map[string]any
	if err := n.Decode(&fields); err != nil {
		return Entry{}, false, fmt.Errorf("decode taxonomy entry at line %d: %w", n.Line, err)
	}

	var raw rawEntry
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return Entry{}, false, err
	}
	if err := decoder.Decode(canonicalFields(fields)); err != nil {
		return Entry{}, false, nil
	}

	entry := Entry{
		Key:        strings.TrimSpace(raw.Key),
		Canonical:  strings.TrimSpace(raw.Canonical),
		Level:      strings.TrimSpace(raw.Level),
		Category:   strings.TrimSpace(raw.Category),
		FieldGroup: strings.TrimSpace(raw.FieldGroup),
		Aliases:    uniqueStrings(raw.Aliases),
	}
	if entry.Key == "" {
		entry.Key = strings.TrimSpace(defaultKey)
	}
	if entry.Key == "" || entry.Canonical == "" {
		return Entry{}, false, nil
	}

	return entry, true, nil
}

func canonicalFields(in map[string]any) map[string]any {
	lowered := make(map[string]any, len(in))
	for k, v := range in {
		lowered[strings.ToLower(strings.ReplaceAll(strings.TrimSpace(k), "-", "_"))] = v
	}

	out := make(map[string]any, len(fieldNames))
	for _, f := range fieldNames {
		for _, spelling := range f.spelling {
			if v, ok := lowered[spelling]; ok && v != nil {
				out[f.target] = v
				break
			}
		}
	}
	return out
}
