package normalize

import (
	"encoding/json"

	"github.com/spigell/pds-matcher/internal/records"
	"github.com/spigell/pds-matcher/internal/taxonomy"
)

// Method names the tier that produced a Result.
type Method string

const (
	MethodDictionary Method = "dictionary"
	MethodEmbedding  Method = "embedding"
	MethodGenerative Method = "generative"
	MethodFallback   Method = "fallback"
)

// Result is the outcome of one normalization. An empty CanonicalKey means no confident
// match and is serialized as null.
type Result struct {
	Domain         taxonomy.Domain `json:"domain"`
	Input          string          `json:"input"`
	CanonicalKey   string          `json:"canonical_key"`
	CanonicalLabel string          `json:"canonical_label,omitempty"`
	Confidence     float64         `json:"confidence"`
	Method         Method          `json:"method"`
	Level          string          `json:"level,omitempty"`
	Category       string          `json:"category,omitempty"`
	FieldGroup     string          `json:"field_group,omitempty"`
	LowConfidence  bool            `json:"low_confidence,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
}

// Matched reports whether a canonical key was assigned.
func (r Result) Matched() bool {
	return r.CanonicalKey != ""
}

// MarshalJSON writes an unmatched key as null.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	var key *string
	if r.CanonicalKey != "" {
		k := r.CanonicalKey
		key = &k
	}
	return json.Marshal(struct {
		plain
		CanonicalKey *string `json:"canonical_key"`
	}{plain: plain(r), CanonicalKey: key})
}

// Record converts r into the annotation stored on job and applicant records.
func (r Result) Record() *records.Normalized {
	return &records.Normalized{
		Key:           r.CanonicalKey,
		Label:         r.CanonicalLabel,
		Level:         r.Level,
		Category:      r.Category,
		FieldGroup:    r.FieldGroup,
		Confidence:    r.Confidence,
		Method:        string(r.Method),
		LowConfidence: r.LowConfidence,
	}
}

func nullResult(domain taxonomy.Domain, input string) Result {
	return Result{Domain: domain, Input: input, Method: MethodFallback}
}

func entryResult(domain taxonomy.Domain, input string, entry taxonomy.Entry, method Method, confidence float64) Result {
	return Result{
		Domain:         domain,
		Input:          input,
		CanonicalKey:   entry.Key,
		CanonicalLabel: entry.Canonical,
		Confidence:     confidence,
		Method:         method,
		Level:          entry.Level,
		Category:       entry.Category,
		FieldGroup:     entry.FieldGroup,
	}
}
