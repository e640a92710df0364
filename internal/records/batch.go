package records

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrEmptyBatch is returned for documents without a job.
var ErrEmptyBatch = errors.New("batch document has no job")

// Batch is one job together with the applicant pool to rank against it.
type Batch struct {
	Job        *JobRequirement     `json:"job" yaml:"job"`
	Applicants []*ApplicantProfile `json:"applicants" yaml:"applicants"`
}

// ParseBatch decodes a YAML or JSON batch document.
func ParseBatch(data []byte) (*Batch, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBatch
	}

	var batch Batch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch document: %w", err)
	}
	if batch.Job == nil {
		return nil, ErrEmptyBatch
	}
	return &batch, nil
}

// LoadBatch reads and parses a batch document from disk.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", path, err)
	}
	batch, err := ParseBatch(data)
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", path, err)
	}
	return batch, nil
}

// UnmarshalYAML accepts either a bare string or a {raw, normalized} mapping.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*v = Value{Raw: node.Value}
		return nil
	}
	type plain Value
	return node.Decode((*plain)(v))
}

// UnmarshalYAML accepts either a bare string or a {title, normalized} mapping.
func (e *Eligibility) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = Eligibility{Title: node.Value}
		return nil
	}
	type plain Eligibility
	return node.Decode((*plain)(e))
}

// UnmarshalYAML accepts either a bare string or a {raw, alternatives} mapping.
func (d *DegreeRequirement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*d = DegreeRequirement{Raw: node.Value}
		return nil
	}
	type plain DegreeRequirement
	return node.Decode((*plain)(d))
}
