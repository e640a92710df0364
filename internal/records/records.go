package records

// Normalized is the outcome of mapping a free-text value to a taxonomy entry.
// An empty Key means no confident match.
type Normalized struct {
	Key           string  `json:"key" yaml:"key"`
	Label         string  `json:"label,omitempty" yaml:"label,omitempty"`
	Level         string  `json:"level,omitempty" yaml:"level,omitempty"`
	Category      string  `json:"category,omitempty" yaml:"category,omitempty"`
	FieldGroup    string  `json:"field_group,omitempty" yaml:"field_group,omitempty"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
	Method        string  `json:"method" yaml:"method"`
	LowConfidence bool    `json:"low_confidence,omitempty" yaml:"low_confidence,omitempty"`
}

// Matched reports whether n carries a canonical key.
func (n *Normalized) Matched() bool {
	return n != nil && n.Key != ""
}

// Value is a raw string with its optional normalization.
type Value struct {
	Raw        string      `json:"raw" yaml:"raw"`
	Normalized *Normalized `json:"normalized,omitempty" yaml:"normalized,omitempty"`
}

// DegreeRequirement is the job's educational requirement. Alternatives holds one value per
// acceptable degree once the requirement has been annotated.
type DegreeRequirement struct {
	Raw          string  `json:"raw" yaml:"raw"`
	Alternatives []Value `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
}

// Eligibility is a civil-service eligibility or license.
type Eligibility struct {
	Title      string      `json:"title" yaml:"title"`
	Normalized *Normalized `json:"normalized,omitempty" yaml:"normalized,omitempty"`
}

// JobRequirement describes an open position.
type JobRequirement struct {
	ID                string            `json:"id" yaml:"id"`
	Title             string            `json:"title" yaml:"title"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
	Degree            DegreeRequirement `json:"degree_requirement" yaml:"degree_requirement"`
	Eligibilities     []Eligibility     `json:"eligibilities,omitempty" yaml:"eligibilities,omitempty"`
	Skills            []string          `json:"skills,omitempty" yaml:"skills,omitempty"`
	YearsOfExperience float64           `json:"years_of_experience" yaml:"years_of_experience"`
}

// ApplicantProfile is the ranking-relevant slice of a personal data sheet.
type ApplicantProfile struct {
	ApplicantID          string        `json:"applicant_id" yaml:"applicant_id"`
	Education            Value         `json:"highest_educational_attainment" yaml:"highest_educational_attainment"`
	Eligibilities        []Eligibility `json:"eligibilities,omitempty" yaml:"eligibilities,omitempty"`
	Skills               []string      `json:"skills,omitempty" yaml:"skills,omitempty"`
	TotalYearsExperience float64       `json:"total_years_experience" yaml:"total_years_experience"`
	WorkExperienceTitles []string      `json:"work_experience_titles,omitempty" yaml:"work_experience_titles,omitempty"`
}

func (n *Normalized) clone() *Normalized {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

func cloneValues(values []Value) []Value {
	if values == nil {
		return nil
	}
	out := make([]Value, len(values))
	for i, v := range values {
		out[i] = Value{Raw: v.Raw, Normalized: v.Normalized.clone()}
	}
	return out
}

func cloneEligibilities(items []Eligibility) []Eligibility {
	if items == nil {
		return nil
	}
	out := make([]Eligibility, len(items))
	for i, e := range items {
		out[i] = Eligibility{Title: e.Title, Normalized: e.Normalized.clone()}
	}
	return out
}

func cloneStrings(items []string) []string {
	if items == nil {
		return nil
	}
	return append([]string(nil), items...)
}

// Clone returns a deep copy of j.
func (j *JobRequirement) Clone() *JobRequirement {
	if j == nil {
		return nil
	}
	c := *j
	c.Degree.Alternatives = cloneValues(j.Degree.Alternatives)
	c.Eligibilities = cloneEligibilities(j.Eligibilities)
	c.Skills = cloneStrings(j.Skills)
	return &c
}

// Clone returns a deep copy of a.
func (a *ApplicantProfile) Clone() *ApplicantProfile {
	if a == nil {
		return nil
	}
	c := *a
	c.Education.Normalized = a.Education.Normalized.clone()
	c.Eligibilities = cloneEligibilities(a.Eligibilities)
	c.Skills = cloneStrings(a.Skills)
	c.WorkExperienceTitles = cloneStrings(a.WorkExperienceTitles)
	return &c
}
