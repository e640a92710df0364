package normalize

import (
	"context"
	"regexp"
	"strings"

	"github.com/spigell/pds-matcher/internal/records"
	"github.com/spigell/pds-matcher/internal/taxonomy"
)

var (
	alternativeSeparator = regexp.MustCompile(`(?i)\s+or\s+|\s*[/;,]\s*`)
	qualifier            = regexp.MustCompile(`(?i)^(?:major(?:ing)?|minor(?:ing)?|with|specializ\w*|specialis\w*|concentrat\w*|emphasis|track|preferably)\b`)
	openEnded            = regexp.MustCompile(`(?i)^(?:(?:any|other|its|an?|some)\s+)*(?:related|allied|equivalent|relevant|similar)\b`)
	andOr                = regexp.MustCompile(`(?i)\s+and\s*/\s*or\s+`)
	degreePrefix         = regexp.MustCompile(`(?i)^(?:(?:bachelor|master|doctor|associate)(?:'?s)?(?:\s+degree)?\s+(?:of\s+(?:science|arts|philosophy)\s+in|of|in)|(?:b\.?s\.?|b\.?a\.?|a\.?b\.?|m\.?s\.?|m\.?a\.?)(?:\s+in)?)\s+`)
	degreeWord           = regexp.MustCompile(`(?i)\b(?:bachelor|master|doctor|doctorate|associate|diploma|certificate|graduate|school|elementary|secondary|vocational|college|ph\.?d)\b`)
)

// SplitDegreeAlternatives splits a degree requirement such as "Bachelor of Science in
// Office Administration, Public Administration or Business Administration" into its
// acceptable degrees. A bare field of study inherits the degree prefix of the first
// alternative. Qualifiers after a comma ("major in Accounting") stay with their degree
// and open-ended tails ("or related field", "or equivalent") are dropped.
func SplitDegreeAlternatives(raw string) []string {
	raw = strings.TrimSpace(andOr.ReplaceAllString(raw, " or "))
	if raw == "" {
		return nil
	}

	var parts []string
	for _, part := range alternativeSeparator.Split(raw, -1) {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case qualifier.MatchString(part) && len(parts) > 0:
			parts[len(parts)-1] += ", " + part
		case openEnded.MatchString(part) && len(parts) > 0:
			continue
		default:
			parts = append(parts, part)
		}
	}
	if len(parts) < 2 {
		return parts
	}

	prefix := degreePrefix.FindString(parts[0])
	if prefix == "" {
		return parts
	}
	for i := 1; i < len(parts); i++ {
		if inheritsPrefix(parts[i]) {
			parts[i] = prefix + parts[i]
		}
	}
	return parts
}

// inheritsPrefix reports whether part is a bare field of study. Acronyms such as BSIT and
// anything naming a degree itself keep their own wording.
func inheritsPrefix(part string) bool {
	if degreePrefix.MatchString(part) || degreeWord.MatchString(part) {
		return false
	}
	return strings.ToUpper(part) != part
}

// AnnotateJob returns a copy of job with the degree alternatives and eligibilities
// normalized. Values that already carry a normalization are kept.
func (e *Engine) AnnotateJob(ctx context.Context, job *records.JobRequirement) *records.JobRequirement {
	out := job.Clone()
	if out == nil {
		return nil
	}

	if len(out.Degree.Alternatives) == 0 {
		for _, alt := range SplitDegreeAlternatives(out.Degree.Raw) {
			out.Degree.Alternatives = append(out.Degree.Alternatives, records.Value{Raw: alt})
		}
	}
	for i := range out.Degree.Alternatives {
		alt := &out.Degree.Alternatives[i]
		if alt.Normalized == nil {
			alt.Normalized = e.Normalize(ctx, taxonomy.DomainDegree, alt.Raw).Record()
		}
	}

	e.annotateEligibilities(ctx, out.Eligibilities)
	return out
}

// AnnotateApplicant returns a copy of applicant with the educational attainment and
// eligibilities normalized.
func (e *Engine) AnnotateApplicant(ctx context.Context, applicant *records.ApplicantProfile) *records.ApplicantProfile {
	out := applicant.Clone()
	if out == nil {
		return nil
	}

	if out.Education.Normalized == nil && strings.TrimSpace(out.Education.Raw) != "" {
		out.Education.Normalized = e.Normalize(ctx, taxonomy.DomainDegree, out.Education.Raw).Record()
	}

	e.annotateEligibilities(ctx, out.Eligibilities)
	return out
}

// AnnotatePair annotates a job and an applicant together.
func (e *Engine) AnnotatePair(ctx context.Context, job *records.JobRequirement, applicant *records.ApplicantProfile) (*records.JobRequirement, *records.ApplicantProfile) {
	return e.AnnotateJob(ctx, job), e.AnnotateApplicant(ctx, applicant)
}

func (e *Engine) annotateEligibilities(ctx context.Context, items []records.Eligibility) {
	for i := range items {
		if items[i].Normalized == nil {
			items[i].Normalized = e.Normalize(ctx, taxonomy.DomainEligibility, items[i].Title).Record()
		}
	}
}
