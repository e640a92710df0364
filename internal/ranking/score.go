package ranking

import (
	"math"
	"strings"

	"github.com/spigell/pds-matcher/internal/records"
	"github.com/spigell/pds-matcher/internal/taxonomy"
	"github.com/spigell/pds-matcher/internal/textsim"
)

// similarityFunc scores two raw strings in [0,1]. It is the lexical measure, optionally
// combined with embedding similarity.
type similarityFunc func(a, b string) float64

const unmappedEducationScale = 90

// educationScore compares the applicant's attainment with each acceptable degree and keeps
// the best outcome.
func educationScore(required records.DegreeRequirement, attained records.Value, similarity similarityFunc) float64 {
	alternatives := required.Alternatives
	if len(alternatives) == 0 && strings.TrimSpace(required.Raw) != "" {
		alternatives = []records.Value{{Raw: required.Raw}}
	}
	if len(alternatives) == 0 {
		return 100
	}
	if strings.TrimSpace(attained.Raw) == "" && !attained.Normalized.Matched() {
		return 0
	}

	best := 0.0
	for _, alt := range alternatives {
		score, ok := classifiedEducationScore(alt.Normalized, attained.Normalized)
		if !ok {
			score = unmappedEducationScale * bestSimilarity(similarity, valueTexts(alt), valueTexts(attained))
		}
		best = math.Max(best, score)
	}
	return best
}

// classifiedEducationScore applies the level and field-group ladder. ok is false when either
// side lacks the key or level needed to place it on the ladder.
func classifiedEducationScore(required, attained *records.Normalized) (float64, bool) {
	if !required.Matched() || !attained.Matched() {
		return 0, false
	}
	if required.Key == attained.Key {
		return 100, true
	}

	requiredLevel, attainedLevel := taxonomy.LevelRank(required.Level), taxonomy.LevelRank(attained.Level)
	if requiredLevel == 0 || attainedLevel == 0 {
		return 0, false
	}
	sameField := required.FieldGroup != "" && strings.EqualFold(required.FieldGroup, attained.FieldGroup)

	switch {
	case attainedLevel == requiredLevel && sameField:
		return 80, true
	case attainedLevel == requiredLevel:
		return 55, true
	case attainedLevel > requiredLevel && sameField:
		return 70, true
	case attainedLevel > requiredLevel:
		return 45, true
	case sameField:
		return 35, true
	default:
		return 20, true
	}
}

func valueTexts(v records.Value) []string {
	texts := []string{v.Raw}
	if v.Normalized != nil && v.Normalized.Label != "" {
		texts = append(texts, v.Normalized.Label)
	}
	return texts
}

func bestSimilarity(similarity similarityFunc, left, right []string) float64 {
	best := 0.0
	for _, a := range left {
		for _, b := range right {
			if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
				continue
			}
			best = math.Max(best, similarity(a, b))
		}
	}
	return best
}

// experienceScore saturates at 100 once the requirement is met. Below that it follows
// 100*(1-e^(-k*ratio))/(1-e^(-k)), which is concave and non-decreasing in the ratio.
func experienceScore(years, required, curvature float64) float64 {
	if required <= 0 || math.IsNaN(required) {
		return 100
	}
	if years <= 0 || math.IsNaN(years) {
		return 0
	}
	ratio := years / required
	if ratio >= 1 {
		return 100
	}
	if curvature <= 0 {
		return 100 * ratio
	}
	return 100 * (1 - math.Exp(-curvature*ratio)) / (1 - math.Exp(-curvature))
}

// skillsScore returns the share of required skills the applicant covers, plus the matched
// and missing requirement names in input order.
func skillsScore(required, have []string, threshold float64, similarity similarityFunc) (float64, []string, []string) {
	required = nonEmpty(required)
	if len(required) == 0 {
		return 100, nil, nil
	}

	var matched, missing []string
	for _, req := range required {
		if skillCovered(req, have, threshold, similarity) {
			matched = append(matched, req)
		} else {
			missing = append(missing, req)
		}
	}
	return 100 * float64(len(matched)) / float64(len(required)), matched, missing
}

func skillCovered(req string, have []string, threshold float64, similarity similarityFunc) bool {
	normalizedReq := textsim.Normalize(req)
	for _, skill := range have {
		if strings.TrimSpace(skill) == "" {
			continue
		}
		if textsim.Normalize(skill) == normalizedReq || textsim.Contains(skill, req) {
			return true
		}
		if similarity(req, skill) >= threshold {
			return true
		}
	}
	return false
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			out = append(out, item)
		}
	}
	return out
}

// eligibilityScore credits each required eligibility with the best applicant holding: 1 for
// the same key, 0.5 for the same category, otherwise the raw similarity when it clears the
// threshold. The score is the mean credit, or the max credit when any one eligibility suffices.
func eligibilityScore(required, have []records.Eligibility, anyOf bool, threshold float64, similarity similarityFunc) (float64, int) {
	var reqs []records.Eligibility
	for _, r := range required {
		if strings.TrimSpace(r.Title) != "" || r.Normalized.Matched() {
			reqs = append(reqs, r)
		}
	}
	if len(reqs) == 0 {
		return 100, 0
	}

	total, best := 0.0, 0.0
	satisfied := 0
	for _, req := range reqs {
		credit := 0.0
		for _, h := range have {
			credit = math.Max(credit, eligibilityCredit(req, h, threshold, similarity))
		}
		if credit >= 1 {
			satisfied++
		}
		total += credit
		best = math.Max(best, credit)
	}

	if anyOf {
		return 100 * best, satisfied
	}
	return 100 * total / float64(len(reqs)), satisfied
}

func eligibilityCredit(req, held records.Eligibility, threshold float64, similarity similarityFunc) float64 {
	if req.Normalized.Matched() && held.Normalized.Matched() {
		if req.Normalized.Key == held.Normalized.Key {
			return 1
		}
		if req.Normalized.Category != "" && strings.EqualFold(req.Normalized.Category, held.Normalized.Category) {
			return 0.5
		}
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(held.Title) == "" {
		return 0
	}
	if sim := similarity(req.Title, held.Title); sim >= threshold {
		return math.Min(sim, 1)
	}
	return 0
}

// composite is the weighted sum of the sub-scores rounded to two decimals.
func composite(w Weights, education, experience, skills, eligibility float64) float64 {
	sum := w.Education*education + w.Experience*experience + w.Skills*skills + w.Eligibility*eligibility
	return round2(clamp(sum, 0, 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
