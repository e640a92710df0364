package ranking

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spigell/pds-matcher/internal/ai"
	"github.com/spigell/pds-matcher/internal/records"
	"github.com/spigell/pds-matcher/internal/utils"
	"go.uber.org/zap"
)

//go:embed prompts/reasoning.md
var reasoningTemplate string

type reasoningFacts struct {
	education            float64
	educationRequired    bool
	years                float64
	requiredYears        float64
	matchedSkills        int
	requiredSkills       int
	eligibility          float64
	satisfiedEligibility int
	requiredEligibility  int
}

// templateReasoning renders a one-line summary from the sub-scores, for example
// "Strong education match; moderate experience gap (1.5 of 2 years); 2 of 3 required
// skills matched; required eligibility missing".
func templateReasoning(f reasoningFacts) string {
	parts := []string{
		educationPhrase(f),
		experiencePhrase(f),
		skillsPhrase(f),
		eligibilityPhrase(f),
	}
	out := strings.Join(parts, "; ")
	return strings.ToUpper(out[:1]) + out[1:]
}

func educationPhrase(f reasoningFacts) string {
	switch {
	case !f.educationRequired:
		return "no education requirement"
	case f.education >= 100:
		return "exact education match"
	case f.education >= 70:
		return "strong education match"
	case f.education >= 45:
		return "partial education match"
	case f.education > 0:
		return "weak education match"
	default:
		return "education does not meet requirement"
	}
}

func experiencePhrase(f reasoningFacts) string {
	if f.requiredYears <= 0 {
		return "no experience required"
	}
	span := fmt.Sprintf("(%s of %s years)", formatYears(f.years), formatYears(f.requiredYears))
	ratio := f.years / f.requiredYears
	switch {
	case ratio >= 1:
		return "meets experience requirement " + span
	case ratio >= 0.5:
		return "moderate experience gap " + span
	default:
		return "significant experience gap " + span
	}
}

func skillsPhrase(f reasoningFacts) string {
	if f.requiredSkills == 0 {
		return "no specific skills required"
	}
	return fmt.Sprintf("%d of %d required skills matched", f.matchedSkills, f.requiredSkills)
}

func eligibilityPhrase(f reasoningFacts) string {
	switch {
	case f.requiredEligibility == 0:
		return "no eligibility required"
	case f.satisfiedEligibility >= f.requiredEligibility:
		return "required eligibility present"
	case f.requiredEligibility > 1 && f.satisfiedEligibility > 0:
		return fmt.Sprintf("%d of %d required eligibilities present", f.satisfiedEligibility, f.requiredEligibility)
	case f.eligibility > 0:
		return "related eligibility only"
	default:
		return "required eligibility missing"
	}
}

func formatYears(v float64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatFloat(round2(v), 'f', -1, 64)
}

// reasoning returns the templated summary, rephrased by the generator when AI reasoning is
// enabled. Any generator failure keeps the template.
func (e *Engine) reasoning(ctx context.Context, job *records.JobRequirement, applicant *records.ApplicantProfile, res Result, facts reasoningFacts) string {
	draft := templateReasoning(facts)
	if !e.opts.AIReasoning || e.generator == nil {
		return draft
	}

	log := e.logger.With(zap.String("job_id", job.ID), zap.String("applicant_id", applicant.ApplicantID))

	prompt, err := buildReasoningPrompt(job, applicant, res, draft)
	if err != nil {
		log.Warn("build reasoning prompt", zap.Error(err))
		return draft
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.ProviderTimeout)
	defer cancel()
	raw, err := e.generator.GenerateContent(callCtx, prompt)
	if err != nil {
		log.Warn("ai reasoning failed, using template", zap.Error(err))
		return draft
	}

	data, err := ai.ParseObject(raw)
	if err != nil {
		log.Warn("ai reasoning unparseable, using template",
			zap.String("response_preview", utils.TruncateForLog(raw, e.opts.MaxLogLength)),
			zap.Error(err),
		)
		return draft
	}
	text := ai.CoerceString(data["reasoning"])
	if text == "" {
		log.Warn("ai reasoning empty, using template")
		return draft
	}
	return text
}

func buildReasoningPrompt(job *records.JobRequirement, applicant *records.ApplicantProfile, res Result, draft string) (string, error) {
	jobJSON, err := json.MarshalIndent(map[string]any{
		"title":               job.Title,
		"degree_requirement":  job.Degree.Raw,
		"eligibilities":       titles(job.Eligibilities),
		"skills":              job.Skills,
		"years_of_experience": job.YearsOfExperience,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	applicantJSON, err := json.MarshalIndent(map[string]any{
		"highest_educational_attainment": applicant.Education.Raw,
		"eligibilities":                  titles(applicant.Eligibilities),
		"skills":                         applicant.Skills,
		"total_years_experience":         applicant.TotalYearsExperience,
		"work_experience_titles":         applicant.WorkExperienceTitles,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal applicant payload: %w", err)
	}

	scoresJSON, err := json.MarshalIndent(map[string]float64{
		"match":       res.MatchScore,
		"education":   res.EducationScore,
		"experience":  res.ExperienceScore,
		"skills":      res.SkillsScore,
		"eligibility": res.EligibilityScore,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal scores payload: %w", err)
	}

	template := reasoningTemplate
	if strings.TrimSpace(template) == "" {
		template = "Job:\n{{JOB_JSON}}\nApplicant:\n{{APPLICANT_JSON}}\nScores:\n{{SCORES_JSON}}\nDraft:\n{{DRAFT}}\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{JOB_JSON}}", string(jobJSON))
	prompt = strings.ReplaceAll(prompt, "{{APPLICANT_JSON}}", string(applicantJSON))
	prompt = strings.ReplaceAll(prompt, "{{SCORES_JSON}}", string(scoresJSON))
	prompt = strings.ReplaceAll(prompt, "{{DRAFT}}", draft)
	return prompt, nil
}

func titles(items []records.Eligibility) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if t := strings.TrimSpace(item.Title); t != "" {
			out = append(out, t)
		}
	}
	return out
}
