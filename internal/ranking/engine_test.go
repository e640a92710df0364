package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/pds-matcher/internal/normalize"
	"github.com/spigell/pds-matcher/internal/records"
	"github.com/spigell/pds-matcher/internal/taxonomy"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newNormalizer(t *testing.T) *normalize.Engine {
	t.Helper()
	set, err := taxonomy.LoadSet(taxonomy.LoadOptions{Strict: true})
	if err != nil {
		t.Fatalf("load taxonomies: %v", err)
	}
	return normalize.New(set, nil, nil, normalize.Options{}, nil)
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(newNormalizer(t), nil, nil, opts, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func officerJob() *records.JobRequirement {
	return &records.JobRequirement{
		ID:                "JOB-AO2",
		Title:             "Administrative Officer II",
		Degree:            records.DegreeRequirement{Raw: "Bachelor of Science in Office Administration or Public Administration"},
		Eligibilities:     []records.Eligibility{{Title: "Civil Service Professional Eligibility"}},
		Skills:            []string{"Records Management", "MS Office", "Customer Service"},
		YearsOfExperience: 2,
	}
}

func officerApplicants() []*records.ApplicantProfile {
	return []*records.ApplicantProfile{
		{
			ApplicantID:          "A-300",
			Education:            records.Value{Raw: "Bachelor of Arts in Underwater Studies"},
			TotalYearsExperience: 0,
		},
		{
			ApplicantID:          "A-200",
			Education:            records.Value{Raw: "Bachelor of Science in Business Administration"},
			Eligibilities:        []records.Eligibility{{Title: "Civil Service Subprofessional"}},
			Skills:               []string{"MS Office", "Typing"},
			TotalYearsExperience: 1.5,
		},
		{
			ApplicantID:          "A-100",
			Education:            records.Value{Raw: "BSOA"},
			Eligibilities:        []records.Eligibility{{Title: "CSC Professional"}},
			Skills:               []string{"records management", "MS Office", "customer service"},
			TotalYearsExperience: 3,
		},
	}
}

func TestRankScenario(t *testing.T) {
	e := newEngine(t, Options{})

	run, err := e.Rank(context.Background(), officerJob(), officerApplicants())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := uuid.Parse(run.RunID); err != nil {
		t.Fatalf("run id is not a uuid: %q", run.RunID)
	}
	if run.JobID != "JOB-AO2" || run.Algorithm != Algorithm || run.Weights != DefaultWeights() {
		t.Fatalf("unexpected run header: %+v", run)
	}

	order := make([]string, len(run.Results))
	for i, res := range run.Results {
		order[i] = res.ApplicantID
		if res.Rank != i+1 {
			t.Fatalf("result %d has rank %d", i, res.Rank)
		}
		if res.Algorithm != Algorithm {
			t.Fatalf("unexpected algorithm %q", res.Algorithm)
		}
	}
	if strings.Join(order, ",") != "A-100,A-200,A-300" {
		t.Fatalf("unexpected order %v", order)
	}

	top := run.Results[0]
	if top.MatchScore != 100 || top.EducationScore != 100 || top.EligibilityScore != 100 {
		t.Fatalf("expected perfect top candidate, got %+v", top)
	}
	if top.Reasoning != "Exact education match; meets experience requirement (3 of 2 years); 3 of 3 required skills matched; required eligibility present" {
		t.Fatalf("unexpected reasoning %q", top.Reasoning)
	}

	second := run.Results[1]
	if second.EducationScore != 80 {
		t.Fatalf("expected same-level same-field education score, got %v", second.EducationScore)
	}
	if second.ExperienceScore != 89.85 {
		t.Fatalf("unexpected experience score %v", second.ExperienceScore)
	}
	if second.SkillsScore != 33.33 || len(second.MatchedSkills) != 1 || len(second.MissingSkills) != 2 {
		t.Fatalf("unexpected skills outcome: %+v", second)
	}
	if second.EligibilityScore != 50 {
		t.Fatalf("expected same-category eligibility credit, got %v", second.EligibilityScore)
	}
	if second.MatchScore != 67.13 {
		t.Fatalf("unexpected composite %v", second.MatchScore)
	}
	for _, want := range []string{"Strong education match", "moderate experience gap (1.5 of 2 years)", "1 of 3 required skills matched", "related eligibility only"} {
		if !strings.Contains(second.Reasoning, want) {
			t.Fatalf("reasoning %q missing %q", second.Reasoning, want)
		}
	}

	last := run.Results[2]
	if math.IsNaN(last.MatchScore) || last.MatchScore < 0 || last.MatchScore >= second.MatchScore {
		t.Fatalf("unexpected score for unmapped degree: %+v", last)
	}
	if !strings.Contains(last.Reasoning, "required eligibility missing") {
		t.Fatalf("unexpected reasoning %q", last.Reasoning)
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	e := newEngine(t, Options{})
	job := officerJob()
	applicants := officerApplicants()

	if _, err := e.Rank(context.Background(), job, applicants); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(job.Degree.Alternatives) != 0 || applicants[2].Education.Normalized != nil {
		t.Fatal("rank must work on annotated copies")
	}
}

func TestRankCompleteness(t *testing.T) {
	e := newEngine(t, Options{Concurrency: 3})

	degrees := []string{"BSOA", "BSIT", "", "Bachelor of Public Administration", "Some Unknown Course", "MPA", "High School Graduate"}
	var applicants []*records.ApplicantProfile
	for i := 0; i < 40; i++ {
		applicants = append(applicants, &records.ApplicantProfile{
			ApplicantID:          fmt.Sprintf("APP-%02d", i),
			Education:            records.Value{Raw: degrees[i%len(degrees)]},
			TotalYearsExperience: float64(i%5) * 0.75,
			Skills:               []string{"MS Office"}[:i%2],
		})
	}

	run, err := e.Rank(context.Background(), officerJob(), applicants)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(run.Results) != len(applicants) {
		t.Fatalf("expected %d results, got %d", len(applicants), len(run.Results))
	}

	seen := make(map[string]bool)
	for i, res := range run.Results {
		if res.Rank != i+1 {
			t.Fatalf("ranks must be 1..N without gaps, got %d at %d", res.Rank, i)
		}
		if seen[res.ApplicantID] {
			t.Fatalf("duplicate applicant %s", res.ApplicantID)
		}
		seen[res.ApplicantID] = true
		for _, s := range []float64{res.MatchScore, res.EducationScore, res.ExperienceScore, res.SkillsScore, res.EligibilityScore} {
			if math.IsNaN(s) || s < 0 || s > 100 {
				t.Fatalf("score out of range for %s: %+v", res.ApplicantID, res)
			}
		}
		if res.Reasoning == "" {
			t.Fatalf("missing reasoning for %s", res.ApplicantID)
		}
		if i > 0 && run.Results[i-1].MatchScore < res.MatchScore {
			t.Fatalf("results not sorted at %d", i)
		}
	}
}

func TestRankDeterministic(t *testing.T) {
	e := newEngine(t, Options{})

	first, err := e.Rank(context.Background(), officerJob(), officerApplicants())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Rank(context.Background(), officerJob(), officerApplicants())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.RunID == first.RunID {
			t.Fatal("each run needs a fresh id")
		}
		for j := range first.Results {
			a, b := first.Results[j], again.Results[j]
			if a.ApplicantID != b.ApplicantID || a.MatchScore != b.MatchScore {
				t.Fatalf("run %d differs at %d: %+v vs %+v", i, j, a, b)
			}
		}
	}
}

func TestRankTieBreakByApplicantID(t *testing.T) {
	e := newEngine(t, Options{})

	var applicants []*records.ApplicantProfile
	for _, id := range []string{"C", "A", "B"} {
		applicants = append(applicants, &records.ApplicantProfile{
			ApplicantID:          id,
			Education:            records.Value{Raw: "BSOA"},
			TotalYearsExperience: 2,
		})
	}

	run, err := e.Rank(context.Background(), officerJob(), applicants)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := []string{run.Results[0].ApplicantID, run.Results[1].ApplicantID, run.Results[2].ApplicantID}
	if strings.Join(got, "") != "ABC" {
		t.Fatalf("expected ascending ids on ties, got %v", got)
	}
}

func TestSortResultsTieBreak(t *testing.T) {
	results := []Result{
		{ApplicantID: "Z", MatchScore: 80.004, EducationScore: 60, ExperienceScore: 100},
		{ApplicantID: "Y", MatchScore: 80.001, EducationScore: 90, ExperienceScore: 50},
		{ApplicantID: "X", MatchScore: 80.0, EducationScore: 90, ExperienceScore: 70},
		{ApplicantID: "W", MatchScore: 80.02, EducationScore: 10, ExperienceScore: 10},
		{ApplicantID: "V", MatchScore: 80.0, EducationScore: 90, ExperienceScore: 70},
	}
	sortResults(results)

	var got []string
	for _, r := range results {
		got = append(got, r.ApplicantID)
	}
	if strings.Join(got, ",") != "W,V,X,Y,Z" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRankErrors(t *testing.T) {
	e := newEngine(t, Options{})
	valid := []*records.ApplicantProfile{{ApplicantID: "A"}}

	tests := []struct {
		name       string
		job        *records.JobRequirement
		applicants []*records.ApplicantProfile
		want       error
	}{
		{name: "nil job", job: nil, applicants: valid, want: ErrInvalidJob},
		{name: "untitled job", job: &records.JobRequirement{ID: "J", Title: "  "}, applicants: valid, want: ErrInvalidJob},
		{name: "no applicants", job: officerJob(), applicants: nil, want: ErrNoApplicants},
		{name: "nil applicant", job: officerJob(), applicants: []*records.ApplicantProfile{nil}, want: ErrInvalidApplicant},
		{name: "missing id", job: officerJob(), applicants: []*records.ApplicantProfile{{ApplicantID: " "}}, want: ErrInvalidApplicant},
		{name: "duplicate id", job: officerJob(), applicants: []*records.ApplicantProfile{{ApplicantID: "A"}, {ApplicantID: "A"}}, want: ErrInvalidApplicant},
		{
			name:       "nan required years",
			job:        &records.JobRequirement{ID: "J", Title: "Clerk", YearsOfExperience: math.NaN()},
			applicants: valid,
			want:       ErrInvalidJob,
		},
		{
			name:       "infinite applicant years",
			job:        officerJob(),
			applicants: []*records.ApplicantProfile{{ApplicantID: "A", TotalYearsExperience: math.Inf(1)}},
			want:       ErrInvalidApplicant,
		},
		{
			name:       "nan applicant years",
			job:        officerJob(),
			applicants: []*records.ApplicantProfile{{ApplicantID: "A", TotalYearsExperience: math.NaN()}},
			want:       ErrInvalidApplicant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := e.Rank(context.Background(), tt.job, tt.applicants)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if run != nil {
				t.Fatal("expected no run on error")
			}
		})
	}
}

func TestRankRejectsNaNYearsFromBatch(t *testing.T) {
	batch, err := records.ParseBatch([]byte(`
job:
  id: JOB-NAN
  title: Clerk
  years_of_experience: 1
applicants:
  - applicant_id: A-1
    total_years_experience: .nan
`))
	if err != nil {
		t.Fatalf("parse batch: %v", err)
	}

	e := newEngine(t, Options{})
	if _, err := e.Rank(context.Background(), batch.Job, batch.Applicants); !errors.Is(err, ErrInvalidApplicant) {
		t.Fatalf("expected ErrInvalidApplicant, got %v", err)
	}
	if _, err := e.Score(context.Background(), batch.Job, batch.Applicants[0]); !errors.Is(err, ErrInvalidApplicant) {
		t.Fatalf("expected ErrInvalidApplicant from Score, got %v", err)
	}
}

func TestRankCancelledContext(t *testing.T) {
	e := newEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Rank(ctx, officerJob(), officerApplicants()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsInvalidWeights(t *testing.T) {
	_, err := New(newNormalizer(t), nil, nil, Options{Weights: Weights{Education: 0.5, Experience: 0.5, Skills: 0.5}}, nil)
	if !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}
	if _, err := New(nil, nil, nil, Options{}, nil); err == nil {
		t.Fatal("expected error without annotator")
	}
}

func TestCustomWeights(t *testing.T) {
	e := newEngine(t, Options{Weights: Weights{Experience: 1}})

	run, err := e.Rank(context.Background(), officerJob(), officerApplicants())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, res := range run.Results {
		if res.MatchScore != res.ExperienceScore {
			t.Fatalf("experience-only weights must mirror experience score: %+v", res)
		}
	}
}

func TestScoreSingleApplicant(t *testing.T) {
	e := newEngine(t, Options{})
	res, err := e.Score(context.Background(), officerJob(), officerApplicants()[2])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MatchScore != 100 || res.Rank != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

type stubGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (s *stubGenerator) GenerateContent(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.response, s.err
}

func TestAIReasoning(t *testing.T) {
	tests := []struct {
		name     string
		gen      *stubGenerator
		template bool
	}{
		{name: "rephrased", gen: &stubGenerator{response: "```json\n{\"reasoning\": \"Meets every requirement.\"}\n```"}},
		{name: "provider error", gen: &stubGenerator{err: errors.New("quota")}, template: true},
		{name: "garbage", gen: &stubGenerator{response: "sure thing"}, template: true},
		{name: "empty reasoning", gen: &stubGenerator{response: `{"reasoning": ""}`}, template: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			e, err := New(newNormalizer(t), nil, tt.gen, Options{AIReasoning: true}, zap.New(core))
			if err != nil {
				t.Fatalf("new engine: %v", err)
			}

			res, err := e.Score(context.Background(), officerJob(), officerApplicants()[2])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.gen.calls != 1 {
				t.Fatalf("expected one generator call, got %d", tt.gen.calls)
			}

			if tt.template {
				if !strings.HasPrefix(res.Reasoning, "Exact education match") {
					t.Fatalf("expected template fallback, got %q", res.Reasoning)
				}
				if logs.Len() != 1 {
					t.Fatalf("expected one warning, got %d", logs.Len())
				}
				return
			}
			if res.Reasoning != "Meets every requirement." {
				t.Fatalf("unexpected reasoning %q", res.Reasoning)
			}
		})
	}
}

func TestAIReasoningDisabledByDefault(t *testing.T) {
	gen := &stubGenerator{response: `{"reasoning": "x"}`}
	e, err := New(newNormalizer(t), nil, gen, Options{}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := e.Score(context.Background(), officerJob(), officerApplicants()[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls != 0 {
		t.Fatal("generator must not be called without ai reasoning")
	}
}

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestSemanticSkillMatch(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{
		"Spreadsheets":        {1, 0, 0},
		"Excel data analysis": {0.95, 0.1, 0},
	}}
	job := &records.JobRequirement{ID: "J", Title: "Analyst", Skills: []string{"Spreadsheets"}}
	applicant := &records.ApplicantProfile{ApplicantID: "A", Skills: []string{"Excel data analysis"}}

	lexicalOnly := newEngine(t, Options{})
	res, err := lexicalOnly.Score(context.Background(), job, applicant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SkillsScore != 0 {
		t.Fatalf("expected no lexical match, got %v", res.SkillsScore)
	}

	semantic, err := New(newNormalizer(t), emb, nil, Options{}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err = semantic.Score(context.Background(), job, applicant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SkillsScore != 100 {
		t.Fatalf("expected semantic match, got %v", res.SkillsScore)
	}

	broken, err := New(newNormalizer(t), &stubEmbedder{err: errors.New("down")}, nil, Options{}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err = broken.Score(context.Background(), job, applicant)
	if err != nil {
		t.Fatalf("embedding outage must not fail scoring: %v", err)
	}
	if res.SkillsScore != 0 {
		t.Fatalf("expected lexical fallback, got %v", res.SkillsScore)
	}
}

type hangingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (h *hangingEmbedder) EmbedText(ctx context.Context, _ string) ([]float32, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *hangingEmbedder) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestEmbeddingOutageIsRememberedForTheRun(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	emb := &hangingEmbedder{}
	opts := Options{Concurrency: 4, ProviderTimeout: 20 * time.Millisecond}
	e, err := New(newNormalizer(t), emb, nil, opts, zap.New(core))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	var applicants []*records.ApplicantProfile
	for i := 0; i < 16; i++ {
		applicants = append(applicants, &records.ApplicantProfile{
			ApplicantID:          fmt.Sprintf("APP-%02d", i),
			Education:            records.Value{Raw: "Some Unknown Course"},
			Skills:               []string{"Typing", "Filing", "Bookkeeping"},
			TotalYearsExperience: 1,
		})
	}

	run, err := e.Rank(context.Background(), officerJob(), applicants)
	if err != nil {
		t.Fatalf("embedding outage must not fail the run: %v", err)
	}
	if len(run.Results) != len(applicants) {
		t.Fatalf("expected %d results, got %d", len(applicants), len(run.Results))
	}
	if calls := emb.callCount(); calls == 0 || calls > opts.Concurrency {
		t.Fatalf("expected at most one embedding call per worker, got %d", calls)
	}
	if n := logs.FilterMessageSnippet("semantic similarity unavailable").Len(); n != 1 {
		t.Fatalf("expected a single outage warning, got %d", n)
	}
}

func TestNeedsReviewOnLowConfidence(t *testing.T) {
	e := newEngine(t, Options{})
	applicant := &records.ApplicantProfile{
		ApplicantID: "A",
		Education:   records.Value{Raw: "Comp Sci", Normalized: &records.Normalized{Key: "BS_CS", Level: "bachelors", FieldGroup: "computing", Method: "generative", Confidence: 0.4, LowConfidence: true}},
	}
	res, err := e.Score(context.Background(), officerJob(), applicant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NeedsReview {
		t.Fatal("low-confidence normalization must be flagged")
	}
}
