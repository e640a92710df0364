// Package ranking scores applicants against a job on education, experience, skills and
// eligibility and orders them deterministically.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/pds-matcher/internal/ai"
	"github.com/spigell/pds-matcher/internal/records"
	"github.com/spigell/pds-matcher/internal/textsim"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Algorithm identifies the scoring model stamped on every result.
const Algorithm = "pds-weighted-v1"

var (
	ErrNoApplicants     = errors.New("no applicants to rank")
	ErrInvalidJob       = errors.New("invalid job")
	ErrInvalidApplicant = errors.New("invalid applicant")
)

// Annotator resolves the degree and eligibility fields of jobs and applicants.
// *normalize.Engine implements it.
type Annotator interface {
	AnnotateJob(ctx context.Context, job *records.JobRequirement) *records.JobRequirement
	AnnotateApplicant(ctx context.Context, applicant *records.ApplicantProfile) *records.ApplicantProfile
}

// Result is one applicant's ranked outcome.
type Result struct {
	Rank             int      `json:"rank"`
	ApplicantID      string   `json:"applicant_id"`
	MatchScore       float64  `json:"match_score"`
	EducationScore   float64  `json:"education_score"`
	ExperienceScore  float64  `json:"experience_score"`
	SkillsScore      float64  `json:"skills_score"`
	EligibilityScore float64  `json:"eligibility_score"`
	MatchedSkills    []string `json:"matched_skills,omitempty"`
	MissingSkills    []string `json:"missing_skills,omitempty"`
	NeedsReview      bool     `json:"needs_review,omitempty"`
	Reasoning        string   `json:"reasoning"`
	Algorithm        string   `json:"algorithm"`
}

// Run is the outcome of ranking one applicant pool.
type Run struct {
	RunID     string    `json:"run_id"`
	JobID     string    `json:"job_id"`
	Algorithm string    `json:"algorithm"`
	Weights   Weights   `json:"weights"`
	CreatedAt time.Time `json:"created_at"`
	Results   []Result  `json:"results"`
}

// Engine ranks applicants. It is safe for concurrent use.
type Engine struct {
	annotator Annotator
	embedder  ai.Embedder
	generator ai.Generator
	opts      Options
	logger    *zap.Logger

	now func() time.Time
}

// New validates opts and builds an engine. embedder adds semantic similarity to the lexical
// comparisons and generator phrases the reasoning when AIReasoning is set; both may be nil.
func New(annotator Annotator, embedder ai.Embedder, generator ai.Generator, opts Options, log *zap.Logger) (*Engine, error) {
	if annotator == nil {
		return nil, errors.New("annotator is required")
	}
	opts.ApplyDefaults()
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		annotator: annotator,
		embedder:  embedder,
		generator: generator,
		opts:      opts,
		logger:    log,
		now:       time.Now,
	}, nil
}

// Rank annotates the job and every applicant, scores them concurrently and returns the
// ordered results. Normalization misses never abort a run; every applicant gets a result.
func (e *Engine) Rank(ctx context.Context, job *records.JobRequirement, applicants []*records.ApplicantProfile) (*Run, error) {
	if err := validateInput(job, applicants); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := e.now()
	log := e.logger.With(zap.String("job_id", job.ID))
	log.Info("ranking started", zap.Int("applicants", len(applicants)))

	annotatedJob := e.annotator.AnnotateJob(ctx, job)

	results := make([]Result, len(applicants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	similarity := e.similarity(gctx)
	for i, applicant := range applicants {
		g.Go(func() error {
			annotated := e.annotator.AnnotateApplicant(gctx, applicant)
			results[i] = e.score(gctx, annotatedJob, annotated, similarity)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortResults(results)
	for i := range results {
		results[i].Rank = i + 1
	}

	run := &Run{
		RunID:     uuid.NewString(),
		JobID:     job.ID,
		Algorithm: Algorithm,
		Weights:   e.opts.Weights,
		CreatedAt: started.UTC(),
		Results:   results,
	}

	log.Info("ranking finished",
		zap.String("run_id", run.RunID),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", e.now().Sub(started)),
	)
	return run, nil
}

// Score computes one applicant's result without ranking it against others.
func (e *Engine) Score(ctx context.Context, job *records.JobRequirement, applicant *records.ApplicantProfile) (Result, error) {
	if err := validateInput(job, []*records.ApplicantProfile{applicant}); err != nil {
		return Result{}, err
	}
	annotatedJob, annotated := e.annotator.AnnotateJob(ctx, job), e.annotator.AnnotateApplicant(ctx, applicant)
	res := e.score(ctx, annotatedJob, annotated, e.similarity(ctx))
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func validateInput(job *records.JobRequirement, applicants []*records.ApplicantProfile) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}
	if strings.TrimSpace(job.Title) == "" {
		return fmt.Errorf("%w: job %q has no title", ErrInvalidJob, job.ID)
	}
	if !finite(job.YearsOfExperience) {
		return fmt.Errorf("%w: job %q has invalid years of experience %v", ErrInvalidJob, job.ID, job.YearsOfExperience)
	}
	if len(applicants) == 0 {
		return ErrNoApplicants
	}

	seen := make(map[string]struct{}, len(applicants))
	for i, applicant := range applicants {
		if applicant == nil {
			return fmt.Errorf("%w: applicant #%d is nil", ErrInvalidApplicant, i)
		}
		id := strings.TrimSpace(applicant.ApplicantID)
		if id == "" {
			return fmt.Errorf("%w: applicant #%d has no id", ErrInvalidApplicant, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate applicant id %q", ErrInvalidApplicant, id)
		}
		if !finite(applicant.TotalYearsExperience) {
			return fmt.Errorf("%w: applicant %q has invalid years of experience %v", ErrInvalidApplicant, id, applicant.TotalYearsExperience)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (e *Engine) score(ctx context.Context, job *records.JobRequirement, applicant *records.ApplicantProfile, similarity similarityFunc) Result {
	education := educationScore(job.Degree, applicant.Education, similarity)
	experience := experienceScore(applicant.TotalYearsExperience, job.YearsOfExperience, e.opts.ExperienceCurvature)
	skills, matched, missing := skillsScore(job.Skills, applicant.Skills, e.opts.SkillSimilarityThreshold, similarity)
	eligibility, satisfied := eligibilityScore(job.Eligibilities, applicant.Eligibilities, e.opts.EligibilityAnyOf, e.opts.EligibilitySimilarityThreshold, textsim.Similarity)

	res := Result{
		ApplicantID:      applicant.ApplicantID,
		MatchScore:       composite(e.opts.Weights, education, experience, skills, eligibility),
		EducationScore:   round2(education),
		ExperienceScore:  round2(experience),
		SkillsScore:      round2(skills),
		EligibilityScore: round2(eligibility),
		MatchedSkills:    matched,
		MissingSkills:    missing,
		NeedsReview:      needsReview(job, applicant),
		Algorithm:        Algorithm,
	}

	facts := reasoningFacts{
		education:            res.EducationScore,
		educationRequired:    strings.TrimSpace(job.Degree.Raw) != "" || len(job.Degree.Alternatives) > 0,
		years:                applicant.TotalYearsExperience,
		requiredYears:        job.YearsOfExperience,
		matchedSkills:        len(matched),
		requiredSkills:       len(matched) + len(missing),
		eligibility:          res.EligibilityScore,
		satisfiedEligibility: satisfied,
		requiredEligibility:  countTitled(job.Eligibilities),
	}
	res.Reasoning = e.reasoning(ctx, job, applicant, res, facts)
	return res
}

// similarity returns the lexical measure, raised by embedding cosine when an embedder is set.
// The first embedding failure switches the returned func to lexical only, so one run waits
// on a broken provider at most once per concurrent worker.
func (e *Engine) similarity(ctx context.Context) similarityFunc {
	if e.embedder == nil {
		return textsim.Similarity
	}

	var down atomic.Bool
	failed := func(err error) {
		if down.CompareAndSwap(false, true) {
			e.logger.Warn("semantic similarity unavailable, using lexical similarity for this run", zap.Error(err))
		}
	}

	return func(a, b string) float64 {
		lexical := textsim.Similarity(a, b)
		if lexical >= 1 || down.Load() {
			return lexical
		}
		va, err := e.embed(ctx, a)
		if err != nil {
			failed(err)
			return lexical
		}
		vb, err := e.embed(ctx, b)
		if err != nil {
			failed(err)
			return lexical
		}
		return math.Max(lexical, textsim.Cosine(va, vb))
	}
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.ProviderTimeout)
	defer cancel()
	return e.embedder.EmbedText(callCtx, text)
}

func needsReview(job *records.JobRequirement, applicant *records.ApplicantProfile) bool {
	if applicant.Education.Normalized != nil && applicant.Education.Normalized.LowConfidence {
		return true
	}
	for _, alt := range job.Degree.Alternatives {
		if alt.Normalized != nil && alt.Normalized.LowConfidence {
			return true
		}
	}
	for _, items := range [][]records.Eligibility{job.Eligibilities, applicant.Eligibilities} {
		for _, item := range items {
			if item.Normalized != nil && item.Normalized.LowConfidence {
				return true
			}
		}
	}
	return false
}

func countTitled(items []records.Eligibility) int {
	n := 0
	for _, item := range items {
		if strings.TrimSpace(item.Title) != "" || item.Normalized.Matched() {
			n++
		}
	}
	return n
}

// sortResults orders by composite at 0.01 resolution, then education, experience and
// applicant id. The quantized comparison keeps the order a strict weak ordering.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if qa, qb := quantize(a.MatchScore), quantize(b.MatchScore); qa != qb {
			return qa > qb
		}
		if qa, qb := quantize(a.EducationScore), quantize(b.EducationScore); qa != qb {
			return qa > qb
		}
		if qa, qb := quantize(a.ExperienceScore), quantize(b.ExperienceScore); qa != qb {
			return qa > qb
		}
		return a.ApplicantID < b.ApplicantID
	})
}

func quantize(score float64) int64 {
	return int64(math.Round(score * 100))
}
