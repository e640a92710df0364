package ranking

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	DefaultConcurrency                    = 8
	DefaultExperienceCurvature            = 2.0
	DefaultSkillSimilarityThreshold       = 0.8
	DefaultEligibilitySimilarityThreshold = 0.85
	DefaultProviderTimeout                = 8 * time.Second
	defaultMaxLogLength                   = 200

	weightTolerance = 1e-6
)

// ErrInvalidWeights is returned when the sub-score weights are negative or do not sum to 1.
var ErrInvalidWeights = errors.New("invalid ranking weights")

// Weights are the shares of each sub-score in the composite.
type Weights struct {
	Education   float64 `json:"education" mapstructure:"education"`
	Experience  float64 `json:"experience" mapstructure:"experience"`
	Skills      float64 `json:"skills" mapstructure:"skills"`
	Eligibility float64 `json:"eligibility" mapstructure:"eligibility"`
}

// DefaultWeights returns the standard split.
func DefaultWeights() Weights {
	return Weights{Education: 0.35, Experience: 0.25, Skills: 0.20, Eligibility: 0.20}
}

// IsZero reports whether no weight has been set.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

// Validate checks that every weight is non-negative and that they sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"education":   w.Education,
		"experience":  w.Experience,
		"skills":      w.Skills,
		"eligibility": w.Eligibility,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s weight %v", ErrInvalidWeights, name, v)
		}
	}

	sum := w.Education + w.Experience + w.Skills + w.Eligibility
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %v, want 1", ErrInvalidWeights, sum)
	}
	return nil
}

// Options tunes scoring. Zero values fall back to the defaults.
type Options struct {
	Weights                        Weights       `mapstructure:"weights"`
	Concurrency                    int           `mapstructure:"concurrency"`
	ExperienceCurvature            float64       `mapstructure:"experience-curvature"`
	SkillSimilarityThreshold       float64       `mapstructure:"skill-similarity-threshold"`
	EligibilitySimilarityThreshold float64       `mapstructure:"eligibility-similarity-threshold"`
	EligibilityAnyOf               bool          `mapstructure:"eligibility-any-of"`
	AIReasoning                    bool          `mapstructure:"ai-reasoning"`
	ProviderTimeout                time.Duration `mapstructure:"provider-timeout"`
	MaxLogLength                   int           `mapstructure:"max-log-length"`
}

// ApplyDefaults fills unset fields.
func (o *Options) ApplyDefaults() {
	if o.Weights.IsZero() {
		o.Weights = DefaultWeights()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ExperienceCurvature <= 0 {
		o.ExperienceCurvature = DefaultExperienceCurvature
	}
	if o.SkillSimilarityThreshold <= 0 {
		o.SkillSimilarityThreshold = DefaultSkillSimilarityThreshold
	}
	if o.EligibilitySimilarityThreshold <= 0 {
		o.EligibilitySimilarityThreshold = DefaultEligibilitySimilarityThreshold
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = DefaultProviderTimeout
	}
	if o.MaxLogLength <= 0 {
		o.MaxLogLength = defaultMaxLogLength
	}
}
