package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/pds-matcher/internal/cache"
	"github.com/spigell/pds-matcher/internal/normalize"
	"github.com/spigell/pds-matcher/internal/ranking"
	"github.com/spigell/pds-matcher/internal/taxonomy"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func readConfig(t *testing.T, doc string) *viper.Viper {
	t.Helper()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(doc)); err != nil {
		t.Fatalf("read config: %v", err)
	}
	return v
}

func TestDecodeConfigDefaults(t *testing.T) {
	config, err := decodeConfig(readConfig(t, ""))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	if config.Normalize.EmbeddingThreshold != normalize.DefaultEmbeddingThreshold {
		t.Fatalf("embedding threshold = %v", config.Normalize.EmbeddingThreshold)
	}
	if config.Normalize.MinInputLength != normalize.DefaultMinInputLength {
		t.Fatalf("min input length = %d", config.Normalize.MinInputLength)
	}
	if config.Ranking.Weights != ranking.DefaultWeights() {
		t.Fatalf("weights = %+v", config.Ranking.Weights)
	}
	if config.AI == nil || config.AI.Enabled {
		t.Fatalf("ai must be disabled by default: %+v", config.AI)
	}
	if config.Cache == nil || config.Cache.Backend != "memory" {
		t.Fatalf("cache backend = %+v", config.Cache)
	}
	if config.Cache.Redis == nil || config.Cache.Redis.TTL != 30*24*time.Hour {
		t.Fatalf("redis ttl = %+v", config.Cache.Redis)
	}
}

func TestDecodeConfigOverrides(t *testing.T) {
	config, err := decodeConfig(readConfig(t, `
normalize:
  embedding-threshold: 0.9
  provider-timeout: 3s
ranking:
  weights:
    education: 0.4
    experience: 0.2
    skills: 0.2
    eligibility: 0.2
  eligibility-any-of: true
ai:
  enabled: true
  gemini:
    model: gemini-2.5-pro
    temperature: 0.2
`))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	if config.Normalize.EmbeddingThreshold != 0.9 {
		t.Fatalf("embedding threshold = %v", config.Normalize.EmbeddingThreshold)
	}
	if config.Normalize.ProviderTimeout != 3*time.Second {
		t.Fatalf("provider timeout = %v", config.Normalize.ProviderTimeout)
	}
	if config.Ranking.Weights.Education != 0.4 || !config.Ranking.EligibilityAnyOf {
		t.Fatalf("ranking = %+v", config.Ranking)
	}
	if config.AI.Gemini.Model != "gemini-2.5-pro" {
		t.Fatalf("model = %q", config.AI.Gemini.Model)
	}
	if config.AI.Gemini.Temperature == nil || *config.AI.Gemini.Temperature != 0.2 {
		t.Fatalf("temperature = %v", config.AI.Gemini.Temperature)
	}
	if config.AI.Gemini.EmbeddingModel != "gemini-embedding-001" {
		t.Fatalf("embedding model default lost: %q", config.AI.Gemini.EmbeddingModel)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "weights do not sum to one",
			doc: `
ranking:
  weights:
    education: 0.5
    experience: 0.5
    skills: 0.5
    eligibility: 0.5
`,
			wantErr: "ranking.weights",
		},
		{
			name: "threshold out of range",
			doc: `
normalize:
  embedding-threshold: 1.5
`,
			wantErr: "normalize.embedding-threshold",
		},
		{
			name: "unknown provider",
			doc: `
ai:
  enabled: true
  provider: openai
`,
			wantErr: "unsupported ai provider",
		},
		{
			name: "unknown cache backend",
			doc: `
cache:
  backend: memcached
`,
			wantErr: "unsupported cache backend",
		},
		{
			name: "disabled ai ignores provider",
			doc: `
ai:
  enabled: false
  provider: openai
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeConfig(readConfig(t, tt.doc))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewRuntimeWithoutAI(t *testing.T) {
	config, err := decodeConfig(readConfig(t, ""))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	rt, err := newRuntime(context.Background(), config, zap.New(core))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Close()

	loaded := logs.FilterMessage("taxonomies loaded").All()
	if len(loaded) != 1 {
		t.Fatalf("expected a taxonomies loaded entry, got %d", len(loaded))
	}
	fields := loaded[0].ContextMap()
	if fields["degree_aliases"] != int64(rt.taxonomies.Degrees.Aliases()) || fields["degree_aliases"] == int64(0) {
		t.Fatalf("unexpected alias count fields: %v", fields)
	}

	res := rt.normalizer.Normalize(context.Background(), taxonomy.DomainDegree, "BSIT")
	if res.CanonicalKey != "BS_IT" || res.Method != normalize.MethodDictionary {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNewRuntimeMissingTaxonomyFile(t *testing.T) {
	config, err := decodeConfig(readConfig(t, "taxonomy:\n  degrees: /nonexistent/degrees.yaml\n"))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}

	if _, err := newRuntime(context.Background(), config, zap.NewNop()); err == nil {
		t.Fatal("expected an error for a missing taxonomy file")
	}
}

func TestNewCacheStore(t *testing.T) {
	rt := &runtime{}

	store, err := newCacheStore(context.Background(), &CacheConfig{Backend: "none"}, zap.NewNop(), rt)
	if err != nil || store != nil {
		t.Fatalf("none backend: store=%v err=%v", store, err)
	}

	store, err = newCacheStore(context.Background(), &CacheConfig{Backend: "Memory"}, zap.NewNop(), rt)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := store.(*cache.Memory); !ok {
		t.Fatalf("expected a memory store, got %T", store)
	}

	if _, err := newCacheStore(context.Background(), &CacheConfig{Backend: "etcd"}, zap.NewNop(), rt); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestRedisPassword(t *testing.T) {
	password, err := redisPassword(&RedisConfig{})
	if err != nil || password != "" {
		t.Fatalf("empty config: %q %v", password, err)
	}

	file := filepath.Join(t.TempDir(), "redis-password")
	if err := os.WriteFile(file, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write password: %v", err)
	}

	password, err = redisPassword(&RedisConfig{Password: "inline", PasswordFile: file})
	if err != nil {
		t.Fatalf("password file: %v", err)
	}
	if password != "s3cret" {
		t.Fatalf("password = %q", password)
	}
}

func TestWriteRun(t *testing.T) {
	run := &ranking.Run{
		RunID:     "run-1",
		JobID:     "JOB-1",
		Algorithm: ranking.Algorithm,
		Weights:   ranking.DefaultWeights(),
		Results: []ranking.Result{
			{Rank: 1, ApplicantID: "A-100", MatchScore: 91.5, NeedsReview: true},
			{Rank: 2, ApplicantID: "A-200", MatchScore: 40},
		},
	}

	var table bytes.Buffer
	if err := writeRun(&table, run, "table"); err != nil {
		t.Fatalf("write table: %v", err)
	}
	out := table.String()
	for _, want := range []string{"RANK", "A-100", "91.50", "yes", "A-200"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output misses %q:\n%s", want, out)
		}
	}

	var raw bytes.Buffer
	if err := writeRun(&raw, run, "json"); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var decoded ranking.Run
	if err := json.Unmarshal(raw.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(decoded.Results) != 2 || decoded.Results[0].ApplicantID != "A-100" {
		t.Fatalf("unexpected decoded run: %+v", decoded)
	}
}

func TestHandleAction(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	run := &ranking.Run{RunID: "run-1"}

	if err := handleAction(PromptExit, run, zap.NewNop()); !errors.Is(err, errExit) {
		t.Fatalf("exit action returned %v", err)
	}
	if err := handleAction("unknown", run, zap.NewNop()); err == nil {
		t.Fatal("expected an error for an unknown action")
	}

	if err := handleAction(PromptResultToFile, run, zap.NewNop()); err != nil {
		t.Fatalf("dump action: %v", err)
	}
}

func TestReportCollisions(t *testing.T) {
	set := &taxonomy.Set{
		Degrees: taxonomy.New(taxonomy.DomainDegree, []taxonomy.Entry{
			{Key: "BS_IT", Canonical: "BS Information Technology", Aliases: []string{"BSIT"}},
			{Key: "BS_IS", Canonical: "BS Information Systems", Aliases: []string{"bsit"}},
		}),
		Eligibilities: taxonomy.New(taxonomy.DomainEligibility, nil),
	}

	var out bytes.Buffer
	if n := reportCollisions(&out, set); n != 1 {
		t.Fatalf("collisions = %d, output:\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "BS_IT, BS_IS") {
		t.Fatalf("unexpected report: %s", out.String())
	}
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{1, 0}, nil
}

func TestWarmNormalizer(t *testing.T) {
	set, err := loadTaxonomies(nil)
	if err != nil {
		t.Fatalf("load taxonomies: %v", err)
	}

	t.Run("builds the index up front", func(t *testing.T) {
		emb := &countingEmbedder{}
		engine := normalize.New(set, emb, nil, normalize.Options{}, nil)

		warmNormalizer(context.Background(), engine, zap.NewNop())
		if want := set.Degrees.Len() + set.Eligibilities.Len(); emb.calls != want {
			t.Fatalf("expected %d label embeddings at startup, got %d", want, emb.calls)
		}

		engine.Normalize(context.Background(), taxonomy.DomainDegree, "Underwater Basket Studies")
		if want := set.Degrees.Len() + set.Eligibilities.Len() + 1; emb.calls != want {
			t.Fatalf("first request must only embed its input, got %d calls", emb.calls)
		}
	})

	t.Run("soft-fails when the embedder is down", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		engine := normalize.New(set, &countingEmbedder{err: errors.New("unavailable")}, nil, normalize.Options{}, nil)

		warmNormalizer(context.Background(), engine, zap.New(core))
		if logs.FilterMessage("embedding label index not built at startup").Len() != 1 {
			t.Fatalf("expected a warning, got %v", logs.All())
		}
	})
}
