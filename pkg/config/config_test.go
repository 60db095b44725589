package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY",
		"OPENAI_API_KEY",
		"GEMINI_API_KEY",
		"GOOGLE_API_KEY",
		"GROQ_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig_FullyLocal(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig() error: %v", err)
	}

	llm, ok := cfg.LLMs["default"]
	if !ok {
		t.Fatal("expected a default llm entry")
	}
	if llm.Provider != LLMProviderOllama {
		t.Errorf("expected ollama without API keys, got %s", llm.Provider)
	}
	if cfg.Embedder.Provider != EmbedderProviderOllama {
		t.Errorf("expected ollama embedder, got %s", cfg.Embedder.Provider)
	}
	if cfg.Embedder.Dimension != 768 {
		t.Errorf("expected 768-dim default embedder, got %d", cfg.Embedder.Dimension)
	}
	if cfg.Vector.Backend != VectorBackendChromem {
		t.Errorf("expected chromem backend, got %s", cfg.Vector.Backend)
	}
	if cfg.Vector.Chromem.PersistPath != cfg.Storage.VectorsDir {
		t.Errorf("chromem persist path should default to the vectors dir")
	}
	if cfg.Database.Dialect() != "sqlite" {
		t.Errorf("expected sqlite registry, got %s", cfg.Database.Driver)
	}
	if cfg.Database.Database != cfg.Storage.RegistryPath {
		t.Errorf("registry database should default to the storage registry path")
	}
	if got := cfg.Dispatcher.Ladder; len(got) != 1 || got[0] != "default" {
		t.Errorf("expected ladder [default], got %v", got)
	}
	if cfg.Ingest.Workers != 5 {
		t.Errorf("expected 5 ingest workers, got %d", cfg.Ingest.Workers)
	}
}

func TestStorageConfig_DerivedPaths(t *testing.T) {
	dir := t.TempDir()
	c := StorageConfig{DataDir: dir}
	c.SetDefaults()

	if c.RegistryPath != filepath.Join(dir, "registry.db") {
		t.Errorf("unexpected registry path: %s", c.RegistryPath)
	}
	if c.VectorsDir != filepath.Join(dir, "vectors") {
		t.Errorf("unexpected vectors dir: %s", c.VectorsDir)
	}
	if c.CostsDir != filepath.Join(dir, "costs") {
		t.Errorf("unexpected costs dir: %s", c.CostsDir)
	}
}

func TestDispatcherConfig_Defaults(t *testing.T) {
	c := DispatcherConfig{}
	c.SetDefaults()

	if c.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", c.MaxAttempts)
	}
	if c.BackoffInitial.Seconds() != 15 {
		t.Errorf("expected 15s initial backoff, got %s", c.BackoffInitial)
	}
	if c.BackoffCap.Seconds() != 180 {
		t.Errorf("expected 180s backoff cap, got %s", c.BackoffCap)
	}
	if c.DailyBudgetUSD == nil || *c.DailyBudgetUSD != 5.0 {
		t.Errorf("expected 5 USD daily budget default, got %v", c.DailyBudgetUSD)
	}
}

func TestDispatcherConfig_ExplicitZeroBudget(t *testing.T) {
	c := DispatcherConfig{DailyBudgetUSD: Float64Ptr(0)}
	c.SetDefaults()

	if *c.DailyBudgetUSD != 0 {
		t.Errorf("explicit zero budget should survive defaults, got %v", *c.DailyBudgetUSD)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected validate error: %v", err)
	}
}

func TestLLMConfig_GroqDefaults(t *testing.T) {
	c := LLMConfig{Provider: LLMProviderGroq}
	c.SetDefaults()

	if c.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("expected groq base URL, got %s", c.BaseURL)
	}
	if c.Model == "" {
		t.Error("expected a default groq model")
	}
}

func TestDefaultLadder_CheapestFirst(t *testing.T) {
	llms := map[string]*LLMConfig{
		"premium": {InputCostPer1M: 3.0},
		"local":   {InputCostPer1M: 0},
		"mid":     {InputCostPer1M: 0.15},
	}
	ladder := defaultLadder(llms)

	want := []string{"local", "mid", "premium"}
	for i, name := range want {
		if ladder[i] != name {
			t.Fatalf("expected ladder %v, got %v", want, ladder)
		}
	}
}

func TestConfig_Validate_UnknownLadderEntry(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig() error: %v", err)
	}
	cfg.Dispatcher.Ladder = []string{"missing"}

	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown llm") {
		t.Errorf("expected unknown llm error, got %v", err)
	}
}

func TestConfig_Validate_UnknownHydeLLM(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig() error: %v", err)
	}
	cfg.Hyde.LLM = "missing"

	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "hyde.llm") {
		t.Errorf("expected hyde.llm reference error, got %v", err)
	}
}

func TestRetrievalConfig_Defaults(t *testing.T) {
	c := RetrievalConfig{}
	c.SetDefaults()

	if *c.KeywordWeight != 0.3 || *c.DenseWeight != 0.7 {
		t.Errorf("expected 0.3/0.7 fusion weights, got %f/%f", *c.KeywordWeight, *c.DenseWeight)
	}
	if *c.MMRLambda != 0.7 {
		t.Errorf("expected mmr lambda 0.7, got %f", *c.MMRLambda)
	}
	if c.CandidatesPerIndex != 50 {
		t.Errorf("expected 50 candidates per index, got %d", c.CandidatesPerIndex)
	}
	if c.TopK != 20 {
		t.Errorf("expected top_k 20, got %d", c.TopK)
	}
}

func TestConfidenceConfig_Defaults(t *testing.T) {
	c := ConfidenceConfig{}
	c.SetDefaults()

	if *c.RelevanceWeight != 0.5 || *c.CoverageWeight != 0.3 || *c.QualityWeight != 0.2 {
		t.Errorf("expected 0.5/0.3/0.2 weights, got %f/%f/%f",
			*c.RelevanceWeight, *c.CoverageWeight, *c.QualityWeight)
	}
	if *c.OverallThreshold != 0.6 || *c.RelevanceThreshold != 0.5 {
		t.Errorf("expected 0.6/0.5 thresholds, got %f/%f",
			*c.OverallThreshold, *c.RelevanceThreshold)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestConfidenceConfig_RejectsOutOfRangeWeight(t *testing.T) {
	c := ConfidenceConfig{RelevanceWeight: Float64Ptr(1.5)}
	c.SetDefaults()

	if err := c.Validate(); err == nil {
		t.Error("expected error for weight above 1")
	}
}

func TestRerankConfig_RequiresEndpoint(t *testing.T) {
	c := RerankConfig{Enabled: true}
	c.SetDefaults()

	if err := c.Validate(); err == nil {
		t.Error("expected error for tei provider without endpoint")
	}

	c.Endpoint = "http://localhost:8080/rerank"
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error with endpoint set: %v", err)
	}
}

func TestDatabaseConfig_SQLiteDSN(t *testing.T) {
	c := DatabaseConfig{Driver: "sqlite", Database: "/tmp/reg.db"}
	c.SetDefaults()

	if c.DSN() != "/tmp/reg.db" {
		t.Errorf("sqlite DSN should be the file path, got %s", c.DSN())
	}
	if c.DriverName() != "sqlite3" {
		t.Errorf("expected sqlite3 driver name, got %s", c.DriverName())
	}
}
