package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local and .env from the working directory.
// Missing files are not an error. Existing process env wins.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// ApplyEnvOverrides layers MNEMO_* variables over the loaded config.
// Call before SetDefaults so derived paths pick up the overrides.
func ApplyEnvOverrides(cfg *Config) {
	envStr("MNEMO_HOST", &cfg.Server.Host)
	envInt("MNEMO_PORT", &cfg.Server.Port)
	envStr("MNEMO_DATA_DIR", &cfg.Storage.DataDir)

	if v := os.Getenv("MNEMO_VECTOR_PROVIDER"); v != "" {
		cfg.Vector.Backend = VectorBackend(v)
	}
	if v := os.Getenv("MNEMO_VECTOR_PATH"); v != "" {
		if cfg.Vector.Chromem == nil {
			cfg.Vector.Chromem = &ChromemConfig{}
		}
		cfg.Vector.Chromem.PersistPath = v
	}
	envStr("MNEMO_COLLECTION_PREFIX", &cfg.Vector.Collection)

	if v := os.Getenv("MNEMO_EMBED_PROVIDER"); v != "" {
		cfg.Embedder.Provider = EmbedderProvider(v)
	}
	envStr("MNEMO_EMBED_MODEL", &cfg.Embedder.Model)

	envStr("MNEMO_RERANK_URL", &cfg.Rerank.Endpoint)
	envStr("MNEMO_RERANK_MODEL", &cfg.Rerank.LLM)
	envBool("MNEMO_ENABLE_RERANK", &cfg.Rerank.Enabled)
	envBool("MNEMO_ENABLE_HYDE", &cfg.Hyde.Enabled)

	if v, ok := lookupBool("MNEMO_OCR_ENABLED"); ok {
		cfg.OCR.Enabled = BoolPtr(v)
	}
	envInt("MNEMO_INGEST_CONCURRENCY", &cfg.Ingest.Workers)
	envStr("MNEMO_INBOX_DIR", &cfg.Ingest.InboxDir)

	if v := os.Getenv("MNEMO_DAILY_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dispatcher.DailyBudgetUSD = Float64Ptr(f)
		}
	}

	if auth, ok := lookupBool("MNEMO_REQUIRE_AUTH"); ok || os.Getenv("MNEMO_JWKS_URL") != "" || os.Getenv("MNEMO_JWT_SECRET") != "" {
		if cfg.Server.Auth == nil {
			cfg.Server.Auth = &AuthConfig{}
		}
		if ok {
			cfg.Server.Auth.Enabled = auth
		}
		envStr("MNEMO_JWKS_URL", &cfg.Server.Auth.JWKSURL)
		envStr("MNEMO_JWT_SECRET", &cfg.Server.Auth.Secret)
	}

	if v := os.Getenv("MNEMO_ALLOWED_ORIGINS"); v != "" {
		if cfg.Server.CORS == nil {
			cfg.Server.CORS = &CORSConfig{}
		}
		cfg.Server.CORS.AllowedOrigins = splitList(v)
	}

	envStr("MNEMO_LOG_LEVEL", &cfg.Logger.Level)
	envStr("MNEMO_LOG_FORMAT", &cfg.Logger.Format)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := lookupBool(key); ok {
		*dst = v
	}
}

func lookupBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetProviderAPIKey returns the conventional API key env var for a
// provider name.
func GetProviderAPIKey(providerType string) string {
	switch providerType {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	default:
		return ""
	}
}
