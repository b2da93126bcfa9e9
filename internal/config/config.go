package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"openrouter-proxy/internal/integrations/openrouter"
)

const (
	defaultMaxTokens         = 100
	defaultGenerateMaxTokens = 2000
	defaultTimeoutSeconds    = 30
	defaultLocalAddr         = ":8080"
	tokenParameter           = "/openrouter-token"
)

// Config is the process configuration. It is read once at startup.
type Config struct {
	OpenRouter openrouter.Config

	// ParamPrefix locates the API key in SSM when OPENROUTER_API_KEY is unset.
	ParamPrefix string
	// LedgerTable enables the DynamoDB exchange ledger when non-empty.
	LedgerTable string
	// LocalAddr is the listen address when serving HTTP outside Lambda.
	LocalAddr string
	// Lambda is true when running inside the AWS Lambda runtime.
	Lambda bool
}

// TokenGetter reads a {"token": "..."} parameter.
type TokenGetter interface {
	Token(ctx context.Context, name string) (string, error)
}

// Load reads the environment, after loading a .env file if one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	maxTokens, err := envInt("OPENROUTER_MAX_TOKENS", defaultMaxTokens)
	if err != nil {
		return Config{}, err
	}
	generateMaxTokens, err := envInt("OPENROUTER_GENERATE_MAX_TOKENS", defaultGenerateMaxTokens)
	if err != nil {
		return Config{}, err
	}
	timeoutSeconds, err := envInt("OPENROUTER_TIMEOUT_SECONDS", defaultTimeoutSeconds)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		OpenRouter: openrouter.Config{
			APIKey:            strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
			Model:             envOrDefault("OPENROUTER_MODEL", openrouter.DefaultModel),
			MaxTokens:         maxTokens,
			GenerateMaxTokens: generateMaxTokens,
			CompletionURL:     envOrDefault("OPENROUTER_BASE_URL", openrouter.DefaultCompletionURL),
			CreditsURL:        envOrDefault("OPENROUTER_CREDITS_URL", openrouter.DefaultCreditsURL),
			ProvidersURL:      envOrDefault("OPENROUTER_PROVIDERS_URL", openrouter.DefaultProvidersURL),
			Timeout:           time.Duration(timeoutSeconds) * time.Second,
		},
		ParamPrefix: strings.TrimRight(strings.TrimSpace(os.Getenv("PARAM_PREFIX")), "/"),
		LedgerTable: strings.TrimSpace(os.Getenv("LEDGER_TABLE")),
		LocalAddr:   strings.TrimSpace(os.Getenv("LOCAL_ADDR")),
		Lambda:      os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "",
	}
	if cfg.LocalAddr == "" && !cfg.Lambda {
		cfg.LocalAddr = defaultLocalAddr
	}
	return cfg, nil
}

// NeedsAWS reports whether any AWS-backed component is configured.
func (c Config) NeedsAWS() bool {
	return c.LedgerTable != "" || (c.OpenRouter.APIKey == "" && c.ParamPrefix != "")
}

// ResolveAPIKey fills in the OpenRouter API key from SSM when it was not set in
// the environment. The key must be present after resolution.
func ResolveAPIKey(ctx context.Context, cfg *Config, getter TokenGetter) error {
	if cfg.OpenRouter.APIKey != "" {
		return nil
	}
	if cfg.ParamPrefix == "" {
		return errors.New("config: OPENROUTER_API_KEY or PARAM_PREFIX must be set")
	}
	if getter == nil {
		return errors.New("config: token getter must not be nil")
	}
	key, err := getter.Token(ctx, cfg.ParamPrefix+tokenParameter)
	if err != nil {
		return fmt.Errorf("config: resolve api key: %w", err)
	}
	cfg.OpenRouter.APIKey = key
	return nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return n, nil
}
