// pkg/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig holds the OAuth client registration for one mailbox provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Enabled reports whether the provider is configured at all. Flows for an
// unconfigured provider are rejected at the handler.
func (p ProviderConfig) Enabled() bool { return p.ClientID != "" && p.ClientSecret != "" }

type Config struct {
	Env      string
	HTTPAddr string

	// BackendURL is the public base URL the browser is sent back to after a
	// completed OAuth callback.
	BackendURL string

	// OAuth flow secrets and per-provider client registrations.
	StateSecret string
	Gmail       ProviderConfig
	Outlook     ProviderConfig
	// OutlookDirectoryTenant is the Microsoft identity platform tenant
	// segment of the token endpoint ("common" for multi-tenant apps).
	OutlookDirectoryTenant string

	// Token encryption at rest. Keys are versioned so the active key can be
	// rotated without re-encrypting every tenant: TokenEncKey is the active
	// key, TokenEncPriorKeys maps version -> key for older ciphertexts.
	TokenEncKey       string
	TokenEncKeyID     uint8
	TokenEncPriorKeys map[uint8]string

	// Workflow engine.
	EngineBaseURL string
	EngineAPIKey  string

	// Optional override dir for workflow template YAML files.
	TemplateDir string

	// Ops API bearer validation.
	OpsIssuer   string
	OpsAudience string
	OpsJWKSURL  string

	StateTTL      time.Duration
	RefreshMargin time.Duration

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:        env("AGENTMAIL_ENV", "dev"),
		HTTPAddr:   env("AGENTMAIL_HTTP_ADDR", ":8080"),
		BackendURL: env("BACKEND_URL", "http://localhost:8080"),

		StateSecret: env("OAUTH_STATE_SECRET", ""),
		Gmail: ProviderConfig{
			ClientID:     env("GMAIL_CLIENT_ID", ""),
			ClientSecret: env("GMAIL_CLIENT_SECRET", ""),
			RedirectURI:  env("GMAIL_REDIRECT_URI", ""),
		},
		Outlook: ProviderConfig{
			ClientID:     env("OUTLOOK_CLIENT_ID", ""),
			ClientSecret: env("OUTLOOK_CLIENT_SECRET", ""),
			RedirectURI:  env("OUTLOOK_REDIRECT_URI", ""),
		},
		OutlookDirectoryTenant: env("OUTLOOK_DIRECTORY_TENANT", "common"),

		TokenEncKey:   env("TOKEN_ENC_KEY", ""),
		TokenEncKeyID: uint8(envInt("TOKEN_ENC_KEY_ID", 1)),

		EngineBaseURL: env("ENGINE_BASE_URL", ""),
		EngineAPIKey:  env("ENGINE_API_KEY", ""),
		TemplateDir:   env("WORKFLOW_TEMPLATE_DIR", ""),

		OpsIssuer:   env("OPS_OIDC_ISSUER", ""),
		OpsAudience: env("OPS_OIDC_AUDIENCE", "agentmail-ops"),
		OpsJWKSURL:  env("OPS_JWKS_URL", ""),

		StateTTL:      envDur("OAUTH_STATE_TTL_SEC", 600) * time.Second,
		RefreshMargin: envDur("TOKEN_REFRESH_MARGIN_SEC", 300) * time.Second,

		RedisURL:    env("REDIS_URL", ""),
		DatabaseURL: env("DATABASE_URL", ""),
	}
	cfg.TokenEncPriorKeys = priorKeys(env("TOKEN_ENC_PRIOR_KEYS", ""))
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory tenant store for dev")
	}
	return cfg
}

// MustLoad is Load plus fail-fast validation of the values nothing can run
// without. Provider registrations stay optional; a deployment may enable
// only one of Gmail/Outlook.
func MustLoad() Config {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func (c Config) Validate() error {
	var missing []string
	if c.StateSecret == "" {
		missing = append(missing, "OAUTH_STATE_SECRET")
	}
	if c.TokenEncKey == "" {
		missing = append(missing, "TOKEN_ENC_KEY")
	}
	if c.EngineBaseURL == "" {
		missing = append(missing, "ENGINE_BASE_URL")
	}
	if c.EngineAPIKey == "" {
		missing = append(missing, "ENGINE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required env not set: %s", strings.Join(missing, ", "))
	}
	if !c.Gmail.Enabled() && !c.Outlook.Enabled() {
		return fmt.Errorf("no mail provider configured (set GMAIL_* and/or OUTLOOK_* client env)")
	}
	return nil
}

// priorKeys parses "2=key,3=key" into a version->key map.
func priorKeys(raw string) map[uint8]string {
	out := map[uint8]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		id, err := strconv.Atoi(kv[0])
		if err != nil || id < 0 || id > 255 {
			continue
		}
		out[uint8(id)] = kv[1]
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
