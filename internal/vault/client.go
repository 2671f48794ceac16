// Package vault loads service credentials from HashiCorp Vault KV v2.
// The bot is single-tenant, so all secrets live under one configured
// path and overlay the environment-derived config at startup.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"fx-scalper-bot/config"
)

// Secrets holds the credentials the bot reads from Vault. Empty fields
// leave the corresponding config value untouched.
type Secrets struct {
	BrokerAPIKey    string `json:"broker_api_key"`
	BrokerAccountID string `json:"broker_account_id"`
	ClaudeAPIKey    string `json:"claude_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	DeepSeekAPIKey  string `json:"deepseek_api_key"`
	TAAPIKey        string `json:"ta_api_key"`
	NewsAPIKey      string `json:"news_api_key"`
	DatabaseURL     string `json:"database_url"`
	RedisPassword   string `json:"redis_password"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *Secrets
}

// NewClient creates a Vault client. A disabled config yields a client
// whose Load returns empty secrets, so callers need no branching.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Load reads the secrets from the configured path. The result is cached
// until Refresh.
func (c *Client) Load(ctx context.Context) (*Secrets, error) {
	c.mu.RLock()
	if c.cached != nil {
		defer c.mu.RUnlock()
		return c.cached, nil
	}
	c.mu.RUnlock()
	return c.Refresh(ctx)
}

// Refresh re-reads the secrets, replacing the cache.
func (c *Client) Refresh(ctx context.Context) (*Secrets, error) {
	if !c.config.Enabled {
		return &Secrets{}, nil
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secrets at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	s := &Secrets{
		BrokerAPIKey:    getString(data, "broker_api_key"),
		BrokerAccountID: getString(data, "broker_account_id"),
		ClaudeAPIKey:    getString(data, "claude_api_key"),
		OpenAIAPIKey:    getString(data, "openai_api_key"),
		DeepSeekAPIKey:  getString(data, "deepseek_api_key"),
		TAAPIKey:        getString(data, "ta_api_key"),
		NewsAPIKey:      getString(data, "news_api_key"),
		DatabaseURL:     getString(data, "database_url"),
		RedisPassword:   getString(data, "redis_password"),
	}

	c.mu.Lock()
	c.cached = s
	c.mu.Unlock()
	return s, nil
}

// ApplyTo overlays non-empty secrets onto the config. Vault wins over
// environment values when both are set.
func (s *Secrets) ApplyTo(cfg *config.Config) {
	setIfPresent(&cfg.BrokerConfig.APIKey, s.BrokerAPIKey)
	setIfPresent(&cfg.BrokerConfig.AccountID, s.BrokerAccountID)
	setIfPresent(&cfg.AIConfig.ClaudeAPIKey, s.ClaudeAPIKey)
	setIfPresent(&cfg.AIConfig.OpenAIAPIKey, s.OpenAIAPIKey)
	setIfPresent(&cfg.AIConfig.DeepSeekAPIKey, s.DeepSeekAPIKey)
	setIfPresent(&cfg.IndicatorConfig.APIKey, s.TAAPIKey)
	setIfPresent(&cfg.NewsConfig.APIKey, s.NewsAPIKey)
	setIfPresent(&cfg.DatabaseConfig.URL, s.DatabaseURL)
	setIfPresent(&cfg.RedisConfig.Password, s.RedisPassword)
}

// IsEnabled returns whether Vault is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
