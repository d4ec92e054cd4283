// Package config handles loading and validation of daemon configuration.
// Supports both development (env vars or a config file) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is the quiet period before a quantity edit is synced.
const DefaultDebounce = 300 * time.Millisecond

// Config holds all daemon configuration.
// Environment determines whether the store API key loads from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string

	Store    StoreConfig
	Identity IdentityConfig
	Storage  StorageConfig
	Sync     SyncConfig
}

// StoreConfig points at the cart REST API and its push endpoint.
// In production the API key is loaded from Secret Manager.
// Push only runs for a user; a guest daemon starts it on login.
type StoreConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
	PushURL string `json:"push_url,omitempty" yaml:"push_url,omitempty"`

	// SecretName overrides the default secret id "cartsync-store".
	SecretName string `json:"secret_name,omitempty" yaml:"secret_name,omitempty"`
}

// IdentityConfig selects the shopper. Empty UserID means a guest session.
type IdentityConfig struct {
	UserID string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// StorageConfig locates the origin-scoped local key/value database.
type StorageConfig struct {
	Path   string `json:"path" yaml:"path"`
	Origin string `json:"origin" yaml:"origin"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	Debounce time.Duration `json:"-" yaml:"-"`
}

// fileConfig mirrors the on-disk layout. Durations are strings ("300ms").
type fileConfig struct {
	Port        string         `json:"port" yaml:"port"`
	Environment string         `json:"environment" yaml:"environment"`
	LogLevel    string         `json:"log_level" yaml:"log_level"`
	GCPProject  string         `json:"gcp_project" yaml:"gcp_project"`
	Store       StoreConfig    `json:"store" yaml:"store"`
	Identity    IdentityConfig `json:"identity" yaml:"identity"`
	Storage     StorageConfig  `json:"storage" yaml:"storage"`
	Sync        struct {
		Debounce string `json:"debounce" yaml:"debounce"`
	} `json:"sync" yaml:"sync"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		Store: StoreConfig{
			BaseURL:    os.Getenv("STORE_BASE_URL"),
			PushURL:    os.Getenv("STORE_PUSH_URL"),
			SecretName: os.Getenv("STORE_SECRET_NAME"),
		},
		Identity: IdentityConfig{UserID: os.Getenv("CART_USER_ID")},
		Storage: StorageConfig{
			Path:   envOrDefault("STORAGE_PATH", defaultStoragePath()),
			Origin: os.Getenv("STORAGE_ORIGIN"),
		},
	}

	debounce, err := parseDebounce(os.Getenv("SYNC_DEBOUNCE"))
	if err != nil {
		return nil, fmt.Errorf("SYNC_DEBOUNCE: %w", err)
	}
	cfg.Sync.Debounce = debounce

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading store api key: %w", err)
		}
	} else {
		cfg.Store.APIKey = os.Getenv("STORE_API_KEY")
	}

	cfg.deriveDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON or YAML file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	debounce, err := parseDebounce(fc.Sync.Debounce)
	if err != nil {
		return nil, fmt.Errorf("sync.debounce: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fc.Port, "8080"),
		Environment: withDefault(fc.Environment, "development"),
		LogLevel:    withDefault(fc.LogLevel, "info"),
		GCPProject:  fc.GCPProject,
		Store:       fc.Store,
		Identity:    fc.Identity,
		Storage:     fc.Storage,
		Sync:        SyncConfig{Debounce: debounce},
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath()
	}

	cfg.deriveDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromSecretManager fetches the store API key from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{name}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, withDefault(c.Store.SecretName, "cartsync-store"))

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	c.Store.APIKey = strings.TrimSpace(string(result.Payload.Data))
	return nil
}

// deriveDefaults fills values computable from others.
func (c *Config) deriveDefaults() {
	// Local storage is scoped to the store's origin unless set explicitly.
	if c.Storage.Origin == "" && c.Store.BaseURL != "" {
		c.Storage.Origin = extractOrigin(c.Store.BaseURL)
	}
	if c.Sync.Debounce == 0 {
		c.Sync.Debounce = DefaultDebounce
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Store.BaseURL == "" {
		return fmt.Errorf("store base_url is required")
	}
	if err := checkURL("store base_url", c.Store.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Store.APIKey == "" {
		return fmt.Errorf("store api_key is required")
	}
	if c.Store.PushURL != "" {
		if err := checkURL("store push_url", c.Store.PushURL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("sync debounce must not be negative, got %s", c.Sync.Debounce)
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: want %s URL with host", field, raw, strings.Join(schemes, " or "))
}

// parseDebounce accepts Go duration syntax. Empty means the default.
func parseDebounce(s string) (time.Duration, error) {
	if s == "" {
		return DefaultDebounce, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", d)
	}
	return d, nil
}

// extractOrigin returns scheme://host for a URL string.
func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(rawURL, "/")
	}
	return u.Scheme + "://" + u.Host
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "cartsync.db")
	}
	return filepath.Join(dir, "cartsync", "storage.db")
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
