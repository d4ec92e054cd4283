package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnv = []string{
	"CONFIG_FILE", "PORT", "ENVIRONMENT", "LOG_LEVEL", "GCP_PROJECT",
	"STORE_BASE_URL", "STORE_API_KEY", "STORE_PUSH_URL", "STORE_SECRET_NAME",
	"CART_USER_ID", "STORAGE_PATH", "STORAGE_ORIGIN", "SYNC_DEBOUNCE",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_BASE_URL", "https://shop.example.com/api")
	t.Setenv("STORE_API_KEY", "sk_test123")
	t.Setenv("STORE_PUSH_URL", "wss://shop.example.com/ws")
	t.Setenv("CART_USER_ID", "user-1")
	t.Setenv("STORAGE_PATH", "/tmp/cartsync.db")
	t.Setenv("SYNC_DEBOUNCE", "150ms")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Store.APIKey != "sk_test123" {
		t.Errorf("APIKey = %s, want sk_test123", cfg.Store.APIKey)
	}
	if cfg.Store.PushURL != "wss://shop.example.com/ws" {
		t.Errorf("PushURL = %s", cfg.Store.PushURL)
	}
	if cfg.Identity.UserID != "user-1" {
		t.Errorf("UserID = %s, want user-1", cfg.Identity.UserID)
	}
	if cfg.Sync.Debounce != 150*time.Millisecond {
		t.Errorf("Debounce = %s, want 150ms", cfg.Sync.Debounce)
	}

	// Origin derived from the store URL
	if cfg.Storage.Origin != "https://shop.example.com" {
		t.Errorf("Origin = %s, want https://shop.example.com", cfg.Storage.Origin)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BASE_URL", "http://localhost:3000")
	t.Setenv("STORE_API_KEY", "key")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %s, want development", cfg.Environment)
	}
	if cfg.Sync.Debounce != DefaultDebounce {
		t.Errorf("Debounce = %s, want %s", cfg.Sync.Debounce, DefaultDebounce)
	}
	if cfg.Storage.Path == "" {
		t.Error("Storage.Path should default to a non-empty path")
	}
	if cfg.Identity.UserID != "" {
		t.Errorf("UserID = %q, want guest", cfg.Identity.UserID)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing base_url",
			env:     map[string]string{"STORE_API_KEY": "key"},
			wantErr: "base_url is required",
		},
		{
			name:    "missing api_key",
			env:     map[string]string{"STORE_BASE_URL": "https://shop.com"},
			wantErr: "api_key is required",
		},
		{
			name:    "base_url without scheme",
			env:     map[string]string{"STORE_BASE_URL": "shop.com", "STORE_API_KEY": "key"},
			wantErr: "invalid store base_url",
		},
		{
			name: "push_url must be websocket",
			env: map[string]string{
				"STORE_BASE_URL": "https://shop.com", "STORE_API_KEY": "key",
				"STORE_PUSH_URL": "https://shop.com/ws", "CART_USER_ID": "u1",
			},
			wantErr: "invalid store push_url",
		},
		{
			name: "bad debounce",
			env: map[string]string{
				"STORE_BASE_URL": "https://shop.com", "STORE_API_KEY": "key",
				"SYNC_DEBOUNCE": "soon",
			},
			wantErr: "SYNC_DEBOUNCE",
		},
		{
			name: "negative debounce",
			env: map[string]string{
				"STORE_BASE_URL": "https://shop.com", "STORE_API_KEY": "key",
				"SYNC_DEBOUNCE": "-1s",
			},
			wantErr: "must not be negative",
		},
		{
			name:    "production without project",
			env:     map[string]string{"ENVIRONMENT": "production", "STORE_BASE_URL": "https://shop.com"},
			wantErr: "GCP_PROJECT required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(context.Background())
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `{
		"port": "9090",
		"environment": "test",
		"log_level": "debug",
		"store": {
			"base_url": "https://file-shop.com/api/",
			"api_key": "sk_file"
		},
		"identity": {"user_id": "u-7"},
		"storage": {"path": "/var/lib/cartsync/storage.db"},
		"sync": {"debounce": "1s"}
	}`
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeFile(t, "config.json", content))

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.Store.BaseURL != "https://file-shop.com/api/" {
		t.Errorf("BaseURL = %s", cfg.Store.BaseURL)
	}
	if cfg.Storage.Origin != "https://file-shop.com" {
		t.Errorf("Origin = %s, want https://file-shop.com (derived)", cfg.Storage.Origin)
	}
	if cfg.Identity.UserID != "u-7" {
		t.Errorf("UserID = %s, want u-7", cfg.Identity.UserID)
	}
	if cfg.Sync.Debounce != time.Second {
		t.Errorf("Debounce = %s, want 1s", cfg.Sync.Debounce)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	content := `
port: "7070"
log_level: warn
store:
  base_url: http://127.0.0.1:4000
  api_key: sk_yaml
  push_url: ws://127.0.0.1:4000/ws
identity:
  user_id: shopper
storage:
  path: /tmp/yaml.db
  origin: http://storefront.local
`
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeFile(t, "config.yaml", content))

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("Port = %s, want 7070", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %s, want warn", cfg.LogLevel)
	}
	if cfg.Store.PushURL != "ws://127.0.0.1:4000/ws" {
		t.Errorf("PushURL = %s", cfg.Store.PushURL)
	}
	// Explicit origin wins over the derived one
	if cfg.Storage.Origin != "http://storefront.local" {
		t.Errorf("Origin = %s, want http://storefront.local", cfg.Storage.Origin)
	}
	if cfg.Sync.Debounce != DefaultDebounce {
		t.Errorf("Debounce = %s, want default", cfg.Sync.Debounce)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", "/nonexistent/config.json")
		if _, err := Load(context.Background()); err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", writeFile(t, "config.json", "{invalid json"))
		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "parsing config file") {
			t.Errorf("expected parse error, got: %v", err)
		}
	})

	t.Run("invalid YAML", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", writeFile(t, "config.yml", "store: [unterminated"))
		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "parsing config file") {
			t.Errorf("expected parse error, got: %v", err)
		}
	})

	t.Run("missing store", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", writeFile(t, "config.json", `{"port": "1"}`))
		_, err := Load(context.Background())
		if err == nil || !strings.Contains(err.Error(), "base_url is required") {
			t.Errorf("expected base_url error, got: %v", err)
		}
	})
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://shop.example.com", "https://shop.example.com"},
		{"https://shop.example.com/", "https://shop.example.com"},
		{"https://shop.example.com/api/v1", "https://shop.example.com"},
		{"http://localhost:8080/x", "http://localhost:8080"},
		{"storefront/", "storefront"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := extractOrigin(tt.url); got != tt.want {
				t.Errorf("extractOrigin(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "custom")
	if got := envOrDefault("TEST_ENV_VAR", "default"); got != "custom" {
		t.Errorf("envOrDefault with set var = %q, want custom", got)
	}

	t.Setenv("TEST_ENV_VAR_UNSET", "")
	if got := envOrDefault("TEST_ENV_VAR_UNSET", "default"); got != "default" {
		t.Errorf("envOrDefault with unset var = %q, want default", got)
	}
}

func TestWithDefault(t *testing.T) {
	if got := withDefault("value", "default"); got != "value" {
		t.Errorf("withDefault(value, default) = %q, want value", got)
	}
	if got := withDefault("", "default"); got != "default" {
		t.Errorf("withDefault('', default) = %q, want default", got)
	}
}
