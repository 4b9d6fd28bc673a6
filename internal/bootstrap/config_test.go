package bootstrap

import (
	"log/slog"
	"testing"
	"time"

	"github.com/postpilot/postpilot-go/config"
)

func TestLogLevelFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"  WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.value, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.value)
			if got := logLevelFromEnv(); got != tt.want {
				t.Errorf("logLevelFromEnv() with LOG_LEVEL=%q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.AppConfig
		expectOK bool
	}{
		{
			name:     "nil config",
			cfg:      nil,
			expectOK: false,
		},
		{
			name:     "valid services",
			cfg:      &config.AppConfig{Services: "api,executor"},
			expectOK: true,
		},
		{
			name:     "unknown service name",
			cfg:      &config.AppConfig{Services: "api,frontend"},
			expectOK: false,
		},
		{
			name:     "empty services",
			cfg:      &config.AppConfig{Services: ""},
			expectOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceConfig(tt.cfg)
			if tt.expectOK && err != nil {
				t.Fatalf("ValidateServiceConfig returned error: %v", err)
			}
			if !tt.expectOK && err == nil {
				t.Fatal("ValidateServiceConfig succeeded, want error")
			}
		})
	}
}

func TestGetEnabledServices(t *testing.T) {
	if got := GetEnabledServices(nil); len(got) != 0 {
		t.Fatalf("GetEnabledServices(nil) = %v, want empty", got)
	}

	if got := GetEnabledServices(&config.AppConfig{Services: "bogus"}); len(got) != 0 {
		t.Fatalf("GetEnabledServices(invalid) = %v, want empty", got)
	}

	got := GetEnabledServices(&config.AppConfig{Services: "executor,api"})
	if len(got) != 2 {
		t.Fatalf("GetEnabledServices(api+executor) = %v, want 2 names", got)
	}
	seen := map[string]bool{}
	for _, name := range got {
		seen[name] = true
	}
	if !seen["api"] || !seen["executor"] {
		t.Fatalf("GetEnabledServices(api+executor) = %v, want api and executor", got)
	}
}

func TestLoadConfigAppliesSanitize(t *testing.T) {
	t.Setenv("SERVICES", "api")
	t.Setenv("EXECUTOR_CHECK_INTERVAL", "500ms")
	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("STORAGE_FILE_DIR", "  ./jobs  ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Services != "api" {
		t.Errorf("Services = %q, want %q", cfg.Services, "api")
	}
	if cfg.Executor.CheckInterval != time.Second {
		t.Errorf("CheckInterval = %v, want sanitize to clamp 500ms to 1s", cfg.Executor.CheckInterval)
	}
	if cfg.Storage.Backend != config.StorageBackendFile {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Storage.FileDir != "./jobs" {
		t.Errorf("Storage.FileDir = %q, want trimmed ./jobs", cfg.Storage.FileDir)
	}
}
