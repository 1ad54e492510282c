package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"

	"github.com/NamanBalaji/nativedl/internal/config"
)

// mockXDG points the config home at a temp dir and runs the test from an
// empty working directory so no stray .env is picked up.
func mockXDG(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	oldConfigHome := xdg.ConfigHome
	xdg.ConfigHome = tmpDir
	t.Cleanup(func() {
		xdg.ConfigHome = oldConfigHome
	})

	t.Chdir(t.TempDir())

	return tmpDir
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "nativedl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.MaxConcurrentTasks != 3 {
		t.Errorf("expected MaxConcurrentTasks 3, got %d", cfg.MaxConcurrentTasks)
	}
	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("expected RetryDelay 2s, got %v", cfg.RetryDelay)
	}
	if cfg.ThrottleSpeed != 0 {
		t.Errorf("expected no throttle by default, got %d", cfg.ThrottleSpeed)
	}
	if cfg.Identifier != "nativedl" {
		t.Errorf("expected identifier nativedl, got %q", cfg.Identifier)
	}
	if cfg.RootDir == "" || cfg.DataDir == "" {
		t.Error("expected default directories to be set")
	}
}

func TestPaths(t *testing.T) {
	cfg := config.Config{DataDir: "/var/lib/nativedl", Identifier: "bg"}

	if got := cfg.DBPath(); got != filepath.Join("/var/lib/nativedl", "bg.db") {
		t.Errorf("unexpected db path %q", got)
	}
	if got := cfg.LogPath(); got != filepath.Join("/var/lib/nativedl", "bg.log") {
		t.Errorf("unexpected log path %q", got)
	}
}

func TestGetConfig_Integration(t *testing.T) {
	t.Run("No Config File Returns Defaults", func(t *testing.T) {
		mockXDG(t)

		cfg, err := config.GetConfig(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxConcurrentTasks != 3 {
			t.Errorf("expected defaults when file missing, got %d", cfg.MaxConcurrentTasks)
		}
	})

	t.Run("Empty Config File Returns Defaults", func(t *testing.T) {
		writeConfig(t, mockXDG(t), "")

		cfg, err := config.GetConfig(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MaxConcurrentTasks != 3 {
			t.Errorf("expected defaults when file empty")
		}
	})

	t.Run("Valid Config File Overrides Defaults", func(t *testing.T) {
		writeConfig(t, mockXDG(t), `
maxConcurrentTasks: 10
maxRetries: 5
retryDelay: 250ms
throttleSpeed: 1048576
identifier: background
`)

		cfg, err := config.GetConfig(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.MaxConcurrentTasks != 10 {
			t.Errorf("expected MaxConcurrentTasks 10, got %d", cfg.MaxConcurrentTasks)
		}
		if cfg.MaxRetries != 5 {
			t.Errorf("expected MaxRetries 5, got %d", cfg.MaxRetries)
		}
		if cfg.RetryDelay != 250*time.Millisecond {
			t.Errorf("expected RetryDelay 250ms, got %v", cfg.RetryDelay)
		}
		if cfg.ThrottleSpeed != 1<<20 {
			t.Errorf("expected ThrottleSpeed 1MiB, got %d", cfg.ThrottleSpeed)
		}
		if cfg.Identifier != "background" {
			t.Errorf("expected identifier background, got %q", cfg.Identifier)
		}
		if cfg.ProgressInterval != 500*time.Millisecond {
			t.Errorf("expected ProgressInterval to remain default, got %v", cfg.ProgressInterval)
		}
	})

	t.Run("Invalid YAML Content", func(t *testing.T) {
		// Illegal YAML (tab character)
		writeConfig(t, mockXDG(t), "identifier:\n\tname: x")

		if _, err := config.GetConfig(nil); err == nil {
			t.Error("expected YAML unmarshal error, got nil")
		}
	})
}

func TestConfig_AutoCorrection(t *testing.T) {
	tests := []struct {
		name        string
		yamlContent string
	}{
		{
			name:        "MaxConcurrentTasks 0 becomes Default",
			yamlContent: "maxConcurrentTasks: 0",
		},
		{
			name:        "RootDir Empty becomes Default",
			yamlContent: "rootDir: \"\"",
		},
		{
			name:        "Identifier Empty becomes Default",
			yamlContent: "identifier: \"\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, mockXDG(t), tt.yamlContent)

			cfg, err := config.GetConfig(nil)
			if err != nil {
				t.Fatalf("expected success (auto-corrected to default), got error: %v", err)
			}
			if cfg.MaxConcurrentTasks == 0 || cfg.RootDir == "" || cfg.Identifier == "" {
				t.Errorf("expected zero values to be corrected, got %+v", cfg)
			}
		})
	}
}

func TestConfig_Validation_Errors(t *testing.T) {
	tests := []struct {
		name        string
		flags       []string
		env         map[string]string
		yamlContent string
	}{
		{
			name:  "Flag Force MaxConcurrentTasks 0",
			flags: []string{"-mct", "0"},
		},
		{
			name:        "YAML Negative MaxRetries (Passed through by zeroOr)",
			yamlContent: "maxRetries: -1",
		},
		{
			name:  "Flag Force RootDir Empty",
			flags: []string{"-root", ""},
		},
		{
			name:  "Flag Negative Throttle",
			flags: []string{"-throttle", "-1"},
		},
		{
			name:  "Unknown Flag",
			flags: []string{"-nope"},
		},
		{
			name: "Malformed Env Value",
			env:  map[string]string{"NATIVEDL_MAX_RETRIES": "many"},
		},
		{
			name: "Malformed Env Duration",
			env:  map[string]string{"NATIVEDL_PROGRESS_INTERVAL": "soon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := mockXDG(t)
			if tt.yamlContent != "" {
				writeConfig(t, tmpDir, tt.yamlContent)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.GetConfig(tt.flags)
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("expected %v, got %v", config.ErrInvalidConfig, err)
			}
		})
	}
}

func TestGetConfig_EnvOverridesFile(t *testing.T) {
	writeConfig(t, mockXDG(t), "maxConcurrentTasks: 5\nmaxRetries: 4")

	t.Setenv("NATIVEDL_MAX_CONCURRENT_TASKS", "7")
	t.Setenv("NATIVEDL_DEBUG", "true")
	t.Setenv("NATIVEDL_PROGRESS_INTERVAL", "1s")

	cfg, err := config.GetConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxConcurrentTasks != 7 {
		t.Errorf("expected env value 7, got %d", cfg.MaxConcurrentTasks)
	}
	if cfg.MaxRetries != 4 {
		t.Errorf("expected file value 4 to persist, got %d", cfg.MaxRetries)
	}
	if !cfg.Debug {
		t.Error("expected debug from env")
	}
	if cfg.ProgressInterval != time.Second {
		t.Errorf("expected ProgressInterval 1s, got %v", cfg.ProgressInterval)
	}
}

func TestGetConfig_DotEnv(t *testing.T) {
	mockXDG(t)

	// godotenv sets variables in the process environment; register them
	// with t.Setenv first so they are restored after the test.
	t.Setenv("NATIVEDL_IDENTIFIER", "")
	os.Unsetenv("NATIVEDL_IDENTIFIER")

	if err := os.WriteFile(".env", []byte("NATIVEDL_IDENTIFIER=fromdotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.GetConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Identifier != "fromdotenv" {
		t.Errorf("expected identifier from .env, got %q", cfg.Identifier)
	}
}

func TestGetConfig_Flags_OverrideEnvAndFile(t *testing.T) {
	writeConfig(t, mockXDG(t), "maxConcurrentTasks: 5")
	t.Setenv("NATIVEDL_MAX_CONCURRENT_TASKS", "6")

	cfg, err := config.GetConfig([]string{
		"-mct", "50",
		"-rd", "1s",
		"-urls", "http://example.com/a http://example.com/b",
		"http://example.com/c",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxConcurrentTasks != 50 {
		t.Errorf("flag value should win. Expected 50, got %d", cfg.MaxConcurrentTasks)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("expected RetryDelay 1s, got %v", cfg.RetryDelay)
	}

	want := []string{"http://example.com/a", "http://example.com/b", "http://example.com/c"}
	if len(cfg.URLs) != len(want) {
		t.Fatalf("expected URLs %v, got %v", want, cfg.URLs)
	}
	for i := range want {
		if cfg.URLs[i] != want[i] {
			t.Errorf("expected URLs %v, got %v", want, cfg.URLs)
		}
	}
}
