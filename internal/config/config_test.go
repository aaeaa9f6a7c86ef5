package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func loadClean(t *testing.T, configPath string, args ...string) (Specification, error) {
	t.Helper()
	oldArgs := os.Args
	os.Args = append([]string{"talkrepo-test"}, args...)
	t.Cleanup(func() { os.Args = oldArgs })

	fs := pflag.NewFlagSet("talkrepo-test", pflag.ContinueOnError)
	return Load(configPath, fs)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadClean(t, "")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Provider != "gemini" {
		t.Errorf("provider = %q, want gemini", cfg.Provider)
	}
	if cfg.MaxChunkChars != 1000 {
		t.Errorf("max chunk chars = %d, want 1000", cfg.MaxChunkChars)
	}
	if cfg.FragmentBudget != 500 {
		t.Errorf("fragment budget = %d, want 500", cfg.FragmentBudget)
	}
	if cfg.MaxFileBytes != 1<<20 {
		t.Errorf("max file bytes = %d, want 1 MiB", cfg.MaxFileBytes)
	}
	if cfg.FetchTimeoutSecs != 60 {
		t.Errorf("fetch timeout = %d, want 60", cfg.FetchTimeoutSecs)
	}
	if cfg.TopK != 5 {
		t.Errorf("top-k = %d, want 5", cfg.TopK)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Port)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TTYR_PROVIDER", "stub")
	t.Setenv("TTYR_FRAGMENT_BUDGET", "42")
	t.Setenv("TTYR_PROVIDER_EMBEDDING_MODEL", "text-embedding-004")

	cfg, err := loadClean(t, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "stub" {
		t.Errorf("provider = %q, want stub", cfg.Provider)
	}
	if cfg.FragmentBudget != 42 {
		t.Errorf("fragment budget = %d, want 42", cfg.FragmentBudget)
	}
	if cfg.EmbedModel != "text-embedding-004" {
		t.Errorf("embed model = %q", cfg.EmbedModel)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "talkrepo.yaml")
	yaml := "provider: stub\nmaxChunkChars: 250\ntopK: 3\nport: 9100\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadClean(t, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "stub" {
		t.Errorf("provider = %q, want stub", cfg.Provider)
	}
	if cfg.MaxChunkChars != 250 {
		t.Errorf("max chunk chars = %d, want 250", cfg.MaxChunkChars)
	}
	if cfg.TopK != 3 {
		t.Errorf("top-k = %d, want 3", cfg.TopK)
	}
	if cfg.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Port)
	}
	// untouched options keep their defaults
	if cfg.FragmentBudget != 500 {
		t.Errorf("fragment budget = %d, want 500", cfg.FragmentBudget)
	}
}

func TestLoadFlagsWinOverEnv(t *testing.T) {
	t.Setenv("TTYR_PORT", "9000")

	cfg, err := loadClean(t, "", "--port", "7777")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7777 {
		t.Errorf("port = %d, want flag value 7777", cfg.Port)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := loadClean(t, "/does/not/exist.yaml"); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	t.Setenv("TTYR_MAX_CHUNK_CHARS", "0")
	if _, err := loadClean(t, ""); err == nil {
		t.Error("expected an error for a zero chunk size")
	}
}
