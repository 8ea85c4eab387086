package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/akirco/llmhub/errors"
)

type testConfig struct {
	Name    string `mapstructure:"name"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Timeout string `mapstructure:"timeout"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadConfigWithYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "llmhub.yml", "name: hub\nlogging:\n  level: debug\n  format: json\n")

	var cfg testConfig
	if err := LoadConfig("llmhub", &cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Name != "hub" || cfg.Logging.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "llmhub.yml", "logging:\n  level: info\n")
	t.Setenv("HUB_LOGGING_LEVEL", "warn")

	var cfg testConfig
	if err := LoadConfig("llmhub", &cfg, WithConfigFile(path), WithEnvPrefix("HUB")); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("absent", &cfg,
		WithFileSystem(&mockFS{}),
		WithDefault("timeout", "30s"),
		WithDefault("logging.format", "console"),
	)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Timeout != "30s" || cfg.Logging.Format != "console" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("llmhub", &cfg, WithConfigFile(filepath.Join(t.TempDir(), "nope.yml")))
	if errors.KindOf(err) != errors.ErrCodeInvalidConfig {
		t.Fatalf("error = %v, want INVALID_CONFIG", err)
	}
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "llmhub.yml", "name: from-file\n")
	envPath := writeFile(t, dir, ".env", "LLMHUB_TEST_ENVFILE_KEY=loaded\n")
	t.Cleanup(func() { os.Unsetenv("LLMHUB_TEST_ENVFILE_KEY") })

	var cfg testConfig
	if err := LoadConfig("llmhub", &cfg, WithConfigFile(cfgPath), WithEnvFile(envPath)); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got := os.Getenv("LLMHUB_TEST_ENVFILE_KEY"); got != "loaded" {
		t.Errorf("env var = %q, want loaded", got)
	}
}

type mockFS struct {
	files  map[string]bool
	loaded []string
}

func (m *mockFS) Exists(path string) bool { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error {
	m.loaded = append(m.loaded, path)
	return nil
}

func TestResolveWithMockFS(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		filepath.Join("..", "config", "llmhub.yml"): true,
		filepath.Join(".", ".env"):                  true,
	}}
	got := Resolve("llmhub", LoaderConfig{FileSystem: fs})
	if got.ConfigFile != filepath.Join("..", "config", "llmhub.yml") {
		t.Errorf("ConfigFile = %q", got.ConfigFile)
	}
	if got.EnvFile != filepath.Join(".", ".env") {
		t.Errorf("EnvFile = %q", got.EnvFile)
	}
}

func TestResolvePrefersExplicitPaths(t *testing.T) {
	got := Resolve("x", LoaderConfig{FileSystem: &mockFS{}, ConfigFile: "a.yml", EnvFile: "b.env"})
	if got.ConfigFile != "a.yml" || got.EnvFile != "b.env" {
		t.Errorf("Resolve() = %+v", got)
	}
}

func TestResolveServiceEnvFileFirst(t *testing.T) {
	fs := &mockFS{files: map[string]bool{
		filepath.Join(".", ".env.llmhub"): true,
		filepath.Join(".", ".env"):        true,
	}}
	if got := Resolve("llmhub", LoaderConfig{FileSystem: fs}); got.EnvFile != filepath.Join(".", ".env.llmhub") {
		t.Errorf("EnvFile = %q", got.EnvFile)
	}
}
