package mizar

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigParsesKeyValues(t *testing.T) {
	dir := t.TempDir()
	content := `
# build tool settings
MIZAR_GRAPH_DIR = /var/cache/mizar/graphs
MIZAR_EXECUTOR  = "/usr/local/bin/graphexec"
MIZAR_PLATFORM  = 'arm64'

not-a-key-value-line
`
	path := filepath.Join(dir, "mizar.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Values["MIZAR_GRAPH_DIR"] != "/var/cache/mizar/graphs" {
		t.Errorf("plain value: %q", cfg.Values["MIZAR_GRAPH_DIR"])
	}
	if cfg.Values["MIZAR_EXECUTOR"] != "/usr/local/bin/graphexec" {
		t.Errorf("double quotes must be stripped: %q", cfg.Values["MIZAR_EXECUTOR"])
	}
	if cfg.Values["MIZAR_PLATFORM"] != "arm64" {
		t.Errorf("single quotes must be stripped: %q", cfg.Values["MIZAR_PLATFORM"])
	}
	if cfg.Values["TMPDIR"] == "" {
		t.Error("TMPDIR must default")
	}
}

func TestEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mizar.conf")
	if err := os.WriteFile(path, []byte("MIZAR_PLATFORM=x64\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MIZAR_PLATFORM", "x86")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	initConfig(cfg)
	if cfg.Platform != "x86" {
		t.Errorf("environment must override the file, got %q", cfg.Platform)
	}
}

func TestInitConfigDefaults(t *testing.T) {
	cfg := &Config{Values: map[string]string{}}
	initConfig(cfg)

	if cfg.GraphDir == "" || cfg.LogDir == "" || cfg.ExecutorPath == "" {
		t.Errorf("paths must default: %+v", cfg)
	}
	if cfg.Platform != "x64" || cfg.BuildConfig != "Release" {
		t.Errorf("flavor must default: %q/%q", cfg.Platform, cfg.BuildConfig)
	}
}

func TestGraphPathScopesByFlavor(t *testing.T) {
	cfg := &Config{Values: map[string]string{}, GraphDir: "/g"}
	a := cfg.graphPath("app", "x64", "Release")
	b := cfg.graphPath("app", "x64", "Debug")
	if a == b {
		t.Error("different configurations must not share a graph path")
	}
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("a missing config file is not an error: %v", err)
	}
	if cfg.Values["TMPDIR"] == "" {
		t.Error("defaults still apply")
	}
}
