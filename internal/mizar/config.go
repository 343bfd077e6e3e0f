package mizar

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Config carries every resolved path and setting. Commands receive it
// explicitly; nothing here leaks into package globals besides Debug.
type Config struct {
	Values map[string]string

	GraphDir      string // where .graph files and launcher scripts land
	LogDir        string // per-run build logs
	ExecutorPath  string // external graph executor binary
	ToolchainRoot string // toolchain installation root
	Platform      string // default platform
	BuildConfig   string // default configuration
	TmpDir        string

	CacheBucket   string // S3-compatible artifact cache
	CacheEndpoint string
	CacheRegion   string
}

// Load /etc/mizar.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge MIZAR_* env overrides
	mergeEnvOverrides(cfg)

	// Ensure TMPDIR has a default
	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	return cfg, nil
}

// Merge MIZAR_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "MIZAR_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	cfg.GraphDir = cfg.Values["MIZAR_GRAPH_DIR"]
	if cfg.GraphDir == "" {
		cfg.GraphDir = ".mizar/graphs"
	}

	cfg.LogDir = cfg.Values["MIZAR_LOG_DIR"]
	if cfg.LogDir == "" {
		cfg.LogDir = ".mizar/logs"
	}

	cfg.ExecutorPath = cfg.Values["MIZAR_EXECUTOR"]
	if cfg.ExecutorPath == "" {
		cfg.ExecutorPath = "graphexec"
	}

	cfg.ToolchainRoot = cfg.Values["MIZAR_TOOLCHAIN"]

	cfg.Platform = cfg.Values["MIZAR_PLATFORM"]
	if cfg.Platform == "" {
		cfg.Platform = "x64"
	}

	cfg.BuildConfig = cfg.Values["MIZAR_CONFIG"]
	if cfg.BuildConfig == "" {
		cfg.BuildConfig = "Release"
	}

	cfg.TmpDir = cfg.Values["TMPDIR"]
	if cfg.TmpDir == "" {
		cfg.TmpDir = "/tmp"
	}

	cfg.CacheBucket = cfg.Values["MIZAR_CACHE_BUCKET"]
	cfg.CacheEndpoint = cfg.Values["MIZAR_CACHE_ENDPOINT"]
	cfg.CacheRegion = cfg.Values["MIZAR_CACHE_REGION"]
	if cfg.CacheRegion == "" {
		cfg.CacheRegion = "auto"
	}

	Debug = cfg.Values["MIZAR_DEBUG"] == "1"
}

// graphPath returns where the graph file for a project lands, scoped by
// platform and configuration so parallel flavors never collide.
func (cfg *Config) graphPath(name, platform, config string) string {
	return filepath.Join(cfg.GraphDir, platform+"-"+config, name+".graph")
}

// launcherPath returns the launcher script path next to the graph file.
func (cfg *Config) launcherPath(name, platform, config string) string {
	return filepath.Join(cfg.GraphDir, platform+"-"+config, name+".launch.sh")
}
