package mizar

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// WriteLauncher emits the per-project launcher script next to the graph
// file. The script establishes the toolchain environment, drops a stamp
// file for downstream incremental tooling and hands the graph to the
// external executor, forwarding any passthrough arguments. Exit code 0
// means the executor built the graph successfully.
func WriteLauncher(cfg *Config, node *ProjectNode, graphPath, fingerprint string) (string, error) {
	path := cfg.launcherPath(node.Name, node.Platform, node.Config)
	stamp := strings.TrimSuffix(graphPath, ".graph") + ".stamp"

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "# launcher for %s (%s/%s), generated by mizar %s\n", node.Name, node.Platform, node.Config, version)
	b.WriteString("set -e\n")

	keys := make([]string, 0, len(node.Env))
	for k := range node.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(node.Env[k]))
	}

	fmt.Fprintf(&b, "printf '%%s %%s\\n' %s \"$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ)\" > %s\n",
		shellQuote(fingerprint), shellQuote(stamp))
	fmt.Fprintf(&b, "exec %s %s \"$@\"\n", shellQuote(cfg.ExecutorPath), shellQuote(graphPath))

	if err := writeFileAtomic(path, []byte(b.String()), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func launcherExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
