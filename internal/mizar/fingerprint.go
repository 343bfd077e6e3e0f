package mizar

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

const fingerprintPrefix = ";; fingerprint "

// computeFingerprint derives the regeneration key for one project flavor:
// the project file's bytes plus platform, configuration and the project
// path itself. Moving or copying a project file changes its fingerprint.
func computeFingerprint(projectPath, platform, config string) (string, error) {
	data, err := os.ReadFile(projectPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", projectPath, err)
	}
	h := blake3.New(32, nil)
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(platform))
	h.Write([]byte{0})
	h.Write([]byte(config))
	h.Write([]byte{0})
	h.Write([]byte(projectPath))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// storedFingerprint reads the fingerprint line of a previously emitted
// graph file. Missing file, unreadable file or malformed first line all
// return "", which never matches a computed fingerprint.
func storedFingerprint(graphPath string) string {
	f, err := os.Open(graphPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return ""
	}
	line := scanner.Text()
	if !strings.HasPrefix(line, fingerprintPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(line, fingerprintPrefix))
}

// shouldRegenerate is the fingerprint gate: skip regeneration only when a
// previous graph exists and its stored fingerprint matches the freshly
// computed one. Any failure to compute falls open into regeneration.
// Returns the fresh fingerprint alongside the decision so emission does
// not hash twice.
func shouldRegenerate(projectPath, platform, config, graphPath string, force bool) (bool, string) {
	fp, err := computeFingerprint(projectPath, platform, config)
	if err != nil {
		debugf("fingerprint of %s failed (%v), regenerating\n", projectPath, err)
		return true, ""
	}
	if force {
		return true, fp
	}
	if stored := storedFingerprint(graphPath); stored != "" && stored == fp {
		return false, fp
	}
	return true, fp
}
