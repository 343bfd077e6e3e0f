package mizar

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Extra tool kinds used only when expanding link-step options.
const (
	ToolLink    ToolKind = "link"
	ToolArchive ToolKind = "archive"
)

// Toolchain turns option metadata into concrete command-line text. The
// returned strings are opaque to everything downstream: two items belong
// to the same action group exactly when their expanded options compare
// equal, whatever the toolchain chose to emit.
type Toolchain interface {
	Compiler() ToolDecl
	ResourceCompiler() ToolDecl
	OptionsFor(tool ToolKind, meta map[string]string, exclude []string) (string, error)
	PCHCreateOptions(header, pchFile string) string
	PCHUseOptions(header, pchFile string) string
}

// clToolchain maps the fixed metadata vocabulary to cl/rc/link/lib
// style flags rooted at an installation directory.
type clToolchain struct {
	root     string
	platform string
}

// NewCLToolchain builds the default toolchain adapter from the config.
func NewCLToolchain(cfg *Config) Toolchain {
	return &clToolchain{root: cfg.ToolchainRoot, platform: cfg.Platform}
}

func (t *clToolchain) binDir() string {
	return filepath.Join(t.root, "bin", t.platform)
}

func (t *clToolchain) Compiler() ToolDecl {
	bin := t.binDir()
	return ToolDecl{
		Name: "cc",
		Path: filepath.Join(bin, "cl.exe"),
		Extra: []string{
			filepath.Join(bin, "c1.dll"),
			filepath.Join(bin, "c1xx.dll"),
			filepath.Join(bin, "c2.dll"),
			filepath.Join(bin, "mspdbcore.dll"),
		},
	}
}

func (t *clToolchain) ResourceCompiler() ToolDecl {
	return ToolDecl{
		Name: "rc",
		Path: filepath.Join(t.binDir(), "rc.exe"),
	}
}

// OptionsFor expands option metadata deterministically: keys are walked
// in sorted order, so equal maps always produce byte-equal strings.
// An unset toolchain root is a property evaluation error; the caller
// skips the affected project and carries on.
func (t *clToolchain) OptionsFor(tool ToolKind, meta map[string]string, exclude []string) (string, error) {
	if t.root == "" {
		return "", fmt.Errorf("toolchain root is not configured (set MIZAR_TOOLCHAIN)")
	}

	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		v := meta[k]
		switch tool {
		case ToolCompile:
			parts = append(parts, t.compileOption(k, v)...)
		case ToolResource:
			parts = append(parts, t.resourceOption(k, v)...)
		case ToolLink, ToolArchive:
			parts = append(parts, t.linkOption(k, v)...)
		default:
			return "", fmt.Errorf("unknown tool kind %q", tool)
		}
	}
	return strings.Join(parts, " "), nil
}

func (t *clToolchain) compileOption(key, val string) []string {
	switch key {
	case "includes":
		return prefixedList("/I", val)
	case "defines":
		return prefixedList("/D", val)
	case "optimization":
		switch val {
		case "0":
			return []string{"/Od"}
		case "1":
			return []string{"/O1"}
		case "full":
			return []string{"/Ox"}
		default:
			return []string{"/O2"}
		}
	case "warnings":
		return []string{"/W" + val}
	case "warnings_as_errors":
		if val == "1" {
			return []string{"/WX"}
		}
	case "runtime":
		if val == "static" {
			return []string{"/MT"}
		}
		return []string{"/MD"}
	case "debug_info":
		if val == "1" {
			return []string{"/Zi"}
		}
	case "exceptions":
		if val == "0" {
			return nil
		}
		return []string{"/EHsc"}
	case "rtti":
		if val == "0" {
			return []string{"/GR-"}
		}
	case "std":
		return []string{"/std:" + val}
	case "extra":
		return strings.Fields(val)
	default:
		debugf("ignoring unknown compile option %q\n", key)
	}
	return nil
}

func (t *clToolchain) resourceOption(key, val string) []string {
	switch key {
	case "includes":
		return prefixedList("/i", val)
	case "defines":
		return prefixedList("/d", val)
	case "extra":
		return strings.Fields(val)
	}
	// Compile-only metadata is meaningless to rc; drop it silently so a
	// project can share one options map across both tools.
	return nil
}

func (t *clToolchain) linkOption(key, val string) []string {
	switch key {
	case "subsystem":
		return []string{"/SUBSYSTEM:" + strings.ToUpper(val)}
	case "machine":
		return []string{"/MACHINE:" + strings.ToUpper(val)}
	case "libpaths":
		return prefixedList("/LIBPATH:", val)
	case "debug_info":
		if val == "1" {
			return []string{"/DEBUG"}
		}
	case "incremental":
		if val == "0" {
			return []string{"/INCREMENTAL:NO"}
		}
	case "extra":
		return strings.Fields(val)
	default:
		debugf("ignoring unknown link option %q\n", key)
	}
	return nil
}

func (t *clToolchain) PCHCreateOptions(header, pchFile string) string {
	return fmt.Sprintf("/Yc%q /Fp%q", header, pchFile)
}

func (t *clToolchain) PCHUseOptions(header, pchFile string) string {
	return fmt.Sprintf("/Yu%q /Fp%q", header, pchFile)
}

// prefixedList expands a ";"-separated value into one flag per element.
func prefixedList(prefix, val string) []string {
	var out []string
	for _, part := range strings.Split(val, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, prefix+quoteIfNeeded(part))
	}
	return out
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}
