package mizar

import (
	"strings"
	"testing"
)

func testToolchain() Toolchain {
	return NewCLToolchain(&Config{ToolchainRoot: "/opt/tc", Platform: "x64"})
}

func TestOptionsForDeterministic(t *testing.T) {
	tc := testToolchain()
	meta := map[string]string{
		"optimization": "2",
		"includes":     "include;vendor",
		"defines":      "NDEBUG",
		"warnings":     "4",
	}

	first, err := tc.OptionsFor(ToolCompile, meta, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := tc.OptionsFor(ToolCompile, meta, nil)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("expansion must be deterministic: %q vs %q", first, again)
		}
	}

	for _, want := range []string{"/O2", "/Iinclude", "/Ivendor", "/DNDEBUG", "/W4"} {
		if !strings.Contains(first, want) {
			t.Errorf("missing %q in %q", want, first)
		}
	}
}

func TestOptionsForExclude(t *testing.T) {
	tc := testToolchain()
	meta := map[string]string{"optimization": "2", "defines": "FOO"}

	got, err := tc.OptionsFor(ToolCompile, meta, []string{"defines"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "/DFOO") {
		t.Errorf("excluded key must not expand: %q", got)
	}
	if !strings.Contains(got, "/O2") {
		t.Errorf("remaining keys must still expand: %q", got)
	}
}

func TestOptionsForResourceDropsCompileKeys(t *testing.T) {
	tc := testToolchain()
	meta := map[string]string{
		"includes":     "include",
		"defines":      "RC_BUILD",
		"optimization": "2",
	}
	got, err := tc.OptionsFor(ToolResource, meta, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "/iinclude") || !strings.Contains(got, "/dRC_BUILD") {
		t.Errorf("resource flags missing: %q", got)
	}
	if strings.Contains(got, "/O2") {
		t.Errorf("optimization means nothing to rc: %q", got)
	}
}

func TestOptionsForLink(t *testing.T) {
	tc := testToolchain()
	got, err := tc.OptionsFor(ToolLink, map[string]string{
		"subsystem": "console",
		"machine":   "x64",
		"libpaths":  "libs",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"/SUBSYSTEM:CONSOLE", "/MACHINE:X64", "/LIBPATH:libs"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestOptionsForRequiresRoot(t *testing.T) {
	tc := NewCLToolchain(&Config{Platform: "x64"})
	if _, err := tc.OptionsFor(ToolCompile, map[string]string{"optimization": "2"}, nil); err == nil {
		t.Fatal("missing toolchain root is a property evaluation error")
	}
}

func TestQuoting(t *testing.T) {
	tc := testToolchain()
	got, err := tc.OptionsFor(ToolCompile, map[string]string{"includes": "program files/sdk"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `/I"program files/sdk"`) {
		t.Errorf("paths with spaces must be quoted: %q", got)
	}
}
