package mizar

import (
	"fmt"
	"sort"
	"strings"
)

// EncodeGraph renders a build graph into the executor's line grammar.
// Output is fully deterministic: same graph in, same bytes out, which is
// what makes the fingerprint gate's skip decision sound.
func EncodeGraph(g *BuildGraph) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "%s%s\n", fingerprintPrefix, g.Fingerprint)
	fmt.Fprintf(&b, ";; %s (%s/%s)\n\n", g.Project.Name, g.Project.Platform, g.Project.Config)

	b.WriteString("settings {\n")
	keys := make([]string, 0, len(g.Settings))
	for k := range g.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  env %s = %q\n", k, g.Settings[k])
	}
	b.WriteString("}\n\n")

	for _, tool := range g.Tools {
		fmt.Fprintf(&b, "compiler %s {\n", tool.Name)
		fmt.Fprintf(&b, "  path = %q\n", tool.Path)
		if len(tool.Extra) > 0 {
			fmt.Fprintf(&b, "  extra = %s\n", quoteList(tool.Extra))
		}
		b.WriteString("}\n\n")
	}

	preName := ""
	if g.Prebuild != "" {
		preName = g.Project.Name + "_pre"
		fmt.Fprintf(&b, "exec %s {\n  command = %q\n}\n\n", preName, g.Prebuild)
	}

	for _, grp := range g.Groups {
		inputName := quoteList(sourcesOf(grp))
		if grp.Unity {
			unityName := grp.Name + "_u"
			fmt.Fprintf(&b, "unity %s {\n", unityName)
			fmt.Fprintf(&b, "  inputs = %s\n", inputName)
			fmt.Fprintf(&b, "  units = %d\n", grp.UnityUnits)
			fmt.Fprintf(&b, "  outdir = %q\n", grp.OutputDir)
			b.WriteString("}\n\n")
			inputName = unityName
		}

		fmt.Fprintf(&b, "action %s {\n", grp.Name)
		fmt.Fprintf(&b, "  tool = %s\n", toolNameFor(grp.Tool))
		opts := grp.Options
		if grp.PCHOptions != "" {
			opts = strings.TrimSpace(opts + " " + grp.PCHOptions)
		}
		fmt.Fprintf(&b, "  options = %q\n", opts)
		fmt.Fprintf(&b, "  inputs = %s\n", inputName)
		fmt.Fprintf(&b, "  outdir = %q\n", grp.OutputDir)
		fmt.Fprintf(&b, "  outext = %q\n", grp.OutputExt)
		if preName != "" {
			fmt.Fprintf(&b, "  deps = %s\n", preName)
		}
		b.WriteString("}\n\n")
	}

	kind := "link"
	if g.Archive {
		kind = "archive"
	}
	fmt.Fprintf(&b, "%s %s {\n", kind, g.LinkName)
	if len(g.LinkInputs) > 0 {
		fmt.Fprintf(&b, "  inputs = %s\n", quoteList(g.LinkInputs))
	}
	if g.LinkOptions != "" {
		fmt.Fprintf(&b, "  options = %q\n", g.LinkOptions)
	}
	fmt.Fprintf(&b, "  out = %q\n", g.Project.OutputPath())
	if !g.Archive {
		fmt.Fprintf(&b, "  import = %q\n", g.Project.LinkExport())
	}
	b.WriteString("}\n\n")

	last := g.LinkName
	if g.Postbuild != "" {
		postName := g.Project.Name + "_post"
		fmt.Fprintf(&b, "exec %s {\n  command = %q\n  deps = %s\n}\n\n", postName, g.Postbuild, g.LinkName)
		last = postName
	}

	fmt.Fprintf(&b, "alias %s = %s\n", g.Alias, last)
	return []byte(b.String())
}

// EmitGraph encodes and writes one graph file atomically.
func EmitGraph(g *BuildGraph, path string) error {
	return writeFileAtomic(path, EncodeGraph(g), 0o644)
}

func sourcesOf(grp ActionGroup) []string {
	out := make([]string, 0, len(grp.Items))
	for _, it := range grp.Items {
		out = append(out, it.Source)
	}
	return out
}

func toolNameFor(kind ToolKind) string {
	if kind == ToolResource {
		return "rc"
	}
	return "cc"
}

func quoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, s := range items {
		quoted = append(quoted, fmt.Sprintf("%q", s))
	}
	return strings.Join(quoted, " ")
}
