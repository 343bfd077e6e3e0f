package mizar

import (
	"fmt"
	"sort"
	"strings"
)

// fakeToolchain expands options as "k=v" pairs so tests can assert on
// grouping behavior without a real toolchain install.
type fakeToolchain struct {
	failAll bool
}

func (f fakeToolchain) Compiler() ToolDecl {
	return ToolDecl{Name: "cc", Path: "/tc/cc"}
}

func (f fakeToolchain) ResourceCompiler() ToolDecl {
	return ToolDecl{Name: "rc", Path: "/tc/rc"}
}

func (f fakeToolchain) OptionsFor(tool ToolKind, meta map[string]string, exclude []string) (string, error) {
	if f.failAll {
		return "", fmt.Errorf("toolchain unavailable")
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
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, string(tool))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, " "), nil
}

func (f fakeToolchain) PCHCreateOptions(header, pchFile string) string {
	return "create:" + header
}

func (f fakeToolchain) PCHUseOptions(header, pchFile string) string {
	return "use:" + header
}

// compileItems builds n plain compile items sharing one key.
func compileItems(n int) []CompileItem {
	items := make([]CompileItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, CompileItem{
			Source:    fmt.Sprintf("src/file%02d.cpp", i),
			Tool:      ToolCompile,
			PCH:       PCHNone,
			Options:   "/O2",
			OutputDir: "obj",
			OutputExt: ".obj",
		})
	}
	return items
}

// memLoader serves in-memory project definitions to the resolver.
type memProject struct {
	node *ProjectNode
	refs []Reference
}

func memLoader(projects map[string]memProject) projectLoader {
	return func(path, platform, config string) (*ProjectNode, []Reference, error) {
		p, ok := projects[path]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", errProjectNotFound, path)
		}
		// Fresh copy so tests can resolve the same fixture twice.
		n := *p.node
		n.Path = path
		n.Platform = platform
		n.Config = config
		n.Deps = nil
		n.Dependents = nil
		return &n, p.refs, nil
	}
}

func simpleNode(name string, typ BuildType) *ProjectNode {
	return &ProjectNode{
		Name:      name,
		Type:      typ,
		OutputDir: "bin",
		IntDir:    "obj",
		Items:     compileItems(2),
	}
}

func orderNames(res *Resolution) []string {
	out := make([]string, 0, len(res.Order))
	for _, i := range res.Order {
		out = append(out, res.Nodes[i].Name)
	}
	return out
}

func indexOf(names []string, want string) int {
	for i, n := range names {
		if n == want {
			return i
		}
	}
	return -1
}
