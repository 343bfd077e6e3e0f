package mizar

import (
	"errors"
	"strings"
	"testing"
)

func solutionOf(names ...string) *Solution {
	sol := &Solution{Path: "/s/all.hcl", Name: "all", Members: make(map[string]string)}
	for _, n := range names {
		sol.Members[n] = "/s/" + n + ".hcl"
		sol.Order = append(sol.Order, n)
	}
	return sol
}

func TestResolveSolutionOrdersDependenciesFirst(t *testing.T) {
	projects := map[string]memProject{
		"/s/app.hcl": {
			node: simpleNode("app", Application),
			refs: []Reference{
				{Name: "core", Path: "/s/core.hcl", LinkOutput: true},
				{Name: "ui", Path: "/s/ui.hcl", LinkOutput: true},
			},
		},
		"/s/ui.hcl": {
			node: simpleNode("ui", StaticLib),
			refs: []Reference{{Name: "core", Path: "/s/core.hcl", LinkOutput: true}},
		},
		"/s/core.hcl": {node: simpleNode("core", StaticLib)},
	}

	res, err := ResolveSolution(solutionOf("app", "ui", "core"), nil, "x64", "Release", memLoader(projects))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	names := orderNames(res)
	if len(names) != 3 {
		t.Fatalf("expected 3 projects in order, got %v", names)
	}
	if indexOf(names, "core") > indexOf(names, "ui") {
		t.Errorf("core must come before ui: %v", names)
	}
	if indexOf(names, "ui") > indexOf(names, "app") {
		t.Errorf("ui must come before app: %v", names)
	}
}

func TestResolveSolutionSubsetClosure(t *testing.T) {
	projects := map[string]memProject{
		"/s/app.hcl": {
			node: simpleNode("app", Application),
			refs: []Reference{{Name: "core", Path: "/s/core.hcl", LinkOutput: true}},
		},
		"/s/tool.hcl": {node: simpleNode("tool", Application)},
		"/s/core.hcl": {node: simpleNode("core", StaticLib)},
	}

	res, err := ResolveSolution(solutionOf("app", "tool", "core"), []string{"app"}, "x64", "Release", memLoader(projects))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	names := orderNames(res)
	if indexOf(names, "tool") != -1 {
		t.Errorf("tool was not requested and nothing depends on it: %v", names)
	}
	if indexOf(names, "core") == -1 || indexOf(names, "app") == -1 {
		t.Errorf("subset closure must include app and its dependency core: %v", names)
	}
}

func TestResolveSolutionCycleIsFatal(t *testing.T) {
	projects := map[string]memProject{
		"/s/a.hcl": {
			node: simpleNode("a", StaticLib),
			refs: []Reference{{Name: "b", Path: "/s/b.hcl", LinkOutput: true}},
		},
		"/s/b.hcl": {
			node: simpleNode("b", StaticLib),
			refs: []Reference{{Name: "a", Path: "/s/a.hcl", LinkOutput: true}},
		},
	}

	_, err := ResolveSolution(solutionOf("a", "b"), nil, "x64", "Release", memLoader(projects))
	if !errors.Is(err, errCircularDeps) {
		t.Fatalf("expected circular dependency error, got %v", err)
	}
	if errors.Is(err, errProjectNotFound) {
		t.Fatal("cycle must not be reported as a missing project")
	}
}

func TestResolveSolutionExcludesBrokenSubgraph(t *testing.T) {
	projects := map[string]memProject{
		"/s/app.hcl": {
			node: simpleNode("app", Application),
			refs: []Reference{{Name: "gone", Path: "/s/gone.hcl", LinkOutput: true}},
		},
		"/s/tool.hcl": {node: simpleNode("tool", Application)},
	}

	res, err := ResolveSolution(solutionOf("app", "tool"), nil, "x64", "Release", memLoader(projects))
	if err != nil {
		t.Fatalf("a broken member must not abort resolution: %v", err)
	}

	names := orderNames(res)
	if indexOf(names, "app") != -1 {
		t.Errorf("app references a missing project and must be excluded: %v", names)
	}
	if indexOf(names, "tool") == -1 {
		t.Errorf("tool is unaffected and must survive: %v", names)
	}
	if reason, ok := res.Skipped["app"]; !ok || !strings.Contains(reason, "gone") {
		t.Errorf("skip reason for app should name the broken reference, got %q", reason)
	}
}

func TestResolveProjectSkipsNonLinkReferences(t *testing.T) {
	projects := map[string]memProject{
		"/s/app.hcl": {
			node: simpleNode("app", Application),
			refs: []Reference{
				{Name: "core", Path: "/s/core.hcl", LinkOutput: true},
				{Name: "docs", Path: "/s/docs.hcl", LinkOutput: false},
			},
		},
		"/s/core.hcl": {node: simpleNode("core", StaticLib)},
		// docs.hcl intentionally absent; it must never be loaded.
	}

	res, err := ResolveProject("/s/app.hcl", "x64", "Release", memLoader(projects))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	names := orderNames(res)
	if indexOf(names, "core") > indexOf(names, "app") || indexOf(names, "core") == -1 {
		t.Errorf("unexpected order %v", names)
	}
	if len(names) != 2 {
		t.Errorf("non-link reference must not be descended into: %v", names)
	}
}

func TestResolveProjectMergesDiamond(t *testing.T) {
	projects := map[string]memProject{
		"/s/app.hcl": {
			node: simpleNode("app", Application),
			refs: []Reference{
				{Name: "left", Path: "/s/left.hcl", LinkOutput: true},
				{Name: "right", Path: "/s/right.hcl", LinkOutput: true},
			},
		},
		"/s/left.hcl": {
			node: simpleNode("left", StaticLib),
			refs: []Reference{{Name: "base", Path: "/s/base.hcl", LinkOutput: true}},
		},
		"/s/right.hcl": {
			node: simpleNode("right", StaticLib),
			refs: []Reference{{Name: "base", Path: "/s/base.hcl", LinkOutput: true}},
		},
		"/s/base.hcl": {node: simpleNode("base", StaticLib)},
	}

	res, err := ResolveProject("/s/app.hcl", "x64", "Release", memLoader(projects))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Nodes) != 4 {
		t.Fatalf("base must be a single node, got %d nodes", len(res.Nodes))
	}
	base := res.ByName("base")
	if base == nil || len(base.Dependents) != 2 {
		t.Fatalf("base should keep the union of its dependents, got %+v", base)
	}
	names := orderNames(res)
	if names[0] != "base" {
		t.Errorf("base must build first: %v", names)
	}
}

func TestResolveProjectMissingRootIsNotFound(t *testing.T) {
	_, err := ResolveProject("/s/nope.hcl", "x64", "Release", memLoader(nil))
	if !errors.Is(err, errProjectNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
