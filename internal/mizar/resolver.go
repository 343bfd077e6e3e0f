package mizar

import (
	"fmt"
	"sort"
	"strings"
)

// projectLoader loads one project file. Indirection keeps the resolver
// testable without HCL fixtures on disk.
type projectLoader func(path, platform, config string) (*ProjectNode, []Reference, error)

// Resolution is the resolved project graph: a node arena, a dependency-
// first build order of arena indices, and the projects that were dropped
// with the reason each was dropped.
type Resolution struct {
	Nodes   []*ProjectNode
	Order   []int
	Skipped map[string]string // project name -> reason
}

// ByName finds a resolved node by project name.
func (r *Resolution) ByName(name string) *ProjectNode {
	for _, n := range r.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

type resolver struct {
	platform string
	config   string
	load     projectLoader

	nodes  []*ProjectNode
	index  map[string]int // project path -> arena index
	refs   [][]Reference  // raw references per node, same indexing
	failed map[int]string // arena index -> load/eval failure of a dep
}

func newResolver(platform, config string, load projectLoader) *resolver {
	if load == nil {
		load = LoadProject
	}
	return &resolver{
		platform: platform,
		config:   config,
		load:     load,
		index:    make(map[string]int),
		failed:   make(map[int]string),
	}
}

// visit loads a project (once per distinct path) and returns its arena
// index. Re-reaching an already loaded path reuses the node, so a
// diamond of references yields a single node with the union of its
// dependents.
func (r *resolver) visit(path string) (int, error) {
	if i, ok := r.index[path]; ok {
		return i, nil
	}
	node, refs, err := r.load(path, r.platform, r.config)
	if err != nil {
		return -1, err
	}
	i := len(r.nodes)
	r.nodes = append(r.nodes, node)
	r.refs = append(r.refs, refs)
	r.index[path] = i
	return i, nil
}

// link records a dependency edge, deduplicating repeats.
func (r *resolver) link(from, to int) {
	for _, d := range r.nodes[from].Deps {
		if d == to {
			return
		}
	}
	r.nodes[from].Deps = append(r.nodes[from].Deps, to)
	r.nodes[to].Dependents = append(r.nodes[to].Dependents, from)
}

// kahn orders the selected indices dependencies-first. When the queue
// drains before every selected node is emitted, the residue is a cycle.
func (r *resolver) kahn(selected []int) ([]int, error) {
	inSel := make(map[int]bool, len(selected))
	for _, i := range selected {
		inSel[i] = true
	}
	degree := make(map[int]int, len(selected))
	for _, i := range selected {
		for _, d := range r.nodes[i].Deps {
			if inSel[d] {
				degree[i]++
			}
		}
	}

	var queue []int
	for _, i := range selected {
		if degree[i] == 0 {
			queue = append(queue, i)
		}
	}
	// Deterministic order among simultaneously ready nodes.
	sort.Ints(queue)

	order := make([]int, 0, len(selected))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)

		var ready []int
		for _, dep := range r.nodes[i].Dependents {
			if !inSel[dep] {
				continue
			}
			degree[dep]--
			if degree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Ints(ready)
		queue = append(queue, ready...)
	}

	if len(order) < len(selected) {
		var stuck []string
		for _, i := range selected {
			if degree[i] > 0 {
				stuck = append(stuck, r.nodes[i].Name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w involving: %s", errCircularDeps, strings.Join(stuck, ", "))
	}
	return order, nil
}

// ResolveProject resolves a single project file and its transitive
// link-contributing references. References marked link_output = false
// order solution builds but carry no linkage, so single-project
// resolution does not descend into them. A missing or unparsable
// reference is fatal here: with no solution scope there is nothing left
// to build around it.
func ResolveProject(path, platform, config string, load projectLoader) (*Resolution, error) {
	r := newResolver(platform, config, load)

	if _, err := r.visit(path); err != nil {
		return nil, err
	}

	// Iterative closure. Cycles surface in kahn below rather than during
	// the walk, which keeps re-reached diamond nodes cheap.
	for i := 0; i < len(r.nodes); i++ {
		for _, ref := range r.refs[i] {
			if !ref.LinkOutput {
				continue
			}
			j, err := r.visit(ref.Path)
			if err != nil {
				return nil, fmt.Errorf("reference %q of %s: %w", ref.Name, r.nodes[i].Name, err)
			}
			r.link(i, j)
		}
	}

	selected := make([]int, len(r.nodes))
	for i := range r.nodes {
		selected[i] = i
	}
	order, err := r.kahn(selected)
	if err != nil {
		return nil, err
	}
	return &Resolution{Nodes: r.nodes, Order: order, Skipped: map[string]string{}}, nil
}

// ResolveSolution resolves the member set of a solution, or a requested
// subset plus its transitive dependencies. A member that fails to load
// is reported and excluded together with everything that depends on it;
// resolution continues for the rest. Cycles abort the whole resolution.
func ResolveSolution(sol *Solution, requested []string, platform, config string, load projectLoader) (*Resolution, error) {
	r := newResolver(platform, config, load)
	skipped := make(map[string]string)

	memberIdx := make(map[string]int, len(sol.Members))
	for _, name := range sol.Order {
		path := sol.Members[name]
		i, err := r.visit(path)
		if err != nil {
			skipped[name] = err.Error()
			continue
		}
		memberIdx[name] = i
	}

	// Edges; in solution scope every reference orders the build. A
	// reference outside the member set is pulled in transitively; if it
	// cannot be loaded the referencing project is dropped below.
	broken := make(map[int]string)
	for i := 0; i < len(r.nodes); i++ {
		for _, ref := range r.refs[i] {
			j, err := r.visit(ref.Path)
			if err != nil {
				broken[i] = fmt.Sprintf("reference %q: %v", ref.Name, err)
				continue
			}
			r.link(i, j)
		}
	}

	// Requested subset closure over dependencies, or everything.
	var selected []int
	if len(requested) == 0 {
		// Everything loaded, members and transitively referenced
		// non-members alike.
		for i := range r.nodes {
			selected = append(selected, i)
		}
	} else {
		seen := make(map[int]bool)
		var stack []int
		for _, name := range requested {
			i, ok := memberIdx[name]
			if !ok {
				if _, alreadySkipped := skipped[name]; alreadySkipped {
					continue
				}
				return nil, fmt.Errorf("%w: project %q is not in solution %s", errProjectNotFound, name, sol.Name)
			}
			stack = append(stack, i)
		}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[i] {
				continue
			}
			seen[i] = true
			selected = append(selected, i)
			stack = append(stack, r.nodes[i].Deps...)
		}
	}
	sort.Ints(selected)

	// Drop projects with broken references, then everything downstream
	// of anything dropped.
	dropped := make(map[int]bool)
	for i, reason := range broken {
		dropped[i] = true
		skipped[r.nodes[i].Name] = reason
	}
	for changed := true; changed; {
		changed = false
		for _, i := range selected {
			if dropped[i] {
				continue
			}
			for _, d := range r.nodes[i].Deps {
				if dropped[d] {
					dropped[i] = true
					skipped[r.nodes[i].Name] = fmt.Sprintf("dependency %q was excluded", r.nodes[d].Name)
					changed = true
					break
				}
			}
		}
	}
	var kept []int
	for _, i := range selected {
		if !dropped[i] {
			kept = append(kept, i)
		}
	}

	order, err := r.kahn(kept)
	if err != nil {
		return nil, err
	}
	return &Resolution{Nodes: r.nodes, Order: order, Skipped: skipped}, nil
}
