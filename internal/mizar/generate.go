package mizar

import (
	"fmt"
)

// GenerateOptions selects what to generate and how.
type GenerateOptions struct {
	SolutionPath string   // resolve a solution container...
	ProjectPath  string   // ...or a single project file
	Targets      []string // requested member subset (solution mode)
	Platform     string
	Config       string
	Force        bool // regenerate even when fingerprints match
	Unity        bool // unity merging regardless of project setting
}

// GenerateResult reports what the generation pass did per project.
type GenerateResult struct {
	Res         *Resolution
	Regenerated []string          // names whose graph was rewritten
	UpToDate    []string          // names skipped by the fingerprint gate
	Failed      map[string]string // name -> evaluation error, generation continued
	GraphPaths  map[string]string // name -> graph file
	Launchers   map[string]string // name -> launcher script
}

// Generate resolves the project graph and runs the whole pipeline for
// every project in dependency order: fingerprint gate, option expansion,
// batching, assembly, atomic emission, launcher script. Link outputs are
// pushed into dependents as each project is processed, so every graph
// is complete before any execution starts.
func Generate(cfg *Config, tc Toolchain, opts GenerateOptions) (*GenerateResult, error) {
	res, err := resolve(cfg, opts)
	if err != nil {
		return nil, err
	}

	out := &GenerateResult{
		Res:        res,
		Failed:     make(map[string]string),
		GraphPaths: make(map[string]string),
		Launchers:  make(map[string]string),
	}

	err = withGraphDirLock(cfg.GraphDir, func() error {
		for _, i := range res.Order {
			node := res.Nodes[i]
			if err := generateOne(cfg, tc, opts, node, out); err != nil {
				return err
			}
			// Dependents batch after us in the order, so their graphs
			// see this output as an additional link input.
			export := node.LinkExport()
			for _, di := range node.Dependents {
				dep := res.Nodes[di]
				dep.AdditionalLinkInputs = append(dep.AdditionalLinkInputs, export)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resolve(cfg *Config, opts GenerateOptions) (*Resolution, error) {
	platform, config := opts.Platform, opts.Config
	if platform == "" {
		platform = cfg.Platform
	}
	if config == "" {
		config = cfg.BuildConfig
	}

	if opts.SolutionPath != "" {
		sol, err := LoadSolution(opts.SolutionPath)
		if err != nil {
			return nil, err
		}
		if opts.Platform == "" && sol.Platform != "" {
			platform = sol.Platform
		}
		if opts.Config == "" && sol.Config != "" {
			config = sol.Config
		}
		return ResolveSolution(sol, opts.Targets, platform, config, nil)
	}
	if opts.ProjectPath != "" {
		return ResolveProject(opts.ProjectPath, platform, config, nil)
	}
	return nil, fmt.Errorf("nothing to resolve: no solution or project given")
}

func generateOne(cfg *Config, tc Toolchain, opts GenerateOptions, node *ProjectNode, out *GenerateResult) error {
	graphPath := cfg.graphPath(node.Name, node.Platform, node.Config)
	out.GraphPaths[node.Name] = graphPath

	regen, fp := shouldRegenerate(node.Path, node.Platform, node.Config, graphPath, opts.Force)

	// Whether we regenerate or not, a project with nothing to compile is
	// flagged so the scheduler never dispatches it.
	node.NoCompile = !hasCompileWork(node)

	launcher := cfg.launcherPath(node.Name, node.Platform, node.Config)
	if !regen {
		out.UpToDate = append(out.UpToDate, node.Name)
		out.Launchers[node.Name] = launcher
		if !launcherExists(launcher) {
			if _, err := WriteLauncher(cfg, node, graphPath, fp); err != nil {
				return fmt.Errorf("writing launcher for %s: %w", node.Name, err)
			}
		}
		debugf("%s is up to date\n", node.Name)
		return nil
	}

	g, err := Assemble(node, tc, fp, opts.Unity || node.UnityEnabled)
	if err != nil {
		// Evaluation trouble skips this project, not the run.
		out.Failed[node.Name] = err.Error()
		cPrintf(colWarn, "skipping %s: %v\n", node.Name, err)
		return nil
	}
	if err := EmitGraph(g, graphPath); err != nil {
		return fmt.Errorf("writing graph for %s: %w", node.Name, err)
	}
	if _, err := WriteLauncher(cfg, node, graphPath, fp); err != nil {
		return fmt.Errorf("writing launcher for %s: %w", node.Name, err)
	}
	out.Regenerated = append(out.Regenerated, node.Name)
	out.Launchers[node.Name] = launcher
	return nil
}

func hasCompileWork(node *ProjectNode) bool {
	for _, it := range node.Items {
		if !it.Excluded {
			return true
		}
	}
	return false
}
