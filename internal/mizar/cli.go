package mizar

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: mizar <command> [arguments]")
	colSuccess.Println("Run 'mizar <command> -h' for command options")
	fmt.Println()
	cPrintln(colInfo, "Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"generate, g", "[options] <project|-s solution>", "Generate build graph files"},
		{"build, b", "[options] <project|-s solution>", "Generate and execute build graphs"},
		{"order", "[options] <project|-s solution>", "Print the resolved build order"},
		{"log", "", "TUI build log viewer"},
		{"clean", "[-age DUR] [-graphs]", "Compress old build logs, optionally prune stale graphs"},
		{"push", "[options] [project...]", "Upload built outputs to the artifact cache"},
		{"pull", "[options] [project...]", "Download cached outputs for the current fingerprints"},
	}

	// Find the longest usage string to calculate the first column width.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		cPrintln(colInfo, c.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for cmd/mizar.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// Block the first signal while graph files are being
					// written, force exit on the second.
					colArrow.Print("\n-> ")
					colError.Printf("Graph writes in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
					cancel()

					time.Sleep(100 * time.Millisecond)

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(0)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if p := os.Getenv("MIZAR_CONF"); p != "" {
		configPath = p
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", configPath, err)
	}
	mergeEnvOverrides(cfg)
	initConfig(cfg)

	var exitCode int
	switch os.Args[1] {
	case "generate", "g":
		if err := handleGenerate(cfg, os.Args[2:]); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}
	case "build", "b":
		if err := handleBuild(ctx, cfg, os.Args[2:]); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}
	case "order":
		if err := handleOrder(cfg, os.Args[2:]); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}
	case "log":
		exitCode = runTUI(cfg)
	case "clean":
		if err := handleClean(cfg, os.Args[2:]); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}
	case "push":
		if err := handleCache(ctx, cfg, os.Args[2:], true); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}
	case "pull":
		if err := handleCache(ctx, cfg, os.Args[2:], false); err != nil {
			cPrintf(colError, "Error: %v\n", err)
			exitCode = 1
		}
	case "version", "--version", "-v":
		fmt.Printf("mizar %s (%s) built %s\n", version, arch, buildDate)
	case "help", "-h", "--help":
		printHelp()
	default:
		cPrintf(colError, "Unknown command: %s\n", os.Args[1])
		printHelp()
		exitCode = 1
	}

	cancel()
	os.Exit(exitCode)
}

// selectionFlags declares the flags shared by every command that
// resolves a project graph.
func selectionFlags(fs *flag.FlagSet) (sol, platform, config *string) {
	sol = fs.String("s", "", "Solution file to resolve instead of a single project.")
	platform = fs.String("platform", "", "Target platform (default from config).")
	config = fs.String("config", "", "Target configuration (default from config).")
	return
}

// generateFlags adds the flags that only matter when graphs are written.
func generateFlags(fs *flag.FlagSet) (sol, platform, config *string, force, unity *bool) {
	sol, platform, config = selectionFlags(fs)
	force = fs.Bool("force", false, "Regenerate graphs even when fingerprints match.")
	unity = fs.Bool("unity", false, "Enable unity merging regardless of project settings.")
	return
}

// parseGenerateArgs turns parsed flags plus positionals into options.
func parseGenerateArgs(fs *flag.FlagSet, sol, platform, config string, force, unity bool) (GenerateOptions, error) {
	opts := GenerateOptions{
		Platform: platform,
		Config:   config,
		Force:    force,
		Unity:    unity,
	}
	rest := fs.Args()
	if sol != "" {
		opts.SolutionPath = sol
		opts.Targets = rest
		return opts, nil
	}
	if len(rest) == 0 {
		return opts, fmt.Errorf("no project or solution given")
	}
	if len(rest) > 1 {
		return opts, fmt.Errorf("multiple projects given; use -s with a solution to build a set")
	}
	opts.ProjectPath = rest[0]
	return opts, nil
}

func handleGenerate(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	sol, platform, config, force, unity := generateFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := parseGenerateArgs(fs, *sol, *platform, *config, *force, *unity)
	if err != nil {
		return err
	}

	isCriticalAtomic.Store(1)
	res, err := Generate(cfg, NewCLToolchain(cfg), opts)
	isCriticalAtomic.Store(0)
	if err != nil {
		return err
	}
	reportGeneration(res)
	return nil
}

func reportGeneration(res *GenerateResult) {
	colArrow.Print("-> ")
	cPrintf(colSuccess, "Generated %d graph(s), %d up to date\n", len(res.Regenerated), len(res.UpToDate))
	for _, name := range res.Regenerated {
		fmt.Printf("  - %s: %s\n", colNote.Sprint(name), res.GraphPaths[name])
	}
	for name, reason := range res.Failed {
		cPrintf(colWarn, "  - %s skipped: %s\n", name, reason)
	}
	for name, reason := range res.Res.Skipped {
		cPrintf(colWarn, "  - %s excluded: %s\n", name, reason)
	}
}

func handleBuild(ctx context.Context, cfg *Config, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	sol, platform, config, force, unity := generateFlags(fs)
	jobs := fs.Int("j", 1, "Number of parallel executor processes.")
	serial := fs.Bool("serial", false, "Strict in-order mode: abort everything on first failure.")
	nice := fs.Bool("nice", false, "Run executor processes at idle priority.")
	passArgs := fs.String("args", "", "Extra arguments forwarded to the executor.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := parseGenerateArgs(fs, *sol, *platform, *config, *force, *unity)
	if err != nil {
		return err
	}

	isCriticalAtomic.Store(1)
	res, err := Generate(cfg, NewCLToolchain(cfg), opts)
	isCriticalAtomic.Store(0)
	if err != nil {
		return err
	}
	reportGeneration(res)

	// Every graph is on disk before the first executor starts.
	sched := NewScheduler(ctx, cfg, res.Res, res.Launchers, *jobs, *serial, strings.Fields(*passArgs))
	sched.IdlePriority = *nice
	sched.MarkUnbuildable(res.Failed)
	return sched.Run()
}

func handleOrder(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("order", flag.ExitOnError)
	sol, platform, config := selectionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := parseGenerateArgs(fs, *sol, *platform, *config, false, false)
	if err != nil {
		return err
	}

	res, err := resolve(cfg, opts)
	if err != nil {
		return err
	}
	for _, i := range res.Order {
		node := res.Nodes[i]
		colArrow.Print("-> ")
		fmt.Printf("%s (%s)\n", colNote.Sprint(node.Name), node.Path)
	}
	for name, reason := range res.Skipped {
		cPrintf(colWarn, "  - %s excluded: %s\n", name, reason)
	}
	return nil
}

func handleClean(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	age := fs.Duration("age", 7*24*time.Hour, "Only touch files older than this.")
	graphs := fs.Bool("graphs", false, "Also prune stale graph files and launchers.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := compressOldLogs(cfg.LogDir, *age)
	if err != nil {
		return fmt.Errorf("compressing logs: %w", err)
	}
	colArrow.Print("-> ")
	cPrintf(colSuccess, "Compressed %d log(s)\n", n)

	if *graphs {
		cPrintf(colWarn, "This will delete graph files older than %s under %s.\n", *age, cfg.GraphDir)
		if !askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			colArrow.Print("-> ")
			cPrintln(colSuccess, "Graph cleanup canceled.")
			return nil
		}
		n, err := pruneStaleGraphs(cfg.GraphDir, *age)
		if err != nil {
			return fmt.Errorf("pruning graphs: %w", err)
		}
		colArrow.Print("-> ")
		cPrintf(colSuccess, "Removed %d stale file(s)\n", n)
	}
	return nil
}

// handleCache implements push and pull against the artifact cache.
func handleCache(ctx context.Context, cfg *Config, args []string, push bool) error {
	name := "pull"
	if push {
		name = "push"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	sol, platform, config := selectionFlags(fs)
	prune := false
	if push {
		fs.BoolVar(&prune, "prune", false, "Remove cached copies stored under superseded fingerprints.")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := parseGenerateArgs(fs, *sol, *platform, *config, false, false)
	if err != nil {
		return err
	}

	res, err := resolve(cfg, opts)
	if err != nil {
		return err
	}
	client, err := NewCacheClient(cfg)
	if err != nil {
		return err
	}

	failures := 0
	for _, i := range res.Order {
		node := res.Nodes[i]
		fp, err := computeFingerprint(node.Path, node.Platform, node.Config)
		if err != nil {
			cPrintf(colWarn, "  - %s: %v\n", node.Name, err)
			failures++
			continue
		}
		if push {
			err = client.PushArtifact(ctx, node, fp)
		} else {
			err = client.PullArtifact(ctx, node, fp)
		}
		if err != nil {
			cPrintf(colWarn, "  - %s: %v\n", node.Name, err)
			failures++
			continue
		}
		colArrow.Print("-> ")
		fmt.Printf("%s %s\n", name+"ed", colNote.Sprint(node.Name))

		if prune {
			n, err := client.PruneStaleArtifacts(ctx, node, fp)
			if err != nil {
				cPrintf(colWarn, "  - %s: pruning: %v\n", node.Name, err)
				failures++
				continue
			}
			if n > 0 {
				debugf("removed %d stale cache object(s) for %s\n", n, node.Name)
			}
		}
	}
	if failures > 0 {
		return fmt.Errorf("%s incomplete: %d project(s) failed", name, failures)
	}
	return nil
}
