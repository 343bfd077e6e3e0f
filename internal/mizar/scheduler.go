package mizar

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

type runState int

const (
	statePending runState = iota
	stateQueued
	stateRunning
	stateSucceeded
	stateFailed
)

// RunFunc executes one project's launcher. Injected in tests.
type RunFunc func(ctx context.Context, node *ProjectNode, logWriter io.Writer) error

// Scheduler drives executor runs over a resolved, generated project
// graph: strict in-order mode, or bounded-parallel with a worker budget.
type Scheduler struct {
	MaxJobs      int
	Serial       bool
	IdlePriority bool // run executors under nice -n 19
	Config       *Config
	Res          *Resolution
	Launchers    map[string]string // project name -> launcher script
	PassArgs     []string          // forwarded to every launcher
	Context      context.Context

	// Dep injection for testing
	Runner RunFunc

	mu       sync.Mutex
	states   map[int]runState
	failed   map[int]error
	logPaths map[int]string

	resultChan chan schedResult
}

type schedResult struct {
	idx      int
	err      error
	duration time.Duration
}

// NewScheduler wires a scheduler over a generation result.
func NewScheduler(ctx context.Context, cfg *Config, res *Resolution, launchers map[string]string, maxJobs int, serial bool, passArgs []string) *Scheduler {
	if maxJobs < 1 {
		maxJobs = 1
	}
	s := &Scheduler{
		MaxJobs:    maxJobs,
		Serial:     serial,
		Config:     cfg,
		Res:        res,
		Launchers:  launchers,
		PassArgs:   passArgs,
		Context:    ctx,
		states:     make(map[int]runState),
		failed:     make(map[int]error),
		logPaths:   make(map[int]string),
		resultChan: make(chan schedResult, maxJobs),
	}
	s.Runner = s.launchRun
	for _, i := range res.Order {
		s.states[i] = statePending
	}
	return s
}

// MarkUnbuildable records projects whose graph generation failed. They
// are never dispatched, fail with the stored reason, and block their
// dependents like any other failure.
func (s *Scheduler) MarkUnbuildable(reasons map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.Res.Order {
		if reason, ok := reasons[s.Res.Nodes[i].Name]; ok {
			s.states[i] = stateFailed
			s.failed[i] = fmt.Errorf("graph generation failed: %s", reason)
		}
	}
}

// Run executes the plan and prints the final report. The returned error
// is non-nil when anything failed or was left unbuilt.
func (s *Scheduler) Run() error {
	var err error
	if s.Serial {
		err = s.runSerial()
	} else {
		err = s.runParallel()
	}
	return s.report(err)
}

// runSerial builds strictly in resolved order and aborts the rest of the
// plan on the first failure.
func (s *Scheduler) runSerial() error {
	bar := progressbar.NewOptions(len(s.Res.Order),
		progressbar.OptionSetDescription("building"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	for _, i := range s.Res.Order {
		node := s.Res.Nodes[i]
		if s.Context.Err() != nil {
			return s.Context.Err()
		}
		if s.states[i] == stateFailed {
			// Generation already failed this project; strict mode stops here.
			return fmt.Errorf("%s failed: %w", node.Name, s.failed[i])
		}
		if node.NoCompile {
			s.setState(i, stateSucceeded)
			_ = bar.Add(1)
			continue
		}
		bar.Describe(fmt.Sprintf("building %s", node.Name))
		s.setState(i, stateRunning)

		logFile, logPath := s.openLog(node)
		var logWriter io.Writer = io.Discard
		if logFile != nil {
			logWriter = logFile
			s.mu.Lock()
			s.logPaths[i] = logPath
			s.mu.Unlock()
		}
		err := s.Runner(s.Context, node, logWriter)
		if logFile != nil {
			logFile.Close()
		}
		if err != nil {
			s.mu.Lock()
			s.states[i] = stateFailed
			s.failed[i] = err
			s.mu.Unlock()
			// Strict mode: nothing after a failure runs.
			return fmt.Errorf("%s failed: %w", node.Name, err)
		}
		s.setState(i, stateSucceeded)
		_ = bar.Add(1)
	}
	return nil
}

// runParallel is the bounded worker loop: start every eligible pending
// project up to MaxJobs, then block on the next result. Only process
// I/O and termination ever block the coordinator.
func (s *Scheduler) runParallel() error {
	showStatus := term.IsTerminal(int(os.Stdout.Fd()))
	statusDone := make(chan struct{})
	if showStatus {
		go s.statusLoop(statusDone)
		defer func() {
			close(statusDone)
			fmt.Print("\r\033[K")
		}()
	}

	for {
		if s.Context.Err() != nil {
			return s.Context.Err()
		}

		started := s.startEligible()
		running := s.countState(stateRunning) + s.countState(stateQueued)
		if running == 0 {
			if s.countState(statePending) == 0 {
				return nil
			}
			if len(s.failed) > 0 || s.blockedCount() > 0 {
				// Everything left is downstream of a failure.
				return nil
			}
			if started == 0 {
				return fmt.Errorf("scheduler deadlock: %d projects pending with no runnable candidate", s.countState(statePending))
			}
			continue
		}

		res := <-s.resultChan
		s.mu.Lock()
		if res.err != nil {
			s.states[res.idx] = stateFailed
			s.failed[res.idx] = res.err
		} else {
			s.states[res.idx] = stateSucceeded
		}
		s.mu.Unlock()
	}
}

// startEligible queues every pending project whose dependencies have all
// succeeded, respecting the job budget. No-compile projects complete on
// the spot without occupying a worker.
func (s *Scheduler) startEligible() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := 0
	for _, i := range s.Res.Order {
		if s.states[i] != statePending {
			continue
		}
		node := s.Res.Nodes[i]

		ready := true
		for _, d := range node.Deps {
			if st, tracked := s.states[d]; tracked && st != stateSucceeded {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if node.NoCompile {
			s.states[i] = stateSucceeded
			started++
			continue
		}
		if s.countStateLocked(stateRunning)+s.countStateLocked(stateQueued) >= s.MaxJobs {
			break
		}
		s.states[i] = stateQueued
		started++
		go s.startRun(i, node)
	}
	return started
}

func (s *Scheduler) startRun(idx int, node *ProjectNode) {
	s.setState(idx, stateRunning)

	logFile, logPath := s.openLog(node)
	var logWriter io.Writer = io.Discard
	if logFile != nil {
		logWriter = logFile
		s.mu.Lock()
		s.logPaths[idx] = logPath
		s.mu.Unlock()
	}

	start := time.Now()
	err := s.Runner(s.Context, node, logWriter)
	if logFile != nil {
		// Logs of successful runs stay around until clean compresses them.
		logFile.Close()
	}
	s.resultChan <- schedResult{idx: idx, err: err, duration: time.Since(start)}
}

// runSeq hands out opaque run ids for output prefixing.
var runSeq atomic.Uint64

// launchRun is the default runner: execute the launcher script through
// the process-group Executor and stream its combined output line by
// line, each line prefixed with the run id on stdout and raw in the log.
func (s *Scheduler) launchRun(ctx context.Context, node *ProjectNode, logWriter io.Writer) error {
	launcher := s.Launchers[node.Name]
	if launcher == "" {
		return fmt.Errorf("no launcher for %s", node.Name)
	}
	runID := fmt.Sprintf("%06x", runSeq.Add(1))

	args := append([]string{launcher}, s.PassArgs...)
	cmd := exec.Command("sh", args...)

	pr, pw := io.Pipe()
	cmd.Stdin = strings.NewReader("")
	cmd.Stdout = pw
	cmd.Stderr = pw

	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintf(os.Stdout, "[%s] %s\n", runID, line)
			fmt.Fprintln(logWriter, line)
		}
	}()

	ex := NewExecutor(ctx)
	ex.ApplyIdlePriority = s.IdlePriority
	runErr := ex.Run(cmd)
	pw.Close()
	<-scanDone

	if runErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("run aborted: %v", ctx.Err())
		}
		return fmt.Errorf("executor exited: %w", runErr)
	}
	return nil
}

func (s *Scheduler) openLog(node *ProjectNode) (*os.File, string) {
	if err := os.MkdirAll(s.Config.LogDir, 0o755); err != nil {
		return nil, ""
	}
	f, err := os.CreateTemp(s.Config.LogDir, fmt.Sprintf("mizar-build-%s-*.log", node.Name))
	if err != nil {
		return nil, ""
	}
	return f, f.Name()
}

func (s *Scheduler) setState(i int, st runState) {
	s.mu.Lock()
	s.states[i] = st
	s.mu.Unlock()
}

func (s *Scheduler) countState(st runState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countStateLocked(st)
}

func (s *Scheduler) countStateLocked(st runState) int {
	n := 0
	for _, v := range s.states {
		if v == st {
			n++
		}
	}
	return n
}

// blockedCount is the number of pending projects with a failed ancestor.
func (s *Scheduler) blockedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, i := range s.Res.Order {
		if s.states[i] == statePending && s.blockedByLocked(i) != -1 {
			n++
		}
	}
	return n
}

// blockedByLocked walks dependencies for a failed one; -1 means none.
func (s *Scheduler) blockedByLocked(i int) int {
	seen := make(map[int]bool)
	stack := append([]int(nil), s.Res.Nodes[i].Deps...)
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[d] {
			continue
		}
		seen[d] = true
		if s.states[d] == stateFailed {
			return d
		}
		stack = append(stack, s.Res.Nodes[d].Deps...)
	}
	return -1
}

// report prints the built/failed/unbuilt summary and folds everything
// into the final error.
func (s *Scheduler) report(runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var built, unbuilt []string
	reasons := make(map[string]string)
	for _, i := range s.Res.Order {
		node := s.Res.Nodes[i]
		switch s.states[i] {
		case stateSucceeded:
			built = append(built, node.Name)
		case stateFailed:
			// Reported below from s.failed.
		default:
			unbuilt = append(unbuilt, node.Name)
			if d := s.blockedByLocked(i); d != -1 {
				reasons[node.Name] = fmt.Sprintf("dependency failed: %s", s.Res.Nodes[d].Name)
			} else if s.Context.Err() != nil {
				reasons[node.Name] = "run cancelled"
			} else if s.Serial && len(s.failed) > 0 {
				reasons[node.Name] = "aborted after earlier failure"
			} else {
				reasons[node.Name] = "not started"
			}
		}
	}

	if len(s.failed) > 0 || len(unbuilt) > 0 {
		colArrow.Print("-> ")
		colError.Println("Failed or Blocked Projects:")
		failedNames := make([]string, 0, len(s.failed))
		for i := range s.failed {
			failedNames = append(failedNames, s.Res.Nodes[i].Name)
		}
		sort.Strings(failedNames)
		for _, name := range failedNames {
			for i, err := range s.failed {
				if s.Res.Nodes[i].Name != name {
					continue
				}
				fmt.Printf("  - %-20s: %v\n", name, err)
				if lp := s.logPaths[i]; lp != "" {
					fmt.Printf("    %s %s\n", colNote.Sprint("log:"), lp)
				}
			}
		}
		for _, name := range unbuilt {
			fmt.Printf("  - %-20s: %s\n", name, reasons[name])
		}
	}

	colArrow.Print("-> ")
	cPrintf(colSuccess, "Built %d of %d projects\n", len(built), len(s.Res.Order))
	if len(built) > 0 && Debug {
		for _, name := range built {
			fmt.Printf("  - %s\n", colNote.Sprint(name))
		}
	}

	if runErr != nil {
		return runErr
	}
	if len(s.failed) > 0 || len(unbuilt) > 0 {
		return fmt.Errorf("build incomplete: %d failed, %d blocked", len(s.failed), len(unbuilt))
	}
	return nil
}

func (s *Scheduler) statusLoop(done chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastStatus := ""
	ticks := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ticks++
			// Force redraw every 2 seconds to recover from log clobbering
			if ticks%20 == 0 {
				lastStatus = ""
			}
			newStatus := s.statusString()
			if newStatus != lastStatus {
				fmt.Print("\r\033[K" + newStatus)
				lastStatus = newStatus
			}
		}
	}
}

func (s *Scheduler) statusString() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var building []string
	for _, i := range s.Res.Order {
		if s.states[i] == stateRunning {
			building = append(building, s.Res.Nodes[i].Name)
		}
	}
	sort.Strings(building)

	listStr := strings.Join(building, ", ")
	if len(listStr) > 60 {
		listStr = listStr[:57] + "..."
	}

	return fmt.Sprintf("%s %s %s | %s",
		colArrow.Sprint("->"),
		colSuccess.Sprintf("Building [%d]:", len(building)),
		colNote.Sprint(listStr),
		colSuccess.Sprintf("Done: %d Left: %d",
			s.countStateLocked(stateSucceeded),
			s.countStateLocked(statePending)))
}
