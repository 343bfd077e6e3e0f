package mizar

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// chainResolution builds a linear dependency chain a0 <- a1 <- ... and
// the matching resolved order.
func chainResolution(n int) *Resolution {
	res := &Resolution{Skipped: map[string]string{}}
	for i := 0; i < n; i++ {
		node := &ProjectNode{Name: fmt.Sprintf("p%d", i), Type: StaticLib, OutputDir: "bin"}
		if i > 0 {
			node.Deps = []int{i - 1}
		}
		res.Nodes = append(res.Nodes, node)
		if i > 0 {
			res.Nodes[i-1].Dependents = append(res.Nodes[i-1].Dependents, i)
		}
		res.Order = append(res.Order, i)
	}
	return res
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		Values:   map[string]string{},
		GraphDir: dir + "/graphs",
		LogDir:   dir + "/logs",
	}
}

func TestSchedulerSerialOrderAndAbort(t *testing.T) {
	res := chainResolution(5)

	var mu sync.Mutex
	var ran []string
	s := NewScheduler(context.Background(), testConfig(t), res, nil, 1, true, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		mu.Lock()
		ran = append(ran, node.Name)
		mu.Unlock()
		if node.Name == "p2" {
			return fmt.Errorf("boom")
		}
		return nil
	}

	err := s.Run()
	if err == nil {
		t.Fatal("a failed project must fail the run")
	}
	if len(ran) != 3 || ran[2] != "p2" {
		t.Fatalf("strict mode must stop at the failure: ran %v", ran)
	}
	// p3 and p4 never started.
	for _, i := range []int{3, 4} {
		if s.states[i] != statePending {
			t.Errorf("p%d must be left unbuilt", i)
		}
	}
}

func TestSchedulerParallelRespectsDependencies(t *testing.T) {
	res := chainResolution(4)

	var mu sync.Mutex
	var ran []string
	s := NewScheduler(context.Background(), testConfig(t), res, nil, 4, false, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		mu.Lock()
		ran = append(ran, node.Name)
		mu.Unlock()
		return nil
	}

	if err := s.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i := 0; i < 4; i++ {
		if ran[i] != fmt.Sprintf("p%d", i) {
			t.Fatalf("chain must execute in dependency order even with 4 workers: %v", ran)
		}
	}
}

func TestSchedulerSingleWorkerFollowsResolvedOrder(t *testing.T) {
	// Independent projects: order comes purely from the resolution.
	res := &Resolution{Skipped: map[string]string{}}
	for i := 0; i < 6; i++ {
		res.Nodes = append(res.Nodes, &ProjectNode{Name: fmt.Sprintf("p%d", i), Type: Application, OutputDir: "bin"})
		res.Order = append(res.Order, i)
	}

	var mu sync.Mutex
	var ran []string
	s := NewScheduler(context.Background(), testConfig(t), res, nil, 1, false, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		mu.Lock()
		ran = append(ran, node.Name)
		mu.Unlock()
		return nil
	}

	if err := s.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, name := range ran {
		if name != fmt.Sprintf("p%d", i) {
			t.Fatalf("one worker must follow the resolved order exactly: %v", ran)
		}
	}
}

func TestSchedulerFailureBlocksDependentsOnly(t *testing.T) {
	// p0 fails; p1 depends on p0; p2 is independent.
	res := &Resolution{Skipped: map[string]string{}}
	res.Nodes = []*ProjectNode{
		{Name: "p0", Type: StaticLib, OutputDir: "bin", Dependents: []int{1}},
		{Name: "p1", Type: Application, OutputDir: "bin", Deps: []int{0}},
		{Name: "p2", Type: Application, OutputDir: "bin"},
	}
	res.Order = []int{0, 1, 2}

	s := NewScheduler(context.Background(), testConfig(t), res, nil, 2, false, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		if node.Name == "p0" {
			return fmt.Errorf("compile error")
		}
		return nil
	}

	err := s.Run()
	if err == nil {
		t.Fatal("expected an incomplete-build error")
	}
	if s.states[0] != stateFailed {
		t.Error("p0 must be failed")
	}
	if s.states[1] != statePending {
		t.Error("p1 is downstream of the failure and must stay unbuilt")
	}
	if s.states[2] != stateSucceeded {
		t.Error("p2 is unrelated and must still build")
	}
}

func TestSchedulerNoCompileProjectsNeverDispatch(t *testing.T) {
	res := chainResolution(3)
	res.Nodes[1].NoCompile = true

	var mu sync.Mutex
	ran := map[string]bool{}
	s := NewScheduler(context.Background(), testConfig(t), res, nil, 2, false, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		mu.Lock()
		ran[node.Name] = true
		mu.Unlock()
		return nil
	}

	if err := s.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ran["p1"] {
		t.Error("a no-compile project must never reach the runner")
	}
	if s.states[1] != stateSucceeded {
		t.Error("a no-compile project still counts as built")
	}
	if !ran["p2"] {
		t.Error("dependents of a no-compile project must build")
	}
}

func TestSchedulerKeepsSuccessfulLogs(t *testing.T) {
	res := &Resolution{Skipped: map[string]string{}}
	for i := 0; i < 2; i++ {
		res.Nodes = append(res.Nodes, &ProjectNode{Name: fmt.Sprintf("p%d", i), Type: Application, OutputDir: "bin"})
		res.Order = append(res.Order, i)
	}
	cfg := testConfig(t)

	s := NewScheduler(context.Background(), cfg, res, nil, 2, false, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		fmt.Fprintln(w, "compiled", node.Name)
		return nil
	}

	if err := s.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	logs, err := filepath.Glob(filepath.Join(cfg.LogDir, "*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("successful run logs must stay until clean compresses them, got %v", logs)
	}
}

func TestSchedulerUnbuildableProjectNeverDispatches(t *testing.T) {
	res := chainResolution(3)

	var mu sync.Mutex
	ran := map[string]bool{}
	s := NewScheduler(context.Background(), testConfig(t), res, nil, 2, false, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		mu.Lock()
		ran[node.Name] = true
		mu.Unlock()
		return nil
	}
	s.MarkUnbuildable(map[string]string{"p1": "toolchain root is not configured"})

	err := s.Run()
	if err == nil {
		t.Fatal("a project that failed generation must fail the run")
	}
	if ran["p1"] {
		t.Error("a generation-failed project must never reach the runner")
	}
	if !ran["p0"] {
		t.Error("projects upstream of the failure still build")
	}
	if ran["p2"] || s.states[2] != statePending {
		t.Error("dependents of a generation-failed project stay unbuilt")
	}
	if s.failed[1] == nil {
		t.Fatal("the stored generation reason must be reported")
	}
}

func TestSchedulerSerialAbortsAtUnbuildable(t *testing.T) {
	res := chainResolution(3)

	var mu sync.Mutex
	var ran []string
	s := NewScheduler(context.Background(), testConfig(t), res, nil, 1, true, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		mu.Lock()
		ran = append(ran, node.Name)
		mu.Unlock()
		return nil
	}
	s.MarkUnbuildable(map[string]string{"p1": "toolchain root is not configured"})

	err := s.Run()
	if err == nil {
		t.Fatal("strict mode must abort at the generation failure")
	}
	if len(ran) != 1 || ran[0] != "p0" {
		t.Fatalf("only p0 precedes the failure: ran %v", ran)
	}
	if s.states[2] != statePending {
		t.Error("p2 must be left unbuilt")
	}
}

func TestSchedulerCancellation(t *testing.T) {
	res := chainResolution(3)
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler(ctx, testConfig(t), res, nil, 1, false, nil)
	s.Runner = func(ctx context.Context, node *ProjectNode, w io.Writer) error {
		if node.Name == "p0" {
			cancel()
			return fmt.Errorf("killed")
		}
		return nil
	}

	start := time.Now()
	if err := s.Run(); err == nil {
		t.Fatal("cancelled run must report an error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation must not hang the scheduler")
	}
}
