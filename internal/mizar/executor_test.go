package mizar

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestExecutorRunsCommand(t *testing.T) {
	e := NewExecutor(context.Background())

	var out strings.Builder
	cmd := exec.Command("sh", "-c", "echo built")
	cmd.Stdout = &out
	cmd.Stdin = strings.NewReader("")

	if err := e.Run(cmd); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "built") {
		t.Errorf("command output lost: %q", out.String())
	}
}

func TestExecutorReportsExitFailure(t *testing.T) {
	e := NewExecutor(context.Background())
	cmd := exec.Command("sh", "-c", "exit 3")
	cmd.Stdin = strings.NewReader("")
	if err := e.Run(cmd); err == nil {
		t.Fatal("a nonzero exit must surface as an error")
	}
}

func TestExecutorIdlePriority(t *testing.T) {
	e := NewExecutor(context.Background())
	e.ApplyIdlePriority = true

	var out strings.Builder
	cmd := exec.Command("sh", "-c", "echo reniced")
	cmd.Stdout = &out
	cmd.Stdin = strings.NewReader("")

	if err := e.Run(cmd); err != nil {
		t.Fatalf("idle-priority run: %v", err)
	}
	if !strings.Contains(out.String(), "reniced") {
		t.Errorf("command output lost under nice: %q", out.String())
	}
}

func TestExecutorCancellationKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewExecutor(ctx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	cmd := exec.Command("sleep", "30")
	cmd.Stdin = strings.NewReader("")
	start := time.Now()
	if err := e.Run(cmd); err == nil {
		t.Fatal("a cancelled run must report an error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation must kill the process promptly")
	}
}
