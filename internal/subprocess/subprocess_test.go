package subprocess

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestRunCapturesCleanExit(t *testing.T) {
	l := NewLauncher(Config{CmdLine: []string{"/bin/sh", "-c", "exit 0"}}, 0)
	res, err := l.Run(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.Signal != 0 {
		t.Fatalf("expected clean exit, got %+v", res)
	}
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	l := NewLauncher(Config{CmdLine: []string{"/bin/sh", "-c", "exit 7"}}, 0)
	res, err := l.Run(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", res.ExitCode)
	}
}

func TestRunCapturesSignal(t *testing.T) {
	l := NewLauncher(Config{CmdLine: []string{"/bin/sh", "-c", "kill -SEGV $$"}}, 0)
	res, err := l.Run(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Signal != syscall.SIGSEGV {
		t.Fatalf("expected SIGSEGV, got %v", res.Signal)
	}
}

func TestRunSubstitutesFileToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outPath := filepath.Join(dir, "out")
	l := NewLauncher(Config{CmdLine: []string{"/bin/sh", "-c", "cat ___FILE___ > " + outPath}}, 0)
	if _, err := l.Run(context.Background(), path, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("expected %q written via ___FILE___ substitution, got %q", "payload", got)
	}
}

func TestRunEnforcesSoftTimeout(t *testing.T) {
	l := NewLauncher(Config{
		CmdLine:     []string{"/bin/sh", "-c", "sleep 5"},
		TimeoutSoft: 100 * time.Millisecond,
		TimeoutHard: 200 * time.Millisecond,
	}, 0)

	start := time.Now()
	res, err := l.Run(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut to be true")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("expected the hard kill to bound total run time, took %v", time.Since(start))
	}
}
