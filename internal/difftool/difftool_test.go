package difftool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// stubGit writes a shell script standing in for git. The script handles
// the "diff --quiet" probe and the "difftool" launch separately.
func stubGit(t *testing.T, probeExit int, difftoolBody string) string {
	t.Helper()

	script := fmt.Sprintf(`#!/bin/sh
if [ "$1" = "diff" ]; then
  exit %d
fi
%s
`, probeExit, difftoolBody)

	path := filepath.Join(t.TempDir(), "git")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testLauncher(t *testing.T, git string) *Launcher {
	t.Helper()
	l := NewLauncher(log.New(os.Stderr, "[test] ", 0))
	l.git = git
	return l
}

func TestStartSuccess(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	body := fmt.Sprintf("echo %s\necho %s\nsleep 60\n", left, right)
	l := testLauncher(t, stubGit(t, 1, body))

	proc, err := l.Start(context.Background(), nil, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer proc.Stop()

	gotLeft, gotRight := proc.Dirs()
	if gotLeft != left || gotRight != right {
		t.Errorf("dirs = (%s, %s), want (%s, %s)", gotLeft, gotRight, left, right)
	}
}

func TestStartNoDifferences(t *testing.T) {
	l := testLauncher(t, stubGit(t, 0, "exit 0"))

	_, err := l.Start(context.Background(), nil, t.TempDir())
	if !errors.Is(err, ErrNoDifferences) {
		t.Fatalf("err = %v, want ErrNoDifferences", err)
	}
}

func TestStartProbeFailure(t *testing.T) {
	l := testLauncher(t, stubGit(t, 2, "exit 0"))

	_, err := l.Start(context.Background(), nil, t.TempDir())
	var probe *ProbeError
	if !errors.As(err, &probe) {
		t.Fatalf("err = %v, want *ProbeError", err)
	}
}

func TestStartProtocolViolation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no output", "exit 0"},
		{"one line", "echo /only/one\nexit 0"},
		{"empty line", "echo ''\necho /two\nsleep 60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := testLauncher(t, stubGit(t, 1, tt.body))

			_, err := l.Start(context.Background(), nil, t.TempDir())
			var proto *ProtocolError
			if !errors.As(err, &proto) {
				t.Fatalf("err = %v, want *ProtocolError", err)
			}
		})
	}
}

func TestStartMissingDirs(t *testing.T) {
	body := "echo /nonexistent/left\necho /nonexistent/right\nsleep 60\n"
	l := testLauncher(t, stubGit(t, 1, body))

	_, err := l.Start(context.Background(), nil, t.TempDir())
	var missing *MissingDirsError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingDirsError", err)
	}
	if missing.Left != "/nonexistent/left" || missing.Right != "/nonexistent/right" {
		t.Errorf("missing dirs = %+v", missing)
	}
}

func TestStopTerminatesHelper(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	body := fmt.Sprintf("echo %s\necho %s\nsleep 60\n", left, right)
	l := testLauncher(t, stubGit(t, 1, body))

	proc, err := l.Start(context.Background(), nil, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		proc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace + 5*time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopIdempotent(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	body := fmt.Sprintf("echo %s\necho %s\nsleep 60\n", left, right)
	l := testLauncher(t, stubGit(t, 1, body))

	proc, err := l.Start(context.Background(), nil, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	proc.Stop()
	proc.Stop()
}

func TestStopNilProcess(t *testing.T) {
	var proc *Process
	proc.Stop()
}

func TestErrNoDifferencesWrapped(t *testing.T) {
	wrapped := fmt.Errorf("repo x: %w", ErrNoDifferences)
	if !errors.Is(wrapped, ErrNoDifferences) {
		t.Error("wrapped sentinel not matched by errors.Is")
	}
}

func TestProbeErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &ProbeError{Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ProbeError does not unwrap to its cause")
	}
}
