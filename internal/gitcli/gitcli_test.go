package gitcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// stubGit writes an executable shell script standing in for the git binary.
func stubGit(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "git")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiffQuiet(t *testing.T) {
	tests := []struct {
		name        string
		exitCode    int
		wantDiffers bool
		wantErr     bool
	}{
		{"identical", 0, false, false},
		{"differs", 1, true, false},
		{"failure", 2, false, true},
		{"usage error", 129, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Runner{Dir: t.TempDir(), Git: stubGit(t, fmt.Sprintf("exit %d", tt.exitCode))}

			differs, err := r.DiffQuiet(context.Background(), nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if differs != tt.wantDiffers {
				t.Errorf("differs = %v, want %v", differs, tt.wantDiffers)
			}
		})
	}
}

func TestDiffQuietPassesArgs(t *testing.T) {
	r := &Runner{Dir: t.TempDir(), Git: stubGit(t, `echo "$@" >&2; exit 2`)}

	_, err := r.DiffQuiet(context.Background(), []string{"HEAD~1..HEAD", "--", "src"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"diff", "--quiet", "HEAD~1..HEAD", "src"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing arg %q", err, want)
		}
	}
}

func TestRawDiff(t *testing.T) {
	t.Run("exit 0", func(t *testing.T) {
		r := &Runner{Dir: t.TempDir(), Git: stubGit(t, `printf 'diff body'; exit 0`)}
		out, err := r.RawDiff(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "diff body" {
			t.Errorf("out = %q", out)
		}
	})

	t.Run("exit 1 is still success", func(t *testing.T) {
		r := &Runner{Dir: t.TempDir(), Git: stubGit(t, `printf 'diff body'; exit 1`)}
		out, err := r.RawDiff(context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "diff body" {
			t.Errorf("out = %q", out)
		}
	})

	t.Run("exit 2 fails", func(t *testing.T) {
		r := &Runner{Dir: t.TempDir(), Git: stubGit(t, `echo boom >&2; exit 2`)}
		if _, err := r.RawDiff(context.Background(), nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestCurrentBranch(t *testing.T) {
	t.Run("on branch", func(t *testing.T) {
		r := &Runner{Dir: t.TempDir(), Git: stubGit(t, `echo main`)}
		branch, err := r.CurrentBranch(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if branch != "main" {
			t.Errorf("branch = %q", branch)
		}
	})

	t.Run("detached", func(t *testing.T) {
		r := &Runner{Dir: t.TempDir(), Git: stubGit(t, `echo HEAD`)}
		branch, err := r.CurrentBranch(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if branch != "" {
			t.Errorf("branch = %q, want empty for detached HEAD", branch)
		}
	})
}

func TestExecHonorsContext(t *testing.T) {
	r := &Runner{Dir: t.TempDir(), Git: stubGit(t, `sleep 10`)}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Exec(ctx, "status")
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Exec did not respect context deadline, took %s", elapsed)
	}
}
