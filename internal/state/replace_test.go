package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diffdeck/diffdeck/internal/repo"
	"github.com/diffdeck/diffdeck/internal/snapshot"
)

// makeGitDir creates a directory that passes repository validation.
func makeGitDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestReplaceAllSwapsRepoSet(t *testing.T) {
	oldDir := makeGitDir(t)
	newDirA := makeGitDir(t)
	newDirB := makeGitDir(t)

	env := newTestEnv(t, []repo.Repo{{Label: "old", Path: oldDir}}, pairsOf(1))
	env.reg.Init(context.Background())

	oldHandle := env.starter.handles[0]

	newRepos := []repo.Repo{
		{Label: "a", Path: newDirA},
		{Label: "b", Path: newDirB},
	}
	if err := env.reg.ReplaceAll(context.Background(), newRepos); err != nil {
		t.Fatal(err)
	}

	if oldHandle.stops.Load() == 0 {
		t.Error("old helper not stopped during swap")
	}

	if env.reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", env.reg.Len())
	}
	repos := env.reg.Repos()
	if repos[0].Label != "a" || repos[1].Label != "b" {
		t.Errorf("repos = %+v", repos)
	}

	// Both new repos came up with snapshots.
	for i := 0; i < 2; i++ {
		pairs, err := env.reg.Snapshot(i)
		if err != nil {
			t.Fatal(err)
		}
		if len(pairs) != 1 {
			t.Errorf("repo %d: %d pairs, want 1", i, len(pairs))
		}
	}
}

func TestReplaceAllValidationFailureHasNoSideEffects(t *testing.T) {
	oldDir := makeGitDir(t)
	newDir := makeGitDir(t)

	env := newTestEnv(t, []repo.Repo{{Label: "old", Path: oldDir}}, pairsOf(1))
	env.reg.Init(context.Background())

	oldHandle := env.starter.handles[0]

	dup := []repo.Repo{
		{Label: "x", Path: newDir},
		{Label: "x", Path: makeGitDir(t)},
	}
	err := env.reg.ReplaceAll(context.Background(), dup)
	if err == nil || !strings.Contains(err.Error(), "duplicate label") {
		t.Fatalf("err = %v, want duplicate label", err)
	}

	if oldHandle.stops.Load() != 0 {
		t.Error("validation failure stopped the old helper")
	}
	if env.reg.Len() != 1 || env.reg.Repos()[0].Label != "old" {
		t.Error("validation failure disturbed the repo set")
	}

	if err := env.reg.ReplaceAll(context.Background(), nil); err == nil {
		t.Error("empty set accepted")
	}
}

func TestReplaceAllStartFailureDegradesRepo(t *testing.T) {
	oldDir := makeGitDir(t)
	goodDir := makeGitDir(t)
	badDir := makeGitDir(t)

	env := newTestEnv(t, []repo.Repo{{Label: "old", Path: oldDir}}, pairsOf(1))
	env.reg.Init(context.Background())

	// One new repo fails its helper start; the swap still succeeds with
	// that repo empty.
	env.starter.errFor = badDir

	newRepos := []repo.Repo{
		{Label: "good", Path: goodDir},
		{Label: "bad", Path: badDir},
	}
	if err := env.reg.ReplaceAll(context.Background(), newRepos); err != nil {
		t.Fatal(err)
	}

	goodIdx := env.reg.IndexByLabel("good")
	badIdx := env.reg.IndexByLabel("bad")

	pairs, _ := env.reg.Snapshot(goodIdx)
	if len(pairs) != 1 {
		t.Errorf("good repo: %d pairs, want 1", len(pairs))
	}
	pairs, _ = env.reg.Snapshot(badIdx)
	if len(pairs) != 0 {
		t.Errorf("degraded repo: %d pairs, want 0", len(pairs))
	}
}

func TestReplaceAllRollsBackOnFailure(t *testing.T) {
	oldDir := makeGitDir(t)
	newDir := makeGitDir(t)

	starter := &fakeStarter{}
	sum := &fakeChecksum{val: "base"}

	// Compute fails only for the new repo's temp trees, which is an
	// unrecoverable bring-up error and triggers rollback. The fake
	// starter derives tree paths from the repo's workDir.
	reg := NewRegistry(Config{
		Repos:        []repo.Repo{{Label: "old", Path: oldDir}},
		WatchEnabled: true,
		Logger:       quietLogger(),
		Starter:      starter,
		Compute: func(leftDir, rightDir string) ([]snapshot.FilePair, error) {
			if strings.HasPrefix(leftDir, newDir) {
				return nil, os.ErrInvalid
			}
			return pairsOf(2), nil
		},
		Checksum: sum.fn,
	})
	reg.Init(context.Background())

	err := reg.ReplaceAll(context.Background(), []repo.Repo{{Label: "new", Path: newDir}})
	if err == nil {
		t.Fatal("expected replacement failure")
	}

	// Old set restored and brought back up.
	if reg.Len() != 1 || reg.Repos()[0].Label != "old" {
		t.Fatalf("rollback did not restore repos: %+v", reg.Repos())
	}
	pairs, err := reg.Snapshot(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Errorf("restored repo: %d pairs, want 2", len(pairs))
	}
}
