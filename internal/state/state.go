// Package state owns the per-repository diff lifecycle.
//
// Each configured repository gets a RepoState holding its published diff
// snapshot, its change checksums, and the handle to its difftool helper
// process. The Registry is the ordered collection of those states and the
// entry point for every orchestration operation: refresh, change queries,
// snapshot reads, and atomic bulk replacement of the repository set.
//
// The published (snapshot, checksums, diff args) record sits behind a
// single RWMutex so a reader never observes a fresh snapshot next to a
// stale checksum. The process handle has its own lock because nothing on
// the read path touches it, and the reload gate is a separate try-lock so
// contending refreshes are rejected rather than queued.
package state

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"

	"github.com/diffdeck/diffdeck/internal/difftool"
	"github.com/diffdeck/diffdeck/internal/repo"
	"github.com/diffdeck/diffdeck/internal/snapshot"
)

// ErrInvalidRepo reports a repository index outside the registry's bounds.
var ErrInvalidRepo = errors.New("invalid repo index")

// ErrReloadInProgress reports that another refresh holds the repo's reload
// gate. Callers retry later; refreshes are never queued.
var ErrReloadInProgress = errors.New("reload already in progress")

// Handle is a started helper process pinning one comparison's temp trees.
// *difftool.Process satisfies it through the state.Launcher adapter.
type Handle interface {
	// Dirs returns the left and right temp tree paths.
	Dirs() (left, right string)

	// Stop terminates the helper. Idempotent.
	Stop()
}

// Starter launches helper processes. It must return
// difftool.ErrNoDifferences (possibly wrapped) when the probe finds the
// sides identical.
type Starter interface {
	Start(ctx context.Context, diffArgs []string, workDir string) (Handle, error)
}

// ComputeFunc produces the file-pair list for two materialized trees.
type ComputeFunc func(leftDir, rightDir string) ([]snapshot.FilePair, error)

// ChecksumFunc fingerprints the raw diff output for a repository and
// argument set.
type ChecksumFunc func(ctx context.Context, repoPath string, diffArgs []string) (string, error)

// published is the atomically replaced read-side record of a RepoState.
type published struct {
	pairs    []snapshot.FilePair
	diffArgs []string

	// initial is the checksum baseline set when the snapshot was
	// published; current is continuously refreshed by the watcher.
	// Empty string means "not computed".
	initial string
	current string
}

// RepoState is the mutable orchestration state for one repository.
type RepoState struct {
	repo repo.Repo

	mu  sync.RWMutex
	pub published

	procMu sync.Mutex
	proc   Handle

	// reload is used only via TryLock: held for the full duration of one
	// refresh, released on every exit path.
	reload sync.Mutex
}

func newRepoState(r repo.Repo, diffArgs []string) *RepoState {
	st := &RepoState{repo: r}
	st.pub.diffArgs = append([]string(nil), diffArgs...)
	return st
}

// swapProc installs a new process handle and returns the previous one.
func (st *RepoState) swapProc(p Handle) Handle {
	st.procMu.Lock()
	defer st.procMu.Unlock()
	old := st.proc
	st.proc = p
	return old
}

// Config configures a Registry.
type Config struct {
	// Repos is the initial validated repository set.
	Repos []repo.Repo

	// DiffArgs are the initial diff arguments applied to every repo.
	DiffArgs []string

	// WatchEnabled gates change detection; when false, HasChanged always
	// reports false.
	WatchEnabled bool

	// Logger for orchestration activity. Defaults to a stderr logger.
	Logger *log.Logger

	// Starter launches helper processes. Defaults to the difftool
	// launcher running real git.
	Starter Starter

	// Compute builds snapshots from temp trees. Defaults to
	// snapshot.Compute.
	Compute ComputeFunc

	// Checksum fingerprints diff output. Defaults to GitChecksum.
	Checksum ChecksumFunc
}

// Registry is the ordered repository collection and its states.
//
// The registry mutex is held shared for the full duration of reads and
// refreshes, and exclusively by ReplaceAll, so a bulk swap can never
// interleave with an in-flight refresh.
type Registry struct {
	mu     sync.RWMutex
	repos  []repo.Repo
	states []*RepoState

	watchEnabled bool
	defaultArgs  []string
	logger       *log.Logger

	starter  Starter
	compute  ComputeFunc
	checksum ChecksumFunc

	onChange func(idx int, label string)
}

// SetOnChange registers a listener invoked when a repository's current
// checksum drifts from its baseline. Set once before the watcher starts;
// the listener must not block.
func (reg *Registry) SetOnChange(fn func(idx int, label string)) {
	reg.onChange = fn
}

// NewRegistry builds a registry for the given configuration. Call Init to
// produce the initial snapshots.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[state] ", log.LstdFlags)
	}

	starter := cfg.Starter
	if starter == nil {
		starter = Launcher{L: difftool.NewLauncher(logger)}
	}
	compute := cfg.Compute
	if compute == nil {
		compute = snapshot.Compute
	}
	checksum := cfg.Checksum
	if checksum == nil {
		checksum = GitChecksum
	}

	reg := &Registry{
		watchEnabled: cfg.WatchEnabled,
		defaultArgs:  append([]string(nil), cfg.DiffArgs...),
		logger:       logger,
		starter:      starter,
		compute:      compute,
		checksum:     checksum,
	}
	for _, r := range cfg.Repos {
		reg.repos = append(reg.repos, r)
		reg.states = append(reg.states, newRepoState(r, cfg.DiffArgs))
	}
	return reg
}

// Launcher adapts *difftool.Launcher to the Starter interface.
type Launcher struct {
	L *difftool.Launcher
}

// Start implements Starter.
func (l Launcher) Start(ctx context.Context, diffArgs []string, workDir string) (Handle, error) {
	p, err := l.L.Start(ctx, diffArgs, workDir)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Init produces the initial snapshot for every repository. Individual
// failures degrade that repository to an empty snapshot and are logged,
// never fatal.
func (reg *Registry) Init(ctx context.Context) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for i := range reg.states {
		reg.initState(ctx, reg.states[i])
	}
}

// initState runs one repository's first refresh under the caller's
// registry lock.
func (reg *Registry) initState(ctx context.Context, st *RepoState) {
	n, err := reg.refreshState(ctx, st, nil)
	if err != nil {
		reg.logger.Printf("repo %s: initial load failed, starting empty: %v", st.repo.Label, err)
		return
	}
	reg.logger.Printf("repo %s: loaded %d file pairs", st.repo.Label, n)
}

// Len returns the number of configured repositories.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.repos)
}

// Repos returns a copy of the current repository descriptors.
func (reg *Registry) Repos() []repo.Repo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return append([]repo.Repo(nil), reg.repos...)
}

// WatchEnabled reports whether change detection is active.
func (reg *Registry) WatchEnabled() bool {
	return reg.watchEnabled
}

// IndexByLabel returns the index of the repository with the given label,
// or -1 if no such repository exists.
func (reg *Registry) IndexByLabel(label string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for i, r := range reg.repos {
		if r.Label == label {
			return i
		}
	}
	return -1
}

// IndexByPath returns the index of the repository rooted at path, or -1.
func (reg *Registry) IndexByPath(path string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for i, r := range reg.repos {
		if r.Path == path {
			return i
		}
	}
	return -1
}

// Repo returns the descriptor at idx.
func (reg *Registry) Repo(idx int) (repo.Repo, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if idx < 0 || idx >= len(reg.repos) {
		return repo.Repo{}, ErrInvalidRepo
	}
	return reg.repos[idx], nil
}

// Snapshot returns the published file-pair list for the repository at idx.
// The returned slice is immutable; callers must not modify it.
func (reg *Registry) Snapshot(idx int) ([]snapshot.FilePair, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if idx < 0 || idx >= len(reg.states) {
		return nil, ErrInvalidRepo
	}

	st := reg.states[idx]
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.pub.pairs, nil
}

// DiffArgs returns the repository's current diff arguments.
func (reg *Registry) DiffArgs(idx int) ([]string, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if idx < 0 || idx >= len(reg.states) {
		return nil, ErrInvalidRepo
	}

	st := reg.states[idx]
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]string(nil), st.pub.diffArgs...), nil
}

// HasChanged reports whether the repository's diff has drifted from its
// published baseline. Always false when watch mode is disabled. This is a
// pure field read, safe at arbitrary frequency.
func (reg *Registry) HasChanged(idx int) (bool, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if idx < 0 || idx >= len(reg.states) {
		return false, ErrInvalidRepo
	}
	if !reg.watchEnabled {
		return false, nil
	}

	st := reg.states[idx]
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.pub.initial != "" && st.pub.current != "" &&
		st.pub.initial != st.pub.current, nil
}

// Shutdown stops every repository's helper process. Called once at server
// exit; the registry is not usable afterwards.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.logger.Printf("stopping %d difftool process(es)", len(reg.states))
	reg.stopAllLocked()
}

// stopAllLocked stops and clears every state's process handle. Caller
// holds the registry write lock.
func (reg *Registry) stopAllLocked() {
	for _, st := range reg.states {
		if old := st.swapProc(nil); old != nil {
			old.Stop()
		}
	}
}
