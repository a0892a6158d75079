package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/diffdeck/diffdeck/internal/difftool"
	"github.com/diffdeck/diffdeck/internal/snapshot"
)

// Refresh re-runs the comparison for the repository at idx and publishes a
// new snapshot. When newArgs is non-nil it replaces the repository's diff
// arguments; nil keeps the current ones.
//
// Returns the number of published file pairs. A concurrent refresh for the
// same repository is rejected with ErrReloadInProgress, never queued. A
// failed attempt leaves the previously published snapshot untouched.
func (reg *Registry) Refresh(ctx context.Context, idx int, newArgs []string) (int, error) {
	// Held shared for the whole refresh: bulk replacement takes the
	// write side, so a swap can never interleave with this work.
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	if idx < 0 || idx >= len(reg.states) {
		return 0, ErrInvalidRepo
	}
	return reg.refreshState(ctx, reg.states[idx], newArgs)
}

// refreshState drives one repository through a full refresh. Caller holds
// the registry lock (shared or exclusive).
func (reg *Registry) refreshState(ctx context.Context, st *RepoState, newArgs []string) (n int, err error) {
	if !st.reload.TryLock() {
		return 0, ErrReloadInProgress
	}
	defer st.reload.Unlock()

	args := newArgs
	if args == nil {
		st.mu.RLock()
		args = append([]string(nil), st.pub.diffArgs...)
		st.mu.RUnlock()
	}

	reg.logger.Printf("repo %s: refreshing (args: %v)", st.repo.Label, args)

	// Never two live helpers for one repository: the old process must be
	// gone before a new one starts, or its temp trees could be confused
	// with the new ones.
	if old := st.swapProc(nil); old != nil {
		old.Stop()
	}

	proc, err := reg.starter.Start(ctx, args, st.repo.Path)
	if errors.Is(err, difftool.ErrNoDifferences) {
		reg.publish(ctx, st, nil, nil, args)
		reg.logger.Printf("repo %s: no differences", st.repo.Label)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("repo %s: %w", st.repo.Label, err)
	}

	left, right := proc.Dirs()
	pairs, err := reg.compute(left, right)
	if err != nil {
		// The fresh helper is useless without a snapshot; the previous
		// published state stays in place.
		proc.Stop()
		return 0, fmt.Errorf("repo %s: compute diff: %w", st.repo.Label, err)
	}

	reg.publish(ctx, st, proc, pairs, args)
	reg.logger.Printf("repo %s: published %d file pairs", st.repo.Label, len(pairs))
	return len(pairs), nil
}

// publish installs the new process handle, snapshot, and diff arguments,
// and resets the change-detection baseline. A refresh that rediscovers the
// same diff therefore reads as "unchanged" to subsequent watch queries.
func (reg *Registry) publish(ctx context.Context, st *RepoState, proc Handle, pairs []snapshot.FilePair, args []string) {
	// The previous handle was already cleared at the start of the
	// refresh; stop any stray that slipped in regardless.
	if old := st.swapProc(proc); old != nil {
		old.Stop()
	}

	sum, err := reg.checksum(ctx, st.repo.Path, args)
	if err != nil {
		reg.logger.Printf("repo %s: checksum failed: %v", st.repo.Label, err)
		sum = ""
	}

	st.mu.Lock()
	st.pub = published{
		pairs:    pairs,
		diffArgs: append([]string(nil), args...),
		initial:  sum,
		current:  sum,
	}
	st.mu.Unlock()
}

// UpdateChecksum recomputes the repository's current checksum without
// touching the baseline or the snapshot. Transient failures skip the
// update; the next watch cycle retries.
func (reg *Registry) UpdateChecksum(ctx context.Context, idx int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if idx < 0 || idx >= len(reg.states) {
		return
	}
	st := reg.states[idx]

	st.mu.RLock()
	args := append([]string(nil), st.pub.diffArgs...)
	st.mu.RUnlock()

	sum, err := reg.checksum(ctx, st.repo.Path, args)
	if err != nil {
		reg.logger.Printf("repo %s: watch checksum failed, will retry: %v", st.repo.Label, err)
		return
	}

	st.mu.Lock()
	if st.pub.current != sum {
		reg.logger.Printf("repo %s: diff change detected", st.repo.Label)
	}
	st.pub.current = sum
	drifted := st.pub.initial != "" && sum != st.pub.initial
	st.mu.Unlock()

	if drifted && reg.onChange != nil {
		reg.onChange(idx, st.repo.Label)
	}
}
