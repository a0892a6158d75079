package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/diffdeck/diffdeck/internal/difftool"
	"github.com/diffdeck/diffdeck/internal/repo"
)

// isStartFailure reports whether err is a helper start failure, which is
// recoverable per-repository rather than a reason to abort a bulk swap.
func isStartFailure(err error) bool {
	var probe *difftool.ProbeError
	var proto *difftool.ProtocolError
	var dirs *difftool.MissingDirsError
	return errors.As(err, &probe) || errors.As(err, &proto) || errors.As(err, &dirs)
}

// ReplaceAll atomically swaps the entire repository set.
//
// The candidate list is validated up front; validation failures abort with
// no side effects. The registry is held exclusively for the whole swap, so
// no refresh or read can interleave. On a failure while bringing the new
// set up, the previous set is restored and its helper processes restarted;
// if that rollback itself fails the registry may be left partially
// initialized, which is logged as critical but still returns the original
// failure rather than crashing.
func (reg *Registry) ReplaceAll(ctx context.Context, newRepos []repo.Repo) error {
	if err := repo.ValidateList(newRepos); err != nil {
		return fmt.Errorf("validate repos: %w", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	oldRepos := reg.repos
	oldStates := reg.states

	reg.logger.Printf("replacing repo set: %d -> %d repos", len(oldRepos), len(newRepos))

	// Old helpers are stopped before the swap so none is orphaned
	// mid-transition.
	reg.stopAllLocked()

	reg.repos = append([]repo.Repo(nil), newRepos...)
	reg.states = make([]*RepoState, 0, len(newRepos))
	for _, r := range newRepos {
		reg.states = append(reg.states, newRepoState(r, reg.defaultArgs))
	}

	if err := reg.bringUpLocked(ctx); err != nil {
		reg.logger.Printf("repo replacement failed, rolling back: %v", err)

		reg.repos = oldRepos
		reg.states = oldStates
		if rbErr := reg.bringUpLocked(ctx); rbErr != nil {
			reg.logger.Printf("CRITICAL: rollback failed, registry partially initialized: %v", rbErr)
		}

		return fmt.Errorf("replace repos: %w", err)
	}

	reg.logger.Printf("repo set replaced: %d repos active", len(newRepos))
	return nil
}

// bringUpLocked refreshes every state in the registry. Caller holds the
// write lock. Helper start failures degrade that repository to an empty
// snapshot and continue; anything else aborts the bring-up.
func (reg *Registry) bringUpLocked(ctx context.Context) error {
	for _, st := range reg.states {
		_, err := reg.refreshState(ctx, st, nil)
		if err == nil {
			continue
		}
		if isStartFailure(err) {
			reg.logger.Printf("repo %s: starting empty: %v", st.repo.Label, err)
			continue
		}
		return err
	}
	return nil
}
