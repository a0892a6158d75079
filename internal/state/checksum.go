package state

import (
	"context"
	"fmt"
	"time"

	"github.com/diffdeck/diffdeck/internal/gitcli"
	"github.com/zeebo/xxh3"
)

// checksumTimeout bounds one raw diff invocation for fingerprinting.
const checksumTimeout = 30 * time.Second

// GitChecksum fingerprints the raw "git diff" output for the repository
// and argument set. The hash is a 128-bit xxh3 of the diff bytes; equal
// checksums mean the textual diff is unchanged.
func GitChecksum(ctx context.Context, repoPath string, diffArgs []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, checksumTimeout)
	defer cancel()

	raw, err := gitcli.New(repoPath).RawDiff(ctx, diffArgs)
	if err != nil {
		return "", fmt.Errorf("checksum diff for %s: %w", repoPath, err)
	}

	sum := xxh3.Hash128(raw).Bytes()
	return fmt.Sprintf("%x", sum), nil
}
