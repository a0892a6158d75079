package difftool

import (
	"errors"
	"fmt"
)

// ErrNoDifferences reports that the probe found the two sides identical.
// It is a legitimate empty result, not a failure.
var ErrNoDifferences = errors.New("no differences")

// ProbeError reports that the pre-flight difference probe itself failed
// (unexpected exit code, timeout, or a broken git invocation).
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("difference probe failed: %v", e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ProtocolError reports that the helper process violated its two-line
// stdout contract: a line was missing, empty, or did not arrive in time.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("difftool protocol violation: %s", e.Detail)
}

// MissingDirsError reports that the helper handed back paths that do not
// exist or are not directories.
type MissingDirsError struct {
	Left  string
	Right string
}

func (e *MissingDirsError) Error() string {
	return fmt.Sprintf("difftool temp directories missing: left=%q right=%q", e.Left, e.Right)
}
