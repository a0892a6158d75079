// Package difftool launches and supervises the external helper process
// that materializes the two temporary trees of a git diff.
//
// The helper is "git difftool -d" with an embedded wrapper script as the
// tool. The wrapper prints the left and right directory paths on its first
// two stdout lines and then sleeps; the directories stay valid only while
// the helper is alive, so every Process must be stopped when its trees are
// no longer needed.
package difftool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	_ "embed"

	"github.com/diffdeck/diffdeck/internal/gitcli"
)

//go:embed wrapper.sh
var wrapperScript []byte

const (
	// probeTimeout bounds the pre-flight "git diff --quiet" check.
	probeTimeout = 30 * time.Second

	// protocolTimeout bounds the wait for the wrapper's two stdout lines.
	protocolTimeout = 30 * time.Second

	// stopGrace is how long Stop waits after SIGTERM before SIGKILL.
	stopGrace = 5 * time.Second
)

// Launcher starts difftool helper processes for one or more repositories.
// The zero value is not usable; call NewLauncher.
type Launcher struct {
	logger *log.Logger

	// git overrides the git binary, for tests.
	git string

	wrapperOnce sync.Once
	wrapperPath string
	wrapperErr  error
}

// NewLauncher creates a Launcher. A nil logger falls back to log.Default.
func NewLauncher(logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Launcher{logger: logger}
}

// Process is a running difftool helper and the temp trees it pins.
type Process struct {
	// LeftDir and RightDir are the materialized "before" and "after" trees.
	LeftDir  string
	RightDir string

	cmd    *exec.Cmd
	waitCh chan error

	mu      sync.Mutex
	stopped bool
}

// wrapper returns the path of the materialized wrapper script, writing it
// to the temp directory on first use.
func (l *Launcher) wrapper() (string, error) {
	l.wrapperOnce.Do(func() {
		f, err := os.CreateTemp("", "diffdeck-wrapper-*.sh")
		if err != nil {
			l.wrapperErr = fmt.Errorf("create wrapper script: %w", err)
			return
		}
		if _, err := f.Write(wrapperScript); err != nil {
			f.Close()
			l.wrapperErr = fmt.Errorf("write wrapper script: %w", err)
			return
		}
		if err := f.Close(); err != nil {
			l.wrapperErr = fmt.Errorf("close wrapper script: %w", err)
			return
		}
		if err := os.Chmod(f.Name(), 0o755); err != nil {
			l.wrapperErr = fmt.Errorf("chmod wrapper script: %w", err)
			return
		}
		l.wrapperPath = f.Name()
	})
	return l.wrapperPath, l.wrapperErr
}

// Start probes for differences and, if any exist, launches the helper
// process for the given diff arguments in workDir.
//
// Returns ErrNoDifferences when the probe reports the sides identical,
// *ProbeError when the probe itself fails, *ProtocolError when the helper
// does not produce its two non-empty stdout lines in time, and
// *MissingDirsError when the reported paths are not directories. On any
// failure after launch, the helper is killed before returning.
func (l *Launcher) Start(ctx context.Context, diffArgs []string, workDir string) (*Process, error) {
	runner := &gitcli.Runner{Dir: workDir, Git: l.git}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	differs, err := runner.DiffQuiet(probeCtx, diffArgs)
	if err != nil {
		return nil, &ProbeError{Err: err}
	}
	if !differs {
		return nil, ErrNoDifferences
	}

	wrapper, err := l.wrapper()
	if err != nil {
		return nil, &ProbeError{Err: err}
	}

	args := append([]string{"difftool", "-d", "-x", wrapper}, diffArgs...)
	cmd := runner.Command(context.Background(), args...)
	// Own process group so Stop can signal the wrapper's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProbeError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	cmd.Stderr = io.Discard

	l.logger.Printf("starting difftool in %s (args: %v)", workDir, diffArgs)

	if err := cmd.Start(); err != nil {
		return nil, &ProbeError{Err: fmt.Errorf("start difftool: %w", err)}
	}

	proc := &Process{
		cmd:    cmd,
		waitCh: make(chan error, 1),
	}
	go func() {
		proc.waitCh <- cmd.Wait()
	}()

	left, right, err := readTempDirs(stdout)
	if err != nil {
		proc.kill()
		return nil, err
	}

	if !isDir(left) || !isDir(right) {
		proc.kill()
		return nil, &MissingDirsError{Left: left, Right: right}
	}

	proc.LeftDir = left
	proc.RightDir = right

	l.logger.Printf("difftool temp dirs: %s, %s", left, right)
	return proc, nil
}

// readTempDirs reads the wrapper's two-line handshake within the protocol
// deadline.
func readTempDirs(stdout io.Reader) (string, string, error) {
	type handshake struct {
		left, right string
		err         error
	}

	ch := make(chan handshake, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		var lines []string
		for len(lines) < 2 && scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if len(lines) < 2 {
			ch <- handshake{err: &ProtocolError{Detail: fmt.Sprintf("helper produced %d of 2 expected lines", len(lines))}}
			return
		}
		if lines[0] == "" || lines[1] == "" {
			ch <- handshake{err: &ProtocolError{Detail: "helper produced an empty directory line"}}
			return
		}
		ch <- handshake{left: lines[0], right: lines[1]}
	}()

	select {
	case h := <-ch:
		return h.left, h.right, h.err
	case <-time.After(protocolTimeout):
		return "", "", &ProtocolError{Detail: "timed out waiting for directory lines"}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Dirs returns the left and right temp tree paths.
func (p *Process) Dirs() (string, string) {
	return p.LeftDir, p.RightDir
}

// Stop terminates the helper gracefully, escalating to SIGKILL after the
// grace period, and always reaps the exit status. It is idempotent and
// safe to call on an already-exited process.
func (p *Process) Stop() {
	if p == nil {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.signal(syscall.SIGTERM)

	select {
	case <-p.waitCh:
		return
	case <-time.After(stopGrace):
	}

	p.signal(syscall.SIGKILL)
	<-p.waitCh
}

// kill is the non-graceful teardown used on failed startup paths.
func (p *Process) kill() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.signal(syscall.SIGKILL)
	<-p.waitCh
}

// signal delivers sig to the helper's process group, falling back to the
// process itself if the group is gone.
func (p *Process) signal(sig syscall.Signal) {
	if p.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}
