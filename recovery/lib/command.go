package recovery_lib

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kis8ya/elliptics-qa/elliptics"
)

// Mode of the recovery tool.
type Mode string

const (
	ModeDC    Mode = "dc"
	ModeMerge Mode = "merge"
)

const defaultTool = "dnet_recovery"

type CommandOptions struct {
	Tool   string
	Mode   Mode
	Remote *elliptics.Node
	Groups []int
	// OneNode restricts the recovery to keys of a node, it replaces Remote
	OneNode  *elliptics.Node
	NProcess int
	DumpFile string
}

// RecoveryCommand assembles the recovery tool command line.
func RecoveryCommand(o CommandOptions) ([]string, error) {
	if o.Mode != ModeDC && o.Mode != ModeMerge {
		return nil, errors.Newf("unknown recovery mode %q", o.Mode)
	}
	if len(o.Groups) == 0 {
		return nil, errors.New("recovery needs groups")
	}
	if o.Remote == nil && o.OneNode == nil {
		return nil, errors.New("recovery needs a remote or a node")
	}
	tool := o.Tool
	if tool == "" {
		tool = defaultTool
	}
	cmd := []string{tool}
	if o.OneNode == nil {
		cmd = append(cmd, "--remote", o.Remote.Remote())
	}
	cmd = append(cmd, "--groups", joinInts(o.Groups))
	if o.OneNode != nil {
		cmd = append(cmd, "--one-node", o.OneNode.Remote())
	}
	if o.NProcess > 0 {
		cmd = append(cmd, "--nprocess", strconv.Itoa(o.NProcess))
	}
	if o.DumpFile != "" {
		cmd = append(cmd, "--dump-file", o.DumpFile)
	}
	return append(cmd, string(o.Mode)), nil
}

// Result of a recovery run. A run past its deadline has TimedOut set and
// the exit code the kill produced.
type Result struct {
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
}

type Runner interface {
	Run(ctx context.Context, args []string) (Result, error)
}

type RunnerFunc func(ctx context.Context, args []string) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, args []string) (Result, error) {
	return f(ctx, args)
}

// ExecRunner runs the tool as a child process in a process group of its own.
type ExecRunner struct {
	Timeout time.Duration
	// Output receives stdout and stderr of the tool
	Output io.Writer
}

const pipeWaitDelay = 5 * time.Second

func killGroup(pgid int) {
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logf.Log.Info("Failed to kill process group", "pgid", pgid, "error", err)
	}
}

// waitError drops the exit status of a tool that ran, which the exit code
// already carries, and keeps failures to copy its output.
func waitError(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func exitCode(ps *os.ProcessState) int {
	if ps == nil {
		return -1
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}

// Run starts args and waits for it up to the deadline. On expiry the whole
// process group is killed. The error is only set when the tool could not
// be started or ctx was cancelled.
func (r *ExecRunner) Run(ctx context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, errors.New("empty command")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeWaitDelay
	if r.Output != nil {
		cmd.Stdout = r.Output
		cmd.Stderr = r.Output
	}
	logf.Log.Info("Running recovery", "cmd", strings.Join(args, " "), "timeout", r.Timeout)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, errors.Wrapf(err, "start %s", args[0])
	}
	pgid := cmd.Process.Pid

	waitCh := make(chan struct{})
	go func() {
		if err := waitError(cmd.Wait()); err != nil {
			logf.Log.Error(err, "Failed to collect recovery output", "pid", pgid)
		}
		close(waitCh)
	}()

	var res Result
	select {
	case <-waitCh:
	case <-ctx.Done():
		killGroup(pgid)
		<-waitCh
		res.TimedOut = true
	}
	res.ExitCode = exitCode(cmd.ProcessState)
	res.Elapsed = time.Since(start)
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGABRT {
		// workers of an aborted tool keep running otherwise
		killGroup(pgid)
	}
	logf.Log.Info("Recovery finished", "exitCode", res.ExitCode, "timedOut", res.TimedOut, "elapsed", res.Elapsed)
	if res.TimedOut && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, ctx.Err()
	}
	return res, nil
}
