// Package subprocess drives the fuzzed target as a child process:
// fork/exec with prepared file descriptors, stdio nullification,
// address-space limiting, ___FILE___ substitution, and
// persistent-mode reuse of a single long-lived child across
// iterations, built on Go's os/exec plus golang.org/x/sys/unix for the
// raw process control POSIX signal delivery and rlimits require.
package subprocess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Config describes how to launch and constrain the target.
type Config struct {
	CmdLine      []string // target argv; "___FILE___" is replaced with the input file path
	FuzzStdin    bool     // feed the input on stdin instead of via ___FILE___
	NullifyStdio bool     // redirect child stdout/stderr to /dev/null
	ClearEnv     bool     // exec with an empty environment
	Env          []string // extra environment variables, appended unless ClearEnv
	ASLimitBytes uint64   // RLIMIT_AS cap, 0 disables the limit
	TimeoutSoft  time.Duration
	TimeoutHard  time.Duration
	Persistent   bool
}

// Launcher forks target processes at a bounded rate via
// golang.org/x/time/rate, throttling fork/exec bursts the way an HTTP
// client throttles outbound request bursts.
type Launcher struct {
	cfg     Config
	limiter *rate.Limiter
}

// NewLauncher creates a Launcher. forksPerSecond <= 0 disables
// throttling.
func NewLauncher(cfg Config, forksPerSecond float64) *Launcher {
	var limiter *rate.Limiter
	if forksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(forksPerSecond), 1)
	}
	return &Launcher{cfg: cfg, limiter: limiter}
}

// reportBufferLimit bounds how much of a child's stderr is retained
// for the crash report: enough for a sanitizer/assert backtrace
// without letting a chatty target exhaust memory across many workers.
const reportBufferLimit = 8 * 1024

// boundedBuffer caps how much of a write is retained while still
// reporting the full length written, so capturing a child's stderr
// never makes its writes short or blocking.
type boundedBuffer struct {
	buf   []byte
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if room > len(p) {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

// Result is what a single (non-persistent) iteration observed.
type Result struct {
	Pid        int
	ExitCode   int
	Signal     syscall.Signal
	TimedOut   bool
	Duration   time.Duration
	// ReportText is up to reportBufferLimit bytes of the child's
	// stderr, captured whenever NullifyStdio is off. Empty when
	// NullifyStdio discarded the child's output instead.
	ReportText []byte
}

// Run forks, execs, and waits for one iteration's target invocation
// using inputPath as the ___FILE___/stdin payload. extraFiles carries
// whatever extra descriptors a FeedbackBackend wants inherited; os/exec
// places extraFiles[i] at fd 3+i in the child, not at 1022/1023.
func (l *Launcher) Run(ctx context.Context, inputPath string, extraFiles []*os.File) (Result, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("subprocess: rate limiter: %w", err)
		}
	}

	argv := substituteFile(l.cfg.CmdLine, inputPath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.ExtraFiles = extraFiles

	if l.cfg.ClearEnv {
		cmd.Env = append([]string{}, l.cfg.Env...)
	} else {
		cmd.Env = append(os.Environ(), l.cfg.Env...)
	}

	if l.cfg.FuzzStdin {
		f, err := os.Open(inputPath)
		if err != nil {
			return Result{}, err
		}
		defer f.Close()
		cmd.Stdin = f
	}

	var stderrBuf *boundedBuffer
	if l.cfg.NullifyStdio {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return Result{}, err
		}
		defer devNull.Close()
		cmd.Stdout = devNull
		cmd.Stderr = devNull
	} else {
		// Captured rather than left nil (which os/exec would otherwise
		// connect to /dev/null itself) so the classifier's backtrace
		// fallback has real report text to hash.
		stderrBuf = &boundedBuffer{limit: reportBufferLimit}
		cmd.Stderr = stderrBuf
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("subprocess: start: %w", err)
	}
	// The child has its own dup'd copies of extraFiles after fork/exec;
	// closing the parent's copies here is what lets a parent-side pipe
	// reader observe EOF once the child exits instead of blocking
	// forever on the parent's own still-open write end.
	for _, f := range extraFiles {
		_ = f.Close()
	}

	if l.cfg.ASLimitBytes > 0 {
		applyASLimit(cmd.Process.Pid, l.cfg.ASLimitBytes)
	}

	timer := newKillTimer(cmd.Process.Pid, l.cfg.TimeoutSoft, l.cfg.TimeoutHard)
	timer.Start()
	defer timer.Stop()

	err := cmd.Wait()
	duration := time.Since(start)

	res := Result{Pid: cmd.Process.Pid, Duration: duration, TimedOut: timer.Fired()}
	if stderrBuf != nil {
		res.ReportText = stderrBuf.buf
	}
	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		ws := exitErr.Sys().(syscall.WaitStatus)
		if ws.Signaled() {
			res.Signal = ws.Signal()
		} else {
			res.ExitCode = ws.ExitStatus()
		}
		return res, nil
	}
	return res, err
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// substituteFile replaces the literal "___FILE___" argv token with
// path, matching honggfuzz's command-line file-substitution contract.
func substituteFile(cmdLine []string, path string) []string {
	out := make([]string, len(cmdLine))
	for i, arg := range cmdLine {
		out[i] = strings.ReplaceAll(arg, "___FILE___", path)
	}
	return out
}

// applyASLimit sets RLIMIT_AS on the already-started child via
// prlimit64 on its pid, which Linux permits for same-uid children.
// honggfuzz applies this from inside the child itself, between fork and
// exec (posix/arch.c's arch_prepareAddressSpaceLimit); Go's os/exec has
// no pre-exec hook, so here the limit takes effect only once the target
// is already running, and a failure is ignored.
func applyASLimit(pid int, limitBytes uint64) {
	rlimit := unix.Rlimit{Cur: limitBytes, Max: limitBytes}
	_ = unix.Prlimit(pid, unix.RLIMIT_AS, &rlimit, nil)
}
