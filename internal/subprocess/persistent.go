package subprocess

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// persistent-mode wire format, matching honggfuzz's HF_ITER exactly: a
// 4-byte length prefix followed by the payload, with a single 'A' ack
// byte sent by the child once it has finished processing that
// iteration and is ready for the next one.
const ackByte = 'A'

// persistentFDEnv names the environment variable a persistent-mode
// target reads to learn which inherited descriptor is its socketpair
// half. honggfuzz hands this fd 1023 directly; Go's os/exec always
// places ExtraFiles[0] at fd 3 in the child, so the fd number is
// communicated by env var instead of by a fixed well-known number
// (the same ExtraFiles deviation documented for the bitmap fd in
// internal/backend/softbitmap.go and its internal/engine call site).
const persistentFDEnv = "HFGO_PERSISTENT_FD"

// PersistentSession drives one long-lived child across many
// iterations over a connected socket (a unix socketpair half handed
// to the child as an inherited fd, see persistentFDEnv).
type PersistentSession struct {
	conn net.Conn
}

// NewPersistentSession wraps conn, the parent's half of the
// socketpair bound to the child's persistent-mode fd.
func NewPersistentSession(conn net.Conn) *PersistentSession {
	return &PersistentSession{conn: conn}
}

// Iterate delivers one fuzzing iteration's payload to the child and
// blocks until its ack arrives. A non-nil error means the connection
// broke or spoke a malformed ack — either way the child must be
// treated as dead and relaunched before the next iteration.
func (s *PersistentSession) Iterate(data []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := s.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("persistent: write length: %w", err)
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("persistent: write payload: %w", err)
	}
	if err := s.readAck(); err != nil {
		return fmt.Errorf("persistent: ack: %w", err)
	}
	return nil
}

func (s *PersistentSession) readAck() error {
	var b [1]byte
	n, err := s.conn.Read(b[:])
	if err != nil {
		return err
	}
	if n != 1 || b[0] != ackByte {
		return fmt.Errorf("persistent: expected ack byte %q, got %v (n=%d)", ackByte, b, n)
	}
	return nil
}

// Close tears down the session's socket half.
func (s *PersistentSession) Close() error {
	return s.conn.Close()
}

// PersistentChild is one long-lived target process reused across many
// persistent-mode iterations, in place of a fresh fork/exec per
// iteration.
type PersistentChild struct {
	cmd       *exec.Cmd
	session   *PersistentSession
	stderrBuf *boundedBuffer

	waitOnce sync.Once
	waitRes  Result
}

// LaunchPersistent forks the target once, wires a socketpair between
// parent and child before exec the way honggfuzz wires _HF_PERSISTENT_FD,
// and returns a PersistentChild ready to drive via Iterate. inputPath
// still substitutes ___FILE___ in argv for targets that name both a
// persistent-mode fd and a file argument.
func (l *Launcher) LaunchPersistent(ctx context.Context, inputPath string) (*PersistentChild, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("subprocess: rate limiter: %w", err)
		}
	}

	parentFD, childFD, err := socketpair()
	if err != nil {
		return nil, err
	}

	argv := substituteFile(l.cfg.CmdLine, inputPath)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.ExtraFiles = []*os.File{childFD}

	fdEnv := fmt.Sprintf("%s=%d", persistentFDEnv, 3)
	if l.cfg.ClearEnv {
		cmd.Env = append(append([]string{}, l.cfg.Env...), fdEnv)
	} else {
		cmd.Env = append(append(os.Environ(), l.cfg.Env...), fdEnv)
	}

	var stderrBuf *boundedBuffer
	if l.cfg.NullifyStdio {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			childFD.Close()
			parentFD.Close()
			return nil, err
		}
		defer devNull.Close()
		cmd.Stdout = devNull
		cmd.Stderr = devNull
	} else {
		stderrBuf = &boundedBuffer{limit: reportBufferLimit}
		cmd.Stderr = stderrBuf
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		childFD.Close()
		parentFD.Close()
		return nil, fmt.Errorf("subprocess: start persistent child: %w", err)
	}
	childFD.Close()

	if l.cfg.ASLimitBytes > 0 {
		applyASLimit(cmd.Process.Pid, l.cfg.ASLimitBytes)
	}

	conn, err := net.FileConn(parentFD)
	parentFD.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("subprocess: persistent conn: %w", err)
	}

	return &PersistentChild{
		cmd:       cmd,
		session:   NewPersistentSession(conn),
		stderrBuf: stderrBuf,
	}, nil
}

// Pid reports the child's process id.
func (c *PersistentChild) Pid() int { return c.cmd.Process.Pid }

// ReportText returns whatever stderr this child has emitted so far:
// unlike a fresh Run, a persistent child's stderr accumulates across
// every iteration it has survived.
func (c *PersistentChild) ReportText() []byte {
	if c.stderrBuf == nil {
		return nil
	}
	return c.stderrBuf.buf
}

// Iterate drives one fuzzing iteration against the live child under
// the same soft/hard timeout escalation a fresh Run uses. alive
// reports whether the child acked and is ready for another iteration;
// alive==false means it crashed, exited, or was killed for running
// past its hard timeout, and the caller must Wait (or Close, on
// timeout) and launch a replacement before continuing.
func (c *PersistentChild) Iterate(data []byte, soft, hard time.Duration) (alive bool, timedOut bool) {
	timer := newKillTimer(c.cmd.Process.Pid, soft, hard)
	timer.Start()
	defer timer.Stop()

	if err := c.session.Iterate(data); err != nil {
		return false, timer.Fired()
	}
	return true, timer.Fired()
}

// Wait reaps a child that Iterate already reported dead, returning a
// Result shaped exactly like a fresh Run's so the caller can classify
// it identically.
func (c *PersistentChild) Wait() Result {
	return c.reap()
}

// Close kills the child if it is still alive (the hard-timeout path,
// or end-of-run teardown) and reaps it.
func (c *PersistentChild) Close() {
	_ = c.session.Close()
	if c.cmd.Process != nil {
		_ = syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL)
	}
	c.reap()
}

func (c *PersistentChild) reap() Result {
	c.waitOnce.Do(func() {
		err := c.cmd.Wait()
		res := Result{Pid: c.cmd.Process.Pid}
		if c.stderrBuf != nil {
			res.ReportText = c.stderrBuf.buf
		}
		var exitErr *exec.ExitError
		if err != nil && asExitError(err, &exitErr) {
			ws := exitErr.Sys().(syscall.WaitStatus)
			if ws.Signaled() {
				res.Signal = ws.Signal()
			} else {
				res.ExitCode = ws.ExitStatus()
			}
		}
		c.waitRes = res
	})
	return c.waitRes
}

// socketpair creates an AF_UNIX SOCK_STREAM pair, one half kept by the
// parent and one handed to the about-to-exec child.
func socketpair() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("subprocess: socketpair: %w", err)
	}
	parent = os.NewFile(uintptr(fds[0]), "persistent-parent")
	child = os.NewFile(uintptr(fds[1]), "persistent-child")
	return parent, child, nil
}
