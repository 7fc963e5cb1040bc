// Package procexec is the Child Launcher and the low-level half of the
// Reaper: it spawns managed programs as process-group leaders with their
// output streams redirected, and it drains terminated children using the
// host's non-blocking wait primitive.
package procexec

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kornnellio/gosv/internal/config"
)

// Spawn forks and execs a program's command through /bin/sh -c, placing
// the child in its own process group (pgid == pid) so that group-targeted
// signals reach the whole descendant tree. It returns the running *exec.Cmd
// and its pid, or an error if fork/exec itself failed — the runtime slot
// is left untouched by the caller in that case.
func Spawn(p config.Program) (*exec.Cmd, int, error) {
	cmd := exec.Command("/bin/sh", "-c", p.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	stdout, stderr, closeFDs, err := openStreams(p.StdoutPath, p.StderrPath)
	if err != nil {
		// Output-redirection open failure: log and proceed with the
		// inherited stream for that side, per spec §7.
		fmt.Fprintf(os.Stderr, "supervisor: %s: %v, using inherited stream\n", p.Name, err)
	}
	defer closeFDs()

	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = os.Stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("fork/exec %s: %w", p.Name, err)
	}

	return cmd, cmd.Process.Pid, nil
}

// openStreams opens the requested redirection targets with create-append
// semantics. When both paths are set and identical, the descriptor is
// shared between stdout and stderr rather than opened twice. The returned
// closer releases the *os.File handles this function opened once the
// child has inherited them via cmd.Start — *os.File write calls are
// unbuffered at the Go level, so no separate "disable buffering" step is
// needed the way the original's setvbuf(..., _IONBF, 0) was.
func openStreams(stdoutPath, stderrPath string) (stdout, stderr *os.File, closer func(), err error) {
	const flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	closer = func() {
		if stdout != nil {
			stdout.Close()
		}
		if stderr != nil && stderr != stdout {
			stderr.Close()
		}
	}

	var firstErr error
	if stdoutPath != "" {
		f, oerr := os.OpenFile(stdoutPath, flags, 0644)
		if oerr != nil {
			firstErr = fmt.Errorf("open stdout %s: %w", stdoutPath, oerr)
		} else {
			stdout = f
		}
	}

	if stderrPath != "" {
		if stdoutPath != "" && stderrPath == stdoutPath && stdout != nil {
			stderr = stdout
		} else {
			f, oerr := os.OpenFile(stderrPath, flags, 0644)
			if oerr != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("open stderr %s: %w", stderrPath, oerr)
				}
			} else {
				stderr = f
			}
		}
	}

	return stdout, stderr, closer, firstErr
}

// Signal delivers sig to the entire process group led by pid (i.e. the
// negated pid), so that shell-launched descendant trees are reached too.
func Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal non-positive pid %d", pid)
	}
	return unix.Kill(-pid, sig)
}

// ReapResult classifies one terminated child.
type ReapResult struct {
	PID        int
	ExitCode   int // normal exit code, or -signal for signal deaths, or -1 for "other"
	Signaled   bool
	SignalName string
}

// Drain non-blockingly collects every child that has terminated since the
// last call, in whatever order the kernel's wait primitive returns them.
func Drain() []ReapResult {
	var results []ReapResult
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.ECHILD || pid <= 0 {
			break
		}
		if err != nil {
			break
		}
		results = append(results, classify(pid, ws))
	}
	return results
}

func classify(pid int, ws unix.WaitStatus) ReapResult {
	switch {
	case ws.Exited():
		return ReapResult{PID: pid, ExitCode: ws.ExitStatus()}
	case ws.Signaled():
		sig := ws.Signal()
		return ReapResult{PID: pid, ExitCode: -int(sig), Signaled: true, SignalName: signalName(sig)}
	default:
		return ReapResult{PID: pid, ExitCode: -1}
	}
}

// WaitBlocking reaps a specific pid, blocking until it exits. Used only in
// shutdown's forced-kill phase, after SIGKILL has been sent, so the wait
// is bounded by the kernel's termination of the target, not by anything
// the supervisor needs to poll for.
func WaitBlocking(pid int) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err != unix.EINTR {
			return
		}
	}
}

var signalNames = map[unix.Signal]string{
	unix.SIGHUP:  "SIGHUP",
	unix.SIGINT:  "SIGINT",
	unix.SIGQUIT: "SIGQUIT",
	unix.SIGILL:  "SIGILL",
	unix.SIGABRT: "SIGABRT",
	unix.SIGFPE:  "SIGFPE",
	unix.SIGKILL: "SIGKILL",
	unix.SIGSEGV: "SIGSEGV",
	unix.SIGPIPE: "SIGPIPE",
	unix.SIGALRM: "SIGALRM",
	unix.SIGTERM: "SIGTERM",
	unix.SIGUSR1: "SIGUSR1",
	unix.SIGUSR2: "SIGUSR2",
	unix.SIGCHLD: "SIGCHLD",
	unix.SIGCONT: "SIGCONT",
	unix.SIGSTOP: "SIGSTOP",
	unix.SIGTSTP: "SIGTSTP",
}

func signalName(sig unix.Signal) string {
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}
