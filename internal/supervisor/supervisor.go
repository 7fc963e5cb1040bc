// Package supervisor is the core of the engine: the parent loop that
// owns the runtime array, the reaper and restart-policy evaluator, and
// the shutdown coordinator. It is strictly single-threaded — all state
// mutation happens on the goroutine that calls Run, between draining
// reaped children and sleeping.
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kornnellio/gosv/internal/cgroup"
	"github.com/kornnellio/gosv/internal/config"
	"github.com/kornnellio/gosv/internal/events"
	"github.com/kornnellio/gosv/internal/procexec"
)

// pollInterval is the reap/sleep cadence of the main loop and of the
// shutdown grace-wait drain.
const pollInterval = 100 * time.Millisecond

// DefaultShutdownTimeout is the grace period the Shutdown Coordinator
// waits for polite termination before escalating to SIGKILL.
const DefaultShutdownTimeout = 3 * time.Second

// Supervisor owns the fixed set of managed programs and their runtime
// state for the lifetime of the process.
type Supervisor struct {
	programs []config.Program
	runtimes map[string]*runtime

	cg  *cgroup.Controller
	log func(format string, args ...any)

	onEvent events.Handler
	running atomic.Bool

	// ShutdownTimeout overrides DefaultShutdownTimeout; zero means use
	// the default. Exposed for tests that want a tighter grace window.
	ShutdownTimeout time.Duration
}

// New creates a supervisor for the given (immutable) program set. logf is
// typically the supervisor's log sink's Printf; onEvent, if non-nil, is
// invoked for every emitted event in addition to the log line.
func New(programs []config.Program, cg *cgroup.Controller, logf func(string, ...any), onEvent events.Handler) *Supervisor {
	s := &Supervisor{
		programs: programs,
		runtimes: make(map[string]*runtime, len(programs)),
		cg:       cg,
		log:      logf,
		onEvent:  onEvent,
	}
	for _, p := range programs {
		s.runtimes[p.Name] = &runtime{state: Stopped}
	}
	return s
}

// Stop requests shutdown programmatically, the same way an operator
// signal does. It exists alongside the OS-signal path so tests and
// embedders don't have to deliver a real process signal to exercise
// shutdown.
func (s *Supervisor) Stop() {
	s.running.Store(false)
}

func (s *Supervisor) emit(e events.Event) {
	s.log("%s", e.String())
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

// Run installs signal handlers, performs the autostart pass, drives the
// reap/sleep cycle until an operator signal arrives, and then sequences
// into shutdown. It returns once every child has been reaped and every
// cgroup leaf has been asked to be removed.
func (s *Supervisor) Run() error {
	s.running.Store(true)

	done := s.installSignalHandlers()
	defer done()

	s.emit(events.Event{Kind: events.Milestone, Detail: "Starting Supervisor ..."})

	for _, p := range s.programs {
		if p.Autostart {
			s.spawn(p)
		}
	}

	for s.running.Load() {
		s.reapAndApplyPolicy()
		time.Sleep(pollInterval)
	}

	s.shutdown()
	return nil
}

// installSignalHandlers wires SIGINT/SIGTERM to flip the single running
// flag. Per spec §4.5/§5, the handler context does only this; all actual
// work happens back on the loop goroutine that reads the flag. Go's
// runtime, not a raw sigaction, delivers the signal onto notifyCh; the
// goroutine below is the closest a Go program gets to "handler context"
// and it too performs only the store.
func (s *Supervisor) installSignalHandlers() func() {
	notifyCh := make(chan os.Signal, 4)
	signal.Notify(notifyCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range notifyCh {
			s.running.Store(false)
		}
	}()
	return func() {
		signal.Stop(notifyCh)
		close(notifyCh)
	}
}

func (s *Supervisor) spawn(p config.Program) {
	_, pid, err := procexec.Spawn(p)
	if err != nil {
		// Fork failure: log, leave the runtime slot untouched.
		s.log("failed to spawn %s: %v", p.Name, err)
		return
	}

	rt := s.runtimes[p.Name]
	rt.pid = pid
	rt.state = Running

	if p.MemoryLimitBytes > 0 || p.CPULimit > 0 {
		if err := s.cg.Setup(p.Name, p.MemoryLimitBytes, p.CPULimit, pid); err != nil {
			s.log("failed to apply cgroup limits for %s: %v", p.Name, err)
		}
	}

	s.emit(events.Event{Kind: events.Spawned, Program: p.Name, PID: pid, State: rt.state.String()})
}

// reapAndApplyPolicy drains every terminated child and, for each, applies
// the restart decision table in spec §4.3.
func (s *Supervisor) reapAndApplyPolicy() {
	for _, r := range procexec.Drain() {
		p, rt := s.findByPID(r.PID)
		if p == nil {
			// Unknown pid: a descendant we did not spawn. Defensively ignored.
			continue
		}
		s.handleReap(*p, rt, r, true)
	}
}

func (s *Supervisor) findByPID(pid int) (*config.Program, *runtime) {
	for i := range s.programs {
		p := &s.programs[i]
		rt := s.runtimes[p.Name]
		if rt.pid == pid {
			return p, rt
		}
	}
	return nil, nil
}

// handleReap classifies one reaped child and, when applyPolicy is true,
// applies the restart decision table; shutdown's grace-wait drain calls
// this with applyPolicy=false so it only updates state and never
// respawns.
func (s *Supervisor) handleReap(p config.Program, rt *runtime, r procexec.ReapResult, applyPolicy bool) {
	if r.Signaled {
		rt.state = Killed
		rt.restartCount = 0
		s.emit(events.Event{Kind: events.KilledBySignal, Program: p.Name, PID: r.PID, State: rt.state.String(), Detail: r.SignalName})
	} else if r.ExitCode == 0 {
		rt.state = Exited
		s.emit(events.Event{Kind: events.Exited, Program: p.Name, PID: r.PID, State: rt.state.String(), Detail: fmt.Sprintf("%d", r.ExitCode)})
	} else {
		rt.state = Failed
		s.emit(events.Event{Kind: events.Exited, Program: p.Name, PID: r.PID, State: rt.state.String(), Detail: fmt.Sprintf("%d", r.ExitCode)})
	}
	rt.pid = 0

	if !applyPolicy {
		return
	}

	switch p.Autorestart {
	case config.Never:
		// no restart
	case config.Always:
		s.restartAfterDelay(p, rt)
	case config.OnFailure:
		if r.Signaled {
			// handled by the §3 reset above; no restart
			return
		}
		if r.ExitCode == 0 {
			return
		}
		if p.MaxRestarts == 0 || rt.restartCount < p.MaxRestarts {
			rt.restartCount++
			s.restartAfterDelay(p, rt)
		} else {
			rt.state = Stopped
			s.emit(events.Event{Kind: events.MaxRestartsReached, Program: p.Name, Detail: fmt.Sprintf("%d", p.MaxRestarts)})
		}
	}
}

func (s *Supervisor) restartAfterDelay(p config.Program, rt *runtime) {
	var detail string
	if p.Autorestart == config.OnFailure {
		max := "unlimited"
		if p.MaxRestarts != 0 {
			max = fmt.Sprintf("%d", p.MaxRestarts)
		}
		detail = fmt.Sprintf("%d/%s", rt.restartCount, max)
	}
	s.emit(events.Event{Kind: events.Restarting, Program: p.Name, Detail: detail})

	if p.RestartDelaySec > 0 {
		time.Sleep(time.Duration(p.RestartDelaySec) * time.Second)
	}
	s.spawn(p)
}

// shutdown runs the four-phase shutdown protocol from spec §4.4.
func (s *Supervisor) shutdown() {
	timeout := s.ShutdownTimeout
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
	}

	s.emit(events.Event{Kind: events.Milestone, Detail: "Starting Shutdown! This might take a few seconds."})

	// Phase 1 — polite.
	for i := range s.programs {
		p := &s.programs[i]
		rt := s.runtimes[p.Name]
		if rt.pid > 0 {
			_ = procexec.Signal(rt.pid, unix.SIGTERM)
		}
	}

	// Phase 2 — grace wait.
	deadline := time.Now().Add(timeout)
	for s.anyRunning() && time.Now().Before(deadline) {
		for _, r := range procexec.Drain() {
			p, rt := s.findByPID(r.PID)
			if p == nil {
				continue
			}
			s.handleReap(*p, rt, r, false)
		}
		time.Sleep(pollInterval)
	}

	// Phase 3 — forced.
	for i := range s.programs {
		rt := s.runtimes[s.programs[i].Name]
		if rt.pid > 0 {
			rt.state = Killed
			pid := rt.pid
			_ = procexec.Signal(pid, unix.SIGKILL)
			procexec.WaitBlocking(pid)
			rt.pid = 0
		}
	}

	// Phase 4 — cleanup.
	for i := range s.programs {
		if err := s.cg.Cleanup(s.programs[i].Name); err != nil {
			s.log("cgroup cleanup for %s: %v", s.programs[i].Name, err)
		}
	}

	s.emit(events.Event{Kind: events.Milestone, Detail: "All children terminated, exiting supervisor."})
}

func (s *Supervisor) anyRunning() bool {
	for _, rt := range s.runtimes {
		if rt.pid > 0 {
			return true
		}
	}
	return false
}
