// Package vmruntime implements the VM Runtime (VR): the
// per-VM record of the spawned VMM child process, its socket, console log,
// auto-created TAP devices, and in-memory observed state.
package vmruntime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/logger"
	"github.com/qarax/qarax/lib/netutil"
	"github.com/qarax/qarax/lib/paths"
)

// ObservedState is the VR's superset of hypervisor.VMState: VR additionally
// tracks "unknown" (child exited without a prior graceful shutdown).
type ObservedState string

const (
	StatePending  ObservedState = "pending"
	StateCreated  ObservedState = "created"
	StateRunning  ObservedState = "running"
	StatePaused   ObservedState = "paused"
	StateShutdown ObservedState = "shutdown"
	StateUnknown  ObservedState = "unknown"
)

func fromHypervisorState(s hypervisor.VMState) ObservedState {
	switch s {
	case hypervisor.StateCreated:
		return StateCreated
	case hypervisor.StateRunning:
		return StateRunning
	case hypervisor.StatePaused:
		return StatePaused
	case hypervisor.StateShutdown:
		return StateShutdown
	default:
		return StateUnknown
	}
}

// Runtime is one VR: the ephemeral, in-memory state of a single VM's
// hypervisor process.
type Runtime struct {
	VMID       string
	SocketPath string
	ConsoleLog string
	TAPDevices []string

	mu            sync.Mutex // single-slot mutex serializing state transitions
	observedState ObservedState
	hv            hypervisor.Hypervisor
	cmd           *exec.Cmd
	exitStatus    *os.ProcessState

	// waitOnce guards the single cmd.Wait goroutine; exited is closed once
	// the child has been reaped. Runtimes recovered by reconciliation have
	// no cmd and exited stays open.
	waitOnce sync.Once
	exited   chan struct{}
}

// New constructs a Runtime bound to a freshly spawned VMM process. cmd is
// nil for Runtimes recovered by orphan reconciliation, whose VMM is not a
// child of this process.
func New(vmID string, p *paths.Paths, hv hypervisor.Hypervisor, cmd *exec.Cmd) *Runtime {
	return &Runtime{
		VMID:          vmID,
		SocketPath:    p.Socket(vmID),
		ConsoleLog:    p.ConsoleLog(vmID),
		observedState: StatePending,
		hv:            hv,
		cmd:           cmd,
		exited:        make(chan struct{}),
	}
}

// PID returns the VMM child's process id, or 0 when the Runtime holds no
// process handle (recovered orphans).
func (r *Runtime) PID() int {
	if r.cmd != nil && r.cmd.Process != nil {
		return r.cmd.Process.Pid
	}
	return 0
}

// Lock acquires the VR's single-slot mutex for the duration of one state
// transition. Callers must Unlock via the returned func.
func (r *Runtime) Lock() func() {
	r.mu.Lock()
	return r.mu.Unlock
}

// State returns the last observed state without touching the hypervisor.
func (r *Runtime) State() ObservedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observedState
}

// SetState updates the in-memory observed state. Called after every HA
// round-trip that reports a new state, and by the exit-watcher when the
// child dies unexpectedly.
func (r *Runtime) SetState(s ObservedState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observedState = s
}

// Hypervisor returns the HA client bound to this VM's socket.
func (r *Runtime) Hypervisor() hypervisor.Hypervisor {
	return r.hv
}

// WatchExit reaps the child process in a goroutine and, if it exits
// without a prior graceful Shutdown, marks observed=unknown and records
// the exit status for the next caller to see. Safe to call more than
// once; only one waiter ever runs, and Teardown synchronizes on its
// completion.
func (r *Runtime) WatchExit(log func(args ...any)) {
	r.watch(log)
}

// watch starts the single cmd.Wait goroutine. onUnexpectedExit fires only
// when the child died without a prior shutdown.
func (r *Runtime) watch(onUnexpectedExit func(args ...any)) {
	if r.cmd == nil {
		return
	}
	r.waitOnce.Do(func() {
		go func() {
			err := r.cmd.Wait()

			r.mu.Lock()
			r.exitStatus = r.cmd.ProcessState
			unexpected := r.observedState != StateShutdown
			if unexpected {
				r.observedState = StateUnknown
			}
			r.mu.Unlock()

			close(r.exited)
			if unexpected && onUnexpectedExit != nil {
				onUnexpectedExit("vm_id", r.VMID, "exit_status", r.cmd.ProcessState.String(), "exit_err", err)
			}
		}()
	})
}

// ExitStatus returns the child's recorded exit status, if it has exited.
func (r *Runtime) ExitStatus() *os.ProcessState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitStatus
}

// Teardown attempts a graceful shutdown (HA.shutdown -> wait <= N s ->
// SIGTERM -> SIGKILL), removes the socket, auto-created TAPs, and by
// default retains the console log. Idempotent: safe to call on
// an already-torn-down Runtime.
func (r *Runtime) Teardown(ctx context.Context, gracePeriod time.Duration, removeConsoleLog bool) error {
	l := logger.FromContext(ctx)

	if r.hv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("shutdown"))
		err := r.hv.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			l.Debug("ha shutdown failed during teardown, falling back to signals", "vm_id", r.VMID, "err", err)
		}
	}

	if r.cmd != nil && r.cmd.Process != nil {
		// The teardown is deliberate: mark shutdown before waiting so the
		// exit watcher doesn't report this exit as unexpected.
		r.SetState(StateShutdown)
		r.watch(nil)

		select {
		case <-r.exited:
		case <-time.After(gracePeriod):
			r.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-r.exited:
			case <-time.After(gracePeriod):
				r.cmd.Process.Signal(syscall.SIGKILL)
				<-r.exited
			}
		}
	}

	os.Remove(r.SocketPath)
	for _, tap := range r.TAPDevices {
		netutil.RemoveTAP(tap)
	}
	if removeConsoleLog {
		os.Remove(r.ConsoleLog)
	}

	return nil
}

// Create is the VR half of VM-M's create sequence: it delegates
// configuration to HA and records observed=created. It does not wait for
// the VMM socket itself; the Starter's spawn step does that.
func (r *Runtime) Create(ctx context.Context, cfg hypervisor.VMConfig) error {
	createCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("create"))
	defer cancel()

	if err := r.hv.Create(createCtx, cfg); err != nil {
		return fmt.Errorf("ha create: %w", errs.Wrap(errs.ErrInternal, "create", err))
	}
	r.SetState(StateCreated)
	return nil
}
