package vmmanager

import (
	"context"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/vmruntime"
)

// Start boots a created or shut-down VM. Guard/translation per the HA
// operation table: a "state" failure from HA is translated into the
// "invalid current state" error kind without touching observed state
// beyond what HA itself reports.
func (m *manager) Start(ctx context.Context, id string) (*VMSnapshot, error) {
	rt := m.getOrNil(id)
	if rt == nil {
		return nil, notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("boot"))
	defer cancel()

	if err := rt.Hypervisor().Boot(opCtx); err != nil {
		return nil, translateHAErr(err)
	}
	rt.SetState(vmruntime.StateRunning)

	snap := m.snapshot(rt)
	return &snap, nil
}

// Stop gracefully shuts down a running or paused VM.
func (m *manager) Stop(ctx context.Context, id string) (*VMSnapshot, error) {
	rt := m.getOrNil(id)
	if rt == nil {
		return nil, notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("shutdown"))
	defer cancel()

	if err := rt.Hypervisor().Shutdown(opCtx); err != nil {
		return nil, translateHAErr(err)
	}
	rt.SetState(vmruntime.StateShutdown)

	snap := m.snapshot(rt)
	return &snap, nil
}

// Pause suspends a running VM.
func (m *manager) Pause(ctx context.Context, id string) (*VMSnapshot, error) {
	rt := m.getOrNil(id)
	if rt == nil {
		return nil, notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("pause"))
	defer cancel()

	if err := rt.Hypervisor().Pause(opCtx); err != nil {
		return nil, translateHAErr(err)
	}
	rt.SetState(vmruntime.StatePaused)

	snap := m.snapshot(rt)
	return &snap, nil
}

// Resume continues a paused VM.
func (m *manager) Resume(ctx context.Context, id string) (*VMSnapshot, error) {
	rt := m.getOrNil(id)
	if rt == nil {
		return nil, notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("resume"))
	defer cancel()

	if err := rt.Hypervisor().Resume(opCtx); err != nil {
		return nil, translateHAErr(err)
	}
	rt.SetState(vmruntime.StateRunning)

	snap := m.snapshot(rt)
	return &snap, nil
}

// Info returns the VM's info() snapshot, valid in any state.
func (m *manager) Info(ctx context.Context, id string) (*VMSnapshot, error) {
	rt := m.getOrNil(id)
	if rt == nil {
		return nil, notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("info"))
	defer cancel()

	info, err := rt.Hypervisor().Info(opCtx)
	if err != nil {
		return nil, translateHAErr(err)
	}

	snap := m.snapshot(rt)
	snap.Devices = info.Devices
	return &snap, nil
}

// Delete tears the VR down and removes the VM from the registry.
// Idempotent: deleting an id not in the registry succeeds silently.
func (m *manager) Delete(ctx context.Context, id string) error {
	rt := m.getOrNil(id)
	if rt == nil {
		return nil
	}
	unlock := rt.Lock()
	defer unlock()

	if err := rt.Teardown(ctx, teardownGracePeriod, false); err != nil {
		return errs.Wrap(errs.ErrInternal, "teardown vm "+id, err)
	}
	m.unregister(id)
	return nil
}

// translateHAErr maps an HA failure kind into the VM-M-facing error kind:
// state errors become "invalid current state", other kinds pass through.
func translateHAErr(err error) error {
	herr, ok := err.(*hypervisor.Error)
	if !ok {
		return errs.Wrap(errs.ErrInternal, "hypervisor adapter error", err)
	}
	switch herr.Kind {
	case hypervisor.FailureState:
		return errs.Wrap(errs.ErrState, "invalid current state for operation", herr)
	case hypervisor.FailureTransport:
		return errs.Wrap(errs.ErrTransport, "hypervisor unreachable", herr)
	case hypervisor.FailureServer:
		return errs.Wrap(errs.ErrServer, "hypervisor returned server error", herr)
	case hypervisor.FailureProtocol:
		return errs.Wrap(errs.ErrProtocol, "malformed hypervisor response", herr)
	default:
		return errs.Wrap(errs.ErrInternal, "hypervisor adapter error", herr)
	}
}
