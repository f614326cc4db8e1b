package vmmanager

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/logger"
	"github.com/qarax/qarax/lib/vmruntime"
	"gvisor.dev/gvisor/pkg/cleanup"
)

// teardownGracePeriod bounds each step of the shutdown-then-signal
// escalation.
const teardownGracePeriod = 5 * time.Second

// Create rejects if id already present, spawns a VR, and calls HA.create
// with cfg as given; Create does not run CT itself, so cfg must already be
// the output of vmconfig.Translate (NRPC's createVM handler runs it). Any
// failed step after the spawn tears the VR down.
func (m *manager) Create(ctx context.Context, id string, cfg hypervisor.VMConfig) (*VMSnapshot, error) {
	if existing := m.getOrNil(id); existing != nil {
		return nil, errs.Wrap(errs.ErrAlreadyExists, "vm "+id+" already exists", nil)
	}

	l := logger.FromContext(ctx)
	socketPath := m.paths.Socket(id)
	consoleLog := m.paths.ConsoleLog(id)

	entry, err := m.starterFor(cfg.Flavor)
	if err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("create"))
	defer cancel()

	var cmd *exec.Cmd
	var hv hypervisor.Hypervisor
	if cs, ok := entry.Starter.(ConfigStarter); ok {
		cmd, hv, err = cs.StartVMWithConfig(startCtx, entry.BinaryPath, socketPath, consoleLog, cfg)
	} else {
		cmd, hv, err = entry.Starter.StartVM(startCtx, entry.BinaryPath, socketPath, consoleLog)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrSpawn, fmt.Sprintf("spawn vmm for %s", id), err)
	}

	rt := vmruntime.New(id, m.paths, hv, cmd)
	rt.SetState(vmruntime.StatePending)

	cu := cleanup.Make(func() {
		l.Warn("vm create failed, tearing down", "vm_id", id)
		rt.Teardown(context.Background(), teardownGracePeriod, false)
	})
	defer cu.Clean()

	if err := rt.Create(ctx, cfg); err != nil {
		return nil, errs.Wrap(errs.ErrInternal, fmt.Sprintf("create vm %s (pid %d)", id, rt.PID()), err)
	}

	m.register(id, rt)
	cu.Release()

	// Reap the child and surface an unexpected death as observed=unknown.
	rt.WatchExit(func(args ...any) {
		l.Warn("vmm exited unexpectedly", args...)
	})

	snap := m.snapshot(rt)
	return &snap, nil
}
