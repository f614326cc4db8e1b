package vmruntime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/logger"
	"github.com/qarax/qarax/lib/paths"
	"github.com/qarax/qarax/lib/vmm"
)

// Reconciled is one Runtime recovered from a live socket found on disk.
type Reconciled struct {
	VMID    string
	Runtime *Runtime
}

// NewHypervisorFunc binds a socket path to a live hypervisor.Hypervisor
// client, supplied by the caller so vmruntime stays independent of any one
// hypervisor backend.
type NewHypervisorFunc func(socketPath string) hypervisor.Hypervisor

// ReconcileOrphans scans {runtime_root} for sockets left behind by a prior
// process (crash or restart): for each, attempt HA.info; on
// success, recreate a Runtime bound to the socket with observed=info.state;
// on failure, unlink the socket. It also removes any auto-created TAP
// device whose VM-id prefix matches no reconciled Runtime.
func ReconcileOrphans(ctx context.Context, p *paths.Paths, newHV NewHypervisorFunc, listTAPs func() ([]string, error), removeTAP func(name string) error) ([]Reconciled, error) {
	l := logger.FromContext(ctx)

	entries, err := os.ReadDir(p.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reconciled []Reconciled
	var errsAgg *multierror.Error

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sock") {
			continue
		}
		vmID := strings.TrimSuffix(e.Name(), ".sock")
		socketPath := filepath.Join(p.Root(), e.Name())

		if !vmm.Ping(socketPath, 500*time.Millisecond) {
			l.Info("removing stale socket with no listening vmm", "vm_id", vmID)
			os.Remove(socketPath)
			continue
		}

		hv := newHV(socketPath)
		infoCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("info"))
		info, err := hv.Info(infoCtx)
		cancel()
		if err != nil {
			l.Warn("ha.info failed during reconciliation, unlinking socket", "vm_id", vmID, "err", err)
			os.Remove(socketPath)
			errsAgg = multierror.Append(errsAgg, err)
			continue
		}

		rt := &Runtime{
			VMID:          vmID,
			SocketPath:    socketPath,
			ConsoleLog:    p.ConsoleLog(vmID),
			observedState: fromHypervisorState(info.State),
			hv:            hv,
			exited:        make(chan struct{}),
		}
		reconciled = append(reconciled, Reconciled{VMID: vmID, Runtime: rt})
		l.Info("reconciled orphaned vm", "vm_id", vmID, "state", rt.observedState)
	}

	if listTAPs != nil && removeTAP != nil {
		if err := sweepOrphanTAPs(l, p, reconciled, listTAPs, removeTAP); err != nil {
			errsAgg = multierror.Append(errsAgg, err)
		}
	}

	return reconciled, errsAgg.ErrorOrNil()
}

func sweepOrphanTAPs(l interface {
	Info(string, ...any)
}, p *paths.Paths, reconciled []Reconciled, listTAPs func() ([]string, error), removeTAP func(string) error) error {
	live := make(map[string]bool, len(reconciled))
	for _, r := range reconciled {
		live[p.TAPPrefix(r.VMID)] = true
	}

	taps, err := listTAPs()
	if err != nil {
		return err
	}

	var errsAgg *multierror.Error
	for _, tap := range taps {
		matched := false
		for prefix := range live {
			if strings.HasPrefix(tap, prefix+"n") {
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		l.Info("removing orphaned tap device", "tap", tap)
		if err := removeTAP(tap); err != nil {
			errsAgg = multierror.Append(errsAgg, err)
		}
	}
	return errsAgg.ErrorOrNil()
}
