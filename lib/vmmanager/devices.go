package vmmanager

import (
	"context"

	"github.com/qarax/qarax/lib/hypervisor"
)

// AddNet hot-attaches a network device. Guard: observed=running, enforced
// by the hypervisor returning a FailureState error otherwise.
func (m *manager) AddNet(ctx context.Context, id string, cfg hypervisor.NetConfig) error {
	rt := m.getOrNil(id)
	if rt == nil {
		return notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("add-net"))
	defer cancel()

	if err := rt.Hypervisor().AddNet(opCtx, cfg); err != nil {
		return translateHAErr(err)
	}
	return nil
}

// RemoveNet hot-detaches a network device by id.
func (m *manager) RemoveNet(ctx context.Context, id string, deviceID string) error {
	return m.removeDevice(ctx, id, deviceID)
}

// AddDisk hot-attaches a disk device.
func (m *manager) AddDisk(ctx context.Context, id string, cfg hypervisor.DiskConfig) error {
	rt := m.getOrNil(id)
	if rt == nil {
		return notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("add-disk"))
	defer cancel()

	if err := rt.Hypervisor().AddDisk(opCtx, cfg); err != nil {
		return translateHAErr(err)
	}
	return nil
}

// RemoveDisk hot-detaches a disk device by id.
func (m *manager) RemoveDisk(ctx context.Context, id string, diskID string) error {
	return m.removeDevice(ctx, id, diskID)
}

func (m *manager) removeDevice(ctx context.Context, id string, deviceID string) error {
	rt := m.getOrNil(id)
	if rt == nil {
		return notFound(id)
	}
	unlock := rt.Lock()
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, hypervisor.RequestTimeout("remove-device"))
	defer cancel()

	if err := rt.Hypervisor().RemoveDevice(opCtx, deviceID); err != nil {
		return translateHAErr(err)
	}
	return nil
}
