package cloudhypervisor

import (
	"context"
	"fmt"

	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/vmm"
)

// CloudHypervisor implements hypervisor.Hypervisor for Cloud Hypervisor VMM.
type CloudHypervisor struct {
	client *vmm.Client
}

// New wraps an already-running Cloud Hypervisor VMM socket.
func New(socketPath string, metrics *vmm.Metrics) *CloudHypervisor {
	return &CloudHypervisor{client: vmm.NewClient(socketPath, metrics)}
}

var _ hypervisor.Hypervisor = (*CloudHypervisor)(nil)
var _ hypervisor.VMStarter = (*Starter)(nil)

// Capabilities returns the features supported by Cloud Hypervisor.
func (c *CloudHypervisor) Capabilities() hypervisor.Capabilities {
	return hypervisor.Capabilities{
		SupportsPause:     true,
		SupportsHotplug:   true,
		SupportsVhostUser: true,
	}
}

// Create configures the VM inside the already-running VMM process.
func (c *CloudHypervisor) Create(ctx context.Context, cfg hypervisor.VMConfig) error {
	return c.client.CreateVM(ctx, ToVMConfig(cfg))
}

// Boot starts guest execution.
func (c *CloudHypervisor) Boot(ctx context.Context) error {
	return c.client.BootVM(ctx)
}

// Shutdown stops guest execution.
func (c *CloudHypervisor) Shutdown(ctx context.Context) error {
	return c.client.ShutdownVM(ctx)
}

// Pause suspends VM execution.
func (c *CloudHypervisor) Pause(ctx context.Context) error {
	return c.client.PauseVM(ctx)
}

// Resume continues VM execution.
func (c *CloudHypervisor) Resume(ctx context.Context) error {
	return c.client.ResumeVM(ctx)
}

// Info returns the current VM state snapshot.
func (c *CloudHypervisor) Info(ctx context.Context) (*hypervisor.VMInfo, error) {
	info, err := c.client.VmInfo(ctx)
	if err != nil {
		return nil, err
	}

	var state hypervisor.VMState
	switch info.State {
	case "Created":
		state = hypervisor.StateCreated
	case "Running":
		state = hypervisor.StateRunning
	case "Paused":
		state = hypervisor.StatePaused
	case "Shutdown":
		state = hypervisor.StateShutdown
	default:
		return nil, &hypervisor.Error{Kind: hypervisor.FailureProtocol, Op: "info", Err: fmt.Errorf("unknown vm state %q", info.State)}
	}

	return &hypervisor.VMInfo{
		State:            state,
		MemoryActualSize: info.MemoryActualSize,
	}, nil
}

// AddNet hot-attaches a network device.
func (c *CloudHypervisor) AddNet(ctx context.Context, cfg hypervisor.NetConfig) error {
	return c.client.AddNet(ctx, netToWire(cfg, nil))
}

// AddDisk hot-attaches a disk device.
func (c *CloudHypervisor) AddDisk(ctx context.Context, cfg hypervisor.DiskConfig) error {
	return c.client.AddDisk(ctx, diskToWire(cfg, nil))
}

// RemoveDevice hot-detaches a device by id.
func (c *CloudHypervisor) RemoveDevice(ctx context.Context, deviceID string) error {
	return c.client.RemoveDevice(ctx, deviceID)
}
