package cloudhypervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/vmm"
	"gvisor.dev/gvisor/pkg/cleanup"
)

// Starter implements hypervisor.VMStarter for Cloud Hypervisor. The binary
// is not embedded: the node-agent is configured with
// --cloud-hypervisor-binary and Starter simply execs it.
type Starter struct {
	BinaryPath string
	Metrics    *vmm.Metrics
}

// NewStarter creates a Starter that execs the Cloud Hypervisor binary at
// binaryPath.
func NewStarter(binaryPath string, metrics *vmm.Metrics) *Starter {
	return &Starter{BinaryPath: binaryPath, Metrics: metrics}
}

// SocketName returns the socket filename for Cloud Hypervisor.
func (s *Starter) SocketName() string {
	return "ch.sock"
}

// StartVM launches the Cloud Hypervisor process and waits for its API
// socket, returning the process handle for the VR to reap and signal. On
// any failure after the process is spawned, it is killed and reaped before
// returning.
func (s *Starter) StartVM(ctx context.Context, binaryPath, socketPath, consoleLogPath string) (*exec.Cmd, hypervisor.Hypervisor, error) {
	if binaryPath == "" {
		binaryPath = s.BinaryPath
	}

	os.Remove(socketPath)

	cmd := exec.Command(binaryPath, "--api-socket", socketPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logFile, err := os.OpenFile(consoleLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open console log: %w", err)
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start cloud-hypervisor: %w", err)
	}

	cu := cleanup.Make(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	defer cu.Clean()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := vmm.WaitForSocket(waitCtx, socketPath, 50, 100*time.Millisecond); err != nil {
		return nil, nil, fmt.Errorf("vmm socket not ready: %w", err)
	}

	hv := New(socketPath, s.Metrics)
	cu.Release()
	return cmd, hv, nil
}
