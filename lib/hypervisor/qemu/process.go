package qemu

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/qarax/qarax/lib/hypervisor"
	"gvisor.dev/gvisor/pkg/cleanup"
)

const (
	socketWaitTimeout  = 10 * time.Second
	socketPollInterval = 50 * time.Millisecond
	socketDialTimeout  = 100 * time.Millisecond
)

// Starter implements hypervisor.VMStarter for QEMU.
type Starter struct {
	BinaryPath string
}

// NewStarter creates a Starter that execs the QEMU binary at binaryPath.
func NewStarter(binaryPath string) *Starter {
	return &Starter{BinaryPath: binaryPath}
}

var _ hypervisor.VMStarter = (*Starter)(nil)

// SocketName returns the socket filename QEMU's QMP listens on.
func (s *Starter) SocketName() string {
	return "qemu.sock"
}

// StartVM is unused by this Starter: QEMU needs the full hypervisor.VMConfig
// to build command-line args, which the common StartVM signature does not
// carry. StartVMWithConfig is the real entry point the qemu-flavored VM-M
// path calls instead.
func (s *Starter) StartVM(ctx context.Context, binaryPath, socketPath, consoleLogPath string) (*exec.Cmd, hypervisor.Hypervisor, error) {
	return nil, nil, fmt.Errorf("qemu starter requires StartVMWithConfig")
}

// StartVMWithConfig launches qemu-system with BuildArgs(cfg) plus the QMP
// socket flag, waits for the socket, and returns the process handle plus a
// QEMU client with the VM parked in StateCreated (via -S) until Boot/Resume
// is called.
func (s *Starter) StartVMWithConfig(ctx context.Context, binaryPath, socketPath, consoleLogPath string, cfg hypervisor.VMConfig) (*exec.Cmd, hypervisor.Hypervisor, error) {
	if binaryPath == "" {
		binaryPath = s.BinaryPath
	}
	os.Remove(socketPath)

	args := BuildArgs(cfg, consoleLogPath)
	args = append(args, "-qmp", "unix:"+socketPath+",server,nowait")

	cmd := exec.Command(binaryPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start qemu: %w", err)
	}

	cu := cleanup.Make(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	defer cu.Clean()

	if err := waitForSocket(ctx, socketPath, socketWaitTimeout); err != nil {
		return nil, nil, fmt.Errorf("qmp socket not ready: %w", err)
	}

	hv, err := New(socketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to qmp: %w", err)
	}

	cu.Release()
	return cmd, hv, nil
}

func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("unix", path, socketDialTimeout); err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(socketPollInterval):
		}
	}
	return fmt.Errorf("timeout waiting for qmp socket")
}
