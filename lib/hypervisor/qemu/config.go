package qemu

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/qarax/qarax/lib/hypervisor"
)

// BuildArgs converts a CT-translated hypervisor.VMConfig into QEMU
// command-line arguments. QEMU is started with -S (stopped at the
// post-reset state) so Starter can hand back a VM sitting in StateCreated
// until Boot is called, keeping QEMU's lifecycle split consistent with HA's
// create/boot contract even though the real device configuration already
// happened on the command line.
func BuildArgs(cfg hypervisor.VMConfig, consoleLogPath string) []string {
	args := make([]string, 0, 64)

	args = append(args, "-machine", machineType())
	args = append(args, "-cpu", "host")
	args = append(args, "-smp", strconv.Itoa(cfg.MaxVCPUs))

	memMB := cfg.MemoryBytes / (1024 * 1024)
	args = append(args, "-m", fmt.Sprintf("%dM", memMB))

	if cfg.KernelPath != "" {
		args = append(args, "-kernel", cfg.KernelPath)
	}
	if cfg.InitrdPath != "" {
		args = append(args, "-initrd", cfg.InitrdPath)
	}
	if cfg.KernelArgs != "" {
		args = append(args, "-append", cfg.KernelArgs)
	}

	for i, disk := range cfg.Disks {
		driveOpts := fmt.Sprintf("file=%s,format=raw,if=none,id=%s", disk.Path, driveID(disk.DeviceID, i))
		if disk.ReadOnly {
			driveOpts += ",readonly=on"
		}
		args = append(args, "-drive", driveOpts)
		args = append(args, "-device", fmt.Sprintf("virtio-blk-pci,drive=%s,id=%s", driveID(disk.DeviceID, i), disk.DeviceID))
	}

	for i, n := range cfg.Networks {
		netID := netdevID(n.DeviceID, i)
		netdevOpts := fmt.Sprintf("tap,id=%s,ifname=%s,script=no,downscript=no", netID, n.TAPDevice)
		args = append(args, "-netdev", netdevOpts)

		deviceOpts := fmt.Sprintf("virtio-net-pci,netdev=%s,id=%s", netID, n.DeviceID)
		if n.MAC != "" {
			deviceOpts += ",mac=" + n.MAC
		}
		args = append(args, "-device", deviceOpts)
	}

	if cfg.RNG != nil {
		args = append(args, "-object", fmt.Sprintf("rng-random,filename=%s,id=rng0", cfg.RNG.SourcePath))
		args = append(args, "-device", "virtio-rng-pci,rng=rng0")
	}

	if consoleLogPath != "" {
		args = append(args, "-serial", "file:"+consoleLogPath)
	} else {
		args = append(args, "-serial", "stdio")
	}

	args = append(args, "-S") // wait for 'cont' (HA.Boot) before running
	args = append(args, "-nographic")
	args = append(args, "-nodefaults")

	return args
}

func driveID(deviceID string, idx int) string {
	if deviceID != "" {
		return "drive-" + deviceID
	}
	return fmt.Sprintf("drive%d", idx)
}

func netdevID(deviceID string, idx int) string {
	if deviceID != "" {
		return "netdev-" + deviceID
	}
	return fmt.Sprintf("net%d", idx)
}

// machineType returns the QEMU machine type for the host architecture.
func machineType() string {
	switch runtime.GOARCH {
	case "arm64":
		return "virt,accel=kvm"
	default:
		return "q35,accel=kvm"
	}
}
