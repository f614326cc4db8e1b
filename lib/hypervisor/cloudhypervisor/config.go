// Package cloudhypervisor implements hypervisor.Hypervisor and
// hypervisor.VMStarter for Cloud Hypervisor, the default backend.
package cloudhypervisor

import (
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/vmm"
)

// ToVMConfig converts a CT-translated hypervisor.VMConfig into Cloud
// Hypervisor's wire VmConfig.
func ToVMConfig(cfg hypervisor.VMConfig) vmm.VmConfig {
	payload := vmm.PayloadConfig{
		Kernel:  vmm.Ptr(cfg.KernelPath),
		Cmdline: vmm.Ptr(cfg.KernelArgs),
	}
	if cfg.InitrdPath != "" {
		payload.Initramfs = vmm.Ptr(cfg.InitrdPath)
	}
	if cfg.FirmwarePath != "" {
		payload.Firmware = vmm.Ptr(cfg.FirmwarePath)
	}

	cpus := vmm.CpusConfig{
		BootVcpus: cfg.BootVCPUs,
		MaxVcpus:  cfg.MaxVCPUs,
	}
	if cfg.Topology != nil {
		cpus.Topology = &vmm.CpuTopology{
			ThreadsPerCore: vmm.Ptr(cfg.Topology.ThreadsPerCore),
			CoresPerDie:    vmm.Ptr(cfg.Topology.CoresPerDie),
			DiesPerPackage: vmm.Ptr(cfg.Topology.DiesPerPackage),
			Packages:       vmm.Ptr(cfg.Topology.Packages),
		}
	}

	memory := vmm.MemoryConfig{
		Size:      cfg.MemoryBytes,
		Hugepages: vmm.Ptr(cfg.Hugepages),
		Shared:    vmm.Ptr(cfg.MemoryShared),
		Mergeable: vmm.Ptr(cfg.Mergeable),
		Prefault:  vmm.Ptr(cfg.Prefault),
		Thp:       vmm.Ptr(cfg.THP),
	}
	if cfg.HotplugBytes > 0 {
		memory.HotplugSize = vmm.Ptr(cfg.HotplugBytes)
		memory.HotplugMethod = vmm.Ptr("VirtioMem")
	}

	var disks *[]vmm.DiskConfig
	if len(cfg.Disks) > 0 {
		list := make([]vmm.DiskConfig, 0, len(cfg.Disks))
		for _, d := range cfg.Disks {
			list = append(list, diskToWire(d, cfg.RateLimitGroups))
		}
		disks = &list
	}

	var nets *[]vmm.NetConfig
	if len(cfg.Networks) > 0 {
		list := make([]vmm.NetConfig, 0, len(cfg.Networks))
		for _, n := range cfg.Networks {
			list = append(list, netToWire(n, cfg.RateLimitGroups))
		}
		nets = &list
	}

	var fs *[]vmm.FsConfig
	if len(cfg.Filesystems) > 0 {
		list := make([]vmm.FsConfig, 0, len(cfg.Filesystems))
		for _, f := range cfg.Filesystems {
			list = append(list, vmm.FsConfig{
				Tag:       f.Tag,
				Socket:    f.SocketPath,
				NumQueues: f.NumQueues,
			})
		}
		fs = &list
	}

	var rng *vmm.RngConfig
	if cfg.RNG != nil {
		rng = &vmm.RngConfig{Src: cfg.RNG.SourcePath}
	}

	var serial, console *vmm.ConsoleConfig
	for _, c := range cfg.Consoles {
		wire := consoleToWire(c)
		switch c.Port {
		case "serial":
			serial = &wire
		case "console":
			console = &wire
		}
	}
	if serial == nil {
		serial = &vmm.ConsoleConfig{Mode: vmm.ConsoleModeOff}
	}
	if console == nil {
		console = &vmm.ConsoleConfig{Mode: vmm.ConsoleModeOff}
	}

	var platform *vmm.PlatformConfig
	if cfg.Hyperv {
		platform = &vmm.PlatformConfig{Hyperv: vmm.Ptr(true)}
	}

	return vmm.VmConfig{
		Payload:  payload,
		Cpus:     &cpus,
		Memory:   &memory,
		Disks:    disks,
		Net:      nets,
		Rng:      rng,
		Serial:   serial,
		Console:  console,
		Fs:       fs,
		Platform: platform,
	}
}

func diskToWire(d hypervisor.DiskConfig, groups []hypervisor.RateLimitGroup) vmm.DiskConfig {
	wire := vmm.DiskConfig{
		ID:        d.DeviceID,
		NumQueues: vmm.Ptr(orDefault(d.NumQueues, 1)),
		QueueSize: vmm.Ptr(orDefault(d.QueueSize, 128)),
	}
	if d.VhostUser {
		wire.VhostUser = vmm.Ptr(true)
		wire.VhostSocket = vmm.Ptr(d.VhostSocket)
	} else {
		wire.Path = vmm.Ptr(d.Path)
	}
	if d.ReadOnly {
		wire.Readonly = vmm.Ptr(true)
	}
	if rl := resolveRateLimiter(d.RateLimitRef, groups); rl != nil {
		wire.RateLimiterConfig = rl
	}
	return wire
}

func netToWire(n hypervisor.NetConfig, groups []hypervisor.RateLimitGroup) vmm.NetConfig {
	wire := vmm.NetConfig{
		ID:          n.DeviceID,
		Mtu:         vmm.Ptr(orDefault(n.MTU, 1500)),
		NumQueues:   vmm.Ptr(orDefault(n.NumQueues, 1)),
		QueueSize:   vmm.Ptr(orDefault(n.QueueSize, 256)),
		OffloadTso:  vmm.Ptr(n.OffloadTSO),
		OffloadUfo:  vmm.Ptr(n.OffloadUFO),
		OffloadCsum: vmm.Ptr(n.OffloadCSUM),
	}
	if n.VhostUser {
		wire.VhostUser = vmm.Ptr(true)
		wire.VhostSocket = vmm.Ptr(n.VhostSocket)
	} else if n.TAPDevice != "" {
		wire.Tap = vmm.Ptr(n.TAPDevice)
	}
	if n.MAC != "" {
		wire.Mac = vmm.Ptr(n.MAC)
	}
	if n.HostMAC != "" {
		wire.HostMac = vmm.Ptr(n.HostMAC)
	}
	if n.IP != "" {
		wire.Ip = vmm.Ptr(n.IP)
	}
	if rl := resolveRateLimiter(n.RateLimitRef, groups); rl != nil {
		wire.RateLimiterConfig = rl
	}
	return wire
}

func consoleToWire(c hypervisor.ConsoleConfig) vmm.ConsoleConfig {
	wire := vmm.ConsoleConfig{}
	switch c.Mode {
	case hypervisor.ConsolePTY:
		wire.Mode = vmm.ConsoleModePty
	case hypervisor.ConsoleTTY:
		wire.Mode = vmm.ConsoleModeTty
	case hypervisor.ConsoleFile:
		wire.Mode = vmm.ConsoleModeFile
		wire.File = vmm.Ptr(c.FilePath)
	case hypervisor.ConsoleSocket:
		wire.Mode = vmm.ConsoleModeSocket
		wire.Socket = vmm.Ptr(c.SocketPath)
	case hypervisor.ConsoleNull:
		wire.Mode = vmm.ConsoleModeNull
	default:
		wire.Mode = vmm.ConsoleModeOff
	}
	return wire
}

// resolveRateLimiter looks up ref by name among the VM's declared groups;
// cycles are impossible because groups never reference each other.
func resolveRateLimiter(ref string, groups []hypervisor.RateLimitGroup) *vmm.RateLimiterConfig {
	if ref == "" {
		return nil
	}
	for _, g := range groups {
		if g.Name != ref {
			continue
		}
		return &vmm.RateLimiterConfig{
			Bandwidth: tokenBucketToWire(g.Bandwidth),
			Ops:       tokenBucketToWire(g.Operations),
		}
	}
	return nil
}

func tokenBucketToWire(tb hypervisor.TokenBucket) *vmm.TokenBucket {
	if tb.Size == 0 {
		return nil
	}
	wire := &vmm.TokenBucket{
		Size:       tb.Size,
		RefillTime: orDefaultI64(tb.RefillTimeMS, 1000),
	}
	if tb.OneTimeBurst > 0 {
		wire.OneTimeBurst = vmm.Ptr(tb.OneTimeBurst)
	}
	return wire
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultI64(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}
