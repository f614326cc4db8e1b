// Package vmconfig implements the Config Translator (CT): pure
// translation and validation from the CPS's declarative VM description into
// the hypervisor-agnostic hypervisor.VMConfig that HA.Create consumes.
package vmconfig

import (
	"fmt"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
)

// Input is the pre-translation view of a VM's declarative configuration,
// shaped after the CPS entities (VM, VmDisk, NetworkInterface,
// VmConsole, VmRng, VmFilesystem, RateLimitGroup).
type Input struct {
	Flavor hypervisor.Type

	BootVCPUs int
	MaxVCPUs  int
	Topology  *hypervisor.CPUTopology
	Hyperv    bool

	MemoryBytes  int64
	HotplugBytes int64
	Hugepages    bool
	MemoryShared bool
	Mergeable    bool
	Prefault     bool
	THP          bool

	KernelPath   string
	InitrdPath   string
	FirmwarePath string
	KernelArgs   string

	Disks       []DiskInput
	Networks    []NetInput
	Consoles    []hypervisor.ConsoleConfig
	RNG         *hypervisor.RNGConfig
	Filesystems []hypervisor.FilesystemConfig

	RateLimitGroups []hypervisor.RateLimitGroup
}

// DiskInput is a VmDisk prior to storage-object path resolution.
type DiskInput struct {
	DeviceID         string
	BootOrder        *int
	VhostUser        bool
	VhostSocket      string
	StorageObjectRef string
	// ResolvedPath is the host path StorageObjectRef resolves to; callers
	// must populate this (e.g. from CPS) when VhostUser is false.
	ResolvedPath string
	ReadOnly     bool
	NumQueues    int
	QueueSize    int
	PCISegment   int
	RateLimitRef string
}

// NetInput is a NetworkInterface prior to kind inference.
type NetInput struct {
	DeviceID    string
	VhostUser   bool
	VhostSocket string
	TAPName     string
	MAC         string
	HostMAC     string
	IP          string
	MTU         int
	NumQueues   int
	QueueSize   int
	OffloadTSO  *bool
	OffloadUFO  *bool
	OffloadCSUM *bool

	RateLimitRef string
}

// Translate validates in and emits the HA create payload, applying the
// cross-field rules and defaults. All rejections wrap errs.ErrInvalidConfig.
func Translate(in Input) (hypervisor.VMConfig, error) {
	if err := validateFlavor(in); err != nil {
		return hypervisor.VMConfig{}, err
	}
	if err := validateCPU(in); err != nil {
		return hypervisor.VMConfig{}, err
	}
	if err := validateMemory(in); err != nil {
		return hypervisor.VMConfig{}, err
	}

	groupNames := make(map[string]bool, len(in.RateLimitGroups))
	for _, g := range in.RateLimitGroups {
		groupNames[g.Name] = true
	}

	disks, err := translateDisks(in, groupNames)
	if err != nil {
		return hypervisor.VMConfig{}, err
	}
	nets, err := translateNets(in, groupNames)
	if err != nil {
		return hypervisor.VMConfig{}, err
	}
	if err := validateConsoles(in.Consoles); err != nil {
		return hypervisor.VMConfig{}, err
	}

	rng := in.RNG
	if rng == nil {
		rng = &hypervisor.RNGConfig{SourcePath: "/dev/urandom"}
	} else if rng.SourcePath == "" {
		rng = &hypervisor.RNGConfig{SourcePath: "/dev/urandom"}
	}

	return hypervisor.VMConfig{
		Flavor:          in.Flavor,
		BootVCPUs:       in.BootVCPUs,
		MaxVCPUs:        in.MaxVCPUs,
		Topology:        in.Topology,
		Hyperv:          in.Hyperv,
		MemoryBytes:     in.MemoryBytes,
		HotplugBytes:    in.HotplugBytes,
		Hugepages:       in.Hugepages,
		MemoryShared:    in.MemoryShared,
		Mergeable:       in.Mergeable,
		Prefault:        in.Prefault,
		THP:             in.THP,
		KernelPath:      in.KernelPath,
		InitrdPath:      in.InitrdPath,
		FirmwarePath:    in.FirmwarePath,
		KernelArgs:      in.KernelArgs,
		Disks:           disks,
		Networks:        nets,
		Consoles:        in.Consoles,
		RNG:             rng,
		Filesystems:     in.Filesystems,
		RateLimitGroups: in.RateLimitGroups,
	}, nil
}

func validateFlavor(in Input) error {
	switch in.Flavor {
	case "", hypervisor.TypeCloudHypervisor, hypervisor.TypeQEMU:
		return nil
	default:
		return errs.Wrap(errs.ErrInvalidConfig, "unknown hypervisor flavor "+string(in.Flavor), nil)
	}
}

func validateCPU(in Input) error {
	if in.BootVCPUs <= 0 || in.MaxVCPUs <= 0 {
		return errs.Wrap(errs.ErrInvalidConfig, "boot_vcpus and max_vcpus must be > 0", nil)
	}
	if in.BootVCPUs > in.MaxVCPUs {
		return errs.Wrap(errs.ErrInvalidConfig, "boot_vcpus must be <= max_vcpus", nil)
	}
	return nil
}

func validateMemory(in Input) error {
	if in.MemoryBytes <= 0 {
		return errs.Wrap(errs.ErrInvalidConfig, "memory_size must be > 0", nil)
	}
	if in.HotplugBytes != 0 && in.HotplugBytes < in.MemoryBytes {
		return errs.Wrap(errs.ErrInvalidConfig, "hotplug_size must be >= memory_size", nil)
	}
	return nil
}

func translateDisks(in Input, groupNames map[string]bool) ([]hypervisor.DiskConfig, error) {
	out := make([]hypervisor.DiskConfig, 0, len(in.Disks))
	for _, d := range in.Disks {
		if d.VhostUser {
			if d.VhostSocket == "" {
				return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("disk %s: vhost_user requires vhost_socket", d.DeviceID), nil)
			}
			if !in.MemoryShared {
				return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("disk %s: vhost_user requires memory_shared=true", d.DeviceID), nil)
			}
		} else if d.ResolvedPath == "" {
			return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("disk %s: storage_object must resolve to a path", d.DeviceID), nil)
		}
		if d.RateLimitRef != "" && !groupNames[d.RateLimitRef] {
			return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("disk %s: unknown rate_limit_group %q", d.DeviceID, d.RateLimitRef), nil)
		}

		out = append(out, hypervisor.DiskConfig{
			DeviceID:     d.DeviceID,
			Path:         d.ResolvedPath,
			VhostUser:    d.VhostUser,
			VhostSocket:  d.VhostSocket,
			ReadOnly:     d.ReadOnly,
			NumQueues:    orDefault(d.NumQueues, 1),
			QueueSize:    orDefault(d.QueueSize, 128),
			PCISegment:   d.PCISegment,
			BootOrder:    d.BootOrder,
			RateLimitRef: d.RateLimitRef,
		})
	}
	return out, nil
}

func translateNets(in Input, groupNames map[string]bool) ([]hypervisor.NetConfig, error) {
	out := make([]hypervisor.NetConfig, 0, len(in.Networks))
	for _, n := range in.Networks {
		set := 0
		if n.VhostUser {
			set++
		}
		if n.TAPName != "" {
			set++
		}
		if set > 1 {
			return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("nic %s: vhost_user and tap_name are mutually exclusive", n.DeviceID), nil)
		}
		if n.VhostUser {
			if n.VhostSocket == "" {
				return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("nic %s: vhost_user requires vhost_socket", n.DeviceID), nil)
			}
			if !in.MemoryShared {
				return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("nic %s: vhost_user requires memory_shared=true", n.DeviceID), nil)
			}
		}
		if n.RateLimitRef != "" && !groupNames[n.RateLimitRef] {
			return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("nic %s: unknown rate_limit_group %q", n.DeviceID, n.RateLimitRef), nil)
		}

		mtu := orDefault(n.MTU, 1500)
		if n.MTU < 0 {
			return nil, errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("nic %s: mtu must be > 0", n.DeviceID), nil)
		}

		out = append(out, hypervisor.NetConfig{
			DeviceID:    n.DeviceID,
			VhostUser:   n.VhostUser,
			VhostSocket: n.VhostSocket,
			TAPDevice:   n.TAPName,
			MAC:         n.MAC,
			HostMAC:     n.HostMAC,
			IP:          n.IP,
			MTU:         mtu,
			NumQueues:   orDefault(n.NumQueues, 1),
			QueueSize:   orDefault(n.QueueSize, 256),
			OffloadTSO:  boolOrDefault(n.OffloadTSO, true),
			OffloadUFO:  boolOrDefault(n.OffloadUFO, true),
			OffloadCSUM: boolOrDefault(n.OffloadCSUM, true),
			RateLimitRef: n.RateLimitRef,
		})
	}
	return out, nil
}

func validateConsoles(consoles []hypervisor.ConsoleConfig) error {
	if len(consoles) > 2 {
		return errs.Wrap(errs.ErrInvalidConfig, "at most two consoles (serial, console) are allowed", nil)
	}
	for _, c := range consoles {
		switch c.Mode {
		case hypervisor.ConsoleFile:
			if c.FilePath == "" {
				return errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("console %s: file mode requires file_path", c.Port), nil)
			}
		case hypervisor.ConsoleSocket:
			if c.SocketPath == "" {
				return errs.Wrap(errs.ErrInvalidConfig, fmt.Sprintf("console %s: socket mode requires socket_path", c.Port), nil)
			}
		}
	}
	return nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
