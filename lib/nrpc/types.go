// Package nrpc implements the Node RPC Server (NRPC): a narrow
// HTTP surface mapping 1:1 to VM-M operations, plus the client the
// control-plane scheduler/dispatcher uses to reach it.
package nrpc

import (
	"github.com/qarax/qarax/lib/hypervisor"
	"github.com/qarax/qarax/lib/vmconfig"
	"github.com/qarax/qarax/lib/vmmanager"
)

// VmConfig is the wire shape of CreateVM's body, mirroring the CT input:
// CPU, memory, payload, disks,
// networks, consoles, RNG, filesystems. Translation into hypervisor.VMConfig
// happens inside the NRPC handler via vmconfig.Translate.
type VmConfig struct {
	Hypervisor string `json:"hypervisor,omitempty"`

	BootVCPUs int           `json:"boot_vcpus"`
	MaxVCPUs  int           `json:"max_vcpus"`
	Topology  *CPUTopology  `json:"topology,omitempty"`
	Hyperv    bool          `json:"hyperv"`

	MemorySize   int64 `json:"memory_size"`
	HotplugSize  int64 `json:"hotplug_size,omitempty"`
	Hugepages    bool  `json:"hugepages"`
	MemoryShared bool  `json:"memory_shared"`
	Mergeable    bool  `json:"mergeable"`
	Prefault     bool  `json:"prefault"`
	THP          bool  `json:"thp"`

	KernelPath   string `json:"kernel_path"`
	InitrdPath   string `json:"initrd_path,omitempty"`
	FirmwarePath string `json:"firmware_path,omitempty"`
	KernelArgs   string `json:"kernel_args,omitempty"`

	Disks       []Disk            `json:"disks,omitempty"`
	Networks    []Net             `json:"networks,omitempty"`
	Consoles    []hypervisor.ConsoleConfig `json:"consoles,omitempty"`
	RNG         *hypervisor.RNGConfig      `json:"rng,omitempty"`
	Filesystems []hypervisor.FilesystemConfig `json:"filesystems,omitempty"`

	RateLimitGroups []hypervisor.RateLimitGroup `json:"rate_limit_groups,omitempty"`
}

// CPUTopology mirrors hypervisor.CPUTopology on the wire.
type CPUTopology struct {
	ThreadsPerCore int `json:"threads_per_core"`
	CoresPerDie    int `json:"cores_per_die"`
	DiesPerPackage int `json:"dies_per_package"`
	Packages       int `json:"packages"`
}

// Disk is the wire shape of one CT disk input.
type Disk struct {
	DeviceID         string `json:"device_id"`
	BootOrder        *int   `json:"boot_order,omitempty"`
	VhostUser        bool   `json:"vhost_user,omitempty"`
	VhostSocket      string `json:"vhost_socket,omitempty"`
	StorageObjectRef string `json:"storage_object_ref,omitempty"`
	ResolvedPath     string `json:"resolved_path,omitempty"`
	ReadOnly         bool   `json:"read_only,omitempty"`
	NumQueues        int    `json:"num_queues,omitempty"`
	QueueSize        int    `json:"queue_size,omitempty"`
	PCISegment       int    `json:"pci_segment,omitempty"`
	RateLimitRef     string `json:"rate_limit_ref,omitempty"`
}

// Net is the wire shape of one CT network input.
type Net struct {
	DeviceID    string `json:"device_id"`
	VhostUser   bool   `json:"vhost_user,omitempty"`
	VhostSocket string `json:"vhost_socket,omitempty"`
	TAPName     string `json:"tap_name,omitempty"`
	MAC         string `json:"mac,omitempty"`
	HostMAC     string `json:"host_mac,omitempty"`
	IP          string `json:"ip,omitempty"`
	MTU         int    `json:"mtu,omitempty"`
	NumQueues   int    `json:"num_queues,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	OffloadTSO  *bool  `json:"offload_tso,omitempty"`
	OffloadUFO  *bool  `json:"offload_ufo,omitempty"`
	OffloadCSUM *bool  `json:"offload_csum,omitempty"`

	RateLimitRef string `json:"rate_limit_ref,omitempty"`
}

// toInput converts the wire VmConfig into vmconfig.Input for CT translation.
func (c VmConfig) toInput() vmconfig.Input {
	var topo *hypervisor.CPUTopology
	if c.Topology != nil {
		topo = &hypervisor.CPUTopology{
			ThreadsPerCore: c.Topology.ThreadsPerCore,
			CoresPerDie:    c.Topology.CoresPerDie,
			DiesPerPackage: c.Topology.DiesPerPackage,
			Packages:       c.Topology.Packages,
		}
	}

	disks := make([]vmconfig.DiskInput, len(c.Disks))
	for i, d := range c.Disks {
		disks[i] = vmconfig.DiskInput{
			DeviceID:         d.DeviceID,
			BootOrder:        d.BootOrder,
			VhostUser:        d.VhostUser,
			VhostSocket:      d.VhostSocket,
			StorageObjectRef: d.StorageObjectRef,
			ResolvedPath:     d.ResolvedPath,
			ReadOnly:         d.ReadOnly,
			NumQueues:        d.NumQueues,
			QueueSize:        d.QueueSize,
			PCISegment:       d.PCISegment,
			RateLimitRef:     d.RateLimitRef,
		}
	}

	nets := make([]vmconfig.NetInput, len(c.Networks))
	for i, n := range c.Networks {
		nets[i] = vmconfig.NetInput{
			DeviceID:    n.DeviceID,
			VhostUser:   n.VhostUser,
			VhostSocket: n.VhostSocket,
			TAPName:     n.TAPName,
			MAC:         n.MAC,
			HostMAC:     n.HostMAC,
			IP:          n.IP,
			MTU:         n.MTU,
			NumQueues:   n.NumQueues,
			QueueSize:   n.QueueSize,
			OffloadTSO:  n.OffloadTSO,
			OffloadUFO:  n.OffloadUFO,
			OffloadCSUM: n.OffloadCSUM,
			RateLimitRef: n.RateLimitRef,
		}
	}

	return vmconfig.Input{
		Flavor:          hypervisor.Type(c.Hypervisor),
		BootVCPUs:       c.BootVCPUs,
		MaxVCPUs:        c.MaxVCPUs,
		Topology:        topo,
		Hyperv:          c.Hyperv,
		MemoryBytes:     c.MemorySize,
		HotplugBytes:    c.HotplugSize,
		Hugepages:       c.Hugepages,
		MemoryShared:    c.MemoryShared,
		Mergeable:       c.Mergeable,
		Prefault:        c.Prefault,
		THP:             c.THP,
		KernelPath:      c.KernelPath,
		InitrdPath:      c.InitrdPath,
		FirmwarePath:    c.FirmwarePath,
		KernelArgs:      c.KernelArgs,
		Disks:           disks,
		Networks:        nets,
		Consoles:        c.Consoles,
		RNG:             c.RNG,
		Filesystems:     c.Filesystems,
		RateLimitGroups: c.RateLimitGroups,
	}
}

// VmInfo is the wire shape of VM-M's VMSnapshot.
type VmInfo struct {
	ID      string                  `json:"id"`
	State   string                  `json:"state"`
	PID     int                     `json:"pid,omitempty"`
	Sockets string                  `json:"sockets,omitempty"`
	Devices []hypervisor.DeviceInfo `json:"devices,omitempty"`
}

func vmInfoFromSnapshot(s *vmmanager.VMSnapshot) VmInfo {
	return VmInfo{
		ID:      s.ID,
		State:   string(s.State),
		PID:     s.PID,
		Sockets: s.Sockets,
		Devices: s.Devices,
	}
}

// NetConfig is the wire shape of AddNetworkDevice's body.
type NetConfig struct {
	DeviceID    string `json:"device_id"`
	VhostUser   bool   `json:"vhost_user,omitempty"`
	VhostSocket string `json:"vhost_socket,omitempty"`
	TAPDevice   string `json:"tap_device,omitempty"`
	MAC         string `json:"mac,omitempty"`
	HostMAC     string `json:"host_mac,omitempty"`
	IP          string `json:"ip,omitempty"`
	MTU         int    `json:"mtu,omitempty"`
	NumQueues   int    `json:"num_queues,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	OffloadTSO  bool   `json:"offload_tso,omitempty"`
	OffloadUFO  bool   `json:"offload_ufo,omitempty"`
	OffloadCSUM bool   `json:"offload_csum,omitempty"`
}

func (n NetConfig) toHypervisorConfig() hypervisor.NetConfig {
	return hypervisor.NetConfig{
		DeviceID:    n.DeviceID,
		VhostUser:   n.VhostUser,
		VhostSocket: n.VhostSocket,
		TAPDevice:   n.TAPDevice,
		MAC:         n.MAC,
		HostMAC:     n.HostMAC,
		IP:          n.IP,
		MTU:         n.MTU,
		NumQueues:   n.NumQueues,
		QueueSize:   n.QueueSize,
		OffloadTSO:  n.OffloadTSO,
		OffloadUFO:  n.OffloadUFO,
		OffloadCSUM: n.OffloadCSUM,
	}
}

// DiskConfig is the wire shape of AddDiskDevice's body.
type DiskConfig struct {
	DeviceID    string `json:"device_id"`
	Path        string `json:"path,omitempty"`
	VhostUser   bool   `json:"vhost_user,omitempty"`
	VhostSocket string `json:"vhost_socket,omitempty"`
	ReadOnly    bool   `json:"read_only,omitempty"`
	NumQueues   int    `json:"num_queues,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	PCISegment  int    `json:"pci_segment,omitempty"`
}

func (d DiskConfig) toHypervisorConfig() hypervisor.DiskConfig {
	return hypervisor.DiskConfig{
		DeviceID:    d.DeviceID,
		Path:        d.Path,
		VhostUser:   d.VhostUser,
		VhostSocket: d.VhostSocket,
		ReadOnly:    d.ReadOnly,
		NumQueues:   d.NumQueues,
		QueueSize:   d.QueueSize,
		PCISegment:  d.PCISegment,
	}
}
