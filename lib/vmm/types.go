package vmm

// VmConfig is the Cloud Hypervisor wire representation of a VM's
// configuration, as accepted by PUT /api/v1/vm.create. Field names and
// nesting mirror Cloud Hypervisor's own OpenAPI document, hand-written for
// the subset of the API the node-agent drives.
type VmConfig struct {
	Payload     PayloadConfig      `json:"payload"`
	Cpus        *CpusConfig        `json:"cpus,omitempty"`
	Memory      *MemoryConfig      `json:"memory,omitempty"`
	Disks       *[]DiskConfig      `json:"disks,omitempty"`
	Net         *[]NetConfig       `json:"net,omitempty"`
	Rng         *RngConfig         `json:"rng,omitempty"`
	Serial      *ConsoleConfig     `json:"serial,omitempty"`
	Console     *ConsoleConfig     `json:"console,omitempty"`
	Fs          *[]FsConfig        `json:"fs,omitempty"`
	Devices     *[]DeviceConfig    `json:"devices,omitempty"`
	Platform    *PlatformConfig    `json:"platform,omitempty"`
}

// PayloadConfig names the kernel/initramfs/firmware/cmdline boot payload.
type PayloadConfig struct {
	Kernel    *string `json:"kernel,omitempty"`
	Initramfs *string `json:"initramfs,omitempty"`
	Firmware  *string `json:"firmware,omitempty"`
	Cmdline   *string `json:"cmdline,omitempty"`
}

// CpusConfig is the VM's CPU topology and vCPU counts.
type CpusConfig struct {
	BootVcpus int          `json:"boot_vcpus"`
	MaxVcpus  int          `json:"max_vcpus"`
	Topology  *CpuTopology `json:"topology,omitempty"`
}

// CpuTopology mirrors Cloud Hypervisor's threads/cores/dies/packages shape.
type CpuTopology struct {
	ThreadsPerCore *int `json:"threads_per_core,omitempty"`
	CoresPerDie    *int `json:"cores_per_die,omitempty"`
	DiesPerPackage *int `json:"dies_per_package,omitempty"`
	Packages       *int `json:"packages,omitempty"`
}

// MemoryConfig is the VM's memory sizing and hotplug/backing options.
type MemoryConfig struct {
	Size          int64   `json:"size"`
	HotplugSize   *int64  `json:"hotplug_size,omitempty"`
	HotplugMethod *string `json:"hotplug_method,omitempty"`
	Hugepages     *bool   `json:"hugepages,omitempty"`
	Shared        *bool   `json:"shared,omitempty"`
	Mergeable     *bool   `json:"mergeable,omitempty"`
	Prefault      *bool   `json:"prefault,omitempty"`
	Thp           *bool   `json:"thp,omitempty"`
}

// DiskConfig is one virtio-blk (or vhost-user-blk) disk device.
type DiskConfig struct {
	ID                string             `json:"id,omitempty"`
	Path              *string            `json:"path,omitempty"`
	Readonly          *bool              `json:"readonly,omitempty"`
	VhostUser         *bool              `json:"vhost_user,omitempty"`
	VhostSocket       *string            `json:"vhost_socket,omitempty"`
	NumQueues         *int               `json:"num_queues,omitempty"`
	QueueSize         *int               `json:"queue_size,omitempty"`
	PciSegment        *int               `json:"pci_segment,omitempty"`
	RateLimiterConfig *RateLimiterConfig `json:"rate_limiter_config,omitempty"`
}

// NetConfig is one virtio-net (or vhost-user-net) network device.
type NetConfig struct {
	ID                string             `json:"id,omitempty"`
	Tap               *string            `json:"tap,omitempty"`
	Ip                *string            `json:"ip,omitempty"`
	Mask              *string            `json:"mask,omitempty"`
	Mac               *string            `json:"mac,omitempty"`
	HostMac           *string            `json:"host_mac,omitempty"`
	Mtu               *int               `json:"mtu,omitempty"`
	NumQueues         *int               `json:"num_queues,omitempty"`
	QueueSize         *int               `json:"queue_size,omitempty"`
	VhostUser         *bool              `json:"vhost_user,omitempty"`
	VhostSocket       *string            `json:"vhost_socket,omitempty"`
	OffloadTso        *bool              `json:"offload_tso,omitempty"`
	OffloadUfo        *bool              `json:"offload_ufo,omitempty"`
	OffloadCsum       *bool              `json:"offload_csum,omitempty"`
	RateLimiterConfig *RateLimiterConfig `json:"rate_limiter_config,omitempty"`
}

// RngConfig is the VM's virtio-rng entropy source.
type RngConfig struct {
	Src string `json:"src"`
}

// ConsoleConfigMode is the mode a serial or console device operates in.
type ConsoleConfigMode string

const (
	ConsoleModeOff    ConsoleConfigMode = "Off"
	ConsoleModePty    ConsoleConfigMode = "Pty"
	ConsoleModeTty    ConsoleConfigMode = "Tty"
	ConsoleModeFile   ConsoleConfigMode = "File"
	ConsoleModeSocket ConsoleConfigMode = "Socket"
	ConsoleModeNull   ConsoleConfigMode = "Null"
)

// ConsoleConfig is a serial or console device.
type ConsoleConfig struct {
	Mode   ConsoleConfigMode `json:"mode"`
	File   *string           `json:"file,omitempty"`
	Socket *string           `json:"socket,omitempty"`
}

// FsConfig is one virtiofs mount.
type FsConfig struct {
	Tag       string `json:"tag"`
	Socket    string `json:"socket"`
	NumQueues int    `json:"num_queues,omitempty"`
}

// DeviceConfig is a PCI passthrough device path, part of the VMM's create
// payload shape. qarax never populates it (device passthrough is not a
// supported feature) but the field keeps the payload wire-complete.
type DeviceConfig struct {
	Path string `json:"path"`
}

// PlatformConfig carries platform-level flags such as the hyper-v
// compatibility bit CT surfaces from the VM's `hyperv` field.
type PlatformConfig struct {
	NumPciSegments *int  `json:"num_pci_segments,omitempty"`
	Hyperv         *bool `json:"hyperv,omitempty"`
}

// RateLimiterConfig is Cloud Hypervisor's token-bucket rate limiter,
// applied to a disk or net device.
type RateLimiterConfig struct {
	Bandwidth  *TokenBucket `json:"bandwidth,omitempty"`
	Ops        *TokenBucket `json:"ops,omitempty"`
}

// TokenBucket is a sustained rate (Size bytes refilled every RefillTime ms)
// plus an optional one-time burst allowance.
type TokenBucket struct {
	Size         int64  `json:"size"`
	OneTimeBurst *int64 `json:"one_time_burst,omitempty"`
	RefillTime   int64  `json:"refill_time"`
}

// VmInfoResponse is the response body of GET /api/v1/vm.info.
type VmInfoResponse struct {
	State     string         `json:"state"`
	Config    VmConfig       `json:"config"`
	MemoryActualSize *int64  `json:"memory_actual_size,omitempty"`
}

// Ptr returns a pointer to v, for constructing the optional-pointer fields
// above from plain values.
func Ptr[T any](v T) *T { return &v }
