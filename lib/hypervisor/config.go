package hypervisor

// VMConfig is the hypervisor-agnostic VM configuration emitted by the
// Config Translator (CT) and consumed by HA.Create. Field names
// mirror the CPS entities after CT validation and defaulting.
type VMConfig struct {
	// Flavor selects the hypervisor backend; empty means the node's
	// default (Cloud Hypervisor).
	Flavor Type

	BootVCPUs int
	MaxVCPUs  int
	Topology  *CPUTopology
	Hyperv    bool

	MemoryBytes  int64
	HotplugBytes int64 // 0 = hotplug disabled
	Hugepages    bool
	MemoryShared bool
	Mergeable    bool
	Prefault     bool
	THP          bool

	KernelPath   string
	InitrdPath   string
	FirmwarePath string
	KernelArgs   string

	Disks       []DiskConfig
	Networks    []NetConfig
	Consoles    []ConsoleConfig
	RNG         *RNGConfig
	Filesystems []FilesystemConfig

	RateLimitGroups []RateLimitGroup
}

// CPUTopology defines the virtual CPU topology.
type CPUTopology struct {
	ThreadsPerCore int
	CoresPerDie    int
	DiesPerPackage int
	Packages       int
}

// DiskConfig represents a disk attached to the VM (CPS VmDisk).
// Exactly one of Path or VhostSocket is set, per CT's XOR validation rule.
type DiskConfig struct {
	DeviceID     string
	Path         string // resolved storage-object host path
	VhostUser    bool
	VhostSocket  string
	ReadOnly     bool
	NumQueues    int
	QueueSize    int
	PCISegment   int
	BootOrder    *int
	RateLimitRef string // references a RateLimitGroup.Name, or ""
}

// NetConfig represents a network interface attached to the VM (CPS
// NetworkInterface). Kind is inferred by CT from which fields are
// set: VhostSocket → vhost-user, TAPDevice → TAP, else MACVTAP.
type NetConfig struct {
	DeviceID    string
	VhostUser   bool
	VhostSocket string
	TAPDevice   string
	MAC         string
	HostMAC     string
	IP          string
	MTU         int
	NumQueues   int
	QueueSize   int
	OffloadTSO  bool
	OffloadUFO  bool
	OffloadCSUM bool

	RateLimitRef string
}

// ConsoleMode is a VmConsole's operating mode.
type ConsoleMode string

const (
	ConsoleOff    ConsoleMode = "off"
	ConsolePTY    ConsoleMode = "pty"
	ConsoleTTY    ConsoleMode = "tty"
	ConsoleFile   ConsoleMode = "file"
	ConsoleSocket ConsoleMode = "socket"
	ConsoleNull   ConsoleMode = "null"
)

// ConsoleConfig represents one of a VM's up-to-two consoles (serial,
// console). Mode file requires FilePath; mode socket requires SocketPath.
type ConsoleConfig struct {
	Port       string // "serial" or "console"
	Mode       ConsoleMode
	FilePath   string
	SocketPath string
}

// RNGConfig is the VM's at-most-one virtio-rng device.
type RNGConfig struct {
	SourcePath string // default "/dev/urandom"
}

// FilesystemConfig is a virtiofs mount.
type FilesystemConfig struct {
	Tag          string
	SocketPath   string
	NumQueues    int
	ImageRef     string
	ImageDigest  string
}

// RateLimitGroup is a named token-bucket policy shared by multiple devices
// on one VM.
type RateLimitGroup struct {
	Name       string
	Bandwidth  TokenBucket
	Operations TokenBucket
}

// TokenBucket mirrors Cloud Hypervisor's rate-limiter token bucket shape:
// a sustained rate with an optional burst allowance refilled every
// RefillTimeMS milliseconds.
type TokenBucket struct {
	Size         int64
	OneTimeBurst int64
	RefillTimeMS int64
}

// VMInfo and VMState are declared in hypervisor.go.
