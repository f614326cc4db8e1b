package api

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/samber/lo"

	"github.com/qarax/qarax/lib/cpstore"
	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
)

// ByteQuantity accepts either a JSON number of bytes or a human-readable
// string such as "256MB", parsed with datasize.
type ByteQuantity int64

func (b *ByteQuantity) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		var ds datasize.ByteSize
		if err := ds.UnmarshalText([]byte(s)); err != nil {
			return errs.Wrap(errs.ErrInvalidConfig, "invalid byte quantity "+strconv.Quote(s), err)
		}
		*b = ByteQuantity(ds)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errs.Wrap(errs.ErrInvalidConfig, "invalid byte quantity", err)
	}
	*b = ByteQuantity(n)
	return nil
}

func (b ByteQuantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(b))
}

// Host is the wire shape of a host row.
type Host struct {
	ID                string            `json:"id"`
	Address           string            `json:"address"`
	RPCPort           int               `json:"rpc_port"`
	CredentialsRef    string            `json:"credentials_ref,omitempty"`
	Status            string            `json:"status"`
	StatusError       string            `json:"status_error,omitempty"`
	HypervisorVersion string            `json:"hypervisor_version,omitempty"`
	KernelVersion     string            `json:"kernel_version,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func hostToWire(h *cpstore.Host) Host {
	return Host{
		ID:                h.ID,
		Address:           h.Address,
		RPCPort:           h.RPCPort,
		CredentialsRef:    h.CredentialsRef,
		Status:            string(h.Status),
		StatusError:       h.StatusError,
		HypervisorVersion: h.HypervisorVersion,
		KernelVersion:     h.KernelVersion,
		Metadata:          h.Metadata,
		CreatedAt:         h.CreatedAt,
		UpdatedAt:         h.UpdatedAt,
	}
}

// VmDisk is the wire shape of a declarative disk.
type VmDisk struct {
	DeviceID         string `json:"device_id"`
	BootOrder        *int   `json:"boot_order,omitempty"`
	VhostUser        bool   `json:"vhost_user,omitempty"`
	VhostSocket      string `json:"vhost_socket,omitempty"`
	StorageObjectRef string `json:"storage_object_ref,omitempty"`
	ReadOnly         bool   `json:"read_only,omitempty"`
	NumQueues        int    `json:"num_queues,omitempty"`
	QueueSize        int    `json:"queue_size,omitempty"`
	PCISegment       int    `json:"pci_segment,omitempty"`
	RateLimitGroup   string `json:"rate_limit_group,omitempty"`
}

// VmNetwork is the wire shape of a declarative NIC.
type VmNetwork struct {
	DeviceID       string `json:"device_id"`
	VhostUser      bool   `json:"vhost_user,omitempty"`
	VhostSocket    string `json:"vhost_socket,omitempty"`
	TAPName        string `json:"tap_name,omitempty"`
	MAC            string `json:"mac,omitempty"`
	HostMAC        string `json:"host_mac,omitempty"`
	IP             string `json:"ip,omitempty"`
	MTU            int    `json:"mtu,omitempty"`
	NumQueues      int    `json:"num_queues,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	RateLimitGroup string `json:"rate_limit_group,omitempty"`
}

// VmConsole is the wire shape of a console slot.
type VmConsole struct {
	Port       string `json:"port"`
	Mode       string `json:"mode"`
	FilePath   string `json:"file_path,omitempty"`
	SocketPath string `json:"socket_path,omitempty"`
}

// VmRng is the wire shape of the at-most-one RNG device.
type VmRng struct {
	SourcePath string `json:"source_path,omitempty"`
}

// VmFilesystem is the wire shape of a virtiofs mount.
type VmFilesystem struct {
	Tag         string `json:"tag"`
	SocketPath  string `json:"socket_path,omitempty"`
	NumQueues   int    `json:"num_queues,omitempty"`
	Image       string `json:"image,omitempty"`
	ImageDigest string `json:"image_digest,omitempty"`
}

// RateLimitGroup is the wire shape of a named token-bucket policy.
type RateLimitGroup struct {
	Name              string `json:"name"`
	BandwidthSize     int64  `json:"bandwidth_size,omitempty"`
	BandwidthRefillMS int64  `json:"bandwidth_refill_ms,omitempty"`
	OpsSize           int64  `json:"ops_size,omitempty"`
	OpsRefillMS       int64  `json:"ops_refill_ms,omitempty"`
}

// Vm is the wire shape of a VM row.
type Vm struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	HostID            *string     `json:"host_id"`
	Hypervisor        string      `json:"hypervisor"`
	BootVCPUs         int         `json:"boot_vcpus"`
	MaxVCPUs          int         `json:"max_vcpus"`
	MemorySize        int64       `json:"memory_size"`
	MemoryHotplugSize int64       `json:"memory_hotplug_size,omitempty"`
	MemoryShared      bool        `json:"memory_shared"`
	BootSourceID      *string     `json:"boot_source_id"`
	Image             string      `json:"image,omitempty"`
	Status            string      `json:"status"`
	StatusError       string      `json:"status_error,omitempty"`
	Disks             []VmDisk    `json:"disks,omitempty"`
	Networks          []VmNetwork `json:"networks,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func vmToWire(vm *cpstore.VM) Vm {
	return Vm{
		ID:                vm.ID,
		Name:              vm.Name,
		HostID:            vm.HostID,
		Hypervisor:        string(vm.Hypervisor),
		BootVCPUs:         vm.BootVCPUs,
		MaxVCPUs:          vm.MaxVCPUs,
		MemorySize:        vm.MemoryBytes,
		MemoryHotplugSize: vm.HotplugBytes,
		MemoryShared:      vm.MemoryShared,
		BootSourceID:      vm.BootSourceID,
		Image:             vm.ImageRef,
		Status:            string(vm.Status),
		StatusError:       vm.StatusError,
		Disks: lo.Map(vm.Disks, func(d cpstore.Disk, _ int) VmDisk {
			return VmDisk{
				DeviceID:         d.DeviceID,
				BootOrder:        d.BootOrder,
				VhostUser:        d.VhostUser,
				VhostSocket:      d.VhostSocket,
				StorageObjectRef: d.StorageObjectRef,
				ReadOnly:         d.ReadOnly,
				NumQueues:        d.NumQueues,
				QueueSize:        d.QueueSize,
				PCISegment:       d.PCISegment,
				RateLimitGroup:   d.RateLimitRef,
			}
		}),
		Networks: lo.Map(vm.Networks, func(n cpstore.NetworkInterface, _ int) VmNetwork {
			return VmNetwork{
				DeviceID:       n.DeviceID,
				VhostUser:      n.VhostUser,
				VhostSocket:    n.VhostSocket,
				TAPName:        n.TAPName,
				MAC:            n.MAC,
				HostMAC:        n.HostMAC,
				IP:             n.IP,
				MTU:            n.MTU,
				NumQueues:      n.NumQueues,
				QueueSize:      n.QueueSize,
				RateLimitGroup: n.RateLimitRef,
			}
		}),
		CreatedAt: vm.CreatedAt,
		UpdatedAt: vm.UpdatedAt,
	}
}

func consoleToDomain(c VmConsole) hypervisor.ConsoleConfig {
	return hypervisor.ConsoleConfig{
		Port:       c.Port,
		Mode:       hypervisor.ConsoleMode(c.Mode),
		FilePath:   c.FilePath,
		SocketPath: c.SocketPath,
	}
}

func filesystemToDomain(f VmFilesystem) hypervisor.FilesystemConfig {
	return hypervisor.FilesystemConfig{
		Tag:         f.Tag,
		SocketPath:  f.SocketPath,
		NumQueues:   f.NumQueues,
		ImageRef:    f.Image,
		ImageDigest: f.ImageDigest,
	}
}

func rateLimitGroupToDomain(g RateLimitGroup) hypervisor.RateLimitGroup {
	return hypervisor.RateLimitGroup{
		Name:       g.Name,
		Bandwidth:  hypervisor.TokenBucket{Size: g.BandwidthSize, RefillTimeMS: g.BandwidthRefillMS},
		Operations: hypervisor.TokenBucket{Size: g.OpsSize, RefillTimeMS: g.OpsRefillMS},
	}
}

// BootSource is the wire shape of a boot source row.
type BootSource struct {
	ID          string    `json:"id"`
	KernelRef   string    `json:"kernel_ref"`
	InitrdRef   string    `json:"initrd_ref,omitempty"`
	FirmwareRef string    `json:"firmware_ref,omitempty"`
	KernelArgs  string    `json:"kernel_args,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func bootSourceToWire(b *cpstore.BootSource) BootSource {
	return BootSource{
		ID:          b.ID,
		KernelRef:   b.KernelRef,
		InitrdRef:   b.InitrdRef,
		FirmwareRef: b.FirmwareRef,
		KernelArgs:  b.KernelArgs,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

// StoragePool is the wire shape of a storage pool row.
type StoragePool struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Config    map[string]string `json:"config,omitempty"`
	Capacity  *int64            `json:"capacity"`
	Allocated int64             `json:"allocated"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func storagePoolToWire(p *cpstore.StoragePool) StoragePool {
	return StoragePool{
		ID:        p.ID,
		Type:      p.Type,
		Config:    p.Config,
		Capacity:  p.Capacity,
		Allocated: p.Allocated,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// StorageObject is the wire shape of a storage object row.
type StorageObject struct {
	ID        string            `json:"id"`
	PoolID    string            `json:"pool_id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	SizeBytes int64             `json:"size_bytes"`
	Config    map[string]string `json:"config,omitempty"`
	ParentID  *string           `json:"parent_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func storageObjectToWire(o *cpstore.StorageObject) StorageObject {
	return StorageObject{
		ID:        o.ID,
		PoolID:    o.PoolID,
		Name:      o.Name,
		Type:      o.Type,
		SizeBytes: o.SizeBytes,
		Config:    o.Config,
		ParentID:  o.ParentID,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// Transfer is the wire shape of a transfer row.
type Transfer struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	SourceURI string    `json:"source_uri"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	ObjectID  *string   `json:"object_id"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func transferToWire(t *cpstore.Transfer) Transfer {
	return Transfer{
		ID:        t.ID,
		PoolID:    t.PoolID,
		SourceURI: t.SourceURI,
		Status:    string(t.Status),
		Progress:  t.Progress,
		ObjectID:  t.ObjectID,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// Job is the wire shape of a job row.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	ResourceRef string    `json:"resource_ref,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func jobToWire(j *cpstore.Job) Job {
	return Job{
		ID:          j.ID,
		Type:        j.Type,
		Status:      string(j.Status),
		Progress:    j.Progress,
		ResourceRef: j.ResourceRef,
		Result:      j.Result,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}
