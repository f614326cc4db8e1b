package cpstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/qarax/qarax/lib/errs"
	"github.com/qarax/qarax/lib/hypervisor"
)

// VMStatus is a VM's observed status as persisted by the CPS (the
// "observed status"). It mirrors vmruntime.ObservedState, duplicated here so
// this package has no data-plane import.
type VMStatus string

const (
	VMUnknown   VMStatus = "unknown"
	VMPending   VMStatus = "pending"
	VMCreated   VMStatus = "created"
	VMRunning   VMStatus = "running"
	VMPaused    VMStatus = "paused"
	VMShutdown  VMStatus = "shutdown"
)

// Disk is one VmDisk row, embedded as JSON on the owning VM.
type Disk struct {
	DeviceID         string `json:"device_id"`
	BootOrder        *int   `json:"boot_order,omitempty"`
	VhostUser        bool   `json:"vhost_user,omitempty"`
	VhostSocket      string `json:"vhost_socket,omitempty"`
	StorageObjectRef string `json:"storage_object_ref,omitempty"`
	ReadOnly         bool   `json:"read_only,omitempty"`
	NumQueues        int    `json:"num_queues,omitempty"`
	QueueSize        int    `json:"queue_size,omitempty"`
	PCISegment       int    `json:"pci_segment,omitempty"`
	RateLimitRef     string `json:"rate_limit_ref,omitempty"`
}

// NetworkInterface is one NetworkInterface row.
type NetworkInterface struct {
	DeviceID     string `json:"device_id"`
	VhostUser    bool   `json:"vhost_user,omitempty"`
	VhostSocket  string `json:"vhost_socket,omitempty"`
	TAPName      string `json:"tap_name,omitempty"`
	MAC          string `json:"mac,omitempty"`
	HostMAC      string `json:"host_mac,omitempty"`
	IP           string `json:"ip,omitempty"`
	MTU          int    `json:"mtu,omitempty"`
	NumQueues    int    `json:"num_queues,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	RateLimitRef string `json:"rate_limit_ref,omitempty"`
}

// VM is the declarative VM entity.
type VM struct {
	ID       string
	Name     string
	HostID   *string
	Hypervisor hypervisor.Type

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

	BootSourceID *string
	ImageRef     string

	Disks           []Disk
	Networks        []NetworkInterface
	Consoles        []hypervisor.ConsoleConfig
	RNG             *hypervisor.RNGConfig
	Filesystems     []hypervisor.FilesystemConfig
	RateLimitGroups []hypervisor.RateLimitGroup

	Status      VMStatus
	StatusError string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateVM inserts a VM row. host_id is expected to already be set by the
// scheduler when called from the create-VM flow.
func (s *Store) CreateVM(ctx context.Context, vm *VM) error {
	if vm.Status == "" {
		vm.Status = VMCreated
	}

	disks, _ := json.Marshal(vm.Disks)
	nets, _ := json.Marshal(vm.Networks)
	consoles, _ := json.Marshal(vm.Consoles)
	rng, _ := json.Marshal(vm.RNG)
	fses, _ := json.Marshal(vm.Filesystems)
	rlgs, _ := json.Marshal(vm.RateLimitGroups)
	topo, _ := json.Marshal(vm.Topology)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vms (
			id, name, host_id, hypervisor, boot_vcpus, max_vcpus, topology, hyperv,
			memory_size, hotplug_size, hugepages, memory_shared, mergeable, prefault, thp,
			boot_source_id, image_ref, disks, networks, consoles, rng, filesystems,
			rate_limit_groups, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, vm.ID, vm.Name, vm.HostID, vm.Hypervisor, vm.BootVCPUs, vm.MaxVCPUs, string(topo), vm.Hyperv,
		vm.MemoryBytes, vm.HotplugBytes, vm.Hugepages, vm.MemoryShared, vm.Mergeable, vm.Prefault, vm.THP,
		vm.BootSourceID, vm.ImageRef, string(disks), string(nets), string(consoles), string(rng), string(fses),
		string(rlgs), vm.Status)
	if err != nil {
		return wrapConflict(err, "vm "+vm.Name)
	}
	return nil
}

// GetVM retrieves a VM by exact ID.
func (s *Store) GetVM(ctx context.Context, id string) (*VM, error) {
	row := s.db.QueryRowContext(ctx, vmSelect+" WHERE id = ?", id)
	return scanVM(row)
}

// GetVMByIDOrName resolves a VM by exact ID, then exact name, then
// unambiguous ID prefix, so the REST surface can address a VM by any of
// the three.
func (s *Store) GetVMByIDOrName(ctx context.Context, idOrName string) (*VM, error) {
	if vm, err := s.GetVM(ctx, idOrName); err == nil {
		return vm, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, vmSelect+" WHERE name = ?", idOrName)
	if vm, err := scanVM(row); err == nil {
		return vm, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, vmSelect+" WHERE id LIKE ? || '%'", idOrName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*VM
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, vm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, errs.Wrap(errs.ErrNotFound, "vm "+idOrName+" not found", nil)
	case 1:
		return matches[0], nil
	default:
		return nil, errs.Wrap(errs.ErrStoreConflict, "ambiguous vm prefix "+idOrName, nil)
	}
}

// ListVMs returns every VM, optionally filtered to one host.
func (s *Store) ListVMs(ctx context.Context, hostID string) ([]*VM, error) {
	query := vmSelect
	args := []any{}
	if hostID != "" {
		query += " WHERE host_id = ?"
		args = append(args, hostID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VM
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}

// UpdateVMStatus persists an observed-state update returned by the node
// (every observed-state update returned by the node is persisted).
func (s *Store) UpdateVMStatus(ctx context.Context, id string, status VMStatus, statusErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vms SET status = ?, status_error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, status, statusErr, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "vm "+id)
}

// UpdateVMImageRef records the OCI image reference associated with a VM.
func (s *Store) UpdateVMImageRef(ctx context.Context, id, imageRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vms SET image_ref = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, imageRef, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "vm "+id)
}

// DeleteVM removes a VM row.
func (s *Store) DeleteVM(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vms WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "vm "+id)
}

const vmSelect = `
	SELECT id, name, host_id, hypervisor, boot_vcpus, max_vcpus, topology, hyperv,
		memory_size, hotplug_size, hugepages, memory_shared, mergeable, prefault, thp,
		boot_source_id, image_ref, disks, networks, consoles, rng, filesystems,
		rate_limit_groups, status, status_error, created_at, updated_at
	FROM vms`

func scanVM(row rowScanner) (*VM, error) {
	var vm VM
	var hostID, bootSourceID sql.NullString
	var topo, disks, nets, consoles, rng, fses, rlgs string
	var created, updated string
	var hv string

	err := row.Scan(&vm.ID, &vm.Name, &hostID, &hv, &vm.BootVCPUs, &vm.MaxVCPUs, &topo, &vm.Hyperv,
		&vm.MemoryBytes, &vm.HotplugBytes, &vm.Hugepages, &vm.MemoryShared, &vm.Mergeable, &vm.Prefault, &vm.THP,
		&bootSourceID, &vm.ImageRef, &disks, &nets, &consoles, &rng, &fses,
		&rlgs, &vm.Status, &vm.StatusError, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "vm not found", nil)
	}
	if err != nil {
		return nil, err
	}

	vm.Hypervisor = hypervisor.Type(hv)
	if hostID.Valid {
		vm.HostID = &hostID.String
	}
	if bootSourceID.Valid {
		vm.BootSourceID = &bootSourceID.String
	}
	if topo != "null" {
		json.Unmarshal([]byte(topo), &vm.Topology)
	}
	json.Unmarshal([]byte(disks), &vm.Disks)
	json.Unmarshal([]byte(nets), &vm.Networks)
	json.Unmarshal([]byte(consoles), &vm.Consoles)
	if rng != "null" && strings.TrimSpace(rng) != "" {
		json.Unmarshal([]byte(rng), &vm.RNG)
	}
	json.Unmarshal([]byte(fses), &vm.Filesystems)
	json.Unmarshal([]byte(rlgs), &vm.RateLimitGroups)
	vm.CreatedAt = parseTime(created)
	vm.UpdatedAt = parseTime(updated)
	return &vm, nil
}
