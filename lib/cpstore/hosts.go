package cpstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/qarax/qarax/lib/errs"
)

// HostStatus is a Host's provisioning state.
type HostStatus string

const (
	HostDown               HostStatus = "down"
	HostInstalling         HostStatus = "installing"
	HostUp                 HostStatus = "up"
	HostInstallationFailed HostStatus = "installation_failed"
)

// Host is one hypervisor host.
type Host struct {
	ID                string
	Address           string
	RPCPort           int
	CredentialsRef    string
	Status            HostStatus
	StatusError       string
	HypervisorVersion string
	KernelVersion     string
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateHost inserts a new host in status down.
func (s *Store) CreateHost(ctx context.Context, h *Host) error {
	if h.Status == "" {
		h.Status = HostDown
	}
	meta, _ := json.Marshal(h.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosts (id, address, rpc_port, credentials_ref, status, hypervisor_version, kernel_version, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.Address, h.RPCPort, h.CredentialsRef, h.Status, h.HypervisorVersion, h.KernelVersion, string(meta))
	if err != nil {
		return wrapConflict(err, "host "+h.ID)
	}
	return nil
}

// GetHost retrieves a host by ID.
func (s *Store) GetHost(ctx context.Context, id string) (*Host, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, rpc_port, credentials_ref, status, status_error, hypervisor_version, kernel_version, metadata, created_at, updated_at
		FROM hosts WHERE id = ?
	`, id)
	return scanHost(row)
}

// ListHosts returns every host.
func (s *Store) ListHosts(ctx context.Context) ([]*Host, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, rpc_port, credentials_ref, status, status_error, hypervisor_version, kernel_version, metadata, created_at, updated_at
		FROM hosts ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListEligibleHosts returns hosts in status up, ordered by VM count (every
// VM row assigned to the host, whatever its status) ascending then host id, so placement is deterministic and test
// reproducible.
func (s *Store) ListEligibleHosts(ctx context.Context) ([]*Host, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.address, h.rpc_port, h.credentials_ref, h.status, h.status_error, h.hypervisor_version, h.kernel_version, h.metadata, h.created_at, h.updated_at
		FROM hosts h
		LEFT JOIN vms v ON v.host_id = h.id
		WHERE h.status = 'up'
		GROUP BY h.id
		ORDER BY COUNT(v.id) ASC, h.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateHostStatus transitions a host's status, recording an error message
// for installation_failed.
func (s *Store) UpdateHostStatus(ctx context.Context, id string, status HostStatus, statusErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hosts SET status = ?, status_error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, status, statusErr, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "host "+id)
}

// UpdateHostMetadata applies the operator-editable host fields. Nil
// pointers leave the existing value in place; a non-nil metadata map
// replaces the stored map wholesale.
func (s *Store) UpdateHostMetadata(ctx context.Context, id string, hypervisorVersion, kernelVersion *string, metadata map[string]string) error {
	h, err := s.GetHost(ctx, id)
	if err != nil {
		return err
	}
	if hypervisorVersion != nil {
		h.HypervisorVersion = *hypervisorVersion
	}
	if kernelVersion != nil {
		h.KernelVersion = *kernelVersion
	}
	if metadata != nil {
		h.Metadata = metadata
	}

	meta, _ := json.Marshal(h.Metadata)
	res, err := s.db.ExecContext(ctx, `
		UPDATE hosts SET hypervisor_version = ?, kernel_version = ?, metadata = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, h.HypervisorVersion, h.KernelVersion, string(meta), id)
	if err != nil {
		return err
	}
	return checkAffected(res, "host "+id)
}

// DeleteHost removes a host. VMs citing this host survive only as
// abandoned (host_id is left pointing at a row that no longer exists is not
// allowed by the FK, so callers must null out host_id on affected VMs
// first; see AbandonVMsForHost).
func (s *Store) DeleteHost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "host "+id)
}

// AbandonVMsForHost nulls host_id and marks status=unknown for every VM
// scheduled on a host about to be deleted, leaving them for the operator
// to delete or reschedule.
func (s *Store) AbandonVMsForHost(ctx context.Context, hostID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vms SET host_id = NULL, status = 'unknown', updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE host_id = ?
	`, hostID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*Host, error) {
	var h Host
	var meta, created, updated string
	err := row.Scan(&h.ID, &h.Address, &h.RPCPort, &h.CredentialsRef, &h.Status, &h.StatusError,
		&h.HypervisorVersion, &h.KernelVersion, &meta, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "host not found", nil)
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(meta), &h.Metadata)
	h.CreatedAt = parseTime(created)
	h.UpdatedAt = parseTime(updated)
	return &h, nil
}
