package cpstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/qarax/qarax/lib/errs"
)

// StoragePoolStatus is a pool's lifecycle state.
type StoragePoolStatus string

const (
	PoolActive   StoragePoolStatus = "active"
	PoolDegraded StoragePoolStatus = "degraded"
)

// StoragePool is a backing store (local
// directory, network block device, etc.) that StorageObjects live in.
type StoragePool struct {
	ID        string
	Type      string
	Config    map[string]string
	Capacity  *int64
	Allocated int64
	Status    StoragePoolStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) CreateStoragePool(ctx context.Context, p *StoragePool) error {
	if p.Status == "" {
		p.Status = PoolActive
	}
	cfg, _ := json.Marshal(p.Config)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_pools (id, type, config, capacity, allocated, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Type, string(cfg), p.Capacity, p.Allocated, p.Status)
	if err != nil {
		return wrapConflict(err, "storage pool "+p.ID)
	}
	return nil
}

func (s *Store) GetStoragePool(ctx context.Context, id string) (*StoragePool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, config, capacity, allocated, status, created_at, updated_at
		FROM storage_pools WHERE id = ?
	`, id)
	return scanStoragePool(row)
}

func (s *Store) ListStoragePools(ctx context.Context) ([]*StoragePool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, config, capacity, allocated, status, created_at, updated_at
		FROM storage_pools ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StoragePool
	for rows.Next() {
		p, err := scanStoragePool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteStoragePool(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM storage_pools WHERE id = ?`, id)
	if err != nil {
		return wrapConflict(err, "storage pool "+id)
	}
	return checkAffected(res, "storage pool "+id)
}

// reserveCapacity increments allocated by delta, rejecting with
// invalid-config if it would exceed capacity
// (allocated can never exceed capacity). Callers hold no external lock;
// this relies on SQLite's single-writer serialization.
func (s *Store) reserveCapacity(ctx context.Context, tx *sql.Tx, poolID string, delta int64) error {
	var capacity sql.NullInt64
	var allocated int64
	if err := tx.QueryRowContext(ctx, `SELECT capacity, allocated FROM storage_pools WHERE id = ?`, poolID).
		Scan(&capacity, &allocated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.Wrap(errs.ErrReferentialIntegrity, "storage pool "+poolID+" not found", nil)
		}
		return err
	}
	if capacity.Valid && allocated+delta > capacity.Int64 {
		return errs.Wrap(errs.ErrInvalidConfig, "storage pool "+poolID+" out of capacity", nil)
	}
	_, err := tx.ExecContext(ctx, `UPDATE storage_pools SET allocated = allocated + ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`, delta, poolID)
	return err
}

func scanStoragePool(row rowScanner) (*StoragePool, error) {
	var p StoragePool
	var cfg, created, updated string
	var capacity sql.NullInt64
	err := row.Scan(&p.ID, &p.Type, &cfg, &capacity, &p.Allocated, &p.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "storage pool not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if capacity.Valid {
		p.Capacity = &capacity.Int64
	}
	json.Unmarshal([]byte(cfg), &p.Config)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// StorageObject is a disk image, base
// layer, or snapshot living in a StoragePool. ParentID forms a DAG used for
// copy-on-write layering.
type StorageObject struct {
	ID        string
	PoolID    string
	Name      string
	Type      string
	SizeBytes int64
	Config    map[string]string
	ParentID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateStorageObject inserts the object and reserves its size against the
// pool's capacity in one transaction, rejecting a parent reference that
// would introduce a cycle (parents form a DAG, never a loop).
func (s *Store) CreateStorageObject(ctx context.Context, o *StorageObject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if o.ParentID != nil {
		ok, err := isAncestorFree(ctx, tx, o.ID, *o.ParentID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Wrap(errs.ErrInvalidConfig, "storage object parent would introduce a cycle", nil)
		}
	}

	if err := s.reserveCapacity(ctx, tx, o.PoolID, o.SizeBytes); err != nil {
		return err
	}

	cfg, _ := json.Marshal(o.Config)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO storage_objects (id, pool_id, name, type, size_bytes, config, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.PoolID, o.Name, o.Type, o.SizeBytes, string(cfg), o.ParentID)
	if err != nil {
		return wrapConflict(err, "storage object "+o.Name)
	}

	return tx.Commit()
}

// isAncestorFree walks parent_id from candidateParent upward, failing if it
// ever reaches candidateID (which would close a cycle).
func isAncestorFree(ctx context.Context, tx *sql.Tx, candidateID, candidateParent string) (bool, error) {
	cur := candidateParent
	for i := 0; i < 1000; i++ {
		if cur == candidateID {
			return false, nil
		}
		var parent sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT parent_id FROM storage_objects WHERE id = ?`, cur).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if !parent.Valid {
			return true, nil
		}
		cur = parent.String
	}
	return false, errs.Wrap(errs.ErrInternal, "storage object parent chain too deep", nil)
}

func (s *Store) GetStorageObject(ctx context.Context, id string) (*StorageObject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pool_id, name, type, size_bytes, config, parent_id, created_at, updated_at
		FROM storage_objects WHERE id = ?
	`, id)
	return scanStorageObject(row)
}

func (s *Store) ListStorageObjects(ctx context.Context, poolID string) ([]*StorageObject, error) {
	query := `SELECT id, pool_id, name, type, size_bytes, config, parent_id, created_at, updated_at FROM storage_objects`
	args := []any{}
	if poolID != "" {
		query += ` WHERE pool_id = ?`
		args = append(args, poolID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StorageObject
	for rows.Next() {
		o, err := scanStorageObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteStorageObject removes the object and releases its reserved
// capacity. Fails with referential-integrity if a child storage object or
// a transfer still references it; VM disks cite objects without a foreign
// key and do not block deletion.
func (s *Store) DeleteStorageObject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var poolID string
	var size int64
	if err := tx.QueryRowContext(ctx, `SELECT pool_id, size_bytes FROM storage_objects WHERE id = ?`, id).
		Scan(&poolID, &size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.Wrap(errs.ErrNotFound, "storage object "+id+" not found", nil)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM storage_objects WHERE id = ?`, id); err != nil {
		return wrapConflict(err, "storage object "+id)
	}
	if err := s.reserveCapacity(ctx, tx, poolID, -size); err != nil {
		return err
	}
	return tx.Commit()
}

func scanStorageObject(row rowScanner) (*StorageObject, error) {
	var o StorageObject
	var cfg, created, updated string
	var parent sql.NullString
	err := row.Scan(&o.ID, &o.PoolID, &o.Name, &o.Type, &o.SizeBytes, &cfg, &parent, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "storage object not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		o.ParentID = &parent.String
	}
	json.Unmarshal([]byte(cfg), &o.Config)
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	return &o, nil
}
