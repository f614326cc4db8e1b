package cpstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/qarax/qarax/lib/errs"
)

// BootSource is a kernel/initrd/firmware
// reference VMs boot from.
type BootSource struct {
	ID          string
	KernelRef   string
	InitrdRef   string
	FirmwareRef string
	KernelArgs  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Store) CreateBootSource(ctx context.Context, b *BootSource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boot_sources (id, kernel_ref, initrd_ref, firmware_ref, kernel_args)
		VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.KernelRef, b.InitrdRef, b.FirmwareRef, b.KernelArgs)
	if err != nil {
		return wrapConflict(err, "boot source "+b.ID)
	}
	return nil
}

func (s *Store) GetBootSource(ctx context.Context, id string) (*BootSource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kernel_ref, initrd_ref, firmware_ref, kernel_args, created_at, updated_at
		FROM boot_sources WHERE id = ?
	`, id)
	return scanBootSource(row)
}

func (s *Store) ListBootSources(ctx context.Context) ([]*BootSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kernel_ref, initrd_ref, firmware_ref, kernel_args, created_at, updated_at
		FROM boot_sources ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BootSource
	for rows.Next() {
		b, err := scanBootSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBootSource fails with referential-integrity if a VM still cites it
// (enforced by the boot_source_id FK).
func (s *Store) DeleteBootSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boot_sources WHERE id = ?`, id)
	if err != nil {
		return wrapConflict(err, "boot source "+id)
	}
	return checkAffected(res, "boot source "+id)
}

func scanBootSource(row rowScanner) (*BootSource, error) {
	var b BootSource
	var created, updated string
	err := row.Scan(&b.ID, &b.KernelRef, &b.InitrdRef, &b.FirmwareRef, &b.KernelArgs, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "boot source not found", nil)
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	return &b, nil
}
