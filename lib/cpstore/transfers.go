package cpstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/qarax/qarax/lib/errs"
)

// TransferStatus is a transfer's lifecycle state.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferRunning   TransferStatus = "running"
	TransferSucceeded TransferStatus = "succeeded"
	TransferFailed    TransferStatus = "failed"
)

// Transfer is an inbound image/disk fetch into a StoragePool that produces
// a StorageObject on success.
type Transfer struct {
	ID        string
	PoolID    string
	SourceURI string
	Status    TransferStatus
	Progress  int
	ObjectID  *string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) CreateTransfer(ctx context.Context, t *Transfer) error {
	if t.Status == "" {
		t.Status = TransferPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (id, pool_id, source_uri, status, progress)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.PoolID, t.SourceURI, t.Status, t.Progress)
	if err != nil {
		return wrapConflict(err, "transfer "+t.ID)
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pool_id, source_uri, status, progress, object_id, error, created_at, updated_at
		FROM transfers WHERE id = ?
	`, id)
	return scanTransfer(row)
}

func (s *Store) ListTransfers(ctx context.Context) ([]*Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pool_id, source_uri, status, progress, object_id, error, created_at, updated_at
		FROM transfers ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTransferProgress(ctx context.Context, id string, progress int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, progress = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, TransferRunning, progress, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "transfer "+id)
}

// CompleteTransfer marks a transfer succeeded, recording the StorageObject
// it produced. The caller is expected to have already created that object
// via CreateStorageObject.
func (s *Store) CompleteTransfer(ctx context.Context, id, objectID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, progress = 100, object_id = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, TransferSucceeded, objectID, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "transfer "+id)
}

func (s *Store) FailTransfer(ctx context.Context, id, transferErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transfers SET status = ?, error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, TransferFailed, transferErr, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "transfer "+id)
}

func scanTransfer(row rowScanner) (*Transfer, error) {
	var t Transfer
	var objectID sql.NullString
	var created, updated string
	err := row.Scan(&t.ID, &t.PoolID, &t.SourceURI, &t.Status, &t.Progress, &objectID, &t.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "transfer not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if objectID.Valid {
		t.ObjectID = &objectID.String
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}
