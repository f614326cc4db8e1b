package cpstore

import (
	"database/sql"
	"strings"

	"github.com/qarax/qarax/lib/errs"
)

// wrapConflict classifies a write error as a store conflict when it looks
// like a uniqueness or foreign-key violation, mapping onto the
// `store-conflict`/`referential-integrity` control-plane error kinds.
func wrapConflict(err error, what string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errs.Wrap(errs.ErrStoreConflict, what+" already exists", err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return errs.Wrap(errs.ErrReferentialIntegrity, what+" references a missing row", err)
	default:
		return err
	}
}

func checkAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Wrap(errs.ErrNotFound, what+" not found", nil)
	}
	return nil
}
