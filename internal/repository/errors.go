package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"assetlibrary/internal/apperr"
)

// mapErr converts driver errors into engine error kinds.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(err, apperr.KindNotFound, op, "no rows")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Cancelled(op, err)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return apperr.Wrap(err, apperr.KindLockTimeout, op, "store is busy")
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return apperr.Wrap(err, apperr.KindConflict, op, "unique constraint")
			}
			return apperr.Wrap(err, apperr.KindIntegrity, op, "constraint violated")
		}
	}

	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505", "40001":
			return apperr.Wrap(err, apperr.KindConflict, op, pe.Code.Name())
		case "55P03", "40P01", "57014":
			return apperr.Wrap(err, apperr.KindLockTimeout, op, pe.Code.Name())
		case "23514", "23503":
			return apperr.Wrap(err, apperr.KindIntegrity, op, pe.Code.Name())
		}
	}
	return err
}
