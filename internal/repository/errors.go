// Package repository implements store.Store on MySQL.  Repositories follow
// the XxxRepo{db} shape: plain methods run on the pool, methods suffixed
// Tx run inside a caller supplied transaction, and the caller owns commit
// and rollback.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/ticket-admission/internal/apperr"
)

const (
	errDuplicateEntry = 1062 // ER_DUP_ENTRY
	errLockWait       = 1205 // ER_LOCK_WAIT_TIMEOUT
	errDeadlock       = 1213 // ER_LOCK_DEADLOCK
)

// translate maps driver errors onto the apperr taxonomy.  what names the
// row for the error message.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDuplicateEntry:
			return fmt.Errorf("%w: %s: %s", apperr.ErrConflict, what, me.Message)
		case errLockWait, errDeadlock:
			return fmt.Errorf("%w: %s: %s", apperr.ErrLockTimeout, what, me.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
