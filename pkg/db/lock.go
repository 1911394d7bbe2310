package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ForUpdate returns the row-lock suffix for SELECT statements on the current dialect.
// SQLite serializes writers on the database file and has no row locks.
func ForUpdate(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	if tx.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

// SetLockTimeout bounds how long the current transaction waits on row locks.
func SetLockTimeout(ctx context.Context, tx *gorm.DB, timeoutMS int) error {
	if tx == nil || tx.Dialector == nil || timeoutMS <= 0 {
		return nil
	}
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.WithContext(ctx).Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeoutMS)).Error
}
