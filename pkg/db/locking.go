package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate returns the row-locking suffix for dialects that support it.
// SQLite serialises writers at the database level, so it gets no suffix.
func ForUpdate(tx *gorm.DB) string {
	if supportsRowLocks(tx) {
		return " FOR UPDATE"
	}
	return ""
}

// ForUpdateSkipLocked is ForUpdate for work-queue claims.
func ForUpdateSkipLocked(tx *gorm.DB) string {
	if supportsRowLocks(tx) {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func supportsRowLocks(tx *gorm.DB) bool {
	if tx == nil || tx.Dialector == nil {
		return false
	}
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}

// IgnoreDuplicate is the insert-if-absent clause for a unique key. gorm
// renders it per dialect: ON CONFLICT DO NOTHING on postgres and sqlite,
// ON DUPLICATE KEY UPDATE as a no-op on mysql. RowsAffected stays 0 when the
// row already existed.
func IgnoreDuplicate(columns ...string) clause.OnConflict {
	conflict := clause.OnConflict{DoNothing: true}
	for _, name := range columns {
		conflict.Columns = append(conflict.Columns, clause.Column{Name: name})
	}
	return conflict
}
