package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsSerializationErr reports whether a transaction failed on a lock or
// serialization conflict and can be retried.
func IsSerializationErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// PostgreSQL (error codes 40001, 40P01)
	if strings.Contains(msg, "could not serialize access") || strings.Contains(msg, "deadlock detected") {
		return true
	}
	// MySQL (error codes 1205, 1213)
	if strings.Contains(msg, "Deadlock found") || strings.Contains(msg, "Lock wait timeout") {
		return true
	}
	// SQLite
	if strings.Contains(msg, "database is locked") {
		return true
	}
	return false
}
