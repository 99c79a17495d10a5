package diagnostics

import "codeberg.org/mutker/powerdash/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("diagnostics_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("diagnostics_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("diagnostics_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("diagnostics_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("diagnostics_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrQueryFailed  = errors.ErrorCode("diagnostics_query_failed")

	// Journal Errors
	ErrInvalidEvent = errors.ErrorCode("diagnostics_invalid_event")
	ErrClosed       = errors.ErrorCode("diagnostics_journal_closed")
	ErrQueueFull    = errors.ErrorCode("diagnostics_queue_full")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidDBPath:          "Diagnostics database path is empty",
		ErrSchemaInitFailed:       "Failed to initialize diagnostics schema",
		ErrSchemaValidationFailed: "Failed to validate diagnostics schema",
		ErrSchemaMigrationFailed:  "Failed to migrate diagnostics schema",
		ErrTransactionFailed:      "Diagnostics transaction failed",
		ErrQueryFailed:            "Failed to query diagnostics journal",
		ErrInvalidEvent:           "Invalid diagnostics event",
		ErrClosed:                 "Diagnostics journal is closed",
		ErrQueueFull:              "Diagnostics queue is full, event dropped",
	})
}
