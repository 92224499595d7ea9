package errors

// Error code constants. Errors carry code + details only; callers decide
// presentation. Logs are always in English.

// Dispatch pipeline codes.
const (
	CodeSchemaInvalid    = "COMMAND_SCHEMA_INVALID"
	CodeTenantMismatch   = "TENANT_MISMATCH"
	CodeNoHandler        = "NO_COMMAND_HANDLER"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodeUnroutable       = "UNROUTABLE_COMMAND"
	CodeVersionConflict  = "VERSION_CONFLICT"
	CodeEmptyRehydration = "EMPTY_REHYDRATION"
	CodeAggregateMissing = "AGGREGATE_NOT_FOUND"
)

// Registry codes.
const (
	CodeDuplicateRegistration = "DUPLICATE_REGISTRATION"
	CodeRegistryFrozen        = "REGISTRY_FROZEN"
	CodeUnknownType           = "UNKNOWN_TYPE"
)

// Store codes.
const (
	CodeCommandNotFound = "COMMAND_NOT_FOUND"
	CodeStorage         = "STORAGE_FAILURE"
)

// Process host codes.
const (
	CodeHostClosed    = "PROCESS_HOST_CLOSED"
	CodeSignalDropped = "SIGNAL_DROPPED"
	CodeUnknownSaga   = "UNKNOWN_SAGA"
)
