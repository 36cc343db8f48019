// Package errors provides structured error handling for localrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and storage errors
//   - 3XX: Upstream (Ollama) errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: State errors (not ready, cancelled)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryUpstream indicates errors talking to the model runtime.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryState indicates the service is not in a state to serve the request.
	CategoryState Category = "STATE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO and storage errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeStoreCorrupt = "ERR_202_STORE_CORRUPT"
	ErrCodeStoreIO      = "ERR_203_STORE_IO"

	// Upstream errors (300-399)
	ErrCodeUpstreamUnavailable = "ERR_301_UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamError       = "ERR_302_UPSTREAM_ERROR"
	ErrCodeModelMissing        = "ERR_303_MODEL_MISSING"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeModelMismatch     = "ERR_403_MODEL_MISMATCH"
	ErrCodeInvalidPath       = "ERR_404_INVALID_PATH"
	ErrCodeInvalidCollection = "ERR_405_INVALID_COLLECTION"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeChunkingFailed  = "ERR_503_CHUNKING_FAILED"

	// State errors (600-699)
	ErrCodeNotReady  = "ERR_601_NOT_READY"
	ErrCodeCancelled = "ERR_602_CANCELLED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	case '5':
		return CategoryInternal
	case '6':
		return CategoryState
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Store corruption is fatal for the affected collection; everything else
// fails the current operation only.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt:
		return SeverityFatal
	case ErrCodeCancelled:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether the operation behind the code is worth retrying.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstreamUnavailable, ErrCodeUpstreamError:
		return true
	default:
		return false
	}
}
