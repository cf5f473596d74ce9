// Package errors provides structured error handling for reposync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and IO errors
//   - 4XX: Validation and lifecycle state errors
//   - 5XX: Internal and search index errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates failures reading or writing component storage.
	CategoryStorage Category = "STORAGE"
	// CategoryValidation indicates input validation and state errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal or index errors.
	CategoryInternal Category = "INTERNAL"
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
	ErrCodeConfigNotFound    = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission  = "ERR_103_CONFIG_PERMISSION"
	ErrCodeNoDefaultProducer = "ERR_104_NO_DEFAULT_PRODUCER"
	ErrCodeUnknownBackend    = "ERR_105_UNKNOWN_BACKEND"

	// Storage errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeBucketNotFound = "ERR_203_BUCKET_NOT_FOUND"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeStorageRead    = "ERR_206_STORAGE_READ"
	ErrCodeStorageWrite   = "ERR_207_STORAGE_WRITE"

	// Validation errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery       = "ERR_403_INVALID_QUERY"
	ErrCodeFacetState         = "ERR_407_FACET_STATE"
	ErrCodeRepositoryNotFound = "ERR_408_REPOSITORY_NOT_FOUND"
	ErrCodeDocumentNotFound   = "ERR_409_DOCUMENT_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexMissing = "ERR_504_INDEX_MISSING"
	ErrCodeIndexWrite   = "ERR_506_INDEX_WRITE"
	ErrCodeIndexLocked  = "ERR_507_INDEX_LOCKED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeNoDefaultProducer, ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeIndexLocked:
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Nothing in the sync path retries on its own; callers may retry a locked index.
func isRetryableCode(code string) bool {
	return code == ErrCodeIndexLocked
}
