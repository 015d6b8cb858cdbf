package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrEntryNotFound   ErrCode = "ENTRY_NOT_FOUND"
	ErrModuleNotFound  ErrCode = "MODULE_NOT_FOUND"
	ErrExamUnavailable ErrCode = "EXAM_UNAVAILABLE"

	// ─── Callbacks ─────────────────────────────────────────────────────
	ErrUnknownMethod ErrCode = "UNKNOWN_CALLBACK_METHOD"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrEntryNotFound:
		return "No exam entry matches the given reference."
	case ErrModuleNotFound:
		return "The course module does not exist or has no proctoring configured."
	case ErrExamUnavailable:
		return "No attempt slots remain for this exam."

	// ─── Callbacks ─────────────────────────────────────────────────────
	case ErrUnknownMethod:
		return "Unknown callback method."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
