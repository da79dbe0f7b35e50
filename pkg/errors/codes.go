package errors

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
)

// ErrorCode is a stable, module-prefixed identifier for a failure category.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// ─────────────────────────────────────────────────────────────────────────────
// Common
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeNotImplemented     ErrorCode = "COMMON_012"
)

const (
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeRateLimit      = ErrCodeTooManyRequests
	CodeNotImplemented = ErrCodeNotImplemented
	CodeOK             = ErrorCode("OK")
	CodeUnknown        = ErrorCode("UNKNOWN")
)

// ─────────────────────────────────────────────────────────────────────────────
// Documents (input)
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeDocumentEmpty     ErrorCode = "DOC_001"
	ErrCodeDocumentMalformed ErrorCode = "DOC_002"
	ErrCodeInvalidSpan       ErrorCode = "DOC_003"
	ErrCodeInvalidToken      ErrorCode = "DOC_004"
	ErrCodeUnsupportedFormat ErrorCode = "DOC_005"
	ErrCodeDocumentTooLarge  ErrorCode = "DOC_006"
)

// ─────────────────────────────────────────────────────────────────────────────
// Annotation (tiers and producers)
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeTierNotFound       ErrorCode = "ANNOT_001"
	ErrCodeProducerFailed     ErrorCode = "ANNOT_002"
	ErrCodeProducerCycle      ErrorCode = "ANNOT_003"
	ErrCodeDocumentMismatch   ErrorCode = "ANNOT_004"
	ErrCodeExtractionFailed   ErrorCode = "ANNOT_005"
	ErrCodeExtractionNotFound ErrorCode = "ANNOT_006"
)

// ─────────────────────────────────────────────────────────────────────────────
// Storage and messaging
// ─────────────────────────────────────────────────────────────────────────────

const (
	ErrCodeDatabaseError   ErrorCode = "STORE_001"
	ErrCodeCacheError      ErrorCode = "STORE_002"
	ErrCodeCacheMiss       ErrorCode = "STORE_003"
	ErrCodeMigrationFailed ErrorCode = "STORE_004"
	ErrCodeObjectStorage   ErrorCode = "STORE_005"
	ErrCodeSearchIndex     ErrorCode = "STORE_006"
)

const (
	ErrCodeMessagePublish ErrorCode = "MSG_001"
	ErrCodeMessageConsume ErrorCode = "MSG_002"
	ErrCodeMessageInvalid ErrorCode = "MSG_003"
)

// ─────────────────────────────────────────────────────────────────────────────
// Lookup tables
// ─────────────────────────────────────────────────────────────────────────────

var errorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusBadRequest,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeDocumentEmpty:     http.StatusBadRequest,
	ErrCodeDocumentMalformed: http.StatusBadRequest,
	ErrCodeInvalidSpan:       http.StatusUnprocessableEntity,
	ErrCodeInvalidToken:      http.StatusUnprocessableEntity,
	ErrCodeUnsupportedFormat: http.StatusUnsupportedMediaType,
	ErrCodeDocumentTooLarge:  http.StatusRequestEntityTooLarge,

	ErrCodeTierNotFound:       http.StatusUnprocessableEntity,
	ErrCodeProducerFailed:     http.StatusInternalServerError,
	ErrCodeProducerCycle:      http.StatusInternalServerError,
	ErrCodeDocumentMismatch:   http.StatusInternalServerError,
	ErrCodeExtractionFailed:   http.StatusInternalServerError,
	ErrCodeExtractionNotFound: http.StatusNotFound,

	ErrCodeDatabaseError:   http.StatusInternalServerError,
	ErrCodeCacheError:      http.StatusInternalServerError,
	ErrCodeCacheMiss:       http.StatusNotFound,
	ErrCodeMigrationFailed: http.StatusInternalServerError,
	ErrCodeObjectStorage:   http.StatusBadGateway,
	ErrCodeSearchIndex:     http.StatusBadGateway,

	ErrCodeMessagePublish: http.StatusBadGateway,
	ErrCodeMessageConsume: http.StatusBadGateway,
	ErrCodeMessageInvalid: http.StatusBadRequest,
}

var errorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeValidation:         "validation failed",
	ErrCodeDocumentEmpty:      "document text is empty",
	ErrCodeDocumentMalformed:  "document is malformed",
	ErrCodeInvalidSpan:        "span offsets are out of range",
	ErrCodeInvalidToken:       "token is invalid",
	ErrCodeUnsupportedFormat:  "unsupported document format",
	ErrCodeTierNotFound:       "tier not available",
	ErrCodeProducerFailed:     "tier producer failed",
	ErrCodeProducerCycle:      "tier producers form a cycle",
	ErrCodeExtractionNotFound: "extraction not found",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheMiss:          "cache miss",
}

// HTTPStatusForCode maps code to an HTTP status; unknown codes map to 500.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := errorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GRPCCodeForCode maps code to a gRPC status code.
func GRPCCodeForCode(code ErrorCode) codes.Code {
	switch HTTPStatusForCode(code) {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusUnsupportedMediaType:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusTooManyRequests, http.StatusRequestEntityTooLarge:
		return codes.ResourceExhausted
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case http.StatusNotImplemented:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

// DefaultMessageForCode returns the canned message for code, or "".
func DefaultMessageForCode(code ErrorCode) string {
	return errorCodeMessage[code]
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// ModuleForCode returns the module prefix of code, e.g. "DOC".
func ModuleForCode(code ErrorCode) string {
	s := string(code)
	if idx := strings.IndexByte(s, '_'); idx > 0 {
		return s[:idx]
	}
	return ""
}
