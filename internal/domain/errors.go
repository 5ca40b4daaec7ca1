package domain

import "errors"

// Error taxonomy shared by every bridge package. Callers match with errors.Is;
// packages wrap these with context via fmt.Errorf("...: %w", ...).
var (
	// ErrServiceUnavailable means a named backend service is not offered in
	// this session. Callers usually degrade instead of failing.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrOutOfRange means a frame index or handle is not currently valid.
	ErrOutOfRange = errors.New("out of range")

	// ErrParse means descriptor or disassembly text did not match its grammar.
	ErrParse = errors.New("parse error")

	// ErrBackendRejected means the backend answered an RPC with an
	// application-level failure.
	ErrBackendRejected = errors.New("backend rejected request")

	// ErrBackendUnavailable means the provider behind a scope never came up.
	ErrBackendUnavailable = errors.New("backend is not available for this scope")
)

// ErrorCode maps an error to the stable code used in CLI error records.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrServiceUnavailable):
		return "SERVICE_UNAVAILABLE"
	case errors.Is(err, ErrOutOfRange):
		return "OUT_OF_RANGE"
	case errors.Is(err, ErrParse):
		return "PARSE_ERROR"
	case errors.Is(err, ErrBackendUnavailable):
		return "BACKEND_UNAVAILABLE"
	case errors.Is(err, ErrBackendRejected):
		return "BACKEND_REJECTED"
	default:
		return "INTERNAL"
	}
}
