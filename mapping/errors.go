package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyMapped reports that the store already holds a mapping for the
// EPC. The store signals this with HTTP 400 on create; it is a valid
// outcome, not a failure, and callers reconcile it instead of retrying.
var ErrAlreadyMapped = errors.New("mapping: epc already mapped")

// ErrNotFound reports that no mapping matched the request.
var ErrNotFound = errors.New("mapping: not found")

// StoreError provides structured information about a failed store call
// for programmatic handling.
type StoreError struct {
	Op      string // Operation that failed (e.g., "Create", "Verify")
	Status  int    // HTTP status, 0 for transport failures
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *StoreError) Error() string {
	var sb strings.Builder
	sb.WriteString("mapping store: ")
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Status != 0 {
		sb.WriteString(fmt.Sprintf(" (status %d)", e.Status))
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// IsConflict reports whether err is the store's "already mapped" signal.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyMapped)
}

// IsTransport reports whether err was a transport-level failure rather
// than a response from the store.
func IsTransport(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Status == 0
	}
	return false
}

// StatusOf extracts the HTTP status from a store error, or 0 if the error
// carries none.
func StatusOf(err error) int {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
