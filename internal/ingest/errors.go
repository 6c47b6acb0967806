package ingest

import "fmt"

// AuthError means the request could not be attributed to a holder of the
// shared secret. Err is one of the signature sentinels.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "authenticate: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// PayloadError means the body is absent or is not a JSON object.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string { return "parse payload: " + e.Err.Error() }
func (e *PayloadError) Unwrap() error { return e.Err }

// ValidationError means a handled event type arrived without its required
// fields.
type ValidationError struct {
	Event  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Event, e.Reason)
}

// Message is the client facing summary. It names the payload category but
// not the individual field.
func (e *ValidationError) Message() string {
	return fmt.Sprintf("Invalid %s payload", e.Event)
}

// StoreError wraps a persistence failure. The cause is for logs only.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return "persist record: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }
