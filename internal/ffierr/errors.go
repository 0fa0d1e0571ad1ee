// Package ffierr defines the typed error kinds the FFI Manager surfaces at
// every component boundary (install, register, dispatch). A *Error always
// carries a Kind so callers can switch on it instead of matching strings,
// and the Dispatcher can map it straight onto a response envelope's
// error.kind field without guessing.
package ffierr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error conditions named in the specification.
type Kind string

const (
	// Install-time kinds.
	KindManifestMalformed Kind = "manifest_malformed"
	KindBuildFailure      Kind = "build_failure"
	KindServiceInUse      Kind = "service_in_use"

	// Register-time kinds.
	KindOpenFailed        Kind = "open_failed"
	KindUnsupportedClass  Kind = "unsupported_class"
	KindRegistryExhausted Kind = "registry_exhausted"

	// Dispatch-time kinds.
	KindInvalidHandle   Kind = "invalid_handle"
	KindStaleHandle     Kind = "stale_handle"
	KindUnknownFunction Kind = "unknown_function"
	KindArityMismatch   Kind = "arity_mismatch"
	KindMarshalFailure  Kind = "marshal_failure"
	KindABIFailure      Kind = "abi_failure"
	KindCalleeError     Kind = "callee_error"
)

// Error is a typed error carrying a Kind plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New constructs an *Error with the given kind and formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying kind, with cause available via Unwrap.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, ffierr.New(ffierr.KindStaleHandle, "")) works as a
// kind-only comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, or ""
// otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
