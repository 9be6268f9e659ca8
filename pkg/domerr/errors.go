package domerr

import (
	"errors"
	"fmt"
)

// Code classifies a domain error so callers can branch on the kind of
// failure without string matching.
type Code string

const (
	CodeCanonicalization   Code = "canonicalization_failed"
	CodeDecode             Code = "decode_failed"
	CodeMissingProof       Code = "missing_proof"
	CodeEmptyProofList     Code = "empty_proof_list"
	CodeSignatureInvalid   Code = "signature_invalid"
	CodeMissingIdentifier  Code = "missing_identifier"
	CodeIdentifierConflict Code = "identifier_conflict"
	CodeUnauthorizedAmender Code = "unauthorized_amender"
	CodeInvalidInput       Code = "invalid_input"
	CodeExpired            Code = "expired"
	CodeNotFound           Code = "not_found"
)

// Error is the typed error returned across every public boundary of the
// core. Diagnostics carry machine-readable context (offending signature,
// canonical form, etc.) without leaking into the message.
type Error struct {
	Code        Code
	Message     string
	Diagnostics map[string]any
	cause       error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause so errors.Is/As keep working through the
// domain-error layer.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDiagnostic returns the same error with one diagnostic entry added.
func (e *Error) WithDiagnostic(key string, value any) *Error {
	if e.Diagnostics == nil {
		e.Diagnostics = make(map[string]any)
	}
	e.Diagnostics[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the domain error code, or "" when err is not a domain
// error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
