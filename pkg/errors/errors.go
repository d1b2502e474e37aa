// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy shared by the contract
// engine, the session kernel and the version negotiator.
//
// Every user-visible failure is a *KernelError carrying a taxonomy Code plus
// structured Context (contract fields, versions, computed deltas) so callers
// can branch on it programmatically:
//
//	if errors.Is(err, errors.CodeUnknownVersion) { ... }
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies kernel errors for callers, monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates a malformed argument (empty stream id,
	// unparseable version list, unknown frame kind).
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidContract indicates internally inconsistent contract fields.
	CodeInvalidContract ErrorCode = "INVALID_CONTRACT"

	// CodeSessionCancelled indicates data-plane emission after cancellation.
	CodeSessionCancelled ErrorCode = "SESSION_CANCELLED"

	// CodeUnknownVersion indicates negotiation against an unknown version.
	CodeUnknownVersion ErrorCode = "UNKNOWN_VERSION"

	// CodeIncompatibleGrammar indicates a breaking delta under strict negotiation.
	CodeIncompatibleGrammar ErrorCode = "INCOMPATIBLE_GRAMMAR"

	// CodeSequenceViolation marks a broken sequence or metrics invariant.
	// It is only ever raised through panic.
	CodeSequenceViolation ErrorCode = "SEQUENCE_VIOLATION"

	// CodePolicyDenied indicates the policy layer refused the session.
	CodePolicyDenied ErrorCode = "POLICY_DENIED"

	// CodeApprovalRequired indicates the policy layer requires a human decision
	// that was not granted.
	CodeApprovalRequired ErrorCode = "APPROVAL_REQUIRED"

	// CodeStreamCapacity indicates the session stream arena is full.
	CodeStreamCapacity ErrorCode = "STREAM_CAPACITY"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// KernelError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type KernelError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *KernelError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *KernelError with the same code, so a bare
// code value can be matched through wrapping:
//
//	stderrors.Is(err, &KernelError{Code: CodeSessionCancelled})
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *KernelError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string            `json:"code"`
		Message     string            `json:"message"`
		Err         string            `json:"error,omitempty"`
		Context     map[string]any    `json:"context,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		Recoverable bool              `json:"recoverable"`
		StatusCode  int               `json:"status_code"`
	}{
		Code:        string(e.Code),
		Message:     e.Error(),
		Context:     e.Context,
		Attributes:  e.Attributes,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new KernelError with the given code, message, and cause.
// Recoverability defaults to the taxonomy's classification of code.
func New(code ErrorCode, msg string, cause error) *KernelError {
	return &KernelError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]any),
		Attributes:  make(map[string]string),
		Recoverable: codeRecoverable(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *KernelError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *KernelError) WithContext(key string, value any) *KernelError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *KernelError) WithAttribute(key, value string) *KernelError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *KernelError) WithRecoverable(recoverable bool) *KernelError {
	e.Recoverable = recoverable
	return e
}

// AsKernelError attempts to convert an error to a KernelError.
// Returns the error as KernelError if one is in the chain, or wraps it otherwise.
func AsKernelError(err error) *KernelError {
	if err == nil {
		return nil
	}
	var ke *KernelError
	if stderrors.As(err, &ke) {
		return ke
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the taxonomy code of err, or "" for nil.
// Errors outside the taxonomy report CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsKernelError(err).Code
}

// Is reports whether err carries the given taxonomy code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, &KernelError{Code: code})
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *KernelError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

func codeRecoverable(code ErrorCode) bool {
	switch code {
	case CodeSessionCancelled, CodeUnknownVersion, CodeIncompatibleGrammar,
		CodeApprovalRequired, CodeStreamCapacity:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP-style status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeUnknownVersion:
		return 404
	case CodeInvalidInput, CodeInvalidContract:
		return 400
	case CodePolicyDenied, CodeApprovalRequired:
		return 403
	case CodeSessionCancelled, CodeIncompatibleGrammar:
		return 409
	case CodeStreamCapacity:
		return 429
	default:
		return 500
	}
}
