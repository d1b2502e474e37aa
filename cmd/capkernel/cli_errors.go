// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jllopis/capkernel/pkg/errors"
)

// CLIError wraps KernelError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.KernelError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ke *errors.KernelError, hint string) *CLIError {
	return &CLIError{KernelError: ke, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.KernelError == nil {
		return "unknown error"
	}
	msg := e.KernelError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.KernelError }

// PrintError writes the error to w, as a JSON object when asJSON is set.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{
			"code":    e.Code,
			"message": e.Message,
		}
		if e.Hint != "" {
			payload["hint"] = e.Hint
		}
		if len(e.Context) > 0 {
			payload["context"] = e.Context
		}
		data, err := json.Marshal(map[string]any{"error": payload})
		if err != nil {
			fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// ExitCode maps the error code to a process exit status so scripts can
// branch on the outcome.
func (e *CLIError) ExitCode() int {
	switch e.Code {
	case errors.CodeInvalidInput, errors.CodeInvalidContract:
		return 2
	case errors.CodeIncompatibleGrammar:
		return 3
	case errors.CodeUnknownVersion, errors.CodeNotFound:
		return 4
	case errors.CodePolicyDenied, errors.CodeApprovalRequired:
		return 5
	default:
		return 1
	}
}

// AsCLIError converts any error into a CLIError with a hint for its code.
func AsCLIError(err error) *CLIError {
	if cliErr, ok := err.(*CLIError); ok {
		return cliErr
	}
	ke := errors.AsKernelError(err)
	return NewCLIError(ke, hintFor(ke.Code))
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInvalidContract:
		return "check class, stability and resource_band; dangerous capabilities cannot be agent_safe"
	case errors.CodeUnknownVersion:
		return "list stored versions with 'capkernel negotiate <version>' against the catalog"
	case errors.CodeIncompatibleGrammar:
		return "use --mode lenient to accept the delta as warnings"
	case errors.CodePolicyDenied:
		return "review governance rules in your configuration"
	case errors.CodeApprovalRequired:
		return "run with --approve console to answer approval prompts"
	case errors.CodeInvalidInput:
		return "run 'capkernel help' for usage information"
	default:
		return ""
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ke := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(ke, "run 'capkernel help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	ke := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)
	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ke, hint)
}
