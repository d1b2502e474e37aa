// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ApprovalHook resolves require_approval decisions, typically by asking a
// human. Anything other than an allow decision keeps the request refused.
type ApprovalHook interface {
	Request(ctx context.Context, req Request, pending Decision) Decision
}

// ApprovalHookFunc adapts a function to ApprovalHook.
type ApprovalHookFunc func(ctx context.Context, req Request, pending Decision) Decision

func (f ApprovalHookFunc) Request(ctx context.Context, req Request, pending Decision) Decision {
	return f(ctx, req, pending)
}

// StaticApprovalHook returns a fixed decision for every request.
type StaticApprovalHook struct {
	Decision Decision
}

// Request returns the configured decision.
func (h StaticApprovalHook) Request(_ context.Context, _ Request, _ Decision) Decision {
	return normalizeApprovalDecision(h.Decision, "approval decision not set")
}

// ConsoleApprovalHook prompts for approval on stdin/stdout.
type ConsoleApprovalHook struct {
	in              *bufio.Reader
	out             io.Writer
	prompt          string
	timeout         time.Duration
	defaultDecision Decision
	mu              sync.Mutex
}

// ConsoleApprovalOption configures the console approval hook.
type ConsoleApprovalOption func(*ConsoleApprovalHook)

// NewConsoleApprovalHook creates a console-based approval hook.
func NewConsoleApprovalHook(opts ...ConsoleApprovalOption) *ConsoleApprovalHook {
	h := &ConsoleApprovalHook{
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		prompt: "Approve? [y/N]: ",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithApprovalInput sets the input reader for the console hook.
func WithApprovalInput(r io.Reader) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if r != nil {
			h.in = bufio.NewReader(r)
		}
	}
}

// WithApprovalOutput sets the output writer for the console hook.
func WithApprovalOutput(w io.Writer) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if w != nil {
			h.out = w
		}
	}
}

// WithApprovalPrompt sets the prompt string.
func WithApprovalPrompt(prompt string) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if strings.TrimSpace(prompt) != "" {
			h.prompt = prompt
		}
	}
}

// WithApprovalTimeout sets a timeout for waiting on user input.
func WithApprovalTimeout(timeout time.Duration) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithApprovalDefault sets the default decision when input is invalid or missing.
func WithApprovalDefault(decision Decision) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		h.defaultDecision = decision
	}
}

// Request prompts for approval and returns the operator decision.
// Prompts are serialised so concurrent sessions do not interleave.
func (h *ConsoleApprovalHook) Request(ctx context.Context, req Request, pending Decision) Decision {
	if h == nil || h.in == nil {
		var def Decision
		if h != nil {
			def = h.defaultDecision
		}
		return normalizeApprovalDecision(def, "approval input not available")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	reason := strings.TrimSpace(pending.Reason)
	if reason == "" {
		reason = "approval required"
	}

	_, _ = fmt.Fprintf(h.out, "\nApproval required to %s %q\n", req.Effect, req.capability())
	if req.Contract != nil {
		_, _ = fmt.Fprintf(h.out, "Contract: class=%s stability=%s band=%s risk=%d\n",
			req.Contract.Class(), req.Contract.Stability(), req.Contract.ResourceBand(), req.Contract.RiskScore())
	}
	if pending.RuleID != "" {
		_, _ = fmt.Fprintf(h.out, "Rule: %s\n", pending.RuleID)
	}
	_, _ = fmt.Fprintf(h.out, "Reason: %s\n", reason)
	_, _ = fmt.Fprint(h.out, h.prompt)

	responseCh := make(chan string, 1)
	go func() {
		line, _ := h.in.ReadString('\n')
		responseCh <- line
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		return normalizeApprovalDecision(h.defaultDecision, "approval cancelled")
	case line := <-responseCh:
		answer := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(answer, "y") {
			return Decision{Status: DecisionStatusAllow, Reason: "approved by operator", RuleID: pending.RuleID}
		}
		return Decision{Status: DecisionStatusDeny, Reason: "rejected by operator", RuleID: pending.RuleID}
	}
}

// normalizeApprovalDecision turns an unset decision into a deny; approval
// hooks never leave a request in require_approval.
func normalizeApprovalDecision(decision Decision, fallbackReason string) Decision {
	switch decision.Status {
	case DecisionStatusAllow, DecisionStatusDeny:
		return decision
	case "":
		if decision.Reason == "" {
			decision.Reason = fallbackReason
		}
	}
	decision.Status = DecisionStatusDeny
	return decision
}
