// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jllopis/capkernel/pkg/audit"
)

type auditView struct {
	At         time.Time      `json:"at"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id,omitempty"`
	Capability string         `json:"capability,omitempty"`
	Class      string         `json:"class,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

func runAudit(ctx context.Context, a *app, global globalFlags, args []string, stdout io.Writer) error {
	fs := newFlagSet("audit")
	sessionID := fs.String("session", "", "Only events of this session")
	eventType := fs.String("type", "", "Only events of this type, e.g. session.created")
	capability := fs.String("capability", "", "Only events for this capability")
	since := fs.Duration("since", 0, "Only events recorded within this duration")
	limit := fs.Int("limit", 0, "Maximum number of events (0 = all)")
	if done, err := parseFlags(fs, args, stdout); done || err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return NewInvalidArgumentError(fs.Arg(0), "audit takes no positional arguments")
	}
	if *limit < 0 {
		return NewInvalidArgumentError("--limit", fmt.Sprintf("invalid limit %d", *limit))
	}

	filter := audit.Filter{
		SessionID:  *sessionID,
		Type:       audit.EventType(*eventType),
		Capability: *capability,
		Limit:      *limit,
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}

	events, err := a.audit.List(ctx, filter)
	if err != nil {
		return err
	}
	views := make([]auditView, 0, len(events))
	for _, ev := range events {
		views = append(views, auditView{
			At:         ev.At,
			Type:       string(ev.Type),
			SessionID:  ev.SessionID,
			Capability: ev.Capability,
			Class:      ev.Class,
			Detail:     ev.Detail,
		})
	}
	if global.JSON {
		return printJSON(stdout, views)
	}

	if len(views) == 0 {
		fmt.Fprintln(stdout, "no audit events")
		return nil
	}
	w := newTabWriter(stdout)
	writeRow(w, "TIME", "TYPE", "SESSION", "CAPABILITY", "CLASS", "DETAIL")
	for _, v := range views {
		detail := "-"
		if len(v.Detail) > 0 {
			if data, err := json.Marshal(v.Detail); err == nil {
				detail = string(data)
			}
		}
		writeRow(w, v.At.Format(time.RFC3339), v.Type, orDash(v.SessionID), orDash(v.Capability), orDash(v.Class), detail)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
