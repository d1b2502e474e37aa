// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jllopis/capkernel/pkg/config"
	"github.com/jllopis/capkernel/pkg/errors"
	"github.com/jllopis/capkernel/pkg/governance"
	"github.com/jllopis/capkernel/pkg/session"
)

// runSession admits a session for the contract and emits every stdin line
// as a frame. Frames are written to stdout as JSON lines; a final control
// frame marks the end of input.
func runSession(ctx context.Context, a *app, global globalFlags, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("run")
	streamName := fs.String("stream", string(session.StreamStdout), "Stream that receives stdin lines")
	kindName := fs.String("kind", string(session.KindStdout), "Frame kind: stdout, stderr, log, metric, control")
	approve := fs.String("approve", "deny", "Approval for require_approval decisions: console, allow, deny")
	if done, err := parseFlags(fs, args, stdout); done || err != nil {
		return err
	}
	positional := fs.Args()
	if len(positional) != 1 {
		return NewInvalidArgumentError("run", "usage: capkernel run [--stream S] [--kind K] [--approve console|allow|deny] <contract>")
	}
	if *streamName == "" {
		return NewInvalidArgumentError("--stream", "stream name is empty")
	}
	stream := session.StreamID(*streamName)
	kind, err := session.ParseFrameKind(*kindName)
	if err != nil {
		return err
	}

	c, err := loadContract(positional[0])
	if err != nil {
		return err
	}

	in := bufio.NewReader(stdin)
	hook, err := approvalHook(*approve, in, stderr)
	if err != nil {
		return err
	}

	if global.ConfigPath != "" {
		watcher, err := config.NewWatcher(global.ConfigPath,
			config.WithWatchProfile(global.Profile),
			config.WithWatchLogger(a.logger))
		if err != nil {
			return NewConfigError(err, global.ConfigPath)
		}
		governance.ReloadOnChange(watcher, a.policy, a.logger)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	sink := session.NewJSONSink(stdout)
	kernel := session.New(
		session.WithLogger(a.logger),
		session.WithPolicy(a.policy),
		session.WithApprovalHook(hook),
		session.WithMetrics(a.metrics),
		session.WithAuditStore(a.audit),
		session.WithMaxStreams(a.cfg.Session.MaxStreams),
		session.WithSink(sink),
	)
	sess, err := kernel.CreateSession(ctx, c)
	if err != nil {
		return err
	}
	defer kernel.Release(sess.ID())
	stop := sess.CancelOnDone(ctx)
	defer stop()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for {
			line, err := in.ReadString('\n')
			if line != "" {
				select {
				case lines <- strings.TrimRight(line, "\r\n"):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					readErr <- err
				}
				return
			}
		}
	}()

	var emitErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if _, emitErr = sess.EmitContext(ctx, stream, kind, []byte(line)); emitErr != nil {
				break loop
			}
		}
	}

	end := "eof"
	if sess.State() == session.StateCancelled {
		end = "cancelled"
	}
	if _, err := sess.EmitContext(ctx, session.StreamControl, session.KindControl, []byte(end)); err != nil && emitErr == nil {
		emitErr = err
	}

	m := sess.Metrics()
	fmt.Fprintf(stderr, "session %s %s: %d frames, %d bytes\n", sess.ID(), sess.State(), m.FramesSent, m.BytesSent)

	if err := sink.Err(); err != nil {
		return errors.New(errors.CodeInternal, "write frames", err)
	}
	select {
	case err := <-readErr:
		return errors.New(errors.CodeInvalidInput, "read input", err)
	default:
	}
	return emitErr
}

func approvalHook(mode string, in io.Reader, out io.Writer) (governance.ApprovalHook, error) {
	switch mode {
	case "deny":
		return governance.StaticApprovalHook{Decision: governance.Decision{
			Status: governance.DecisionStatusDeny,
			Reason: "approval not granted",
		}}, nil
	case "allow":
		return governance.StaticApprovalHook{Decision: governance.Allow}, nil
	case "console":
		return governance.NewConsoleApprovalHook(
			governance.WithApprovalInput(in),
			governance.WithApprovalOutput(out),
		), nil
	default:
		return nil, NewInvalidArgumentError("--approve", fmt.Sprintf("unknown approval mode %q", mode))
	}
}
