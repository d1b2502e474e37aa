// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jllopis/capkernel/pkg/audit"
	"github.com/jllopis/capkernel/pkg/config"
	"github.com/jllopis/capkernel/pkg/governance"
	"github.com/jllopis/capkernel/pkg/grammar"
	"github.com/jllopis/capkernel/pkg/telemetry"
)

// app holds the wiring shared by commands that touch the kernel: logging,
// telemetry, governance and the persistent stores.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.KernelMetrics
	audit    audit.Store
	catalog  grammar.Catalog
	policy   *governance.SwappablePolicy
	shutdown telemetry.ShutdownFunc
	dbs      []*sql.DB
}

func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = telemetry.ConfigureSlog(stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("capkernel", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		Output:       stderr,

		Grammar:         cfg.Negotiation.Grammar,
		NegotiationMode: cfg.Negotiation.Mode,
		MaxStreams:      cfg.Session.MaxStreams,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown

	if a.metrics, err = telemetry.NewKernelMetrics(); err != nil {
		a.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	if err := a.openAudit(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}

	policy, err := governance.FromConfig(cfg.Governance)
	if err != nil {
		a.Close()
		return nil, NewConfigError(err, "")
	}
	a.policy = governance.NewSwappablePolicy(policy)
	return a, nil
}

func (a *app) openAudit() error {
	if a.cfg.Audit.SQLitePath == "" {
		a.audit = audit.NewMemoryStore()
		return nil
	}
	store, db, err := audit.OpenSQLite(a.cfg.Audit.SQLitePath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	a.dbs = append(a.dbs, db)
	a.audit = store
	return nil
}

func (a *app) openCatalog(ctx context.Context) error {
	if a.cfg.Catalog.SQLitePath == "" {
		a.catalog = grammar.NewMemoryCatalog()
	} else {
		catalog, db, err := grammar.OpenSQLiteCatalog(a.cfg.Catalog.SQLitePath)
		if err != nil {
			return fmt.Errorf("open grammar catalog: %w", err)
		}
		a.dbs = append(a.dbs, db)
		a.catalog = catalog
	}
	if a.cfg.Catalog.Dir == "" {
		return nil
	}
	n, err := grammar.LoadDir(ctx, a.catalog, a.cfg.Catalog.Dir)
	if err != nil {
		return err
	}
	a.logger.Debug("catalog.load", "dir", a.cfg.Catalog.Dir, "snapshots", n)
	return nil
}

// Close flushes telemetry and closes the stores.
func (a *app) Close() {
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn("telemetry.shutdown failed", "error", err)
		}
		cancel()
	}
	for _, db := range a.dbs {
		_ = db.Close()
	}
	a.dbs = nil
}
