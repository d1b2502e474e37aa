// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"log/slog"

	"github.com/jllopis/capkernel/pkg/config"
)

// ReloadOnChange rebuilds the governance policy each time w reloads the
// configuration and installs it into target. A configuration whose policy
// fails to build is logged and the previous policy stays in effect.
func ReloadOnChange(w *config.Watcher, target *SwappablePolicy, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	w.OnChange(func(cfg *config.Config) {
		p, err := FromConfig(cfg.Governance)
		if err != nil {
			logger.Error("governance.reload failed", "error", err)
			return
		}
		target.Swap(p)
		logger.Info("governance.reload",
			"policies", len(cfg.Governance.Policies),
			"cel_rules", len(cfg.Governance.CEL))
	})
}
