// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	stderrors "errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// StoreRetry retries writes that lost a race for the SQLite write lock,
// which happens when several processes share one audit or catalog file.
var StoreRetry = RetryConfig{
	MaxAttempts:   5,
	InitialDelay:  10 * time.Millisecond,
	MaxDelay:      250 * time.Millisecond,
	Multiplier:    2.0,
	Jitter:        0.2,
	IsRecoverable: IsSQLiteBusy,
}

// IsSQLiteBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED,
// including their extended codes.
func IsSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if !stderrors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	default:
		return false
	}
}
