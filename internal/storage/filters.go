// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Composable read-boundary predicates. Every query over tombstoned tables
// must include NotDeleted; validity checks stack NotExpired/Active on top.

func NotDeleted(column string) sq.Sqlizer {
	return sq.Eq{column: nil}
}

func Active(column string) sq.Sqlizer {
	return sq.Eq{column: true}
}

func NotExpired(column string, now time.Time) sq.Sqlizer {
	return sq.Gt{column: now}
}
