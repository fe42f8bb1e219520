// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/identity-service/internal/db"
	"github.com/canonical/identity-service/internal/logging"
	"github.com/canonical/identity-service/internal/monitoring"
	"github.com/canonical/identity-service/internal/tracing"
)

// sqlmockDBClient satisfies db.DBClientInterface on top of a sqlmock
// connection. WithTx runs the function directly so tests only declare the
// statements, not BEGIN/COMMIT.
type sqlmockDBClient struct {
	db *sql.DB
}

func (c *sqlmockDBClient) Statement(ctx context.Context) sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(c.db)
}

func (c *sqlmockDBClient) TxStatement(ctx context.Context) (db.TxInterface, sq.StatementBuilderType, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, sq.StatementBuilderType{}, err
	}
	return tx, sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(tx), nil
}

func (c *sqlmockDBClient) BeginTx(ctx context.Context) (context.Context, db.TxInterface, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, nil, err
	}
	return db.ContextWithTx(ctx, tx), tx, nil
}

func (c *sqlmockDBClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (c *sqlmockDBClient) Close() {
	_ = c.db.Close()
}

func setupStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	s := NewStorage(
		&sqlmockDBClient{db: conn},
		tracing.NewNoopTracer(),
		monitoring.NewNoopMonitor(),
		logging.NewNoopLogger(),
	)

	return s, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
