// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/shavon/internal/auth"
)

// DB is the part of *pgxpool.Pool the repositories need.
// pgxmock.PgxPoolIface satisfies it too.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// conn returns the transaction stored in ctx by Transactor, or db.
func conn(ctx context.Context, db DB) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

// Transactor implements auth.Transactor. Repository calls made with the
// context handed to fn run inside the transaction.
type Transactor struct {
	db DB
}

// NewTransactor creates a Transactor.
func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// InTransaction commits when fn returns nil and rolls back otherwise.
// Nested calls join the outer transaction.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(auth.NewStoreError("begin", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(auth.NewStoreError("commit", err))
	}
	return nil
}

// isUniqueViolation reports whether err is a unique violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == constraint
}

// storeErr marks err as a transient store failure so readers may retry it.
func storeErr(code, op string, err error) error {
	return oops.Code(code).With("operation", op).Wrap(auth.NewStoreError(op, err))
}

var _ auth.Transactor = (*Transactor)(nil)
