package datastore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"lumen.studio/internal/auth"
)

const sqlstateInsufficientPrivilege = "42501"

type setting struct {
	key   string
	value string
}

// handle runs each operation in its own short transaction with the
// handle's session settings applied locally to that transaction.
type handle struct {
	db       *sql.DB
	kind     string
	settings []setting
}

func (h handle) Kind() string { return h.kind }

func (h handle) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range h.settings {
		if _, err := tx.ExecContext(ctx, `select set_config($1, $2, true)`, s.key, s.value); err != nil {
			return mapErr(err)
		}
	}
	if err := fn(tx); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

// mapErr turns row-level policy violations into authorization failures
// without exposing the store message.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateInsufficientPrivilege {
		return &auth.Error{Kind: auth.KindAuthorization, Reason: "access denied", Err: err}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}

func nullBool(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	return &nb.Bool
}
