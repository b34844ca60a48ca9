package repository

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/database"
	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
)

// PostgresStore is the production Store.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a store over an open pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InTransaction(ctx context.Context, fn func(q Queries) error) error {
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
	return mapPgError(err, "transaction failed")
}

func (s *PostgresStore) Read(ctx context.Context, fn func(q Queries) error) error {
	return mapPgError(fn(&queries{db: s.db.Pool}), "read failed")
}

func (s *PostgresStore) ReadSnapshot(ctx context.Context, fn func(q Queries) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := s.db.InTransactionWithOptions(ctx, opts, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
	return mapPgError(err, "snapshot read failed")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return mapPgError(s.db.Health(ctx), "database ping failed")
}

// queries implements Queries over a pool or a transaction.
type queries struct {
	db database.DBTX
}

type scanner interface {
	Scan(dest ...any) error
}

// mapPgError converts driver errors into application errors. Errors that
// already carry a code pass through untouched.
func mapPgError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var appErr *errors.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return errors.Wrap(err, errors.ErrCodeConflict, msg)
		case pgErr.Code == "23P01":
			return errors.Wrap(err, errors.ErrCodeOverlappingRange, msg)
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return errors.Wrap(err, errors.ErrCodeConflict, msg)
		case pgErr.Code == "23514" || strings.HasPrefix(pgErr.Code, "22"):
			return errors.Wrap(err, errors.ErrCodeValidation, msg)
		case strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") || pgErr.Code == "53300":
			return errors.Wrap(err, errors.ErrCodeStorageUnavailable, msg)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, msg)
	}

	if isUnavailable(err) {
		return errors.Wrap(err, errors.ErrCodeStorageUnavailable, msg)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return true
	case pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return true
	case stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrUnexpectedEOF), stderrors.Is(err, net.ErrClosed):
		return true
	case stderrors.Is(err, context.DeadlineExceeded):
		return true
	}
	return strings.Contains(err.Error(), "closed pool")
}

func isNoRows(err error) bool {
	return stderrors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
