package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	apperrors "github.com/Proton-105/coinwatch/internal/errors"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store runs ledger transactions against PostgreSQL.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var _ TxRunner = (*Store)(nil)

// NewStore creates a transaction runner on db.
func NewStore(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log}
}

// InTx runs fn in a read-committed transaction. Serialization failures and
// deadlocks roll back and rerun fn with backoff.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return apperrors.WithRetry(ctx, func() error {
		return s.runOnce(ctx, fn)
	})
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(ctx, &pgTx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("rollback error", slog.Any("error", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}

	return nil
}

const (
	pqUniqueViolation      = "unique_violation"
	pqCheckViolation       = "check_violation"
	pqSerializationFailure = "serialization_failure"
	pqDeadlockDetected     = "deadlock_detected"

	coinsConstraint = "users_coins_non_negative"
)

// classify maps driver errors onto the repository sentinels and marks
// transient PostgreSQL failures as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case pqCheckViolation:
			if pqErr.Constraint == coinsConstraint {
				return ErrInsufficientCoins
			}
		case pqSerializationFailure, pqDeadlockDetected:
			return apperrors.NewDatabaseError(err)
		}
		return err
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewDatabaseError(err)
	}

	return err
}
