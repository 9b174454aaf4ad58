package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Repos() Repositories {
	return pgRepositories(s.db)
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin tx", err)
	}
	if err := fn(pgRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func pgRepositories(q querier) Repositories {
	queries := &pgQueries{q: q}
	return Repositories{
		Courses:       queries,
		Units:         queries,
		Lessons:       queries,
		Profiles:      queries,
		Progress:      queries,
		Enrollments:   queries,
		Collaborators: queries,
		Suggestions:   queries,
	}
}

// pgQueries implements every repository over one querier so a transaction
// spans all of them.
type pgQueries struct {
	q querier
}

func affected(op string, result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, classify(op, err)
	}
	return n > 0, nil
}

func nullIfEmpty(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
