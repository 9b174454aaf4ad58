package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a store failure so callers never inspect driver codes.
type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "transient"
	}
}

const uniqueViolation = "23505"

var (
	ErrNotFound = errors.New("store: no matching row")
	ErrConflict = errors.New("store: unique constraint violated")
)

type Error struct {
	Op   string
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	default:
		return false
	}
}

func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf reports the classification of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return KindTransient
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: op, Kind: KindNotFound, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := KindTransient
		if pgErr.Code == uniqueViolation {
			kind = KindConflict
		}
		return &Error{Op: op, Kind: kind, Code: pgErr.Code, Err: err}
	}
	return &Error{Op: op, Kind: KindTransient, Err: err}
}
