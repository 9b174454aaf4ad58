package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		kind     Kind
		notFound bool
		conflict bool
	}{
		{name: "no rows", err: sql.ErrNoRows, kind: KindNotFound, notFound: true},
		{name: "wrapped no rows", err: fmt.Errorf("scan: %w", sql.ErrNoRows), kind: KindNotFound, notFound: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", Message: "duplicate key"}, kind: KindConflict, conflict: true},
		{name: "foreign key violation", err: &pgconn.PgError{Code: "23503"}, kind: KindTransient},
		{name: "network", err: errors.New("connection reset"), kind: KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			if got := KindOf(err); got != tc.kind {
				t.Fatalf("KindOf() = %v, want %v", got, tc.kind)
			}
			if got := errors.Is(err, ErrNotFound); got != tc.notFound {
				t.Fatalf("errors.Is(ErrNotFound) = %v, want %v", got, tc.notFound)
			}
			if got := errors.Is(err, ErrConflict); got != tc.conflict {
				t.Fatalf("errors.Is(ErrConflict) = %v, want %v", got, tc.conflict)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("classified error must wrap the driver error")
			}
		})
	}
}

func TestClassifyKeepsExistingClassification(t *testing.T) {
	original := NewError("insert enrollment", KindConflict, errors.New("exists"))
	wrapped := fmt.Errorf("enroll: %w", original)
	if got := classify("outer", wrapped); got != wrapped {
		t.Fatalf("classify() replaced an already classified error: %v", got)
	}
	if classify("noop", nil) != nil {
		t.Fatal("classify(nil) must be nil")
	}
}
