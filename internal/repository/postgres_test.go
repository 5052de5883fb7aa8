package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type unsentErr struct{ safe bool }

func (e unsentErr) Error() string     { return "dial tcp: connection refused" }
func (e unsentErr) SafeToRetry() bool { return e.safe }

func TestPostgresIsTransient(t *testing.T) {
	repo := &PostgresRepository{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"deadlock", fmt.Errorf("debit: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), true},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		{"check violation", &pgconn.PgError{Code: pgerrcode.CheckViolation}, false},
		{"write conflict", ErrConflict, true},
		{"duplicate transaction", ErrDuplicateTransaction, true},
		{"request never sent", unsentErr{safe: true}, true},
		{"connection lost after send", unsentErr{safe: false}, false},
		{"reset during commit", errors.New("commit: read tcp: connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repo.IsTransient(tt.err))
		})
	}
}
