package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestSQLState(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeUniqueViolation})
	if got := sqlState(wrapped); got != codeUniqueViolation {
		t.Errorf("sqlState(wrapped) = %q", got)
	}
	if got := sqlState(errors.New("plain")); got != "" {
		t.Errorf("sqlState(plain) = %q", got)
	}
}

func TestSizePool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       int32
		max, min int32
	}{
		{0, DefaultMaxConns, 2},
		{1, 1, 1},
		{25, 25, 2},
	}
	for _, tt := range tests {
		cfg, err := pgxpool.ParseConfig("postgres://qr@localhost:5432/qrengine")
		if err != nil {
			t.Fatalf("parse config: %v", err)
		}
		sizePool(cfg, tt.in)
		if cfg.MaxConns != tt.max || cfg.MinConns != tt.min {
			t.Errorf("sizePool(%d) = %d/%d, want %d/%d", tt.in, cfg.MaxConns, cfg.MinConns, tt.max, tt.min)
		}
	}
}
