package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapon/qrengine/migrations"
)

// schemaLockKey serializes packages that reset the shared test database.
const schemaLockKey int64 = 0x51_52_45_4e // "QREN"

// AcquireDBLock holds a session advisory lock until the returned func runs.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	return func() error {
		defer conn.Release()
		_, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", schemaLockKey)
		return err
	}, nil
}

// ResetSchema runs every embedded down migration newest first and then every
// up migration oldest first, leaving empty tables.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	downs, err := migrationNames(".down.sql")
	if err != nil {
		return err
	}
	slices.Reverse(downs)
	ups, err := migrationNames(".up.sql")
	if err != nil {
		return err
	}
	for _, name := range append(downs, ups...) {
		if err := ApplyMigration(ctx, pool, name); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMigration executes one embedded migration file by name, for example
// "000002_qr_codes.down.sql".
func ApplyMigration(ctx context.Context, pool *pgxpool.Pool, name string) error {
	sql, err := fs.ReadFile(migrations.FS, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply %s: %w", name, err)
	}
	return nil
}

func migrationNames(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
