//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapon/qrengine/internal/testutil"
)

func TestIntegrationMigration_ApplyAllTables(t *testing.T) {
	ctx, pool, _ := newMigrationTestEnv(t)

	for _, table := range []string{"profiles", "qr_codes"} {
		t.Run(table, func(t *testing.T) {
			exists, err := tableExists(ctx, pool, table)
			if err != nil {
				t.Fatalf("tableExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Table %q should exist after migrations", table)
			}
		})
	}
}

func TestIntegrationMigration_QRCodesTableSchema(t *testing.T) {
	ctx, pool, _ := newMigrationTestEnv(t)

	expectedColumns := []string{
		"id",
		"owner_id",
		"profile_id",
		"type",
		"content",
		"payload",
		"design",
		"is_active",
		"expires_at",
		"max_scans",
		"password_hash",
		"total_scans",
		"unique_scans",
		"daily",
		"locations",
		"devices",
		"referrers",
		"version",
	}

	for _, col := range expectedColumns {
		t.Run(col, func(t *testing.T) {
			exists, err := columnExists(ctx, pool, "qr_codes", col)
			if err != nil {
				t.Fatalf("columnExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Column %q should exist in qr_codes table", col)
			}
		})
	}
}

func TestIntegrationMigration_QRCodesConstraints(t *testing.T) {
	ctx, pool, _ := newMigrationTestEnv(t)

	_, err := pool.Exec(ctx, `
		INSERT INTO qr_codes (id, owner_id, type, payload)
		VALUES ('bad-type', 'owner', 'fax', 'x')
	`)
	if err == nil {
		t.Error("expected the type check constraint to reject 'fax'")
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO qr_codes (id, owner_id, type, payload, total_scans, unique_scans)
		VALUES ('bad-counts', 'owner', 'text', 'x', 1, 2)
	`)
	if err == nil {
		t.Error("expected unique_scans <= total_scans to be enforced")
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO qr_codes (id, owner_id, type, payload)
		VALUES ('ok', 'owner', 'text', 'x')
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	var version int64
	if err := pool.QueryRow(ctx, `SELECT version FROM qr_codes WHERE id = 'ok'`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected initial version 1, got %d", version)
	}
}

func TestIntegrationMigration_RollbackQRCodes(t *testing.T) {
	ctx, pool, _ := newMigrationTestEnv(t)

	if err := testutil.ApplyMigration(ctx, pool, "000002_qr_codes.down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}

	exists, err := tableExists(ctx, pool, "qr_codes")
	if err != nil {
		t.Fatalf("tableExists failed: %v", err)
	}
	if exists {
		t.Error("qr_codes table should not exist after rollback")
	}

	exists, err = tableExists(ctx, pool, "profiles")
	if err != nil {
		t.Fatalf("tableExists failed: %v", err)
	}
	if !exists {
		t.Error("profiles table should survive the qr_codes rollback")
	}
}

func TestIntegrationMigration_Idempotency(t *testing.T) {
	ctx, pool, _ := newMigrationTestEnv(t)

	for _, name := range []string{"000001_profiles.up.sql", "000002_qr_codes.up.sql"} {
		if err := testutil.ApplyMigration(ctx, pool, name); err != nil {
			t.Fatalf("second apply of %s should not fail: %v", name, err)
		}
	}
}

func TestIntegrationMigration_EmbeddedUpDown(t *testing.T) {
	ctx, pool, dbURL := newMigrationTestEnv(t)

	if _, err := pool.Exec(ctx, `
		DROP TABLE IF EXISTS qr_codes;
		DROP TABLE IF EXISTS profiles;
		DROP TABLE IF EXISTS schema_migrations;
	`); err != nil {
		t.Fatalf("clear schema: %v", err)
	}

	if err := Migrate(dbURL, MigrateUp); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if err := Migrate(dbURL, MigrateUp); err != nil {
		t.Fatalf("migrate up at head should be a no-op: %v", err)
	}
	if exists, _ := tableExists(ctx, pool, "qr_codes"); !exists {
		t.Fatal("qr_codes should exist after migrate up")
	}

	if err := Migrate(dbURL, MigrateDown); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if exists, _ := tableExists(ctx, pool, "profiles"); exists {
		t.Fatal("profiles should not exist after migrate down")
	}

	if err := Migrate(dbURL, "sideways"); err == nil {
		t.Fatal("expected an error for an unknown direction")
	}
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, tableName).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, tableName, columnName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.columns
			WHERE table_schema = 'public'
			AND table_name = $1
			AND column_name = $2
		)
	`, tableName, columnName).Scan(&exists)
	return exists, err
}

// newMigrationTestEnv returns a pool on a freshly reset schema. The schema
// lock is held until the test ends.
func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, pool, dbURL
}
