package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/tapon/qrengine/internal/model"
)

// Common errors for QR repository operations.
var (
	ErrQRNotFound     = errors.New("qr code not found")
	ErrQRExists       = errors.New("qr code already exists")
	ErrProfileMissing = errors.New("referenced profile does not exist")
	ErrInvalidCursor  = errors.New("invalid pagination cursor")
)

// QRFilter defines filters for listing QR codes.
type QRFilter struct {
	OwnerID string
	Types   []model.QRType
	Active  *bool
}

// PaginationCursor represents decoded cursor for pagination.
type PaginationCursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

const qrColumns = `
	id, owner_id, profile_id, title, type, content, payload, formatted, design,
	is_active, expires_at, max_scans, password_hash,
	total_scans, unique_scans, last_scanned_at, daily, locations, devices, referrers,
	version, created_at, updated_at`

// CreateQRCode inserts a new record. rec.Version is set to 1.
func (r *Repository) CreateQRCode(ctx context.Context, rec *model.QRRecord) error {
	cols, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO qr_codes (
			id, owner_id, profile_id, title, type, content, payload, formatted, design,
			is_active, expires_at, max_scans, password_hash,
			total_scans, unique_scans, last_scanned_at, daily, locations, devices, referrers,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, 1, $21, $22)
	`

	_, err = r.pool.Exec(ctx, query,
		rec.ID,
		rec.OwnerID,
		rec.ProfileID,
		rec.Title,
		string(rec.Type),
		cols.content,
		rec.Payload,
		cols.formatted,
		cols.design,
		rec.IsActive,
		rec.ExpiresAt,
		rec.MaxScans,
		rec.PasswordHash,
		rec.Stats.TotalScans,
		rec.Stats.UniqueScans,
		rec.Stats.LastScannedAt,
		cols.daily,
		cols.locations,
		cols.devices,
		cols.referrers,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		switch sqlState(err) {
		case codeUniqueViolation:
			return ErrQRExists
		case codeForeignKeyViolation:
			return ErrProfileMissing
		}
		return fmt.Errorf("failed to create qr code: %w", err)
	}

	rec.Version = 1
	return nil
}

// GetQRCode retrieves a record by its ID.
func (r *Repository) GetQRCode(ctx context.Context, id string) (*model.QRRecord, error) {
	query := `SELECT ` + qrColumns + ` FROM qr_codes WHERE id = $1`

	rec, err := scanQRCode(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQRNotFound
		}
		return nil, fmt.Errorf("failed to get qr code: %w", err)
	}
	return rec, nil
}

// FindProfileCode returns the profile-type record linked to profileID.
func (r *Repository) FindProfileCode(ctx context.Context, profileID string) (*model.QRRecord, error) {
	query := `SELECT ` + qrColumns + ` FROM qr_codes
		WHERE profile_id = $1 AND type = 'profile'
		ORDER BY created_at ASC
		LIMIT 1`

	rec, err := scanQRCode(r.pool.QueryRow(ctx, query, profileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQRNotFound
		}
		return nil, fmt.Errorf("failed to find profile qr code: %w", err)
	}
	return rec, nil
}

// ListQRCodes retrieves a page of records, newest first.
func (r *Repository) ListQRCodes(ctx context.Context, filter QRFilter, cursor string, limit int) ([]*model.QRRecord, string, error) {
	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = decodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	query := `SELECT ` + qrColumns + ` FROM qr_codes WHERE owner_id = $1`
	args := []any{filter.OwnerID}
	argIndex := 2

	if cursorData != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		argIndex += 2
	}

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND type = ANY($%d)", argIndex)
		args = append(args, pq.Array(types))
		argIndex++
	}

	if filter.Active != nil {
		query += fmt.Sprintf(" AND is_active = $%d", argIndex)
		args = append(args, *filter.Active)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1) // one extra row tells us whether there is a next page

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list qr codes: %w", err)
	}
	defer rows.Close()

	var recs []*model.QRRecord
	for rows.Next() {
		rec, err := scanQRCode(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan qr code: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating qr codes: %w", err)
	}

	var nextCursor string
	if len(recs) > limit {
		recs = recs[:limit]
		last := recs[len(recs)-1]
		nextCursor = encodeCursor(&PaginationCursor{ID: last.ID, CreatedAt: last.CreatedAt})
	}

	return recs, nextCursor, nil
}

// UpdateQRCode locks the record, hands it to fn and writes every mutable
// field of the result back, including its stats. An error from fn aborts the
// write and is returned as is. Scans of the same record wait for the lock.
func (r *Repository) UpdateQRCode(ctx context.Context, id string, fn func(cur *model.QRRecord) error) (*model.QRRecord, error) {
	var rec *model.QRRecord
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := lockQRCode(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}

		cols, err := encodeJSONColumns(cur)
		if err != nil {
			return err
		}

		query := `
			UPDATE qr_codes SET
				profile_id = $2, title = $3, type = $4, content = $5, payload = $6,
				formatted = $7, design = $8, is_active = $9, expires_at = $10,
				max_scans = $11, password_hash = $12,
				total_scans = $13, unique_scans = $14, last_scanned_at = $15,
				daily = $16, locations = $17, devices = $18, referrers = $19,
				version = version + 1
			WHERE id = $1
			RETURNING version, updated_at
		`

		err = tx.QueryRow(ctx, query,
			cur.ID,
			cur.ProfileID,
			cur.Title,
			string(cur.Type),
			cols.content,
			cur.Payload,
			cols.formatted,
			cols.design,
			cur.IsActive,
			cur.ExpiresAt,
			cur.MaxScans,
			cur.PasswordHash,
			cur.Stats.TotalScans,
			cur.Stats.UniqueScans,
			cur.Stats.LastScannedAt,
			cols.daily,
			cols.locations,
			cols.devices,
			cols.referrers,
		).Scan(&cur.Version, &cur.UpdatedAt)
		if err != nil {
			if sqlState(err) == codeForeignKeyViolation {
				return ErrProfileMissing
			}
			return fmt.Errorf("failed to update qr code: %w", err)
		}
		rec = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyScan locks the record and hands it to apply, which returns the record
// with one accepted scan recorded or an error to refuse the scan. Only the
// scan stats of the returned record are written. Concurrent scans of one
// record queue on the row lock, so none of them is lost or refused for
// contention alone.
func (r *Repository) ApplyScan(ctx context.Context, id string, apply func(cur *model.QRRecord) (*model.QRRecord, error)) (*model.QRRecord, error) {
	var next *model.QRRecord
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := lockQRCode(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err = apply(cur)
		if err != nil {
			return err
		}

		cols, err := encodeJSONColumns(next)
		if err != nil {
			return err
		}

		query := `
			UPDATE qr_codes SET
				total_scans = $2, unique_scans = $3, last_scanned_at = $4,
				daily = $5, locations = $6, devices = $7, referrers = $8,
				version = version + 1
			WHERE id = $1
			RETURNING version
		`

		err = tx.QueryRow(ctx, query,
			id,
			next.Stats.TotalScans,
			next.Stats.UniqueScans,
			next.Stats.LastScannedAt,
			cols.daily,
			cols.locations,
			cols.devices,
			cols.referrers,
		).Scan(&next.Version)
		if err != nil {
			return fmt.Errorf("failed to apply scan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// lockQRCode reads a record and holds its row lock until tx ends.
func lockQRCode(ctx context.Context, tx pgx.Tx, id string) (*model.QRRecord, error) {
	query := `SELECT ` + qrColumns + ` FROM qr_codes WHERE id = $1 FOR UPDATE`

	rec, err := scanQRCode(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQRNotFound
		}
		return nil, fmt.Errorf("failed to lock qr code: %w", err)
	}
	return rec, nil
}

// DeleteQRCode removes a record.
func (r *Repository) DeleteQRCode(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM qr_codes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete qr code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQRNotFound
	}
	return nil
}

type jsonColumns struct {
	content, formatted, design           []byte
	daily, locations, devices, referrers []byte
}

func encodeJSONColumns(rec *model.QRRecord) (*jsonColumns, error) {
	var cols jsonColumns
	fields := []struct {
		name string
		dst  *[]byte
		val  any
	}{
		{"content", &cols.content, rec.Content},
		{"formatted", &cols.formatted, nonNil(rec.Formatted)},
		{"design", &cols.design, rec.Design},
		{"daily", &cols.daily, nonNil(rec.Stats.Daily)},
		{"locations", &cols.locations, nonNil(rec.Stats.Locations)},
		{"devices", &cols.devices, nonNil(rec.Stats.Devices)},
		{"referrers", &cols.referrers, nonNil(rec.Stats.Referrers)},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.val)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", f.name, err)
		}
		*f.dst = data
	}
	return &cols, nil
}

// nonNil keeps empty lists as [] rather than null in JSONB.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// scanQRCode scans one row selected with qrColumns.
func scanQRCode(row pgx.Row) (*model.QRRecord, error) {
	var (
		rec                                  model.QRRecord
		typ                                  string
		content, formatted, design           []byte
		daily, locations, devices, referrers []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.ProfileID,
		&rec.Title,
		&typ,
		&content,
		&rec.Payload,
		&formatted,
		&design,
		&rec.IsActive,
		&rec.ExpiresAt,
		&rec.MaxScans,
		&rec.PasswordHash,
		&rec.Stats.TotalScans,
		&rec.Stats.UniqueScans,
		&rec.Stats.LastScannedAt,
		&daily,
		&locations,
		&devices,
		&referrers,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = model.QRType(typ)

	blobs := []struct {
		name string
		data []byte
		dst  any
	}{
		{"content", content, &rec.Content},
		{"formatted", formatted, &rec.Formatted},
		{"design", design, &rec.Design},
		{"daily", daily, &rec.Stats.Daily},
		{"locations", locations, &rec.Stats.Locations},
		{"devices", devices, &rec.Stats.Devices},
		{"referrers", referrers, &rec.Stats.Referrers},
	}
	for _, b := range blobs {
		if len(b.data) == 0 {
			continue
		}
		if err := json.Unmarshal(b.data, b.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", b.name, err)
		}
	}

	return &rec, nil
}

// encodeCursor encodes pagination cursor to base64.
func encodeCursor(cursor *PaginationCursor) string {
	data, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(data)
}

// decodeCursor decodes base64 pagination cursor.
func decodeCursor(s string) (*PaginationCursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	var cursor PaginationCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, err
	}
	if cursor.ID == "" {
		return nil, ErrInvalidCursor
	}

	return &cursor, nil
}
