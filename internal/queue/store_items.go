package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const itemColumns = "i.id, i.kind, i.method, i.destination, i.payload_json, i.status, i.retry_count, i.last_error, i.created_at, i.updated_at, b.content"

const itemSelect = `SELECT ` + itemColumns + ` FROM offline_items i LEFT JOIN photo_blobs b ON b.item_id = i.id`

// Put inserts or replaces an item, including its photo blob when present.
func (s *Store) Put(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := putItemTx(ctx, tx, item); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit put: %w", err)
		}
		return nil
	})
}

// PutAll persists multiple items in a single transaction. Either every item
// is stored or none are.
func (s *Store) PutAll(ctx context.Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, item := range items {
			if err := putItemTx(ctx, tx, item); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit put all: %w", err)
		}
		return nil
	})
}

func putItemTx(ctx context.Context, tx *sql.Tx, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	encoded, blob, err := marshalPayload(item)
	if err != nil {
		return err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO offline_items (id, kind, method, destination, payload_json, status, retry_count, last_error, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             kind = excluded.kind,
             method = excluded.method,
             destination = excluded.destination,
             payload_json = excluded.payload_json,
             status = excluded.status,
             retry_count = excluded.retry_count,
             last_error = excluded.last_error,
             updated_at = excluded.updated_at`,
		item.ID,
		item.Kind,
		itemMethod(item),
		item.Destination,
		encoded,
		item.Status,
		item.RetryCount,
		nullableString(item.LastError),
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
		item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}

	if item.Kind == KindPhoto && blob != nil {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO photo_blobs (item_id, content) VALUES (?, ?)
             ON CONFLICT(item_id) DO UPDATE SET content = excluded.content`,
			item.ID,
			blob,
		); err != nil {
			return fmt.Errorf("upsert photo blob: %w", err)
		}
	}
	return nil
}

// Get fetches an item by identifier. Returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, itemSelect+` WHERE i.id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetAll returns items filtered by status set (or all items when no status
// is provided), ordered oldest-first by creation time.
func (s *Store) GetAll(ctx context.Context, statuses ...Status) ([]*Item, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	orderClause := ` ORDER BY i.created_at, i.id`
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, itemSelect+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, itemSelect+` WHERE i.status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Remove deletes an item by identifier, reporting whether a row was removed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM offline_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Keys returns all stored item identifiers, oldest-first.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM offline_items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, id)
	}
	return keys, rows.Err()
}

// Size returns the number of stored items.
func (s *Store) Size(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM offline_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// ResetInterrupted returns items stranded in syncing back to pending. Run
// once at daemon start: a replay interrupted by a crash never completed,
// so the item must become eligible again.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE offline_items SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusSyncing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted items: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns per-status queue counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM offline_items GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusSyncing:
			stats.Syncing = count
		case StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id          string
		kindStr     string
		method      string
		destination string
		payloadJSON string
		statusStr   string
		retryCount  int
		lastError   sql.NullString
		createdRaw  string
		updatedRaw  string
		blob        []byte
	)

	if err := scanner.Scan(
		&id,
		&kindStr,
		&method,
		&destination,
		&payloadJSON,
		&statusStr,
		&retryCount,
		&lastError,
		&createdRaw,
		&updatedRaw,
		&blob,
	); err != nil {
		return nil, err
	}

	kind := Kind(kindStr)
	payload, err := unmarshalPayload(kind, payloadJSON, blob)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", id, err)
	}

	item := &Item{
		ID:          id,
		Kind:        kind,
		Method:      method,
		Destination: destination,
		Payload:     payload,
		Status:      Status(statusStr),
		RetryCount:  retryCount,
		LastError:   lastError.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func itemMethod(item *Item) string {
	if item.Method == "" {
		return "POST"
	}
	return item.Method
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
