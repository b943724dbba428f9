package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore is the dependency-free fallback engine used when the SQLite
// store fails. Items are kept as a single JSON snapshot rewritten atomically
// on every mutation; photo blobs live in sidecar files so the snapshot stays
// small. Durability is weaker than the primary engine but survives restarts.
type FileStore struct {
	mu    sync.Mutex
	dir   string
	items map[string]*fileRecord
}

var _ Backend = (*FileStore)(nil)

type fileRecord struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
	PayloadJSON string `json:"payload"`
	Status      Status `json:"status"`
	RetryCount  int    `json:"retry_count"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

const (
	snapshotName = "items.json"
	blobDirName  = "blobs"
)

// OpenFileStore loads or initializes a fallback store rooted at dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, blobDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create fallback directory: %w", err)
	}

	store := &FileStore{dir: dir, items: make(map[string]*fileRecord)}

	data, err := os.ReadFile(filepath.Join(dir, snapshotName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store, nil
		}
		return nil, fmt.Errorf("read fallback snapshot: %w", err)
	}
	var records []*fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse fallback snapshot: %w", err)
	}
	for _, rec := range records {
		store.items[rec.ID] = rec
	}
	return store, nil
}

// Dir returns the fallback store root.
func (f *FileStore) Dir() string {
	if f == nil {
		return ""
	}
	return f.dir
}

func (f *FileStore) blobPath(id string) string {
	return filepath.Join(f.dir, blobDirName, id+".bin")
}

// persistLocked rewrites the snapshot via a temp file and rename so a crash
// mid-write never truncates the previous snapshot.
func (f *FileStore) persistLocked() error {
	records := make([]*fileRecord, 0, len(f.items))
	for _, rec := range f.items {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt == records[j].CreatedAt {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt < records[j].CreatedAt
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fallback snapshot: %w", err)
	}

	target := filepath.Join(f.dir, snapshotName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write fallback snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace fallback snapshot: %w", err)
	}
	return nil
}

func recordFromItem(item *Item) (*fileRecord, []byte, error) {
	encoded, blob, err := marshalPayload(item)
	if err != nil {
		return nil, nil, err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	return &fileRecord{
		ID:          item.ID,
		Kind:        item.Kind,
		Method:      itemMethod(item),
		Destination: item.Destination,
		PayloadJSON: encoded,
		Status:      item.Status,
		RetryCount:  item.RetryCount,
		LastError:   item.LastError,
		CreatedAt:   item.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, blob, nil
}

func (f *FileStore) itemFromRecord(rec *fileRecord) (*Item, error) {
	var blob []byte
	if rec.Kind == KindPhoto {
		data, err := os.ReadFile(f.blobPath(rec.ID))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read photo blob: %w", err)
		}
		blob = data
	}
	payload, err := unmarshalPayload(rec.Kind, rec.PayloadJSON, blob)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", rec.ID, err)
	}
	item := &Item{
		ID:          rec.ID,
		Kind:        rec.Kind,
		Method:      rec.Method,
		Destination: rec.Destination,
		Payload:     payload,
		Status:      rec.Status,
		RetryCount:  rec.RetryCount,
		LastError:   rec.LastError,
	}
	if created, err := parseTimeString(rec.CreatedAt); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(rec.UpdatedAt); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

// Put inserts or replaces an item.
func (f *FileStore) Put(_ context.Context, item *Item) error {
	return f.PutAll(nil, []*Item{item})
}

// PutAll persists multiple items. The snapshot is written once, after all
// blobs land, so a failure leaves the previous snapshot intact.
func (f *FileStore) PutAll(_ context.Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	staged := make(map[string]*fileRecord, len(items))
	for _, item := range items {
		if item == nil {
			return errors.New("item is nil")
		}
		rec, blob, err := recordFromItem(item)
		if err != nil {
			return err
		}
		if item.Kind == KindPhoto && blob != nil {
			if err := os.WriteFile(f.blobPath(item.ID), blob, 0o644); err != nil {
				return fmt.Errorf("write photo blob: %w", err)
			}
		}
		staged[rec.ID] = rec
	}
	for id, rec := range staged {
		f.items[id] = rec
	}
	return f.persistLocked()
}

// Get fetches an item by identifier. Returns ErrNotFound for unknown ids.
func (f *FileStore) Get(_ context.Context, id string) (*Item, error) {
	f.mu.Lock()
	rec, ok := f.items[id]
	f.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return f.itemFromRecord(rec)
}

// GetAll returns items filtered by status set, ordered oldest-first.
func (f *FileStore) GetAll(_ context.Context, statuses ...Status) ([]*Item, error) {
	wanted := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	f.mu.Lock()
	records := make([]*fileRecord, 0, len(f.items))
	for _, rec := range f.items {
		if len(wanted) > 0 {
			if _, ok := wanted[rec.Status]; !ok {
				continue
			}
		}
		records = append(records, rec)
	}
	f.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt == records[j].CreatedAt {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt < records[j].CreatedAt
	})

	items := make([]*Item, 0, len(records))
	for _, rec := range records {
		item, err := f.itemFromRecord(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Remove deletes an item and its blob sidecar.
func (f *FileStore) Remove(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.items[id]
	if !ok {
		return false, nil
	}
	delete(f.items, id)
	if err := f.persistLocked(); err != nil {
		f.items[id] = rec
		return false, err
	}
	if rec.Kind == KindPhoto {
		_ = os.Remove(f.blobPath(id))
	}
	return true, nil
}

// Keys returns all stored item identifiers, oldest-first.
func (f *FileStore) Keys(_ context.Context) ([]string, error) {
	items, err := f.GetAll(nil)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.ID)
	}
	return keys, nil
}

// Size returns the number of stored items.
func (f *FileStore) Size(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items), nil
}

// ResetInterrupted returns items stranded in syncing back to pending.
func (f *FileStore) ResetInterrupted(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var reset int64
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, rec := range f.items {
		if rec.Status == StatusSyncing {
			rec.Status = StatusPending
			rec.UpdatedAt = now
			reset++
		}
	}
	if reset == 0 {
		return 0, nil
	}
	if err := f.persistLocked(); err != nil {
		return 0, err
	}
	return reset, nil
}

// Stats returns per-status queue counts.
func (f *FileStore) Stats(_ context.Context) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var stats Stats
	for _, rec := range f.items {
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusSyncing:
			stats.Syncing++
		case StatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}

// Close is a no-op; the snapshot is already on disk.
func (f *FileStore) Close() error {
	return nil
}
