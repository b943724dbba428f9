package queue

import "context"

// Stats summarizes queue contents per lifecycle state.
type Stats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Backend is the storage contract shared by the SQLite store and the file
// fallback. GetAll with no statuses returns everything; results are always
// ordered oldest-first by creation time.
type Backend interface {
	Put(ctx context.Context, item *Item) error
	PutAll(ctx context.Context, items []*Item) error
	Get(ctx context.Context, id string) (*Item, error)
	GetAll(ctx context.Context, statuses ...Status) ([]*Item, error)
	Remove(ctx context.Context, id string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Size(ctx context.Context) (int, error)
	ResetInterrupted(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
