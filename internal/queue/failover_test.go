package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// faultyBackend fails every operation with a fixed error.
type faultyBackend struct {
	err error
}

func (f *faultyBackend) Put(context.Context, *Item) error                { return f.err }
func (f *faultyBackend) PutAll(context.Context, []*Item) error           { return f.err }
func (f *faultyBackend) Get(context.Context, string) (*Item, error)      { return nil, f.err }
func (f *faultyBackend) GetAll(context.Context, ...Status) ([]*Item, error) {
	return nil, f.err
}
func (f *faultyBackend) Remove(context.Context, string) (bool, error)  { return false, f.err }
func (f *faultyBackend) Keys(context.Context) ([]string, error)        { return nil, f.err }
func (f *faultyBackend) Size(context.Context) (int, error)             { return 0, f.err }
func (f *faultyBackend) ResetInterrupted(context.Context) (int64, error) { return 0, f.err }
func (f *faultyBackend) Stats(context.Context) (Stats, error)          { return Stats{}, f.err }
func (f *faultyBackend) Close() error                                  { return nil }

func TestFailoverSwitchesPermanently(t *testing.T) {
	ctx := context.Background()
	primary := mustOpenStore(t)
	fallback, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open fallback: %v", err)
	}

	fo := NewFailover(primary, fallback, nil)
	item := NewItem(KindForm, FormPayload{Body: json.RawMessage(`{}`)}, "/api/x")
	if err := fo.Put(ctx, item); err != nil {
		t.Fatalf("put via primary: %v", err)
	}
	if fo.Degraded() {
		t.Fatal("must not be degraded after a healthy write")
	}
	if fo.Engine() != "sqlite" {
		t.Fatalf("engine = %q", fo.Engine())
	}

	// Kill the primary; the next operation must switch to the fallback.
	_ = primary.Close()
	second := NewItem(KindForm, FormPayload{Body: json.RawMessage(`{}`)}, "/api/y")
	if err := fo.Put(ctx, second); err != nil {
		t.Fatalf("put after primary death: %v", err)
	}
	if !fo.Degraded() {
		t.Fatal("expected degraded state")
	}
	if fo.Engine() != "fallback" {
		t.Fatalf("engine = %q", fo.Engine())
	}

	// The switch is permanent: reads now come from the fallback, which only
	// holds the second item.
	if _, err := fo.Get(ctx, second.ID); err != nil {
		t.Fatalf("get from fallback: %v", err)
	}
	if _, err := fo.Get(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for item stranded in primary, got %v", err)
	}
}

func TestFailoverNotFoundIsNotAFault(t *testing.T) {
	ctx := context.Background()
	primary := mustOpenStore(t)
	fallback, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open fallback: %v", err)
	}
	fo := NewFailover(primary, fallback, nil)

	if _, err := fo.Get(ctx, "offline_0_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if fo.Degraded() {
		t.Fatal("a miss must not trigger failover")
	}
}

func TestFailoverBothEnginesFailing(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	fo := NewFailover(&faultyBackend{err: boom}, &faultyBackend{err: boom}, nil)

	item := NewItem(KindForm, FormPayload{Body: json.RawMessage(`{}`)}, "/api/x")
	err := fo.Put(ctx, item)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
