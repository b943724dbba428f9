package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/queue"
)

func newTestStore(t *testing.T) queue.Backend {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestSyncer(t *testing.T, store queue.Backend, server *httptest.Server) *Syncer {
	t.Helper()
	return New(Options{
		Store:   store,
		BaseURL: server.URL,
		Client:  server.Client(),
		Hub:     NewHub(64),
	})
}

func enqueueForm(t *testing.T, store queue.Backend, destination string) *queue.Item {
	t.Helper()
	item := queue.NewItem(queue.KindForm, queue.FormPayload{
		ContentType: "application/json",
		Body:        json.RawMessage(`{"room":"112"}`),
	}, destination)
	if err := store.Put(context.Background(), item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return item
}

func TestRunSyncPassReplaysAndRemoves(t *testing.T) {
	store := newTestStore(t)
	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+"|"+string(data))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newTestSyncer(t, store, server)
	first := enqueueForm(t, store, "/api/inspections")
	enqueueForm(t, store, "/api/reports")

	summary, err := s.RunSyncPass(context.Background())
	if err != nil {
		t.Fatalf("sync pass: %v", err)
	}
	if summary.Synced != 2 || summary.Failed != 0 || summary.Remaining != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if size, _ := store.Size(context.Background()); size != 0 {
		t.Fatalf("queue not drained: %d items", size)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("server saw %d requests", len(bodies))
	}
	if bodies[0] != `/api/inspections|{"room":"112"}` {
		t.Fatalf("first request = %q", bodies[0])
	}

	events, _ := s.Hub().Tail(16)
	var sawStarted, sawSynced, sawCompleted bool
	for _, evt := range events {
		switch evt.Type {
		case EventSyncStarted:
			sawStarted = true
		case EventItemSynced:
			if evt.ItemID == first.ID {
				sawSynced = true
			}
		case EventSyncCompleted:
			sawCompleted = true
			if evt.Synced != 2 {
				t.Fatalf("completed event synced = %d", evt.Synced)
			}
		}
	}
	if !sawStarted || !sawSynced || !sawCompleted {
		t.Fatalf("missing events: started=%v synced=%v completed=%v", sawStarted, sawSynced, sawCompleted)
	}
}

func TestReplayReusesCapturedMethod(t *testing.T) {
	store := newTestStore(t)
	var mu sync.Mutex
	methods := map[string]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods[r.URL.Path] = r.Method
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newTestSyncer(t, store, server)
	ctx := context.Background()

	put := enqueueForm(t, store, "/api/custodial-notes/42")
	put.Method = http.MethodPut
	if err := store.Put(ctx, put); err != nil {
		t.Fatalf("store put item: %v", err)
	}
	enqueueForm(t, store, "/api/inspections")

	summary, err := s.RunSyncPass(ctx)
	if err != nil {
		t.Fatalf("sync pass: %v", err)
	}
	if summary.Synced != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if size, _ := store.Size(ctx); size != 0 {
		t.Fatalf("queue not drained: %d items", size)
	}

	mu.Lock()
	defer mu.Unlock()
	if methods["/api/custodial-notes/42"] != http.MethodPut {
		t.Fatalf("replayed method = %q, want PUT", methods["/api/custodial-notes/42"])
	}
	if methods["/api/inspections"] != http.MethodPost {
		t.Fatalf("replayed method = %q, want POST", methods["/api/inspections"])
	}
}

func TestRetryExhaustionParksItemAsFailed(t *testing.T) {
	store := newTestStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newTestSyncer(t, store, server)
	item := enqueueForm(t, store, "/api/inspections")
	ctx := context.Background()

	// Exactly MaxRetries passes exhaust the item: the first two return it
	// to pending, the third parks it as failed.
	for pass := 1; pass <= queue.MaxRetries; pass++ {
		summary, err := s.RunSyncPass(ctx)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if summary.Failed != 1 {
			t.Fatalf("pass %d summary = %+v", pass, summary)
		}
		got, err := store.Get(ctx, item.ID)
		if err != nil {
			t.Fatalf("pass %d get: %v", pass, err)
		}
		if got.RetryCount != pass {
			t.Fatalf("pass %d retry count = %d", pass, got.RetryCount)
		}
		wantStatus := queue.StatusPending
		if pass == queue.MaxRetries {
			wantStatus = queue.StatusFailed
		}
		if got.Status != wantStatus {
			t.Fatalf("pass %d status = %q, want %q", pass, got.Status, wantStatus)
		}
	}

	// A parked item is ignored by the regular pass.
	summary, err := s.RunSyncPass(ctx)
	if err != nil {
		t.Fatalf("extra pass: %v", err)
	}
	if summary.Synced+summary.Failed+summary.Skipped != 0 {
		t.Fatalf("failed item replayed by pending-only pass: %+v", summary)
	}

	got, _ := store.Get(ctx, item.ID)
	if got.LastError != "http 500" {
		t.Fatalf("last error = %q", got.LastError)
	}

	events, _ := s.Hub().Tail(64)
	var sawFailed bool
	for _, evt := range events {
		if evt.Type == EventSyncFailed && evt.ItemID == item.ID {
			sawFailed = true
			if evt.Error != "http 500" {
				t.Fatalf("event error = %q", evt.Error)
			}
		}
	}
	if !sawFailed {
		t.Fatal("missing sync-failed event")
	}
}

func TestManualRetryOfFailedItem(t *testing.T) {
	store := newTestStore(t)
	var healthy bool
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if ok {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := newTestSyncer(t, store, server)
	item := enqueueForm(t, store, "/api/inspections")
	ctx := context.Background()

	for i := 0; i < queue.MaxRetries; i++ {
		if _, err := s.RunSyncPass(ctx); err != nil {
			t.Fatalf("pass: %v", err)
		}
	}
	got, _ := store.Get(ctx, item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %q", got.Status)
	}

	// Manual retry while still unhealthy: counter keeps rising, stays failed.
	if err := s.SyncItem(ctx, item.ID); err == nil {
		t.Fatal("expected error while endpoint is down")
	}
	got, _ = store.Get(ctx, item.ID)
	if got.Status != queue.StatusFailed || got.RetryCount != queue.MaxRetries+1 {
		t.Fatalf("after manual retry: %+v", got)
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	if err := s.SyncItem(ctx, item.ID); err != nil {
		t.Fatalf("manual retry after recovery: %v", err)
	}
	if _, err := store.Get(ctx, item.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("item should be removed, got %v", err)
	}
}

func TestSyncAllIncludesFailedItems(t *testing.T) {
	store := newTestStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newTestSyncer(t, store, server)
	ctx := context.Background()

	parked := enqueueForm(t, store, "/api/a")
	stored, _ := store.Get(ctx, parked.ID)
	stored.Status = queue.StatusFailed
	stored.RetryCount = queue.MaxRetries
	if err := store.Put(ctx, stored); err != nil {
		t.Fatalf("park item: %v", err)
	}
	enqueueForm(t, store, "/api/b")

	summary, err := s.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if summary.Synced != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if size, _ := store.Size(ctx); size != 0 {
		t.Fatalf("queue not drained: %d", size)
	}
}

func TestInFlightGuardPreventsDuplicateReplay(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	var mu sync.Mutex
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newTestSyncer(t, store, server)
	item := enqueueForm(t, store, "/api/inspections")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.SyncItem(ctx, item.ID) }()

	// Wait until the first replay is holding the in-flight slot.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		started := hits > 0
		mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first replay never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := s.SyncItem(ctx, item.ID); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first replay: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("server hit %d times, want 1", hits)
	}
}

func TestPhotoReplayUsesMultipart(t *testing.T) {
	store := newTestStore(t)
	type upload struct {
		filename string
		caption  string
		size     int
	}
	results := make(chan upload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		_ = file.Close()
		results <- upload{filename: header.Filename, caption: r.FormValue("caption"), size: len(data)}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := newTestSyncer(t, store, server)
	ctx := context.Background()
	item := queue.NewItem(queue.KindPhoto, queue.PhotoPayload{
		ContentType: "image/jpeg",
		Caption:     "broken dispenser",
		Data:        []byte{0xff, 0xd8, 0xff, 0xe0},
	}, "/api/photos/upload")
	if err := store.Put(ctx, item); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := s.SyncItem(ctx, item.ID); err != nil {
		t.Fatalf("sync photo: %v", err)
	}
	got := <-results
	if got.caption != "broken dispenser" || got.size != 4 {
		t.Fatalf("upload = %+v", got)
	}
	if filepath.Ext(got.filename) != ".jpg" {
		t.Fatalf("filename = %q", got.filename)
	}
}

func TestHubFetchWaitsForEvents(t *testing.T) {
	hub := NewHub(8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish(Event{Type: EventItemSaved, ItemID: "offline_1_x"})
	}()

	events, next, err := hub.Fetch(ctx, 0, 10, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 || events[0].ItemID != "offline_1_x" {
		t.Fatalf("events = %+v", events)
	}
	if next != 1 {
		t.Fatalf("next seq = %d", next)
	}
}

func TestHubFetchUnblocksOnCancel(t *testing.T) {
	hub := NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := hub.Fetch(ctx, 0, 10, true)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("fetch returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch still blocked after cancel")
	}
}
