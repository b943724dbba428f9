package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/ipc"
)

type stubBridge struct {
	mu      sync.Mutex
	status  ipc.StatusResponse
	batches map[string][]ipc.QueueItem
	err     error
	calls   int
	retried [][]string
}

func (b *stubBridge) Status() (*ipc.StatusResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	status := b.status
	return &status, nil
}

func (b *stubBridge) QueueList(statuses []string) (*ipc.QueueListResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	var items []ipc.QueueItem
	for _, s := range statuses {
		items = append(items, b.batches[s]...)
	}
	return &ipc.QueueListResponse{Items: items}, nil
}

func (b *stubBridge) QueueRetry(ids []string) (*ipc.QueueRetryResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.retried = append(b.retried, ids)
	synced := len(ids)
	if ids == nil {
		synced = len(b.batches["failed"])
	}
	return &ipc.QueueRetryResponse{Synced: int64(synced)}, nil
}

func (b *stubBridge) setError(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func TestMergeItemsLaterBatchWins(t *testing.T) {
	// The same item shows up as pending and then syncing because it moved
	// between the two queries.
	pending := []ipc.QueueItem{
		{ID: "offline_100_a", Status: "pending", CreatedAt: "2026-08-30T10:00:00Z"},
		{ID: "offline_200_b", Status: "pending", CreatedAt: "2026-08-30T11:00:00Z"},
	}
	syncing := []ipc.QueueItem{
		{ID: "offline_100_a", Status: "syncing", CreatedAt: "2026-08-30T10:00:00Z"},
	}

	merged := mergeItems(pending, syncing)
	if len(merged) != 2 {
		t.Fatalf("merged length = %d", len(merged))
	}
	if merged[0].ID != "offline_200_b" {
		t.Fatalf("newest first violated: %+v", merged)
	}
	if merged[1].Status != "syncing" {
		t.Fatalf("overlay lost: %+v", merged[1])
	}
}

func TestSnapshotCountsAndOrder(t *testing.T) {
	bridge := &stubBridge{
		status: ipc.StatusResponse{Running: true, Online: true, Engine: "sqlite"},
		batches: map[string][]ipc.QueueItem{
			"pending": {
				{ID: "offline_1_a", Status: "pending", CreatedAt: "2026-08-30T09:00:00Z"},
			},
			"failed": {
				{ID: "photo_2_b", Status: "failed", CreatedAt: "2026-08-30T12:00:00Z"},
			},
		},
	}

	o := New(Options{Bridge: bridge})
	snapshot := o.fetch()
	if snapshot.Stale {
		t.Fatal("snapshot should be fresh")
	}
	if snapshot.Pending != 1 || snapshot.Failed != 1 || snapshot.Total != 2 {
		t.Fatalf("counts = %+v", snapshot)
	}
	if snapshot.Items[0].ID != "photo_2_b" {
		t.Fatalf("order = %+v", snapshot.Items)
	}
}

func TestBridgeFailureServesLastKnownSnapshot(t *testing.T) {
	bridge := &stubBridge{
		status: ipc.StatusResponse{Running: true, Engine: "sqlite"},
		batches: map[string][]ipc.QueueItem{
			"pending": {{ID: "offline_1_a", Status: "pending"}},
		},
	}

	o := New(Options{Bridge: bridge})
	fresh := o.fetch()
	o.mu.Lock()
	o.last = &fresh
	o.mu.Unlock()

	bridge.setError(errors.New("dial unix: no such file"))
	stale := o.fetch()
	if !stale.Stale {
		t.Fatal("snapshot should be stale")
	}
	if stale.Total != 1 || stale.Items[0].ID != "offline_1_a" {
		t.Fatalf("stale snapshot lost data: %+v", stale)
	}
}

func TestRetryAllReportsSyncedCount(t *testing.T) {
	bridge := &stubBridge{
		batches: map[string][]ipc.QueueItem{
			"failed": {
				{ID: "offline_1_a", Status: "failed"},
				{ID: "photo_2_b", Status: "failed"},
			},
		},
	}

	o := New(Options{Bridge: bridge})
	synced, err := o.RetryAll()
	if err != nil {
		t.Fatalf("retry all: %v", err)
	}
	if synced != 2 {
		t.Fatalf("synced = %d", synced)
	}

	if err := o.RetryItem("offline_1_a"); err != nil {
		t.Fatalf("retry item: %v", err)
	}
	if len(bridge.retried) != 2 || len(bridge.retried[1]) != 1 {
		t.Fatalf("retried = %+v", bridge.retried)
	}
}

func TestRefreshBurstCollapses(t *testing.T) {
	bridge := &stubBridge{
		status:  ipc.StatusResponse{Running: true},
		batches: map[string][]ipc.QueueItem{},
	}

	o := New(Options{
		Bridge:       bridge,
		PollInterval: time.Hour,
		Debounce:     30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()

	// Initial snapshot.
	<-o.Updates()
	bridge.mu.Lock()
	baseline := bridge.calls
	bridge.mu.Unlock()

	for i := 0; i < 5; i++ {
		o.Refresh()
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-o.Updates():
	case <-time.After(2 * time.Second):
		t.Fatal("debounced refresh never fired")
	}

	// Let any stragglers land before counting.
	time.Sleep(100 * time.Millisecond)
	bridge.mu.Lock()
	fetches := bridge.calls - baseline
	bridge.mu.Unlock()
	if fetches != 1 {
		t.Fatalf("burst caused %d fetches, want 1", fetches)
	}

	cancel()
	<-done
}
