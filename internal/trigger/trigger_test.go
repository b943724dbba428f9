package trigger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type reasonRecorder struct {
	mu      sync.Mutex
	reasons []Reason
}

func (r *reasonRecorder) record(reason Reason) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *reasonRecorder) snapshot() []Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reason(nil), r.reasons...)
}

func (r *reasonRecorder) waitFor(t *testing.T, count int) []Reason {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		got := r.snapshot()
		if len(got) >= count {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("saw %d reasons, want %d", len(got), count)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConnectivityWatcherFiresOnRestoredEdge(t *testing.T) {
	var mu sync.Mutex
	reachable := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := reachable
		mu.Unlock()
		if !ok {
			// Hijack and drop so the client sees a transport failure.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &reasonRecorder{}
	watcher := NewConnectivityWatcher(ConnectivityOptions{
		ProbeURL: server.URL,
		Client:   server.Client(),
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Notify:   recorder.record,
	})
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer watcher.Stop()

	// Let a few offline probes land, then bring the origin back.
	time.Sleep(50 * time.Millisecond)
	if watcher.Online() {
		t.Fatal("watcher online while origin is down")
	}
	if got := recorder.snapshot(); len(got) != 0 {
		t.Fatalf("reasons before recovery: %v", got)
	}

	mu.Lock()
	reachable = true
	mu.Unlock()

	got := recorder.waitFor(t, 1)
	if got[0].Tag != "background-sync" || got[0].Origin != "connectivity" {
		t.Fatalf("reason = %+v", got[0])
	}
	if !watcher.Online() {
		t.Fatal("watcher offline after recovery")
	}

	// Staying online does not retrigger.
	time.Sleep(50 * time.Millisecond)
	if got := recorder.snapshot(); len(got) != 1 {
		t.Fatalf("steady online produced extra reasons: %v", got)
	}
}

func TestConnectivityWatcherStartingOnlineDoesNotFire(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &reasonRecorder{}
	watcher := NewConnectivityWatcher(ConnectivityOptions{
		ProbeURL: server.URL,
		Client:   server.Client(),
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Notify:   recorder.record,
	})
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(60 * time.Millisecond)
	if !watcher.Online() {
		t.Fatal("watcher should be online")
	}
	if got := recorder.snapshot(); len(got) != 0 {
		t.Fatalf("starting online fired reasons: %v", got)
	}
}

func TestConnectivityWatcherTreatsServerErrorAsReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	watcher := NewConnectivityWatcher(ConnectivityOptions{
		ProbeURL: server.URL,
		Client:   server.Client(),
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	})
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer watcher.Stop()

	deadline := time.After(time.Second)
	for !watcher.Online() {
		select {
		case <-deadline:
			t.Fatal("watcher never went online against a 500-ing origin")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTickerFiresRepeatedly(t *testing.T) {
	recorder := &reasonRecorder{}
	ticker := NewTicker(10*time.Millisecond, recorder.record)
	if err := ticker.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := recorder.waitFor(t, 2)
	ticker.Stop()
	if got[0].Tag != "interval" || got[0].Origin != "ticker" {
		t.Fatalf("reason = %+v", got[0])
	}
}

func TestSourcesRejectDoubleStart(t *testing.T) {
	ticker := NewTicker(time.Hour, nil)
	if err := ticker.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer ticker.Stop()
	if err := ticker.Start(context.Background()); err == nil {
		t.Fatal("second start should fail")
	}
}
