package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/notifications"
	"fieldsync/internal/syncer"
)

type recorded struct {
	title    string
	priority string
	tags     string
	body     string
}

func newNtfyServer(t *testing.T, sink chan recorded) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sink <- recorded{
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			tags:     r.Header.Get("Tags"),
			body:     string(body),
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func newConfig(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	return &cfg
}

func TestNotifyItemParkedSendsHighPriorityAlert(t *testing.T) {
	sink := make(chan recorded, 1)
	server := newNtfyServer(t, sink)
	defer server.Close()

	svc := notifications.NewService(newConfig(server.URL))
	err := svc.NotifyItemParked(context.Background(), "offline_1_abc", "form", "server returned 500")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := <-sink
	if got.title != "Fieldsync - Item Parked" {
		t.Fatalf("title = %q", got.title)
	}
	if got.priority != "high" {
		t.Fatalf("priority = %q", got.priority)
	}
	if !strings.Contains(got.body, "offline_1_abc") || !strings.Contains(got.body, "server returned 500") {
		t.Fatalf("body = %q", got.body)
	}
}

func TestEmptyTopicDisablesDelivery(t *testing.T) {
	svc := notifications.NewService(newConfig(""))
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop notify: %v", err)
	}
}

func TestServerErrorSurfacesAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	svc := notifications.NewService(newConfig(server.URL))
	err := svc.NotifyPassCompleted(context.Background(), 0, 2, 2)
	if err == nil {
		t.Fatal("expected error from non-2xx response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

type fakeService struct {
	notifications.Service
	parked chan string
	passes chan int
}

func (f *fakeService) NotifyItemParked(_ context.Context, itemID, _, _ string) error {
	f.parked <- itemID
	return nil
}

func (f *fakeService) NotifyPassCompleted(_ context.Context, _, failed, _ int) error {
	f.passes <- failed
	return nil
}

func TestEventSinkForwardsAlertWorthyEvents(t *testing.T) {
	fake := &fakeService{
		parked: make(chan string, 4),
		passes: make(chan int, 4),
	}
	hub := syncer.NewHub(16)
	hub.AddSink(notifications.NewEventSink(fake, nil))

	hub.Publish(syncer.Event{Type: syncer.EventSyncFailed, ItemID: "offline_1_abc", Error: "boom"})
	hub.Publish(syncer.Event{Type: syncer.EventSyncCompleted, Synced: 3, Failed: 0})
	hub.Publish(syncer.Event{Type: syncer.EventSyncCompleted, Synced: 1, Failed: 2, Remaining: 2})
	hub.Publish(syncer.Event{Type: syncer.EventItemSaved, ItemID: "offline_2_def"})

	select {
	case id := <-fake.parked:
		if id != "offline_1_abc" {
			t.Fatalf("parked id = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no parked notification")
	}

	select {
	case failed := <-fake.passes:
		if failed != 2 {
			t.Fatalf("pass failed count = %d", failed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pass notification")
	}

	// Clean passes and unrelated events stay quiet.
	select {
	case id := <-fake.parked:
		t.Fatalf("unexpected parked notification %q", id)
	case failed := <-fake.passes:
		t.Fatalf("unexpected pass notification %d", failed)
	case <-time.After(100 * time.Millisecond):
	}
}
