package queue

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	formID := NewID(KindForm)
	if !strings.HasPrefix(formID, "offline_") {
		t.Fatalf("form id missing prefix: %q", formID)
	}
	photoID := NewID(KindPhoto)
	if !strings.HasPrefix(photoID, "photo_") {
		t.Fatalf("photo id missing prefix: %q", photoID)
	}
	parts := strings.SplitN(formID, "_", 3)
	if len(parts) != 3 {
		t.Fatalf("expected three id segments, got %q", formID)
	}
	if len(parts[2]) != 9 {
		t.Fatalf("expected 9-char random suffix, got %q", parts[2])
	}
	if formID == NewID(KindForm) {
		t.Fatal("consecutive ids must differ")
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus("  Pending "); !ok || status != StatusPending {
		t.Fatalf("ParseStatus(pending) = %q, %v", status, ok)
	}
	if _, ok := ParseStatus("synced"); ok {
		t.Fatal("synced must not be a stored status")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("empty status must not parse")
	}
}

func TestMarkSyncingTransitions(t *testing.T) {
	item := NewItem(KindForm, FormPayload{Body: json.RawMessage(`{}`)}, "/api/reports")
	if err := item.MarkSyncing(); err != nil {
		t.Fatalf("pending -> syncing: %v", err)
	}
	if err := item.MarkSyncing(); err == nil {
		t.Fatal("expected error for syncing -> syncing")
	}

	item.Status = StatusFailed
	if err := item.MarkSyncing(); err != nil {
		t.Fatalf("failed -> syncing (manual retry): %v", err)
	}
}

func TestRecordFailureExhaustsAtMaxRetries(t *testing.T) {
	item := NewItem(KindForm, FormPayload{Body: json.RawMessage(`{}`)}, "/api/reports")

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if err := item.MarkSyncing(); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		item.RecordFailure("connection refused")
		if item.RetryCount != attempt {
			t.Fatalf("retry count = %d, want %d", item.RetryCount, attempt)
		}
		if attempt < MaxRetries && item.Status != StatusPending {
			t.Fatalf("attempt %d: status = %q, want pending", attempt, item.Status)
		}
	}

	if item.Status != StatusFailed {
		t.Fatalf("status = %q, want failed after %d attempts", item.Status, MaxRetries)
	}
	if !item.Exhausted() {
		t.Fatal("expected item to be exhausted")
	}
	if item.LastError != "connection refused" {
		t.Fatalf("last error = %q", item.LastError)
	}

	// Manual retry keeps the counter; another failure re-parks the item.
	if err := item.MarkSyncing(); err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	item.RecordFailure("still down")
	if item.Status != StatusFailed || item.RetryCount != MaxRetries+1 {
		t.Fatalf("after failed manual retry: status=%q retry=%d", item.Status, item.RetryCount)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	form := NewItem(KindForm, FormPayload{ContentType: "application/json", Body: json.RawMessage(`{"room":"214"}`)}, "/api/inspections")
	encoded, blob, err := marshalPayload(form)
	if err != nil {
		t.Fatalf("marshal form: %v", err)
	}
	if blob != nil {
		t.Fatal("form payload must not produce a blob")
	}
	payload, err := unmarshalPayload(KindForm, encoded, nil)
	if err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}
	fp, ok := payload.(FormPayload)
	if !ok {
		t.Fatalf("payload type = %T", payload)
	}
	if string(fp.Body) != `{"room":"214"}` {
		t.Fatalf("body = %s", fp.Body)
	}

	photo := NewItem(KindPhoto, PhotoPayload{
		ContentType:  "image/jpeg",
		Caption:      "supply closet",
		InspectionID: "insp-9",
		Data:         []byte{0xff, 0xd8, 0xff},
	}, "/api/photos/upload")
	encoded, blob, err = marshalPayload(photo)
	if err != nil {
		t.Fatalf("marshal photo: %v", err)
	}
	if len(blob) != 3 {
		t.Fatalf("blob length = %d", len(blob))
	}
	if strings.Contains(encoded, "ffd8") || strings.Contains(encoded, `"data"`) {
		t.Fatalf("photo metadata JSON must not embed binary content: %s", encoded)
	}
	payload, err = unmarshalPayload(KindPhoto, encoded, blob)
	if err != nil {
		t.Fatalf("unmarshal photo: %v", err)
	}
	pp := payload.(PhotoPayload)
	if pp.Caption != "supply closet" || len(pp.Data) != 3 {
		t.Fatalf("photo payload = %+v", pp)
	}
}
