package queue

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a queue item. A successfully replayed
// item is removed from storage, so "synced" never appears here: success is
// observable only as an outcome event.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// MaxRetries is the number of replay attempts before an item is parked
// as failed and left for manual retry.
const MaxRetries = 3

var allStatuses = []Status{StatusPending, StatusSyncing, StatusFailed}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Kind distinguishes the two capture flows.
type Kind string

const (
	KindForm  Kind = "form"
	KindPhoto Kind = "photo"
)

// Item represents a deferred mutation awaiting replay. Method is the HTTP
// verb of the captured request; replay must reuse it, a PUT resubmitted as
// a POST is a different operation to the server.
type Item struct {
	ID          string
	Kind        Kind
	Method      string
	Destination string
	Payload     Payload
	Status      Status
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewID generates a queue item identifier. The millisecond component keeps
// identifiers naturally ordered by capture time; the random suffix breaks
// ties within the same millisecond.
func NewID(kind Kind) string {
	prefix := "offline"
	if kind == KindPhoto {
		prefix = "photo"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), suffix)
}

// NewItem constructs a pending item ready for persistence. The method
// defaults to POST, the verb of both direct capture flows.
func NewItem(kind Kind, payload Payload, destination string) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:          NewID(kind),
		Kind:        kind,
		Method:      http.MethodPost,
		Destination: destination,
		Payload:     payload,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindForm:
		return KindForm, true
	case KindPhoto:
		return KindPhoto, true
	default:
		return "", false
	}
}

// Exhausted reports whether the item has used up its replay attempts.
func (i *Item) Exhausted() bool {
	return i.RetryCount >= MaxRetries
}

// MarkSyncing transitions the item into the in-flight state. Valid from
// pending and, for manual retries, from failed.
func (i *Item) MarkSyncing() error {
	switch i.Status {
	case StatusPending, StatusFailed:
		i.Status = StatusSyncing
		i.UpdatedAt = time.Now().UTC()
		return nil
	case StatusSyncing:
		return fmt.Errorf("item %s already syncing", i.ID)
	default:
		return fmt.Errorf("item %s: cannot sync from status %q", i.ID, i.Status)
	}
}

// RecordFailure increments the attempt counter and either returns the item
// to pending or parks it as failed once attempts are exhausted. The counter
// only ever increases; manual retry does not reset it.
func (i *Item) RecordFailure(cause string) {
	i.RetryCount++
	i.LastError = cause
	if i.RetryCount >= MaxRetries {
		i.Status = StatusFailed
	} else {
		i.Status = StatusPending
	}
	i.UpdatedAt = time.Now().UTC()
}
