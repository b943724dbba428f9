package ipc

import (
	"encoding/json"
	"time"

	"fieldsync/internal/daemon"
	"fieldsync/internal/queue"
)

// QueueItem is the wire representation of a queue entry. Photo bytes are
// summarized as a size, never shipped over the control socket.
type QueueItem struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Caption     string `json:"caption,omitempty"`
	PhotoBytes  int    `json:"photo_bytes,omitempty"`
}

// FromQueueItem converts a stored item into its wire form.
func FromQueueItem(item *queue.Item) QueueItem {
	dto := QueueItem{
		ID:          item.ID,
		Kind:        string(item.Kind),
		Method:      item.Method,
		Destination: item.Destination,
		Status:      string(item.Status),
		RetryCount:  item.RetryCount,
		LastError:   item.LastError,
		CreatedAt:   item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if photo, ok := item.Payload.(queue.PhotoPayload); ok {
		dto.Caption = photo.Caption
		dto.PhotoBytes = len(photo.Data)
	}
	return dto
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon runtime information.
type StatusResponse struct {
	Running     bool             `json:"running"`
	PID         int              `json:"pid"`
	Online      bool             `json:"online"`
	Engine      string           `json:"engine"`
	Degraded    bool             `json:"degraded"`
	Pending     int              `json:"pending"`
	Syncing     int              `json:"syncing"`
	Failed      int              `json:"failed"`
	Total       int              `json:"total"`
	LastPass    *daemon.PassInfo `json:"last_pass,omitempty"`
	QueueDBPath string           `json:"queue_db_path"`
	LockPath    string           `json:"lock_path"`
}

// StopRequest stops the sync engine.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueGetRequest fetches a single queue item by id.
type QueueGetRequest struct {
	ID string `json:"id"`
}

// QueueGetResponse contains a single queue entry.
type QueueGetResponse struct {
	Item QueueItem `json:"item"`
}

// QueueRemoveRequest removes specific items by id.
type QueueRemoveRequest struct {
	IDs []string `json:"ids"`
}

// QueueRemoveResponse reports number of removed entries.
type QueueRemoveResponse struct {
	Removed int64 `json:"removed"`
}

// QueueClearFailedRequest removes failed items.
type QueueClearFailedRequest struct{}

// QueueClearFailedResponse reports number of removed entries.
type QueueClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueRetryRequest replays failed items. Empty list means all of them.
type QueueRetryRequest struct {
	IDs []string `json:"ids"`
}

// QueueRetryResponse reports how many items reached the server.
type QueueRetryResponse struct {
	Synced  int64  `json:"synced"`
	Message string `json:"message,omitempty"`
}

// StorageUsageRequest measures on-disk queue footprint.
type StorageUsageRequest struct{}

// StorageUsageResponse reports storage consumption per engine.
type StorageUsageResponse struct {
	Items         int   `json:"items"`
	QueueDBBytes  int64 `json:"queue_db_bytes"`
	FallbackBytes int64 `json:"fallback_bytes"`
	FallbackInUse bool  `json:"fallback_in_use"`
}

// SyncRequest runs an immediate pass. With an ID only that item is
// replayed; otherwise pending and failed items are.
type SyncRequest struct {
	ID string `json:"id,omitempty"`
}

// SyncResponse reports the pass outcome.
type SyncResponse struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Remaining int `json:"remaining"`
}

// CaptureRequest stores a mutation directly into the queue.
type CaptureRequest struct {
	Kind        string          `json:"kind"`
	Destination string          `json:"destination"`
	ContentType string          `json:"content_type,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`

	Caption      string `json:"caption,omitempty"`
	Location     string `json:"location,omitempty"`
	InspectionID string `json:"inspection_id,omitempty"`
	Data         []byte `json:"data,omitempty"`
}

// CaptureResponse identifies the stored item.
type CaptureResponse struct {
	Item QueueItem `json:"item"`
}
