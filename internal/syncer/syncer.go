package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// ErrInFlight indicates a replay for the same item id is already running.
var ErrInFlight = errors.New("item replay already in flight")

// HTTPError is a non-2xx replay response, kept distinct from transport
// failures so callers can inspect the status.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d", e.Status)
}

// Summary reports the outcome of a sync pass.
type Summary struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Remaining int `json:"remaining"`
}

// Syncer replays queued mutations against the API origin. At most one
// replay per item id runs at a time; overlapping passes skip in-flight ids
// rather than double-firing. The server remains responsible for end-to-end
// deduplication of replays that succeed without an observed response.
type Syncer struct {
	store   queue.Backend
	client  *http.Client
	baseURL string
	hub     *Hub
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Options configures a Syncer.
type Options struct {
	Store   queue.Backend
	BaseURL string
	Client  *http.Client
	Hub     *Hub
	Logger  *slog.Logger
	Timeout time.Duration
}

// New constructs a Syncer.
func New(opts Options) *Syncer {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(0)
	}
	return &Syncer{
		store:    opts.Store,
		client:   client,
		baseURL:  opts.BaseURL,
		hub:      hub,
		logger:   logging.NewComponentLogger(opts.Logger, "syncer"),
		inflight: make(map[string]struct{}),
	}
}

// Hub exposes the outcome event hub.
func (s *Syncer) Hub() *Hub {
	return s.hub
}

// NotifySaved publishes the item-saved event for a fresh capture.
func (s *Syncer) NotifySaved(item *queue.Item) {
	if item == nil {
		return
	}
	s.hub.Publish(Event{Type: EventItemSaved, ItemID: item.ID, Kind: item.Kind})
}

// RunSyncPass replays all pending items oldest-first.
func (s *Syncer) RunSyncPass(ctx context.Context) (Summary, error) {
	return s.runPass(ctx, queue.StatusPending)
}

// SyncAll replays pending and failed items together.
func (s *Syncer) SyncAll(ctx context.Context) (Summary, error) {
	return s.runPass(ctx, queue.StatusPending, queue.StatusFailed)
}

func (s *Syncer) runPass(ctx context.Context, statuses ...queue.Status) (Summary, error) {
	items, err := s.store.GetAll(ctx, statuses...)
	if err != nil {
		return Summary{}, fmt.Errorf("load queue: %w", err)
	}

	s.hub.Publish(Event{Type: EventSyncStarted, Remaining: len(items)})
	s.logger.Info("sync pass started", logging.Int("eligible", len(items)))

	var summary Summary
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		synced, err := s.syncOne(ctx, item.ID)
		switch {
		case errors.Is(err, ErrInFlight), errors.Is(err, queue.ErrNotFound):
			summary.Skipped++
		case err != nil && errors.Is(err, queue.ErrStorageUnavailable):
			s.finishPass(ctx, &summary)
			return summary, err
		case synced:
			summary.Synced++
		default:
			summary.Failed++
		}
	}

	s.finishPass(ctx, &summary)
	s.logger.Info("sync pass complete",
		logging.Int("synced", summary.Synced),
		logging.Int("failed", summary.Failed),
		logging.Int("remaining", summary.Remaining),
	)
	return summary, ctx.Err()
}

func (s *Syncer) finishPass(ctx context.Context, summary *Summary) {
	if stats, err := s.store.Stats(context.WithoutCancel(ctx)); err == nil {
		summary.Remaining = stats.Pending + stats.Failed
	}
	s.hub.Publish(Event{
		Type:      EventSyncCompleted,
		Synced:    summary.Synced,
		Failed:    summary.Failed,
		Remaining: summary.Remaining,
	})
}

// SyncItem replays a single item out of order. Works on failed items too:
// the manual retry path moves failed back through syncing without touching
// the attempt counter.
func (s *Syncer) SyncItem(ctx context.Context, id string) error {
	synced, err := s.syncOne(ctx, id)
	if err != nil {
		return err
	}
	if !synced {
		item, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("item %s replay failed: %s", id, item.LastError)
	}
	return nil
}

// syncOne replays one item. The stored snapshot is re-read inside the
// in-flight guard so the retry counter is never derived from a stale copy.
func (s *Syncer) syncOne(ctx context.Context, id string) (bool, error) {
	if !s.acquire(id) {
		return false, ErrInFlight
	}
	defer s.release(id)

	item, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if item.Status == queue.StatusSyncing {
		// Another context already owns this replay.
		return false, ErrInFlight
	}

	if err := item.MarkSyncing(); err != nil {
		return false, err
	}
	if err := s.store.Put(ctx, item); err != nil {
		return false, err
	}

	replayErr := s.replay(ctx, item)
	if replayErr == nil {
		if _, err := s.store.Remove(ctx, id); err != nil {
			return false, err
		}
		s.hub.Publish(Event{Type: EventItemSynced, ItemID: id, Kind: item.Kind})
		s.logger.Info("item synced",
			logging.String(logging.FieldItemID, id),
			logging.String(logging.FieldKind, string(item.Kind)),
			logging.String(logging.FieldDestination, item.Destination),
		)
		return true, nil
	}

	item.RecordFailure(replayErr.Error())
	if err := s.store.Put(ctx, item); err != nil {
		return false, err
	}
	if item.Status == queue.StatusFailed {
		s.hub.Publish(Event{Type: EventSyncFailed, ItemID: id, Kind: item.Kind, Error: item.LastError})
		logging.WarnWithContext(s.logger, "item parked as failed", "retries_exhausted",
			logging.String(logging.FieldItemID, id),
			logging.Int("retry_count", item.RetryCount),
			logging.Error(replayErr),
			logging.String(logging.FieldErrorHint, "retry manually with 'fieldsync queue retry'"),
			logging.String(logging.FieldImpact, "capture will not reach the server without intervention"),
		)
	} else {
		s.logger.Debug("replay failed, will retry",
			logging.String(logging.FieldItemID, id),
			logging.Int("retry_count", item.RetryCount),
			logging.Error(replayErr),
		)
	}
	return false, nil
}

func (s *Syncer) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Syncer) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// replay sends the item to its destination. A timeout is indistinguishable
// from any other transport failure.
func (s *Syncer) replay(ctx context.Context, item *queue.Item) error {
	var (
		body        io.Reader
		contentType string
	)

	switch payload := item.Payload.(type) {
	case queue.FormPayload:
		body = bytes.NewReader(payload.Body)
		contentType = payload.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
	case queue.PhotoPayload:
		buf, mimeType, err := encodePhotoForm(item.ID, payload)
		if err != nil {
			return err
		}
		body = buf
		contentType = mimeType
	default:
		return fmt.Errorf("item %s: unknown payload type %T", item.ID, item.Payload)
	}

	method := item.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+item.Destination, body)
	if err != nil {
		return fmt.Errorf("build replay request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("replay request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode}
	}
	return nil
}

func encodePhotoForm(id string, payload queue.PhotoPayload) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	part, err := writer.CreateFormFile("photo", id+extensionFor(payload.ContentType))
	if err != nil {
		return nil, "", fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(payload.Data); err != nil {
		return nil, "", fmt.Errorf("write photo part: %w", err)
	}

	fields := map[string]string{
		"caption":      payload.Caption,
		"location":     payload.Location,
		"inspectionId": payload.InspectionID,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
