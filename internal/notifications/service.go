package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
)

const userAgent = "Fieldsync/0.1.0"

// Service defines the alert surface exposed to the daemon.
type Service interface {
	NotifyItemParked(ctx context.Context, itemID, kind, lastError string) error
	NotifyPassCompleted(ctx context.Context, synced, failed, remaining int) error
	NotifyStorageDegraded(ctx context.Context, cause string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an alert service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyItemParked(ctx context.Context, itemID, kind, lastError string) error {
	itemID = strings.TrimSpace(itemID)
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "form"
	}
	message := fmt.Sprintf("Capture %s (%s) exhausted its replay attempts", itemID, kind)
	if lastError = strings.TrimSpace(lastError); lastError != "" {
		message = fmt.Sprintf("%s\nLast error: %s", message, lastError)
	}
	data := payload{
		title:    "Fieldsync - Item Parked",
		message:  message,
		tags:     []string{"fieldsync", "queue", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPassCompleted(ctx context.Context, synced, failed, remaining int) error {
	var title, message string
	if failed == 0 {
		title = "Fieldsync - Sync Complete"
		message = fmt.Sprintf("Sync pass complete: %d item(s) submitted", synced)
	} else {
		title = "Fieldsync - Sync Complete (with errors)"
		message = fmt.Sprintf("Sync pass complete: %d submitted, %d failed, %d remaining", synced, failed, remaining)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"fieldsync", "sync", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStorageDegraded(ctx context.Context, cause string) error {
	message := "Queue storage degraded: captures are persisting to the fallback file store"
	if cause = strings.TrimSpace(cause); cause != "" {
		message = fmt.Sprintf("%s\nCause: %s", message, cause)
	}
	data := payload{
		title:    "Fieldsync - Storage Degraded",
		message:  message,
		tags:     []string{"fieldsync", "storage", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Fieldsync - Test",
		message:  "Notification system test",
		tags:     []string{"fieldsync", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyItemParked(context.Context, string, string, string) error { return nil }
func (noopService) NotifyPassCompleted(context.Context, int, int, int) error       { return nil }
func (noopService) NotifyStorageDegraded(context.Context, string) error            { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
