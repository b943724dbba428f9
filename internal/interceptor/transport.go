package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// Notifier receives the item-saved signal for fresh captures.
type Notifier interface {
	NotifySaved(*queue.Item)
}

// WakeFunc requests a background sync pass. Registration is best-effort;
// a failure is logged and the capture stands.
type WakeFunc func(tag string) error

// Transport wraps an http.RoundTripper and captures eligible mutations
// that fail, answering with a synthetic 202 so the caller can treat the
// submission as accepted. A storage failure produces a genuine 503: data
// that cannot be persisted must never look accepted.
type Transport struct {
	base     http.RoundTripper
	rules    Rules
	store    queue.Backend
	notifier Notifier
	wake     WakeFunc
	logger   *slog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

// Options configures a Transport.
type Options struct {
	Base     http.RoundTripper
	Rules    Rules
	Store    queue.Backend
	Notifier Notifier
	Wake     WakeFunc
	Logger   *slog.Logger
}

// New constructs an intercepting transport.
func New(opts Options) *Transport {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:     base,
		rules:    opts.Rules,
		store:    opts.Store,
		notifier: opts.Notifier,
		wake:     opts.Wake,
		logger:   logging.NewComponentLogger(opts.Logger, "interceptor"),
	}
}

// RoundTrip forwards the request and, when it fails, converts eligible
// mutations into queue items instead of surfacing the failure.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.rules.Eligible(req) {
		return t.base.RoundTrip(req)
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}

	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, nil
	}
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	item, buildErr := t.buildItem(req, body)
	if buildErr != nil {
		logging.ErrorWithContext(t.logger, "capture failed", "capture_decode_failed",
			logging.String(logging.FieldDestination, req.URL.Path),
			logging.Error(buildErr),
		)
		return storageFailureResponse(req), nil
	}

	if putErr := t.store.Put(req.Context(), item); putErr != nil {
		logging.ErrorWithContext(t.logger, "capture not persisted", "capture_store_failed",
			logging.String(logging.FieldDestination, req.URL.Path),
			logging.Error(putErr),
		)
		return storageFailureResponse(req), nil
	}

	if t.notifier != nil {
		t.notifier.NotifySaved(item)
	}
	t.requestWake(item.Kind)

	t.logger.Info("request captured for later replay",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldKind, string(item.Kind)),
		logging.String(logging.FieldDestination, item.Destination),
	)
	return acceptedResponse(req, item.ID), nil
}

// Enqueue stores a capture directly, bypassing the network entirely.
// Used by flows that know they are offline, such as photo capture.
func (t *Transport) Enqueue(ctx context.Context, kind queue.Kind, payload queue.Payload, destination string) (*queue.Item, error) {
	item := queue.NewItem(kind, payload, destination)
	if err := t.store.Put(ctx, item); err != nil {
		return nil, err
	}
	if t.notifier != nil {
		t.notifier.NotifySaved(item)
	}
	t.requestWake(kind)
	return item, nil
}

func (t *Transport) requestWake(kind queue.Kind) {
	if t.wake == nil {
		return
	}
	tag := "background-sync"
	if kind == queue.KindPhoto {
		tag = "photo-sync"
	}
	if err := t.wake(tag); err != nil {
		logging.WarnWithContext(t.logger, "sync wake-up registration failed", "wake_registration_failed",
			logging.String("tag", tag),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the periodic pass will pick the item up"),
			logging.String(logging.FieldImpact, "replay may start later than usual"),
		)
	}
}

func (t *Transport) buildItem(req *http.Request, body []byte) (*queue.Item, error) {
	kind := t.rules.KindFor(req.URL.Path)
	contentType := req.Header.Get("Content-Type")

	if kind == queue.KindPhoto && strings.HasPrefix(contentType, "multipart/form-data") {
		payload, err := decodePhotoUpload(contentType, body)
		if err != nil {
			return nil, err
		}
		item := queue.NewItem(queue.KindPhoto, payload, req.URL.Path)
		item.Method = req.Method
		return item, nil
	}

	item := queue.NewItem(queue.KindForm, queue.FormPayload{
		ContentType: contentType,
		Body:        json.RawMessage(body),
	}, req.URL.Path)
	item.Method = req.Method
	return item, nil
}

func decodePhotoUpload(contentType string, body []byte) (queue.PhotoPayload, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return queue.PhotoPayload{}, fmt.Errorf("parse content type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return queue.PhotoPayload{}, fmt.Errorf("multipart body without boundary")
	}

	var payload queue.PhotoPayload
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return queue.PhotoPayload{}, fmt.Errorf("read multipart: %w", err)
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return queue.PhotoPayload{}, fmt.Errorf("read part %q: %w", part.FormName(), err)
		}
		switch part.FormName() {
		case "photo":
			payload.Data = data
			if ct := part.Header.Get("Content-Type"); ct != "" {
				payload.ContentType = ct
			}
		case "caption":
			payload.Caption = string(data)
		case "location":
			payload.Location = string(data)
		case "inspectionId":
			payload.InspectionID = string(data)
		}
	}
	if payload.Data == nil {
		return queue.PhotoPayload{}, fmt.Errorf("multipart body without photo part")
	}
	if payload.ContentType == "" {
		payload.ContentType = "image/jpeg"
	}
	return payload, nil
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	if req.GetBody == nil {
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}
	return data, nil
}

type acceptedBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Offline bool   `json:"offline"`
	ID      string `json:"id"`
}

func acceptedResponse(req *http.Request, id string) *http.Response {
	body, _ := json.Marshal(acceptedBody{
		Success: true,
		Message: "Saved offline. It will be submitted when connection is restored.",
		Offline: true,
		ID:      id,
	})
	return jsonResponse(req, http.StatusAccepted, body)
}

func storageFailureResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"message": "Offline storage unavailable. The submission was not saved.",
	})
	return jsonResponse(req, http.StatusServiceUnavailable, body)
}

func jsonResponse(req *http.Request, status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     strconv.Itoa(status) + " " + http.StatusText(status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
		},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
