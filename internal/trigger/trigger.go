package trigger

import "context"

// Reason describes why a sync pass was requested.
type Reason struct {
	Tag    string `json:"tag"`
	Origin string `json:"origin"`
}

// Source emits sync requests until stopped. Start is one-shot; a stopped
// source is not restartable.
type Source interface {
	Start(ctx context.Context) error
	Stop()
}
