package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"fieldsync/internal/logging"
)

// Failover routes queue operations to the primary engine until it fails,
// then permanently (for the process lifetime) switches to the fallback.
// Each distinct primary failure cause is logged once; repeats are dropped.
// When both engines reject an operation the caller sees
// ErrStorageUnavailable so the capture is never silently lost.
type Failover struct {
	logger   *slog.Logger
	primary  Backend
	fallback Backend
	warner   logging.OnceWarner
	degraded atomic.Bool
}

var _ Backend = (*Failover)(nil)

// NewFailover wraps a primary and a fallback backend.
func NewFailover(primary, fallback Backend, logger *slog.Logger) *Failover {
	return &Failover{
		logger:   logging.NewComponentLogger(logger, "storage"),
		primary:  primary,
		fallback: fallback,
	}
}

// Degraded reports whether the fallback engine has taken over.
func (fo *Failover) Degraded() bool {
	return fo.degraded.Load()
}

// Engine names the engine currently serving operations.
func (fo *Failover) Engine() string {
	if fo.Degraded() {
		return "fallback"
	}
	return "sqlite"
}

// ErrNotFound must pass through untouched: a missing item is an answer,
// not an engine fault.
func isEngineFault(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}

func (fo *Failover) run(op string, primary func() error, fallback func() error) error {
	if !fo.degraded.Load() {
		err := primary()
		if !isEngineFault(err) {
			return err
		}
		fo.degrade(op, err)
	}
	if err := fallback(); isEngineFault(err) {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	} else if err != nil {
		return err
	}
	return nil
}

func (fo *Failover) degrade(op string, cause error) {
	fo.degraded.Store(true)
	fo.warner.WarnOnce(fo.logger, cause.Error(),
		"primary queue store failed, switching to fallback", "storage_failover",
		logging.String("operation", op),
		logging.Error(cause),
		logging.String(logging.FieldEngine, "fallback"),
		logging.String(logging.FieldErrorHint, "inspect the queue database; restart the daemon to retry sqlite"),
		logging.String(logging.FieldImpact, "queue durability reduced to snapshot semantics"),
	)
}

func (fo *Failover) Put(ctx context.Context, item *Item) error {
	return fo.run("put",
		func() error { return fo.primary.Put(ctx, item) },
		func() error { return fo.fallback.Put(ctx, item) },
	)
}

func (fo *Failover) PutAll(ctx context.Context, items []*Item) error {
	return fo.run("put_all",
		func() error { return fo.primary.PutAll(ctx, items) },
		func() error { return fo.fallback.PutAll(ctx, items) },
	)
}

func (fo *Failover) Get(ctx context.Context, id string) (*Item, error) {
	var item *Item
	err := fo.run("get",
		func() (err error) { item, err = fo.primary.Get(ctx, id); return err },
		func() (err error) { item, err = fo.fallback.Get(ctx, id); return err },
	)
	return item, err
}

func (fo *Failover) GetAll(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var items []*Item
	err := fo.run("get_all",
		func() (err error) { items, err = fo.primary.GetAll(ctx, statuses...); return err },
		func() (err error) { items, err = fo.fallback.GetAll(ctx, statuses...); return err },
	)
	return items, err
}

func (fo *Failover) Remove(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := fo.run("remove",
		func() (err error) { removed, err = fo.primary.Remove(ctx, id); return err },
		func() (err error) { removed, err = fo.fallback.Remove(ctx, id); return err },
	)
	return removed, err
}

func (fo *Failover) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := fo.run("keys",
		func() (err error) { keys, err = fo.primary.Keys(ctx); return err },
		func() (err error) { keys, err = fo.fallback.Keys(ctx); return err },
	)
	return keys, err
}

func (fo *Failover) Size(ctx context.Context) (int, error) {
	var size int
	err := fo.run("size",
		func() (err error) { size, err = fo.primary.Size(ctx); return err },
		func() (err error) { size, err = fo.fallback.Size(ctx); return err },
	)
	return size, err
}

func (fo *Failover) ResetInterrupted(ctx context.Context) (int64, error) {
	var reset int64
	err := fo.run("reset_interrupted",
		func() (err error) { reset, err = fo.primary.ResetInterrupted(ctx); return err },
		func() (err error) { reset, err = fo.fallback.ResetInterrupted(ctx); return err },
	)
	return reset, err
}

func (fo *Failover) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := fo.run("stats",
		func() (err error) { stats, err = fo.primary.Stats(ctx); return err },
		func() (err error) { stats, err = fo.fallback.Stats(ctx); return err },
	)
	return stats, err
}

func (fo *Failover) Close() error {
	primaryErr := fo.primary.Close()
	fallbackErr := fo.fallback.Close()
	if primaryErr != nil {
		return primaryErr
	}
	return fallbackErr
}
