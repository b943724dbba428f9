package trigger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Ticker requests a sync pass at a fixed interval.
type Ticker struct {
	interval time.Duration
	notify   func(Reason)

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTicker constructs a periodic source.
func NewTicker(interval time.Duration, notify func(Reason)) *Ticker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Ticker{interval: interval, notify: notify}
}

func (t *Ticker) Start(ctx context.Context) error {
	if t == nil {
		return errors.New("ticker unavailable")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errors.New("ticker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.ctx = runCtx
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.loop()
	return nil
}

func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	t.running = false
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

func (t *Ticker) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if t.notify != nil {
				t.notify(Reason{Tag: "interval", Origin: "ticker"})
			}
		}
	}
}
