package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fieldsync/internal/logging"
)

// ConnectivityWatcher probes the API origin and requests a sync pass on
// the offline-to-online edge. Staying online produces no requests; the
// periodic ticker covers that case.
type ConnectivityWatcher struct {
	probeURL string
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	notify   func(Reason)
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	online  bool
	probed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConnectivityOptions configures a ConnectivityWatcher.
type ConnectivityOptions struct {
	ProbeURL string
	Client   *http.Client
	Interval time.Duration
	Timeout  time.Duration
	Notify   func(Reason)
	Logger   *slog.Logger
}

// NewConnectivityWatcher constructs a watcher. Notify is called from the
// watcher's own goroutine and must not block for long.
func NewConnectivityWatcher(opts ConnectivityOptions) *ConnectivityWatcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &ConnectivityWatcher{
		probeURL: opts.ProbeURL,
		client:   client,
		interval: interval,
		timeout:  timeout,
		notify:   opts.Notify,
		logger:   logging.NewComponentLogger(opts.Logger, "connectivity"),
	}
}

func (w *ConnectivityWatcher) Start(ctx context.Context) error {
	if w == nil {
		return errors.New("connectivity watcher unavailable")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("connectivity watcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.ctx = runCtx
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *ConnectivityWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Online reports the last probe result. False until the first probe
// completes.
func (w *ConnectivityWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

func (w *ConnectivityWatcher) loop() {
	defer w.wg.Done()

	w.poll()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *ConnectivityWatcher) poll() {
	ctx := w.ctx
	if ctx == nil {
		return
	}

	online := w.probe(ctx)

	w.mu.Lock()
	wasOnline := w.online
	firstProbe := !w.probed
	w.online = online
	w.probed = true
	w.mu.Unlock()

	switch {
	case online && (!wasOnline && !firstProbe):
		w.logger.Info("connectivity restored",
			logging.String(logging.FieldEventType, "connectivity_restored"),
		)
		if w.notify != nil {
			w.notify(Reason{Tag: "background-sync", Origin: "connectivity"})
		}
	case !online && (wasOnline || firstProbe):
		w.logger.Debug("api origin unreachable",
			logging.String("probe_url", w.probeURL),
		)
	}
}

// probe treats any HTTP response as reachable. A 5xx still means the
// origin answered, which is the signal replay cares about.
func (w *ConnectivityWatcher) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, w.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}
