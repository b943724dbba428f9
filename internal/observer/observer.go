package observer

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"fieldsync/internal/ipc"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"
)

// Bridge is the slice of the IPC client the observer needs.
type Bridge interface {
	Status() (*ipc.StatusResponse, error)
	QueueList(statuses []string) (*ipc.QueueListResponse, error)
	QueueRetry(ids []string) (*ipc.QueueRetryResponse, error)
}

// Options configures an Observer.
type Options struct {
	Bridge       Bridge
	EventSocket  string
	PollInterval time.Duration
	Debounce     time.Duration
	Logger       *slog.Logger
}

// Observer polls the daemon and listens for push events, coalescing
// both into a debounced snapshot stream. When the bridge stops
// answering, the last known snapshot is served marked stale rather than
// failing the view.
type Observer struct {
	bridge      Bridge
	eventSocket string
	poll        time.Duration
	debounce    time.Duration
	logger      *slog.Logger

	refresh chan struct{}
	updates chan Snapshot

	mu      sync.Mutex
	last    *Snapshot
	loading bool

	wg sync.WaitGroup
}

// New constructs an observer.
func New(opts Options) *Observer {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	debounce := opts.Debounce
	if debounce < 0 {
		debounce = 0
	}
	return &Observer{
		bridge:      opts.Bridge,
		eventSocket: opts.EventSocket,
		poll:        poll,
		debounce:    debounce,
		logger:      logging.NewComponentLogger(opts.Logger, "observer"),
		refresh:     make(chan struct{}, 1),
		updates:     make(chan Snapshot, 4),
	}
}

// Updates delivers debounced snapshots until Run's context ends.
func (o *Observer) Updates() <-chan Snapshot {
	return o.updates
}

// Refresh requests a snapshot outside the poll cadence. Bursts collapse
// into a single fetch.
func (o *Observer) Refresh() {
	select {
	case o.refresh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled, producing snapshots on Updates.
func (o *Observer) Run(ctx context.Context) error {
	if o.bridge == nil {
		return errors.New("observer requires a bridge")
	}

	if o.eventSocket != "" {
		o.wg.Add(1)
		go o.listenEvents(ctx)
	}

	o.emit(ctx)

	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			o.wg.Wait()
			close(o.updates)
			return ctx.Err()
		case <-ticker.C:
			o.emit(ctx)
		case <-o.refresh:
			if o.debounce == 0 {
				o.emit(ctx)
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(o.debounce)
				fire = debounce.C
			}
			// A timer already pending keeps its deadline; the burst
			// collapses into that one fetch.
		case <-fire:
			debounce = nil
			fire = nil
			o.emit(ctx)
		}
	}
}

func (o *Observer) listenEvents(ctx context.Context) {
	defer o.wg.Done()
	for {
		err := ipc.Listen(ctx, o.eventSocket, func(syncer.Event) {
			o.Refresh()
		})
		if ctx.Err() != nil {
			return
		}
		o.logger.Debug("event stream interrupted, retrying", logging.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (o *Observer) emit(ctx context.Context) {
	snapshot := o.fetch()
	o.mu.Lock()
	o.last = &snapshot
	o.mu.Unlock()
	select {
	case o.updates <- snapshot:
	case <-ctx.Done():
	}
}

// IsLoading reports whether a bridge fetch is in progress.
func (o *Observer) IsLoading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// RetryItem replays a single failed item and refreshes the view.
func (o *Observer) RetryItem(id string) error {
	if o.bridge == nil {
		return errors.New("observer requires a bridge")
	}
	_, err := o.bridge.QueueRetry([]string{id})
	o.Refresh()
	return err
}

// RetryAll replays every failed item and refreshes the view.
func (o *Observer) RetryAll() (int, error) {
	if o.bridge == nil {
		return 0, errors.New("observer requires a bridge")
	}
	resp, err := o.bridge.QueueRetry(nil)
	o.Refresh()
	if err != nil {
		return 0, err
	}
	return int(resp.Synced), nil
}

// Last returns the most recent snapshot, if any.
func (o *Observer) Last() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Snapshot{}, false
	}
	return *o.last, true
}

// fetch queries status and the queue. The queue is read one status at a
// time so an unresponsive daemon fails fast per call rather than once
// for a large combined response.
func (o *Observer) fetch() Snapshot {
	o.mu.Lock()
	o.loading = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.loading = false
		o.mu.Unlock()
	}()

	status, err := o.bridge.Status()
	if err != nil {
		return o.staleSnapshot(err)
	}

	statuses := []queue.Status{queue.StatusPending, queue.StatusSyncing, queue.StatusFailed}
	batches := make([][]ipc.QueueItem, 0, len(statuses))
	for _, s := range statuses {
		resp, err := o.bridge.QueueList([]string{string(s)})
		if err != nil {
			return o.staleSnapshot(err)
		}
		batches = append(batches, resp.Items)
	}

	items := mergeItems(batches...)
	pending, syncing, failed := countByStatus(items)
	return Snapshot{
		TakenAt:  time.Now().UTC(),
		Running:  status.Running,
		Online:   status.Online,
		Engine:   status.Engine,
		Degraded: status.Degraded,
		Pending:  pending,
		Syncing:  syncing,
		Failed:   failed,
		Total:    len(items),
		LastPass: status.LastPass,
		Items:    items,
	}
}

func (o *Observer) staleSnapshot(cause error) Snapshot {
	o.logger.Debug("bridge unavailable, serving last known snapshot", logging.Error(cause))
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last != nil {
		stale := *o.last
		stale.Stale = true
		return stale
	}
	return Snapshot{TakenAt: time.Now().UTC(), Stale: true}
}
