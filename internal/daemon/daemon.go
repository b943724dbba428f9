package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"fieldsync/internal/config"
	"fieldsync/internal/interceptor"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"
	"fieldsync/internal/trigger"
)

// Daemon owns the sync engine runtime: the storage backend, the syncer,
// and the trigger sources that decide when replay passes run.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     queue.Backend
	failover  *queue.Failover
	syncer    *syncer.Syncer
	transport *interceptor.Transport

	watcher *trigger.ConnectivityWatcher
	ticker  *trigger.Ticker
	wake    chan trigger.Reason

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	lastPass *PassInfo
}

// PassInfo records the outcome of the most recent sync pass.
type PassInfo struct {
	At        time.Time `json:"at"`
	Tag       string    `json:"tag"`
	Synced    int       `json:"synced"`
	Failed    int       `json:"failed"`
	Remaining int       `json:"remaining"`
	Error     string    `json:"error,omitempty"`
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool
	PID         int
	Online      bool
	Engine      string
	Degraded    bool
	QueueStats  queue.Stats
	LastPass    *PassInfo
	QueueDBPath string
	LockPath    string
	SocketPath  string
}

// Options bundles the daemon's collaborators.
type Options struct {
	Config    *config.Config
	Store     queue.Backend
	Failover  *queue.Failover
	Syncer    *syncer.Syncer
	Transport *interceptor.Transport
	Logger    *slog.Logger
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Syncer == nil {
		return nil, errors.New("daemon requires config, store, and syncer")
	}

	logger := logging.NewComponentLogger(opts.Logger, "daemon")
	lockPath := opts.Config.LockPath()

	d := &Daemon{
		cfg:       opts.Config,
		logger:    logger,
		store:     opts.Store,
		failover:  opts.Failover,
		syncer:    opts.Syncer,
		transport: opts.Transport,
		wake:      make(chan trigger.Reason, 8),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}

	d.watcher = trigger.NewConnectivityWatcher(trigger.ConnectivityOptions{
		ProbeURL: opts.Config.API.BaseURL,
		Interval: opts.Config.ProbeInterval(),
		Timeout:  opts.Config.ProbeTimeout(),
		Notify:   d.enqueueWake,
		Logger:   opts.Logger,
	})
	d.ticker = trigger.NewTicker(opts.Config.SyncInterval(), d.enqueueWake)
	return d, nil
}

// Start acquires the daemon lock, recovers interrupted items, and
// launches the trigger sources and the sync loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fieldsync daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	reset, err := d.store.ResetInterrupted(d.ctx)
	if err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("recover interrupted items: %w", err)
	}
	if reset > 0 {
		d.logger.Info("recovered interrupted items",
			logging.Int64("reset_count", reset),
			logging.String(logging.FieldEventType, "interrupted_items_reset"),
		)
	}

	if err := d.watcher.Start(d.ctx); err != nil {
		d.logger.Warn("connectivity watcher unavailable", logging.Error(err))
	}
	if err := d.ticker.Start(d.ctx); err != nil {
		d.logger.Warn("sync ticker unavailable", logging.Error(err))
	}

	d.wg.Add(1)
	go d.syncLoop()

	d.running.Store(true)
	d.logger.Info("fieldsync daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.watcher.Stop()
	d.ticker.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("fieldsync daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

func (d *Daemon) enqueueWake(reason trigger.Reason) {
	select {
	case d.wake <- reason:
	default:
		// A pass is already queued; coalesce.
	}
}

// RequestSync schedules a sync pass. Safe to call from any goroutine.
func (d *Daemon) RequestSync(tag string) {
	if tag == "" {
		tag = "manual"
	}
	d.enqueueWake(trigger.Reason{Tag: tag, Origin: "request"})
}

func (d *Daemon) syncLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case reason := <-d.wake:
			summary, err := d.syncer.RunSyncPass(d.ctx)
			d.recordPass(reason.Tag, summary, err)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("sync pass failed",
					logging.String("tag", reason.Tag),
					logging.Error(err),
					logging.String(logging.FieldEventType, "sync_pass_failed"),
				)
			}
		}
	}
}

func (d *Daemon) recordPass(tag string, summary syncer.Summary, err error) {
	info := &PassInfo{
		At:        time.Now().UTC(),
		Tag:       tag,
		Synced:    summary.Synced,
		Failed:    summary.Failed,
		Remaining: summary.Remaining,
	}
	if err != nil {
		info.Error = err.Error()
	}
	d.mu.Lock()
	d.lastPass = info
	d.mu.Unlock()
}

// SyncNow replays pending and failed items immediately, bypassing the
// trigger sources.
func (d *Daemon) SyncNow(ctx context.Context) (syncer.Summary, error) {
	summary, err := d.syncer.SyncAll(ctx)
	d.recordPass("manual", summary, err)
	return summary, err
}

// SyncItem replays a single queue item immediately.
func (d *Daemon) SyncItem(ctx context.Context, id string) error {
	return d.syncer.SyncItem(ctx, id)
}

// Capture stores a mutation directly into the queue.
func (d *Daemon) Capture(ctx context.Context, kind queue.Kind, payload queue.Payload, destination string) (*queue.Item, error) {
	if d.transport == nil {
		return nil, errors.New("capture transport unavailable")
	}
	return d.transport.Enqueue(ctx, kind, payload, destination)
}

// Events exposes the sync outcome hub.
func (d *Daemon) Events() *syncer.Hub {
	return d.syncer.Hub()
}

// ListQueue returns queue items filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Item, error) {
	return d.store.GetAll(ctx, statuses...)
}

// GetQueueItem returns a single queue item.
func (d *Daemon) GetQueueItem(ctx context.Context, id string) (*queue.Item, error) {
	return d.store.Get(ctx, id)
}

// RemoveQueueItems deletes specific items. Missing ids are not an error.
func (d *Daemon) RemoveQueueItems(ctx context.Context, ids []string) (int64, error) {
	var removed int64
	for _, id := range ids {
		ok, err := d.store.Remove(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// ClearFailed removes all items parked as failed.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	items, err := d.store.GetAll(ctx, queue.StatusFailed)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, item := range items {
		ok, err := d.store.Remove(ctx, item.ID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// RetryFailed replays failed items, a subset when ids are given or all
// of them otherwise. The attempt counter keeps rising; a retry is a new
// replay, not a fresh start.
func (d *Daemon) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		items, err := d.store.GetAll(ctx, queue.StatusFailed)
		if err != nil {
			return 0, err
		}
		for _, item := range items {
			ids = append(ids, item.ID)
		}
	}

	var synced int64
	var lastErr error
	for _, id := range ids {
		if err := d.syncer.SyncItem(ctx, id); err != nil {
			if errors.Is(err, queue.ErrStorageUnavailable) {
				return synced, err
			}
			lastErr = err
			continue
		}
		synced++
	}
	return synced, lastErr
}

// Usage reports on-disk storage consumption.
type Usage struct {
	Items         int
	QueueDBBytes  int64
	FallbackBytes int64
	FallbackInUse bool
}

// StorageUsage measures the queue database and fallback store footprints.
func (d *Daemon) StorageUsage(ctx context.Context) (Usage, error) {
	size, err := d.store.Size(ctx)
	if err != nil {
		return Usage{}, err
	}
	usage := Usage{Items: size}

	if info, err := os.Stat(d.cfg.QueueDBPath()); err == nil {
		usage.QueueDBBytes = info.Size()
	}
	usage.FallbackBytes = dirBytes(d.cfg.Storage.FallbackDir)
	if d.failover != nil {
		usage.FallbackInUse = d.failover.Degraded()
	}
	return usage, nil
}

func dirBytes(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
	}

	engine := "sqlite"
	degraded := false
	if d.failover != nil {
		engine = d.failover.Engine()
		degraded = d.failover.Degraded()
	}

	d.mu.Lock()
	lastPass := d.lastPass
	d.mu.Unlock()

	return Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		Online:      d.watcher.Online(),
		Engine:      engine,
		Degraded:    degraded,
		QueueStats:  stats,
		LastPass:    lastPass,
		QueueDBPath: d.cfg.QueueDBPath(),
		LockPath:    d.lockPath,
		SocketPath:  d.cfg.SocketPath(),
	}
}
