package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"fieldsync/internal/daemon"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Fieldsync", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun fieldsync stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.Online = status.Online
	resp.Engine = status.Engine
	resp.Degraded = status.Degraded
	resp.Pending = status.QueueStats.Pending
	resp.Syncing = status.QueueStats.Syncing
	resp.Failed = status.QueueStats.Failed
	resp.Total = status.QueueStats.Total
	resp.LastPass = status.LastPass
	resp.QueueDBPath = status.QueueDBPath
	resp.LockPath = status.LockPath
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := queue.ParseStatus(status)
		if !ok {
			continue
		}
		statuses = append(statuses, parsed)
	}
	items, err := s.daemon.ListQueue(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Items = make([]QueueItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Items = append(resp.Items, FromQueueItem(item))
	}
	return nil
}

func (s *service) QueueGet(req QueueGetRequest, resp *QueueGetResponse) error {
	if req.ID == "" {
		return errors.New("queue get requires an id")
	}
	item, err := s.daemon.GetQueueItem(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Item = FromQueueItem(item)
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("queue remove requires at least one id")
	}
	s.log().Debug("queue remove requested", logging.Int("item_count", len(req.IDs)))
	removed, err := s.daemon.RemoveQueueItems(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("queue items removed",
		logging.String(logging.FieldEventType, "queue_remove"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) QueueClearFailed(_ QueueClearFailedRequest, resp *QueueClearFailedResponse) error {
	s.log().Debug("queue clear failed requested")
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("queue failed items cleared",
		logging.String(logging.FieldEventType, "queue_clear_failed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	s.log().Debug("queue retry requested", logging.Int("item_count", len(req.IDs)))
	synced, err := s.daemon.RetryFailed(s.ctx, req.IDs)
	resp.Synced = synced
	if err != nil {
		resp.Message = err.Error()
		if errors.Is(err, queue.ErrStorageUnavailable) {
			return err
		}
	}
	s.log().Info("queue items retried",
		logging.String(logging.FieldEventType, "queue_retry"),
		logging.Int64("synced_count", synced))
	return nil
}

func (s *service) StorageUsage(_ StorageUsageRequest, resp *StorageUsageResponse) error {
	usage, err := s.daemon.StorageUsage(s.ctx)
	if err != nil {
		return err
	}
	resp.Items = usage.Items
	resp.QueueDBBytes = usage.QueueDBBytes
	resp.FallbackBytes = usage.FallbackBytes
	resp.FallbackInUse = usage.FallbackInUse
	return nil
}

func (s *service) Sync(req SyncRequest, resp *SyncResponse) error {
	if req.ID != "" {
		if err := s.daemon.SyncItem(s.ctx, req.ID); err != nil {
			return err
		}
		resp.Synced = 1
		return nil
	}
	summary, err := s.daemon.SyncNow(s.ctx)
	resp.Synced = summary.Synced
	resp.Failed = summary.Failed
	resp.Skipped = summary.Skipped
	resp.Remaining = summary.Remaining
	return err
}

func (s *service) Capture(req CaptureRequest, resp *CaptureResponse) error {
	kind, ok := queue.ParseKind(req.Kind)
	if !ok {
		return fmt.Errorf("unknown capture kind %q", req.Kind)
	}
	if req.Destination == "" {
		return errors.New("capture requires a destination")
	}

	var payload queue.Payload
	switch kind {
	case queue.KindForm:
		if len(req.Body) == 0 {
			return errors.New("form capture requires a body")
		}
		payload = queue.FormPayload{ContentType: req.ContentType, Body: req.Body}
	case queue.KindPhoto:
		if len(req.Data) == 0 {
			return errors.New("photo capture requires image data")
		}
		payload = queue.PhotoPayload{
			ContentType:  req.ContentType,
			Caption:      req.Caption,
			Location:     req.Location,
			InspectionID: req.InspectionID,
			Data:         req.Data,
		}
	}

	item, err := s.daemon.Capture(s.ctx, kind, payload, req.Destination)
	if err != nil {
		return err
	}
	resp.Item = FromQueueItem(item)
	s.log().Info("capture stored via IPC",
		logging.String(logging.FieldEventType, "capture_stored"),
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldKind, string(item.Kind)))
	return nil
}
