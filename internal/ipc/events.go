package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"log/slog"

	"fieldsync/internal/logging"
	"fieldsync/internal/syncer"
)

// EventServer streams sync events over a Unix domain socket as
// newline-delimited JSON. Each connection gets every event published
// after it connects.
type EventServer struct {
	path     string
	hub      *syncer.Hub
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventServer configures the event stream at the given socket path.
func NewEventServer(ctx context.Context, path string, hub *syncer.Hub, logger *slog.Logger) (*EventServer, error) {
	if hub == nil {
		return nil, errors.New("event server requires hub")
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

	serverCtx, cancel := context.WithCancel(ctx)
	return &EventServer{
		path:     path,
		hub:      hub,
		logger:   logger,
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Serve accepts stream subscribers until the context is canceled.
func (s *EventServer) Serve() {
	s.logger.Debug("event stream listening", logging.String("socket", s.path))
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
				s.logger.Warn("event stream accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "event_accept_failed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer c.Close()
				s.stream(c)
			}(conn)
		}
	}()
}

func (s *EventServer) stream(conn net.Conn) {
	encoder := json.NewEncoder(conn)
	_, since := s.hub.Tail(1)
	for {
		events, next, err := s.hub.Fetch(s.ctx, since, 100, true)
		if err != nil {
			return
		}
		since = next
		for _, evt := range events {
			if err := encoder.Encode(evt); err != nil {
				return
			}
		}
	}
}

// Close stops the server and removes the socket file.
func (s *EventServer) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.RemoveAll(s.path)
}

// Listen connects to the event socket and invokes fn for every event
// until the context is canceled or the daemon goes away.
func Listen(ctx context.Context, path string, fn func(syncer.Event)) error {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	for {
		var evt syncer.Event
		if err := decoder.Decode(&evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if fn != nil {
			fn(evt)
		}
	}
}
