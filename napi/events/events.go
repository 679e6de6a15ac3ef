// Package events implements the change-notification hub: every committed
// mutation is broadcast as an event to connected websocket listeners.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

// Server is the event hub. Publishing never blocks on slow listeners: each
// delivery runs in its own goroutine and a failed write drops the listener.
type Server struct {
	lock      sync.Mutex
	listeners map[string]*Listener
}

// NewServer returns a new event hub.
func NewServer() *Server {
	return &Server{
		listeners: map[string]*Listener{},
	}
}

// AddListener registers a connection for events. types filters by event type:
// an exact type ("network.create") or an entity prefix ("network") matches;
// an empty list matches everything.
func (s *Server) AddListener(connection ListenerConnection, types []string) *Listener {
	listener := &Listener{
		connection: connection,
		id:         uuid.New().String(),
		types:      types,
		ctx:        context.Background(),
	}

	listener.ctx, listener.cancel = context.WithCancel(listener.ctx)

	s.lock.Lock()
	s.listeners[listener.id] = listener
	s.lock.Unlock()

	logger.Debug("Event listener connected", logger.Ctx{"id": listener.id, "remote": connection.RemoteAddr()})

	return listener
}

// Publish broadcasts an event to all matching listeners.
func (s *Server) Publish(eventType string, metadata any) {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		logger.Warn("Failed to encode event", logger.Ctx{"type": eventType, "err": err})
		return
	}

	event := api.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Metadata:  encoded,
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, listener := range s.listeners {
		if !listener.wants(event.Type) {
			continue
		}

		go func(listener *Listener) {
			if listener.IsClosed() {
				s.remove(listener)
				return
			}

			err := listener.connection.WriteJSON(event)
			if err != nil {
				s.remove(listener)
				listener.Close()
			}
		}(listener)
	}
}

func (s *Server) remove(listener *Listener) {
	s.lock.Lock()
	delete(s.listeners, listener.id)
	s.lock.Unlock()
}

// Listener is one connected event consumer.
type Listener struct {
	connection ListenerConnection
	id         string
	types      []string

	ctx    context.Context
	cancel context.CancelFunc
}

func (l *Listener) wants(eventType string) bool {
	if len(l.types) == 0 {
		return true
	}

	entity, _, _ := strings.Cut(eventType, ".")
	for _, t := range l.types {
		if t == eventType || t == entity {
			return true
		}
	}

	return false
}

// Wait runs the connection until the client disconnects or ctx is done.
func (l *Listener) Wait(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
		case <-l.ctx.Done():
		}

		cancel()
		_ = l.connection.Close()
	}()

	l.connection.Reader(ctx)

	logger.Debug("Event listener disconnected", logger.Ctx{"id": l.id})
}

// IsClosed reports whether the listener has been closed.
func (l *Listener) IsClosed() bool {
	return l.ctx.Err() != nil
}

// Close closes the listener.
func (l *Listener) Close() {
	l.cancel()
	_ = l.connection.Close()
}
