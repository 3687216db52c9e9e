package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dispatch/internal/service"
)

// OfferMessage is the JSON payload pushed to a connected driver app
// when an offer is extended to them.
type OfferMessage struct {
	TripID   string    `json:"trip_id"`
	Deadline time.Time `json:"deadline"`
}

// wsSession wraps one driver connection. gorilla/websocket allows only
// one concurrent writer per connection.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(msg OfferMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// WSNotifier pushes offers over websocket to connected driver apps and
// falls back to the wrapped notifier for drivers without a session.
type WSNotifier struct {
	fallback service.DriverNotifier
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*wsSession
}

// NewWSNotifier creates a new WSNotifier.
func NewWSNotifier(fallback service.DriverNotifier, logger *slog.Logger) *WSNotifier {
	return &WSNotifier{
		fallback: fallback,
		logger:   logger,
		sessions: make(map[string]*wsSession),
	}
}

var _ service.DriverNotifier = (*WSNotifier)(nil)

// Attach registers a driver's websocket connection, replacing any
// previous one.
func (n *WSNotifier) Attach(driverID string, conn *websocket.Conn) {
	n.mu.Lock()
	if old, ok := n.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	n.sessions[driverID] = &wsSession{conn: conn}
	n.mu.Unlock()
}

// Detach removes a driver's connection if it is still the current one.
func (n *WSNotifier) Detach(driverID string, conn *websocket.Conn) {
	n.mu.Lock()
	if s, ok := n.sessions[driverID]; ok && s.conn == conn {
		delete(n.sessions, driverID)
	}
	n.mu.Unlock()
}

// NotifyDriverOfOffer pushes the offer to the driver's connection, or
// falls back when none is attached.
func (n *WSNotifier) NotifyDriverOfOffer(ctx context.Context, driverID, tripID string, deadline time.Time) error {
	n.mu.RLock()
	s, ok := n.sessions[driverID]
	n.mu.RUnlock()

	if !ok {
		return n.fallback.NotifyDriverOfOffer(ctx, driverID, tripID, deadline)
	}

	if err := s.send(OfferMessage{TripID: tripID, Deadline: deadline}); err != nil {
		n.logger.Warn("websocket push failed", "driver_id", driverID, "error", err)
		n.Detach(driverID, s.conn)
		return n.fallback.NotifyDriverOfOffer(ctx, driverID, tripID, deadline)
	}

	return nil
}
