package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// StreamMessage is pushed to connected reviewers after every committed change.
type StreamMessage struct {
	Type  string                  `json:"type"` // "crisis_event.created", "crisis_event.transitioned", "pong"
	Event *escalation.CrisisEvent `json:"event,omitempty"`
	Entry *escalation.StatusEntry `json:"entry,omitempty"`
	At    string                  `json:"at,omitempty"`
}

type streamClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamClient) send(msg StreamMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return websocket.JSON.Send(c.conn, msg)
}

// CrisisStream is the live review feed. It implements escalation.Publisher
// so the workflow can broadcast every committed change.
type CrisisStream struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

var _ escalation.Publisher = (*CrisisStream)(nil)

func NewCrisisStream(logger *logging.Logger) *CrisisStream {
	if logger == nil {
		logger = logging.Default()
	}
	return &CrisisStream{logger: logger, clients: make(map[*streamClient]struct{})}
}

// HandleWebSocket upgrades an authenticated reviewer connection.
// GET /admin/crisis-events/stream
func (s *CrisisStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Server{Handler: s.serveWS}.ServeHTTP(w, r)
}

func (s *CrisisStream) serveWS(conn *websocket.Conn) {
	client := &streamClient{conn: conn}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	s.logger.Info("crisis stream: reviewer connected", "remote_addr", conn.Request().RemoteAddr)

	for {
		var msg StreamMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			s.logger.Debug("crisis stream: connection closed", "error", err)
			return
		}
		if msg.Type == "ping" {
			_ = client.send(StreamMessage{Type: "pong"})
		}
	}
}

// Clients returns the number of connected reviewers.
func (s *CrisisStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Publish broadcasts change to every connected reviewer. Slow or broken
// connections are dropped, never retried.
func (s *CrisisStream) Publish(_ context.Context, change escalation.Change) error {
	event := change.Event
	msg := StreamMessage{
		Type:  string(change.Kind),
		Event: &event,
		Entry: change.Entry,
		At:    time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.RLock()
	clients := make([]*streamClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			s.logger.Warn("crisis stream: dropping client", "event_id", event.ID, "error", err)
			_ = c.conn.Close()
		}
	}
	return nil
}
