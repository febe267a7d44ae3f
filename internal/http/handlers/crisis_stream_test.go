package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

func dialStream(t *testing.T, stream *CrisisStream) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(stream.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return stream.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestCrisisStream_BroadcastsChanges(t *testing.T) {
	stream := NewCrisisStream(logging.Discard())
	conn := dialStream(t, stream)

	event := escalation.CrisisEvent{ID: "evt-1", UserID: "user-1", FlagLevel: detection.SeverityCritical, Status: escalation.StatusPending, Version: 1}
	require.NoError(t, stream.Publish(context.Background(), escalation.Change{Kind: escalation.ChangeCreated, Event: event}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	assert.Equal(t, "crisis_event.created", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "evt-1", msg.Event.ID)
	assert.Equal(t, detection.SeverityCritical, msg.Event.FlagLevel)
}

func TestCrisisStream_AnswersPing(t *testing.T) {
	stream := NewCrisisStream(logging.Discard())
	conn := dialStream(t, stream)

	require.NoError(t, websocket.JSON.Send(conn, StreamMessage{Type: "ping"}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	assert.Equal(t, "pong", msg.Type)
}

func TestCrisisStream_PublishWithoutClients(t *testing.T) {
	stream := NewCrisisStream(nil)
	assert.NoError(t, stream.Publish(context.Background(), escalation.Change{Kind: escalation.ChangeTransitioned}))
	assert.Equal(t, 0, stream.Clients())
}
