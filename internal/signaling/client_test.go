package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/webrtc-meet/internal/models"
)

// echoServer answers every join with a joined frame and echoes anything else
func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var f models.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == models.FrameTypeJoin {
				f = models.Frame{Type: models.FrameTypeJoined, Room: f.Room, User: f.User, ParticipantCount: 1}
			}
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, c *Client) models.Frame {
	t.Helper()
	select {
	case f, ok := <-c.Incoming():
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return models.Frame{}
	}
}

func TestClientRoundTrip(t *testing.T) {
	c, err := Dial(context.Background(), echoServer(t))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(models.Frame{Type: models.FrameTypeJoin, Room: "r1", User: "alice"}))
	f := next(t, c)
	require.Equal(t, models.FrameTypeJoined, f.Type)
	require.Equal(t, "alice", f.User)

	env, err := models.NewEnvelope(models.SignalTypeContentStop, "r1", "", nil)
	require.NoError(t, err)
	require.NoError(t, c.Send(models.Frame{Type: models.FrameTypeSignal, Signal: &env}))
	f = next(t, c)
	require.Equal(t, models.SignalTypeContentStop, f.Signal.Type)
}

func TestClientClose(t *testing.T) {
	c, err := Dial(context.Background(), echoServer(t))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send(models.Frame{Type: models.FrameTypeLeave}), ErrClosed)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-c.Incoming():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDialBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws/signal")
	require.Error(t, err)
}
