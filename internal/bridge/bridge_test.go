package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestIssueTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token": "tok-abc", "qr_payload": "qr-xyz", "expires_in": 300,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", time.Second)
	res := c.IssueToken(context.Background(), "kiosk-1")
	require.NotNil(t, res)
	require.Equal(t, "tok-abc", res.Token)
	require.Equal(t, 300, res.ExpiresInS)
}

func TestIssueTokenReturnsNilOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "key", time.Second)
	require.Nil(t, c.IssueToken(context.Background(), "kiosk-1"))
}

func TestIssueTokenReturnsNilOnNetworkError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", "key", 50*time.Millisecond)
	require.Nil(t, c.IssueToken(context.Background(), "kiosk-1"))
}

var upgrader = websocket.Upgrader{}

func TestConnectSendAndReceive(t *testing.T) {
	var received []InboundMessage
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, _ = conn.ReadMessage() // hardware_ready

		_ = conn.WriteJSON(InboundMessage{Type: "from_app", Data: json.RawMessage(`{"platform_id":"kiosk-1"}`)})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient("", wsURL, "key", time.Second)

	err := c.Connect(context.Background(), "tok", func(m InboundMessage) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer c.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, "from_app", received[0].Type)
	mu.Unlock()

	require.NoError(t, c.SendPayload(OutboundPayload{ImageB64: "abc", Metadata: OutboundMetadata{PlatformID: "kiosk-1"}}))
}

func TestListenSynthesizesDisconnectedOnServerDrop(t *testing.T) {
	var received []InboundMessage
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_, _, _ = conn.ReadMessage() // hardware_ready
		conn.Close()                // simulate a mid-session drop, no close handshake
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient("", wsURL, "key", time.Second)

	err := c.Connect(context.Background(), "tok", func(m InboundMessage) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer c.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, Disconnected, received[0].Type)
	mu.Unlock()
}

func TestDisconnectDoesNotSynthesizeDisconnected(t *testing.T) {
	var received []InboundMessage
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage() // hardware_ready
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient("", wsURL, "key", time.Second)

	err := c.Connect(context.Background(), "tok", func(m InboundMessage) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	})
	require.NoError(t, err)

	c.Disconnect()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, received, "a caller-initiated Disconnect must not synthesize a Disconnected message")
}

func TestSendWithoutConnectIsNoop(t *testing.T) {
	c := NewClient("", "", "key", time.Second)
	require.NoError(t, c.Send(Envelope{Type: "hardware_ready"}))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := NewClient("", "", "key", time.Second)
	require.NotPanics(t, func() {
		c.Disconnect()
		c.Disconnect()
	})
}
