// Package bridge is the outbound HTTP token request plus the
// full-duplex channel to the remote backend (spec.md section 4.5,
// component C5). The dial/listener-goroutine shape follows the
// teacher's gorilla/websocket usage in the removed sfu_ws_handlers.go,
// inverted from server-side Upgrade to client-side Dial since this
// side of the conversation is the one opening the connection.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TokenResult is the decoded response of issue_token. A nil
// *TokenResult and no panic is the contract on any failure (spec.md
// section 4.5: "returns None, no throw at the API").
type TokenResult struct {
	Token      string
	QRPayload  string
	ExpiresInS int
}

// InboundMessage is one decoded frame off the bridge socket.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Disconnected is a locally synthesized InboundMessage.Type, not
// something the backend ever sends: listen emits it when the socket
// drops for any reason other than a caller-initiated Disconnect, so a
// session step blocked on inboundCh observes the loss immediately
// instead of waiting out its full timeout (spec.md section 4.5,
// "on a lost connection during a session, the orchestrator's current
// phase terminates with the appropriate error").
const Disconnected = "bridge_disconnected"

// Envelope is a bare {type} or {type,data} outbound frame.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type FromAppData struct {
	PlatformID string `json:"platform_id"`
}

type BackendResponseData struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type ErrorData struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// OutboundPayload is the upload message sent once the best frame is
// selected (spec.md section 6).
type OutboundPayload struct {
	ImageB64 string             `json:"image_b64"`
	Metadata OutboundMetadata   `json:"metadata"`
}

type OutboundMetadata struct {
	PlatformID string  `json:"platform_id"`
	Score      float64 `json:"score"`
	DistanceM  float64 `json:"distance_m"`
	StdDevM    float64 `json:"stddev_m"`
	BBox       [4]int  `json:"bbox"`
}

type Client struct {
	httpClient *http.Client
	backendURL string
	wsURL      string
	apiKey     string

	connMu sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func NewClient(backendURL, wsURL, apiKey string, httpTimeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: httpTimeout},
		backendURL: backendURL,
		wsURL:      wsURL,
		apiKey:     apiKey,
	}
}

// IssueToken POSTs device credentials to the backend auth endpoint.
// Any failure — timeout, network error, non-2xx, decode error — is
// swallowed and logged; the caller sees only a nil result, per the
// "no throw at the API" contract.
func (c *Client) IssueToken(ctx context.Context, platformID string) *TokenResult {
	body, err := json.Marshal(map[string]string{"platform_id": platformID})
	if err != nil {
		log.Printf("[bridge] issue_token marshal error: %v", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+"/auth", bytes.NewReader(body))
	if err != nil {
		log.Printf("[bridge] issue_token request build error: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[bridge] issue_token network error: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[bridge] issue_token non-2xx status: %d", resp.StatusCode)
		return nil
	}

	var decoded struct {
		Token      string `json:"token"`
		QRPayload  string `json:"qr_payload"`
		ExpiresInS int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Printf("[bridge] issue_token decode error: %v", err)
		return nil
	}

	return &TokenResult{Token: decoded.Token, QRPayload: decoded.QRPayload, ExpiresInS: decoded.ExpiresInS}
}

// Connect opens the full-duplex channel and starts a listener goroutine
// that invokes onMessage per inbound frame. A panic inside onMessage is
// recovered and logged so one bad handler can't kill the listener.
func (c *Client) Connect(ctx context.Context, token string, onMessage func(InboundMessage)) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("bridge: connect: %w", err)
	}

	listenCtx, cancel := context.WithCancel(ctx)

	c.connMu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.connMu.Unlock()

	if err := c.Send(Envelope{Type: "hardware_ready"}); err != nil {
		log.Printf("[bridge] hardware_ready send failed: %v", err)
	}

	go c.listen(listenCtx, conn, onMessage)
	return nil
}

func (c *Client) listen(ctx context.Context, conn *websocket.Conn, onMessage func(InboundMessage)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return // Disconnect was called; this is not a surprise drop
			}
			if !isExpectedClose(err) {
				log.Printf("[bridge] read error: %v", err)
			}
			c.dispatch(InboundMessage{Type: Disconnected}, onMessage)
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[bridge] inbound decode error: %v", err)
			continue
		}

		c.dispatch(msg, onMessage)
	}
}

func (c *Client) dispatch(msg InboundMessage, onMessage func(InboundMessage)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bridge] message handler panic: %v", r)
		}
	}()

	switch msg.Type {
	case "from_app", "backend_response", "error", Disconnected:
		onMessage(msg)
	default:
		log.Printf("[bridge] ignoring unrecognized message type %q", msg.Type)
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || err == io.EOF
}

// Send is best-effort: a closed connection or a write error is logged
// and swallowed, never raised to the caller (spec.md section 4.5).
func (c *Client) Send(v interface{}) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		log.Printf("[bridge] send skipped: no active connection")
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[bridge] send marshal error: %v", err)
		return nil
	}

	c.connMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.connMu.Unlock()
	if err != nil {
		log.Printf("[bridge] send write error: %v", err)
	}
	return nil
}

// SendPayload is a typed convenience wrapper for the upload message.
func (c *Client) SendPayload(p OutboundPayload) error {
	return c.Send(Envelope{Type: "to_backend", Data: p})
}

// Disconnect cancels the listener and closes the socket. Idempotent.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
