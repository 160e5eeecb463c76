// Package gateway connects the agent to the RFID reader gateway: a
// persistent WebSocket event stream for tag sightings, a small REST
// command surface for starting and stopping scans, and mDNS discovery of
// the gateway itself.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flowmart/rfid-sync-agent/buildinfo"
	"github.com/flowmart/rfid-sync-agent/rfid"
)

const (
	// eventBuffer absorbs bursts while the consumer applies results.
	// Sends block once full so arrival order is never broken by drops.
	eventBuffer = 64

	handshakeTimeout   = 10 * time.Second
	initialDialBackoff = 500 * time.Millisecond
	maxDialBackoff     = 30 * time.Second
)

// StreamClient owns the single logical connection to the gateway event
// stream. It decodes tag_scanned frames and delivers them, in arrival
// order, on the Events channel consumed by exactly one reader. Transport
// drops are handled by silent reconnection with exponential backoff.
type StreamClient struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger

	events     chan TagEvent
	statusChan chan StreamStatus

	mu    sync.RWMutex
	state StreamState
}

// StreamURL derives the WebSocket stream endpoint from a gateway base
// URL, as configured or discovered, and the stream path.
func StreamURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if path == "" {
		path = "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// NewStreamClient creates a stream client for the given WebSocket URL.
func NewStreamClient(wsURL string, logger *zap.Logger) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamClient{
		url: wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		logger:     logger,
		events:     make(chan TagEvent, eventBuffer),
		statusChan: make(chan StreamStatus, 4),
		state:      StateDisconnected,
	}
}

// Events returns the channel of decoded tag sightings. It is never
// closed; consumers select against their own shutdown signal.
func (c *StreamClient) Events() <-chan TagEvent {
	return c.events
}

// StatusUpdates returns a channel receiving connectivity changes.
// Updates are dropped when nobody listens; Status always has the truth.
func (c *StreamClient) StatusUpdates() <-chan StreamStatus {
	return c.statusChan
}

// Status returns the current connection status.
func (c *StreamClient) Status() StreamStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return StreamStatus{
		State:     c.state,
		Connected: c.state == StateConnected,
	}
}

// Run dials the gateway and pumps events until ctx is canceled. Each
// connection loss transitions through disconnected -> connecting ->
// connected without ever duplicating the pump.
func (c *StreamClient) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected, "stream client stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.setState(StateConnecting, "")
		conn, err := c.dial(ctx)
		if err != nil {
			// Only context cancellation gets the dial loop to give up.
			return err
		}

		c.setState(StateConnected, "")
		c.logger.Info("connected to gateway stream", zap.String("url", c.url))

		c.readLoop(ctx, conn)

		if err := ctx.Err(); err != nil {
			return err
		}
		c.setState(StateDisconnected, "connection lost, reconnecting")
		c.logger.Warn("gateway stream connection lost, reconnecting")
	}
}

// dial connects with exponential backoff until it succeeds or ctx ends.
func (c *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialDialBackoff
	bo.MaxInterval = maxDialBackoff
	bo.MaxElapsedTime = 0 // retry until canceled

	header := http.Header{"User-Agent": []string{buildinfo.UserAgent()}}

	return backoff.RetryWithData(func() (*websocket.Conn, error) {
		conn, _, err := c.dialer.DialContext(ctx, c.url, header)
		if err != nil {
			c.logger.Warn("gateway dial failed",
				zap.String("url", c.url),
				zap.Error(err))
			return nil, err
		}
		return conn, nil
	}, backoff.WithContext(bo, ctx))
}

// readLoop reads frames until the connection drops or ctx is canceled.
func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() // unblocks ReadMessage
		case <-readerDone:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("gateway stream read error", zap.Error(err))
			}
			return
		}

		ev, ok := c.decode(raw)
		if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// decode turns a raw frame into a TagEvent. Frames of other types and
// malformed frames are dropped, the latter with a log line.
func (c *StreamClient) decode(raw []byte) (TagEvent, bool) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("dropping malformed stream frame", zap.Error(err))
		return TagEvent{}, false
	}
	if env.Type != EventTypeTagScanned {
		return TagEvent{}, false
	}

	var data tagScannedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.logger.Warn("dropping malformed tag_scanned payload", zap.Error(err))
		return TagEvent{}, false
	}

	epc := rfid.NormalizeEPC(data.EPC)
	if epc == "" {
		c.logger.Warn("dropping tag_scanned frame with empty epc")
		return TagEvent{}, false
	}

	ts := time.Now()
	if data.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, data.Timestamp); err == nil {
			ts = parsed
		} else {
			c.logger.Debug("unparseable event timestamp, using arrival time",
				zap.String("timestamp", data.Timestamp))
		}
	}

	return TagEvent{
		EPC:         epc,
		RSSI:        data.RSSI,
		AntennaPort: data.AntennaPort,
		Timestamp:   ts,
	}, true
}

// setState records a state change and publishes it. Publishing never
// blocks; a full channel just means no one is watching right now.
func (c *StreamClient) setState(state StreamState, message string) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()

	if !changed {
		return
	}

	status := StreamStatus{
		State:     state,
		Connected: state == StateConnected,
		Message:   message,
	}
	select {
	case c.statusChan <- status:
	default:
	}
}
