package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newStreamServer runs a WebSocket endpoint that hands each accepted
// connection to handler along with its 1-based connection number.
func newStreamServer(t *testing.T, handler func(conn *websocket.Conn, connNum int32)) string {
	t.Helper()

	var connCount int32
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, atomic.AddInt32(&connCount, 1))
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Logf("write error: %v", err)
	}
}

func collectEvents(t *testing.T, events <-chan TagEvent, n int) []TagEvent {
	t.Helper()
	out := make([]TagEvent, 0, n)
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case ev := <-events:
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d of %d", len(out), n)
		}
	}
	return out
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{"http base", "http://192.168.1.20:9000", "/ws", "ws://192.168.1.20:9000/ws"},
		{"https base", "https://gateway.local:9000", "/ws", "wss://gateway.local:9000/ws"},
		{"trailing slash on base", "http://192.168.1.20:9000/", "/ws", "ws://192.168.1.20:9000/ws"},
		{"path without leading slash", "http://192.168.1.20:9000", "events", "ws://192.168.1.20:9000/events"},
		{"empty path gets default", "http://192.168.1.20:9000", "", "ws://192.168.1.20:9000/ws"},
		{"already ws scheme", "ws://192.168.1.20:9000", "/ws", "ws://192.168.1.20:9000/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StreamURL(tt.base, tt.path); got != tt.want {
				t.Errorf("StreamURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
			}
		})
	}
}

func TestStreamClientDeliversEventsInOrder(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	wsURL := newStreamServer(t, func(conn *websocket.Conn, _ int32) {
		sendFrame(t, conn, `{"type":"tag_scanned","data":{"epc":"E2001","rssi":-61,"antenna_port":1,"timestamp":"2026-08-21T10:00:00Z"}}`)
		sendFrame(t, conn, `{"type":"heartbeat","data":{}}`)
		sendFrame(t, conn, `{"type":"tag_scanned","data":`) // malformed, must be dropped
		sendFrame(t, conn, `{"type":"tag_scanned","data":{"epc":"e2002","rssi":-55,"antenna_port":2}}`)
		sendFrame(t, conn, `{"type":"reader_status","data":{"power":true}}`)
		sendFrame(t, conn, `{"type":"tag_scanned","data":{"epc":"E2003","rssi":-70,"antenna_port":1}}`)
		<-hold
	})

	client := NewStreamClient(wsURL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)

	events := collectEvents(t, client.Events(), 3)

	wantEPCs := []string{"E2001", "E2002", "E2003"}
	for i, want := range wantEPCs {
		if events[i].EPC != want {
			t.Errorf("event %d EPC = %s, want %s (arrival order must hold)", i, events[i].EPC, want)
		}
	}

	if events[0].RSSI != -61 || events[0].AntennaPort != 1 {
		t.Errorf("event fields not decoded: %+v", events[0])
	}
	wantTS := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	if !events[0].Timestamp.Equal(wantTS) {
		t.Errorf("timestamp = %v, want %v", events[0].Timestamp, wantTS)
	}
	// Frames without a timestamp get the arrival time.
	if events[1].Timestamp.IsZero() {
		t.Error("event without wire timestamp has zero Timestamp")
	}
}

func TestStreamClientReconnects(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	var conns int32
	wsURL := newStreamServer(t, func(conn *websocket.Conn, connNum int32) {
		atomic.StoreInt32(&conns, connNum)
		if connNum == 1 {
			sendFrame(t, conn, `{"type":"tag_scanned","data":{"epc":"E2001","rssi":-60,"antenna_port":1}}`)
			return // close; client should dial again
		}
		sendFrame(t, conn, `{"type":"tag_scanned","data":{"epc":"E2002","rssi":-60,"antenna_port":1}}`)
		<-hold
	})

	client := NewStreamClient(wsURL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)

	events := collectEvents(t, client.Events(), 2)
	if events[0].EPC != "E2001" || events[1].EPC != "E2002" {
		t.Errorf("events across reconnect = %s, %s; want E2001, E2002", events[0].EPC, events[1].EPC)
	}
	if got := atomic.LoadInt32(&conns); got < 2 {
		t.Errorf("server saw %d connections, want at least 2", got)
	}
}

func TestStreamClientStatus(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	wsURL := newStreamServer(t, func(conn *websocket.Conn, _ int32) {
		sendFrame(t, conn, `{"type":"tag_scanned","data":{"epc":"E2001","rssi":-60,"antenna_port":1}}`)
		<-hold
	})

	client := NewStreamClient(wsURL, nil)
	if got := client.Status(); got.State != StateDisconnected || got.Connected {
		t.Errorf("initial status = %+v, want disconnected", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	// Receiving an event proves the connected path ran.
	collectEvents(t, client.Events(), 1)
	if got := client.Status(); got.State != StateConnected || !got.Connected {
		t.Errorf("status after connect = %+v, want connected", got)
	}

	sawConnected := false
	drain := time.After(time.Second)
	for !sawConnected {
		select {
		case s := <-client.StatusUpdates():
			if s.State == StateConnected {
				sawConnected = true
			}
		case <-drain:
			t.Fatal("no connected status update published")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	if got := client.Status(); got.State != StateDisconnected {
		t.Errorf("status after shutdown = %+v, want disconnected", got)
	}
}
