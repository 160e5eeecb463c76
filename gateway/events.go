package gateway

import (
	"encoding/json"
	"time"
)

// EventTypeTagScanned is the only stream message type this agent
// consumes. Other types (heartbeats, reader status) are ignored.
const EventTypeTagScanned = "tag_scanned"

// streamEnvelope is the outer JSON frame on the gateway event stream.
type streamEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// tagScannedData is the wire payload of a tag_scanned frame.
type tagScannedData struct {
	EPC         string `json:"epc"`
	RSSI        int    `json:"rssi"`
	AntennaPort int    `json:"antenna_port"`
	Timestamp   string `json:"timestamp"`
}

// TagEvent is a decoded tag sighting. The EPC is already normalized, so
// consumers can use it as identity directly.
type TagEvent struct {
	EPC         string
	RSSI        int
	AntennaPort int
	Timestamp   time.Time
}

// StreamState describes the stream client's connection state.
type StreamState string

const (
	StateDisconnected StreamState = "disconnected"
	StateConnecting   StreamState = "connecting"
	StateConnected    StreamState = "connected"
)

// StreamStatus is a point-in-time view of stream connectivity, published
// on state changes and consumed by the presentation feed.
type StreamStatus struct {
	State     StreamState `json:"state"`
	Connected bool        `json:"connected"`
	Message   string      `json:"message,omitempty"`
}
