package server

import (
	"github.com/flowmart/rfid-sync-agent/buildinfo"
	"github.com/flowmart/rfid-sync-agent/gateway"
	"github.com/flowmart/rfid-sync-agent/rfid"
	"github.com/flowmart/rfid-sync-agent/session"
)

// mDNS service discovery constants
var (
	MDNSServiceType = "_rfid-sync._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// WebSocket message types pushed on the feed
const (
	WSMessageTypeSnapshot      = "snapshot"
	WSMessageTypeTagList       = "tagList"
	WSMessageTypeSessionStatus = "sessionStatus"
	WSMessageTypeStreamStatus  = "streamStatus"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

// WebsocketMessage is the JSON envelope for every feed frame.
type WebsocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TagListPayload carries the current window contents, most recent first.
// Used both by the tags endpoint and by tagList feed frames.
type TagListPayload struct {
	Tags  []rfid.ScannedTag `json:"tags"`
	Count int               `json:"count"`
}

// SnapshotPayload is the first frame sent to a newly connected feed
// client so it can render without waiting for changes.
type SnapshotPayload struct {
	Tags     []rfid.ScannedTag    `json:"tags"`
	Session  session.Status       `json:"session"`
	Stream   gateway.StreamStatus `json:"stream"`
	AutoSync bool                 `json:"autoSync"`
}
