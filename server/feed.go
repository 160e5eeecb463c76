package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// feed tracks connected WebSocket clients and broadcasts frames to them.
// All writes to a registered connection go through broadcast, so the
// mutex doubles as the per-connection write serializer.
type feed struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]string // conn -> clientID
	logger  *zap.Logger
}

func newFeed(logger *zap.Logger) *feed {
	return &feed{
		clients: make(map[*websocket.Conn]string),
		logger:  logger,
	}
}

// add registers a connection and returns its client ID. The caller must
// finish any direct writes to conn before registering it.
func (f *feed) add(conn *websocket.Conn) string {
	clientID := uuid.New().String()
	f.mu.Lock()
	f.clients[conn] = clientID
	total := len(f.clients)
	f.mu.Unlock()

	f.logger.Info("feed client connected",
		zap.String("client", clientID[:8]),
		zap.Int("total", total))
	return clientID
}

func (f *feed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	clientID, ok := f.clients[conn]
	delete(f.clients, conn)
	total := len(f.clients)
	f.mu.Unlock()

	if ok {
		f.logger.Info("feed client disconnected",
			zap.String("client", clientID[:8]),
			zap.Int("total", total))
	}
}

// count returns the number of connected clients.
func (f *feed) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// broadcast sends a message to all connected clients. A client whose
// write fails is dropped; its read loop cleans up after itself.
func (f *feed) broadcast(message *WebsocketMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn := range f.clients {
		if err := conn.WriteJSON(message); err != nil {
			f.logger.Warn("feed write failed, dropping client", zap.Error(err))
			conn.Close()
			delete(f.clients, conn)
		}
	}
}

// closeAll disconnects every client. Used on shutdown.
func (f *feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conn := range f.clients {
		conn.Close()
		delete(f.clients, conn)
	}
}
