// Package server exposes the agent's presentation feed and operator API:
// a WebSocket push feed of window, session and stream state, plus REST
// endpoints for scan control, auto-sync, and mapping store access.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/flowmart/rfid-sync-agent/gateway"
	"github.com/flowmart/rfid-sync-agent/mapping"
	"github.com/flowmart/rfid-sync-agent/rfid"
	"github.com/flowmart/rfid-sync-agent/session"
)

// TagEngine is the slice of the synchronizer the server consumes.
type TagEngine interface {
	Snapshot() []rfid.ScannedTag
	Notifications() <-chan []rfid.ScannedTag
	Clear() bool
	AutoSync() bool
	SetAutoSync(enabled bool)
	CreateManual(ctx context.Context, epc, productID string) (mapping.TagMapping, error)
}

// ScanSession controls and reports the scan session.
type ScanSession interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() session.Status
	Updates() <-chan session.Status
}

// StreamSource reports gateway stream connectivity.
type StreamSource interface {
	Status() gateway.StreamStatus
	StatusUpdates() <-chan gateway.StreamStatus
}

// MappingStore is the slice of the store client the operator API exposes.
type MappingStore interface {
	List(ctx context.Context) ([]mapping.TagMapping, error)
	Delete(ctx context.Context, id string) error
	Verify(ctx context.Context, epc, qrCode string) (mapping.VerifyResult, error)
}

// Config holds the server configuration.
type Config struct {
	Port   int
	Secret string // optional shared secret for feed connections
	MDNS   bool   // advertise the agent over mDNS

	Engine  TagEngine
	Session ScanSession
	Stream  StreamSource
	Store   MappingStore

	Logger *zap.Logger
}

// Server manages the HTTP server, the WebSocket feed and mDNS
// advertisement.
type Server struct {
	config Config
	logger *zap.Logger

	router *mux.Router

	// mu guards the lifecycle fields below against a Stop racing Start.
	mu         sync.Mutex
	httpServer *http.Server
	cancel     context.CancelFunc
	mdnsServer *zeroconf.Server

	upgrader websocket.Upgrader
	feed     *feed

	startedAt time.Time
}

// New creates a server instance. Start must be called to serve.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		logger: config.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		feed:      newFeed(config.Logger),
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

// routes wires the operator API and the feed endpoint. Every path
// carries at least one OPTIONS registration so CORS preflight succeeds.
func (s *Server) routes() {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", enableCORS(s.handleHealth)).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/tags", enableCORS(s.handleTagList)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/tags", enableCORS(s.handleTagClear)).Methods(http.MethodDelete)

	api.HandleFunc("/scan", enableCORS(s.handleScanStatus)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/scan/start", enableCORS(s.handleScanStart)).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/scan/stop", enableCORS(s.handleScanStop)).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/auto-sync", enableCORS(s.handleAutoSyncGet)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/auto-sync", enableCORS(s.handleAutoSyncSet)).Methods(http.MethodPut)

	api.HandleFunc("/mappings/verify", enableCORS(s.handleMappingVerify)).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/mappings", enableCORS(s.handleMappingList)).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/mappings", enableCORS(s.handleMappingCreate)).Methods(http.MethodPost)
	api.HandleFunc("/mappings/{id}", enableCORS(s.handleMappingDelete)).Methods(http.MethodDelete, http.MethodOptions)

	r.HandleFunc("/ws", enableCORS(s.handleWebSocket))

	r.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("RFID Sync Agent Running"))
	}))

	s.router = r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server, the mDNS advertisement and the feed
// pumps, then blocks until Stop is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	s.mu.Lock()
	s.cancel = cancel
	s.httpServer = httpServer
	s.mu.Unlock()

	go func() {
		s.logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Warn("mDNS registration failed, auto-discovery unavailable", zap.Error(err))
		}
	}

	go s.listenTagNotifications(ctx)
	go s.listenSessionUpdates(ctx)
	go s.listenStreamStatus(ctx)

	<-ctx.Done()
	s.logger.Info("server context cancelled, shutting down")
	return nil
}

// Stop stops the server gracefully. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	mdnsServer := s.mdnsServer
	httpServer := s.httpServer
	cancel := s.cancel
	s.mdnsServer = nil
	s.httpServer = nil
	s.cancel = nil
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		s.logger.Info("mDNS service stopped")
	}

	if httpServer != nil {
		ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("server shutdown error", zap.Error(err))
		}
	}

	if cancel != nil {
		cancel()
	}

	s.feed.closeAll()
}

// startMDNS advertises the agent so back-office tools can discover it
// on the local network.
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=1.0",
		"protocol=websocket",
		"path=/ws",
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()

	s.logger.Info("mDNS service registered",
		zap.String("name", MDNSServiceName),
		zap.String("type", MDNSServiceType),
		zap.Int("port", s.config.Port))
	return nil
}

// handleWebSocket upgrades feed connections and holds them open until
// the client disconnects or the server shuts down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.Secret != "" {
		secret := r.URL.Query().Get("secret")
		if secret != s.config.Secret {
			s.logger.Warn("feed connection rejected: invalid secret")
			http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	// Send the snapshot before registering the connection so this write
	// cannot interleave with a broadcast.
	snapshot := &WebsocketMessage{Type: WSMessageTypeSnapshot, Payload: s.snapshot()}
	if err := conn.WriteJSON(snapshot); err != nil {
		conn.Close()
		return
	}

	s.feed.add(conn)
	defer func() {
		conn.Close()
		s.feed.remove(conn)
	}()

	// The feed is one-way. Operator actions arrive over the REST API, so
	// reading here only detects disconnect and drains control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// snapshot assembles the full current state for a newly connected client.
func (s *Server) snapshot() SnapshotPayload {
	return SnapshotPayload{
		Tags:     s.config.Engine.Snapshot(),
		Session:  s.config.Session.Status(),
		Stream:   s.config.Stream.Status(),
		AutoSync: s.config.Engine.AutoSync(),
	}
}

// listenTagNotifications forwards window snapshots to feed clients.
func (s *Server) listenTagNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tags, ok := <-s.config.Engine.Notifications():
			if !ok {
				return
			}
			s.feed.broadcast(&WebsocketMessage{
				Type:    WSMessageTypeTagList,
				Payload: TagListPayload{Tags: tags, Count: len(tags)},
			})
		}
	}
}

// listenSessionUpdates forwards session status changes to feed clients.
func (s *Server) listenSessionUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-s.config.Session.Updates():
			if !ok {
				return
			}
			s.feed.broadcast(&WebsocketMessage{
				Type:    WSMessageTypeSessionStatus,
				Payload: status,
			})
		}
	}
}

// listenStreamStatus forwards stream connectivity changes to feed clients.
func (s *Server) listenStreamStatus(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-s.config.Stream.StatusUpdates():
			if !ok {
				return
			}
			s.feed.broadcast(&WebsocketMessage{
				Type:    WSMessageTypeStreamStatus,
				Payload: status,
			})
		}
	}
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
