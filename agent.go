package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/flowmart/rfid-sync-agent/config"
	"github.com/flowmart/rfid-sync-agent/engine"
	"github.com/flowmart/rfid-sync-agent/gateway"
	"github.com/flowmart/rfid-sync-agent/mapping"
	"github.com/flowmart/rfid-sync-agent/server"
	"github.com/flowmart/rfid-sync-agent/session"
)

// Agent composes the full pipeline: gateway event stream into the
// synchronizer into the mapping store, with the session controller
// gating auto-creation and the server exposing state to operators.
type Agent struct {
	Config *config.Config
	Logger *zap.Logger

	Stream  *gateway.StreamClient
	Session *session.Controller
	Engine  *engine.Synchronizer
	Store   *mapping.Client
	Server  *server.Server

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewAgent(cfg *config.Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		Config: cfg,
		Logger: logger,
	}
}

// Start resolves the gateway address, wires the components together and
// runs them. When it returns an error nothing was left running.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return errors.New("agent is already running")
	}

	gatewayURL := a.Config.Gateway.URL
	if gatewayURL == "" {
		if !a.Config.Gateway.Discovery {
			return errors.New("no gateway url configured and discovery disabled")
		}
		discovered, err := gateway.Discover(ctx, a.Config.Gateway.DiscoveryTimeout, a.Logger.Named("discovery"))
		if err != nil {
			return fmt.Errorf("discovering gateway: %w", err)
		}
		gatewayURL = discovered
	}

	a.Store = mapping.NewClient(a.Config.Store.URL, a.Config.Store.Timeout, a.Logger.Named("store"))
	a.Stream = gateway.NewStreamClient(
		gateway.StreamURL(gatewayURL, a.Config.Gateway.StreamPath),
		a.Logger.Named("stream"))

	commander := gateway.NewCommander(gatewayURL, a.Config.Gateway.CommandTimeout, a.Logger.Named("gateway"))
	a.Session = session.NewController(commander, nil, a.Logger.Named("session"))

	eng, err := engine.New(engine.Config{
		Events:           a.Stream.Events(),
		Store:            a.Store,
		Session:          a.Session,
		WindowSize:       a.Config.Window.Size,
		AutoSync:         a.Config.Sync.AutoSync,
		ResolveConflicts: a.Config.Sync.ResolveConflicts,
		Logger:           a.Logger.Named("engine"),
	})
	if err != nil {
		return fmt.Errorf("building synchronizer: %w", err)
	}
	a.Engine = eng

	a.Server = server.New(server.Config{
		Port:    a.Config.Server.Port,
		Secret:  a.Config.Server.Secret,
		MDNS:    a.Config.Server.MDNS,
		Engine:  a.Engine,
		Session: a.Session,
		Stream:  a.Stream,
		Store:   a.Store,
		Logger:  a.Logger.Named("server"),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Stream.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.Engine.Run(runCtx)
	}()
	go a.Server.Start()

	a.running = true
	a.Logger.Info("agent started",
		zap.String("gateway", gatewayURL),
		zap.String("store", a.Config.Store.URL),
		zap.Int("port", a.Config.Server.Port))
	return nil
}

// Stop tears the agent down: the server first so no new operator
// actions arrive, then the scan session, then the stream and engine
// loops.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}

	a.Logger.Info("stopping agent")

	a.Server.Stop()
	a.Session.Close()

	a.cancel()
	a.wg.Wait()

	a.running = false
	a.Logger.Info("agent stopped")
}
