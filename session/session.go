// Package session owns the scan session state machine: idle or scanning,
// with an elapsed-seconds counter that runs only while scanning. State
// flips only after the gateway accepts the corresponding command.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickInterval is how often the elapsed counter advances while scanning.
const TickInterval = time.Second

// shutdownStopTimeout bounds the best-effort stop command on Close.
const shutdownStopTimeout = 5 * time.Second

// ErrAlreadyScanning reports a start request while a session is running.
var ErrAlreadyScanning = errors.New("session: scan already running")

// Commander is the gateway command surface the controller drives.
type Commander interface {
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
}

// Status is a point-in-time view of the session.
type Status struct {
	Scanning       bool `json:"isScanning"`
	ElapsedSeconds int  `json:"elapsedSeconds"`
}

// Controller toggles the reader between idle and scanning and tracks
// elapsed session time. Every exit path cancels the ticker; a leaked
// ticker or a counter running while idle is a defect.
type Controller struct {
	commander Commander
	clock     Clock
	logger    *zap.Logger

	// cmdMu serializes state transitions, network call included, so a
	// concurrent start and stop cannot interleave.
	cmdMu sync.Mutex

	mu         sync.RWMutex
	scanning   bool
	elapsed    int
	stopTicker chan struct{}

	tickerWg sync.WaitGroup
	updates  chan Status
}

// NewController creates a controller driving the given commander. A nil
// clock selects the real one.
func NewController(commander Commander, clock Clock, logger *zap.Logger) *Controller {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		commander: commander,
		clock:     clock,
		logger:    logger,
		updates:   make(chan Status, 4),
	}
}

// Start asks the reader to begin scanning. The session flips to scanning
// and the elapsed counter starts only when the command succeeds; on
// failure the session stays idle and the error carries the reason. There
// is no automatic retry.
func (c *Controller) Start(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.IsScanning() {
		return ErrAlreadyScanning
	}

	if err := c.commander.StartScan(ctx); err != nil {
		c.logger.Warn("scan start failed, session stays idle", zap.Error(err))
		return err
	}

	stop := make(chan struct{})
	ticker := c.clock.NewTicker(TickInterval)

	c.mu.Lock()
	c.scanning = true
	c.elapsed = 0
	c.stopTicker = stop
	c.mu.Unlock()

	c.tickerWg.Add(1)
	go c.tick(ticker, stop)

	c.logger.Info("scan session started")
	c.publish()
	return nil
}

// Stop asks the reader to stop scanning. On success the session flips to
// idle, elapsed time resets to zero and the ticker is canceled. When the
// command fails the state is left unchanged and the error returned, since
// the reader may well still be scanning. Stopping an idle session is a
// no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if !c.IsScanning() {
		return nil
	}

	if err := c.commander.StopScan(ctx); err != nil {
		c.logger.Warn("scan stop failed, session state unchanged", zap.Error(err))
		return err
	}

	c.teardown()
	c.logger.Info("scan session stopped")
	c.publish()
	return nil
}

// Close tears the session down during agent shutdown. Unlike Stop, the
// local ticker and state are reset even if the stop command cannot be
// delivered.
func (c *Controller) Close() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if !c.IsScanning() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownStopTimeout)
	defer cancel()
	if err := c.commander.StopScan(ctx); err != nil {
		c.logger.Warn("stop command failed during shutdown", zap.Error(err))
	}

	c.teardown()
	c.publish()
}

// IsScanning reports whether a scan session is running.
func (c *Controller) IsScanning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanning
}

// Status returns the current session state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{Scanning: c.scanning, ElapsedSeconds: c.elapsed}
}

// Updates returns a channel receiving a status after every transition
// and every elapsed tick. Values are dropped when nobody listens.
func (c *Controller) Updates() <-chan Status {
	return c.updates
}

// tick advances the elapsed counter once per interval until stopped.
func (c *Controller) tick(ticker Ticker, stop <-chan struct{}) {
	defer c.tickerWg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			c.mu.Lock()
			if !c.scanning {
				c.mu.Unlock()
				return
			}
			c.elapsed++
			c.mu.Unlock()
			c.publish()
		}
	}
}

// teardown cancels the ticker and resets local state. Callers hold cmdMu.
func (c *Controller) teardown() {
	c.mu.Lock()
	c.scanning = false
	c.elapsed = 0
	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}
	c.mu.Unlock()

	c.tickerWg.Wait()
}

func (c *Controller) publish() {
	select {
	case c.updates <- c.Status():
	default:
	}
}
