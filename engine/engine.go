// Package engine implements the auto-mapping synchronizer: the single
// consumer of the gateway event stream. Every sighting lands in the
// recency window; while a scan session is running, unmapped tags get a
// create-mapping request issued against the store, with at most one
// request in flight per EPC, and results are reconciled back into the
// window in completion order.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowmart/rfid-sync-agent/gateway"
	"github.com/flowmart/rfid-sync-agent/mapping"
	"github.com/flowmart/rfid-sync-agent/rfid"
)

// ErrEmptyEPC reports a manual create request without an EPC.
var ErrEmptyEPC = errors.New("engine: empty epc")

// MappingStore is the slice of the store client the synchronizer needs.
type MappingStore interface {
	Create(ctx context.Context, req mapping.CreateRequest) (mapping.TagMapping, error)
	FindByEPC(ctx context.Context, epc string) (mapping.TagMapping, bool, error)
}

// SessionState gates auto-creation on the scan session.
type SessionState interface {
	IsScanning() bool
}

// Config wires a Synchronizer.
type Config struct {
	Events  <-chan gateway.TagEvent
	Store   MappingStore
	Session SessionState

	// WindowSize bounds the recency window; zero selects the default.
	WindowSize int

	// AutoSync is the initial auto-creation toggle state.
	AutoSync bool

	// ResolveConflicts enables the follow-up lookup that fills in the
	// code after an "already mapped" conflict.
	ResolveConflicts bool

	Logger *zap.Logger
}

// Synchronizer owns the recency window and the in-flight set. Both are
// mutated only from the Run loop; other goroutines interact through the
// command channel and read-only snapshots.
type Synchronizer struct {
	window  *rfid.RecencyWindow
	store   MappingStore
	session SessionState
	logger  *zap.Logger

	events        <-chan gateway.TagEvent
	results       chan mappingResult
	commands      chan command
	notifications chan []rfid.ScannedTag

	autoSync         atomic.Bool
	resolveConflicts bool

	inflight map[string]struct{} // EPCs with a create outstanding, loop-owned
	wg       sync.WaitGroup      // tracks create/lookup goroutines
}

// mappingResult is a settled create or lookup, applied by the Run loop.
type mappingResult struct {
	epc      string
	mapped   bool
	code     string
	conflict bool
	lookup   bool
	err      error
}

type commandKind int

const (
	cmdClear commandKind = iota
	cmdApply
)

// command carries operator actions into the Run loop.
type command struct {
	kind   commandKind
	result mappingResult
}

// New creates a Synchronizer. Run must be called before it does anything.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.Events == nil {
		return nil, errors.New("engine: event source cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: mapping store cannot be nil")
	}
	if cfg.Session == nil {
		return nil, errors.New("engine: session state cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Synchronizer{
		window:           rfid.NewRecencyWindow(cfg.WindowSize),
		store:            cfg.Store,
		session:          cfg.Session,
		logger:           cfg.Logger,
		events:           cfg.Events,
		results:          make(chan mappingResult, 16),
		commands:         make(chan command, 16),
		notifications:    make(chan []rfid.ScannedTag, 1),
		resolveConflicts: cfg.ResolveConflicts,
		inflight:         make(map[string]struct{}),
	}
	s.autoSync.Store(cfg.AutoSync)
	return s, nil
}

// Run processes events, settled results and commands until ctx is
// canceled. Exactly one Run per Synchronizer; the window and the
// in-flight set belong to this goroutine.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.logger.Info("synchronizer started",
		zap.Bool("autoSync", s.autoSync.Load()),
		zap.Bool("resolveConflicts", s.resolveConflicts))
	defer s.logger.Info("synchronizer stopped")

	for {
		select {
		case <-ctx.Done():
			// Outstanding requests unblock via ctx; wait them out so no
			// goroutine survives the loop.
			s.wg.Wait()
			return ctx.Err()
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		case res := <-s.results:
			s.handleResult(ctx, res)
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		}
	}
}

// Snapshot returns the current window contents, most recent first.
func (s *Synchronizer) Snapshot() []rfid.ScannedTag {
	return s.window.Snapshot()
}

// Notifications returns a latest-value channel of window snapshots. A
// slow consumer only ever misses intermediate states, never the newest.
func (s *Synchronizer) Notifications() <-chan []rfid.ScannedTag {
	return s.notifications
}

// AutoSync reports whether auto-creation is enabled.
func (s *Synchronizer) AutoSync() bool {
	return s.autoSync.Load()
}

// SetAutoSync toggles auto-creation for future events. Requests already
// in flight settle normally.
func (s *Synchronizer) SetAutoSync(enabled bool) {
	if s.autoSync.Swap(enabled) != enabled {
		s.logger.Info("auto-sync toggled", zap.Bool("enabled", enabled))
	}
}

// Clear empties the window via the Run loop. It reports false when the
// loop is not accepting commands.
func (s *Synchronizer) Clear() bool {
	return s.enqueue(command{kind: cmdClear})
}

// CreateManual registers a mapping for an operator-entered EPC. It runs
// on the caller's goroutine and skips the in-flight gate: a manual create
// is one deliberate action, not a stream of repeats. On conflict the
// existing mapping is returned when it can be found, together with an
// error wrapping mapping.ErrAlreadyMapped. The window entry for the EPC,
// if any, is reconciled through the Run loop.
func (s *Synchronizer) CreateManual(ctx context.Context, epc, productID string) (mapping.TagMapping, error) {
	epc = rfid.NormalizeEPC(epc)
	if epc == "" {
		return mapping.TagMapping{}, ErrEmptyEPC
	}
	if productID == "" {
		productID = uuid.NewString()
	}

	m, err := s.store.Create(ctx, mapping.CreateRequest{EPC: epc, ProductID: productID})
	switch {
	case err == nil:
		s.logger.Info("manual mapping created", zap.String("epc", epc), zap.String("id", m.ID))
		s.enqueue(command{kind: cmdApply, result: mappingResult{epc: epc, mapped: true, code: m.EncryptedCode}})
		return m, nil

	case errors.Is(err, mapping.ErrAlreadyMapped):
		s.enqueue(command{kind: cmdApply, result: mappingResult{epc: epc, mapped: true}})
		if s.resolveConflicts {
			if existing, found, lookupErr := s.store.FindByEPC(ctx, epc); lookupErr == nil && found {
				s.enqueue(command{kind: cmdApply, result: mappingResult{epc: epc, mapped: true, code: existing.EncryptedCode}})
				return existing, err
			}
		}
		return mapping.TagMapping{}, err

	default:
		return mapping.TagMapping{}, err
	}
}

// handleEvent records a sighting and, when the session is scanning and
// auto-sync is on, starts a create for unmapped EPCs with none pending.
func (s *Synchronizer) handleEvent(ctx context.Context, ev gateway.TagEvent) {
	s.window.Observe(rfid.ScannedTag{
		EPC:         ev.EPC,
		RSSI:        ev.RSSI,
		AntennaPort: ev.AntennaPort,
		SeenAt:      ev.Timestamp,
	})
	s.notify()

	if !s.autoSync.Load() || !s.session.IsScanning() {
		return
	}

	tag, ok := s.window.Get(ev.EPC)
	if !ok || tag.Mapped {
		return
	}
	if _, pending := s.inflight[tag.EPC]; pending {
		return
	}

	s.inflight[tag.EPC] = struct{}{}
	s.launchCreate(ctx, tag.EPC)
}

// handleResult reconciles a settled create or lookup into the window.
// The EPC leaves the in-flight set exactly when its create settles,
// whatever the outcome.
func (s *Synchronizer) handleResult(ctx context.Context, res mappingResult) {
	if !res.lookup {
		delete(s.inflight, res.epc)
	}

	switch {
	case res.err != nil:
		if res.lookup {
			s.logger.Debug("conflict lookup failed, code stays unknown",
				zap.String("epc", res.epc), zap.Error(res.err))
			return
		}
		// Tag stays unmapped; the next sighting retries naturally.
		s.logger.Warn("mapping create failed",
			zap.String("epc", res.epc), zap.Error(res.err))

	case res.lookup:
		if res.code == "" {
			return
		}
		if s.window.ApplyMappingResult(res.epc, true, res.code) {
			s.notify()
		}

	case res.conflict:
		s.logger.Info("epc already mapped, marking without code",
			zap.String("epc", res.epc))
		if s.window.ApplyMappingResult(res.epc, true, "") {
			s.notify()
		}
		if s.resolveConflicts {
			s.launchLookup(ctx, res.epc)
		}

	default:
		s.logger.Info("mapping created", zap.String("epc", res.epc))
		if s.window.ApplyMappingResult(res.epc, true, res.code) {
			s.notify()
		}
	}
}

func (s *Synchronizer) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdClear:
		s.window.Clear()
		s.notify()
	case cmdApply:
		if s.window.ApplyMappingResult(cmd.result.epc, cmd.result.mapped, cmd.result.code) {
			s.notify()
		}
	}
}

// launchCreate issues the create request off-loop and delivers the
// settled outcome to the results channel.
func (s *Synchronizer) launchCreate(ctx context.Context, epc string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		m, err := s.store.Create(ctx, mapping.CreateRequest{
			EPC:       epc,
			ProductID: uuid.NewString(),
		})

		res := mappingResult{epc: epc}
		switch {
		case err == nil:
			res.mapped = true
			res.code = m.EncryptedCode
		case errors.Is(err, mapping.ErrAlreadyMapped):
			res.mapped = true
			res.conflict = true
		default:
			res.err = err
		}
		s.deliver(ctx, res)
	}()
}

// launchLookup fetches the existing mapping after a conflict to fill in
// the still-unknown code.
func (s *Synchronizer) launchLookup(ctx context.Context, epc string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		res := mappingResult{epc: epc, mapped: true, lookup: true}
		m, found, err := s.store.FindByEPC(ctx, epc)
		switch {
		case err != nil:
			res.err = err
		case found:
			res.code = m.EncryptedCode
		}
		s.deliver(ctx, res)
	}()
}

func (s *Synchronizer) deliver(ctx context.Context, res mappingResult) {
	select {
	case s.results <- res:
	case <-ctx.Done():
	}
}

func (s *Synchronizer) enqueue(cmd command) bool {
	select {
	case s.commands <- cmd:
		return true
	default:
		s.logger.Warn("command dropped, synchronizer not keeping up")
		return false
	}
}

// notify publishes the current snapshot, displacing a stale one when the
// consumer has not caught up.
func (s *Synchronizer) notify() {
	snapshot := s.window.Snapshot()
	for {
		select {
		case s.notifications <- snapshot:
			return
		default:
		}
		select {
		case <-s.notifications:
		default:
		}
	}
}
