// Package relay coordinates the extractor and the presenter sides.
// A user intent arriving here fans out into a fixed sequence: surface
// the panel, ensure a fresh snapshot exists in the mailbox (asking the
// extractor to re-capture when the stored one is stale), record the
// intent durably, and push a best-effort trigger at the panel. Every
// outbound signal may be lost; the mailbox writes are the durable half
// of the delivery.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pagerelay/entity"
	"github.com/hazyhaar/pagerelay/idgen"
	"github.com/hazyhaar/pagerelay/mailbox"
	"github.com/hazyhaar/pagerelay/signal"
)

// Config bounds the snapshot wait. Zero values take the defaults.
type Config struct {
	// PollAttempts is how many times the mailbox is re-read while
	// waiting for the extractor, Staleness how old a stored snapshot
	// may be before a re-capture is requested.
	PollAttempts int
	PollInterval time.Duration
	Staleness    time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollAttempts <= 0 {
		c.PollAttempts = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Staleness <= 0 {
		c.Staleness = 30 * time.Second
	}
}

// Relay is the long-lived coordinator singleton.
type Relay struct {
	cfg    Config
	box    *mailbox.Box
	bus    *signal.Bus
	ids    idgen.Generator
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// New builds a Relay over the shared mailbox and bus.
func New(cfg Config, box *mailbox.Box, bus *signal.Bus, logger *slog.Logger) *Relay {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		cfg:     cfg,
		box:     box,
		bus:     bus,
		ids:     idgen.Prefixed("int_", idgen.UUIDv7()),
		logger:  logger,
		waiters: make(map[string]chan struct{}),
	}
}

// Run pumps captured notifications from the extractor into the
// per-context wakeups that let polling intents finish early. It owns
// the "relay" receiver and returns when ctx ends.
func (r *Relay) Run(ctx context.Context) {
	recv := r.bus.Attach(signal.ReceiverRelay)
	defer recv.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-recv.C:
			if !ok {
				return
			}
			if p.Action != signal.ActionCaptured {
				continue
			}
			r.wake(p.TargetContextID)
		}
	}
}

// OnUserIntent starts the intent sequence for a context and returns
// immediately. The sequence runs to its durable end state on its own.
func (r *Relay) OnUserIntent(ctx context.Context, contextID string) {
	go r.runIntent(ctx, contextID)
}

func (r *Relay) runIntent(ctx context.Context, contextID string) {
	started := entity.Now()

	r.bus.Send(ctx, signal.PanelReceiver(contextID), signal.Payload{
		Action:          signal.ActionShow,
		TargetContextID: contextID,
	})

	snap, err := r.box.Snapshot(ctx, contextID)
	if err != nil {
		r.logger.Error("relay: read snapshot", "context", contextID, "error", err)
	}

	if !r.fresh(snap, started) {
		r.bus.Send(ctx, signal.ExtractorReceiver(contextID), signal.Payload{
			Action:          signal.ActionExtract,
			TargetContextID: contextID,
		})
		snap = r.await(ctx, contextID, started)
	}

	intent := &entity.Intent{
		ID:              r.ids(),
		Kind:            entity.KindTriggerAnalysis,
		TargetContextID: contextID,
		IssuedAt:        entity.Now(),
	}
	if err := r.box.PutIntent(ctx, intent); err != nil {
		r.logger.Error("relay: store intent", "context", contextID, "error", err)
	}

	r.bus.Send(ctx, signal.PanelReceiver(contextID), signal.Payload{
		Action:          signal.ActionTrigger,
		TargetContextID: contextID,
		Snapshot:        snap,
	})

	if snap == nil {
		r.logger.Warn("relay: snapshot wait exhausted",
			"context", contextID, "attempts", r.cfg.PollAttempts)
	} else {
		r.logger.Info("relay: intent delivered",
			"context", contextID, "intent", intent.ID, "subject", snap.SubjectID)
	}
}

// await re-reads the mailbox up to PollAttempts times. A captured
// notification wakes the current attempt early but never adds attempts.
// Returns nil when the budget runs out without a usable snapshot.
func (r *Relay) await(ctx context.Context, contextID string, started int64) *entity.Snapshot {
	wakeCh := r.addWaiter(contextID)
	defer r.removeWaiter(contextID, wakeCh)

	for attempt := 0; attempt < r.cfg.PollAttempts; attempt++ {
		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		snap, err := r.box.Snapshot(ctx, contextID)
		if err != nil {
			r.logger.Error("relay: poll snapshot", "context", contextID, "error", err)
			continue
		}
		if r.fresh(snap, started) {
			return snap
		}
	}
	return nil
}

// fresh accepts a snapshot captured after the sequence started, or one
// still inside the staleness window.
func (r *Relay) fresh(snap *entity.Snapshot, started int64) bool {
	if snap == nil {
		return false
	}
	if snap.CapturedAt >= started {
		return true
	}
	return entity.Now()-snap.CapturedAt <= r.cfg.Staleness.Milliseconds()
}

func (r *Relay) addWaiter(contextID string) chan struct{} {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.waiters[contextID] = ch
	r.mu.Unlock()
	return ch
}

func (r *Relay) removeWaiter(contextID string, ch chan struct{}) {
	r.mu.Lock()
	if r.waiters[contextID] == ch {
		delete(r.waiters, contextID)
	}
	r.mu.Unlock()
}

func (r *Relay) wake(contextID string) {
	r.mu.Lock()
	ch := r.waiters[contextID]
	r.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
