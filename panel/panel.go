// Package panel is the presenter side of the relay. A Panel lives for
// one activation of a hosted context: it reconciles its display against
// the mailbox on creation, then applies pushed signals until displaced.
// Intent consumption is clear-then-act through mailbox.TakeIntent, so
// the downstream analysis runs at most once per recorded intent no
// matter how many panel instances or delivery paths race for it.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pagerelay/entity"
	"github.com/hazyhaar/pagerelay/mailbox"
)

// State is the panel view. Primary is the initial state; there is no
// terminal one.
type State string

const (
	StatePrimary State = "primary"
	StateDetail  State = "detail"
	StateCompare State = "compare"
	StateTrack   State = "track"
)

// ErrBusy is returned when a manual retrigger arrives while the
// downstream action is still running.
var ErrBusy = errors.New("panel: analysis in progress")

// Analyzer runs the downstream analysis on a snapshot. The response is
// opaque to the panel; it is surfaced as-is.
type Analyzer interface {
	Analyze(ctx context.Context, snap *entity.Snapshot) (json.RawMessage, error)
}

// Panel presents one hosted context. Safe for concurrent use; the
// manager pumps pushed signals into it from a single goroutine while
// HTTP handlers read its view.
type Panel struct {
	contextID string
	box       *mailbox.Box
	analyzer  Analyzer
	logger    *slog.Logger

	mu              sync.Mutex
	state           State
	snapshot        *entity.Snapshot
	result          json.RawMessage
	busy            bool
	needsManual     bool
	lastAnalysisErr string
}

// View is the read model handed to the UI surface.
type View struct {
	ContextID        string           `json:"contextId"`
	State            State            `json:"state"`
	Snapshot         *entity.Snapshot `json:"snapshot,omitempty"`
	Result           json.RawMessage  `json:"result,omitempty"`
	Busy             bool             `json:"busy"`
	NeedsManualEntry bool             `json:"needsManualEntry"`
	AnalysisError    string           `json:"analysisError,omitempty"`
}

func newPanel(contextID string, box *mailbox.Box, analyzer Analyzer, logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{
		contextID: contextID,
		box:       box,
		analyzer:  analyzer,
		logger:    logger,
		state:     StatePrimary,
	}
}

// activate reconciles a freshly created panel against the mailbox.
func (p *Panel) activate(ctx context.Context) {
	snap, err := p.box.Snapshot(ctx, p.contextID)
	if err != nil {
		p.logger.Error("panel: read snapshot", "context", p.contextID, "error", err)
	}
	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()

	p.consumeIntent(ctx, snap)
}

// handlePush applies a live signal. A trigger runs the same intent
// consumption as activation; a show with inline snapshot refreshes the
// display first.
func (p *Panel) handlePush(ctx context.Context, inline *entity.Snapshot) {
	snap := inline
	if snap == nil {
		var err error
		snap, err = p.box.Snapshot(ctx, p.contextID)
		if err != nil {
			p.logger.Error("panel: read snapshot", "context", p.contextID, "error", err)
		}
	}
	if snap != nil {
		p.mu.Lock()
		p.snapshot = snap
		p.mu.Unlock()
	}
	p.consumeIntent(ctx, snap)
}

// consumeIntent is the shared clear-then-act path. Whichever caller
// wins TakeIntent owns the sole right to run the downstream action for
// that intent; everyone else sees nothing pending.
func (p *Panel) consumeIntent(ctx context.Context, snap *entity.Snapshot) {
	intent, err := p.box.TakeIntent(ctx, p.contextID)
	if err != nil {
		p.logger.Error("panel: take intent", "context", p.contextID, "error", err)
		return
	}
	if intent == nil {
		return
	}

	if snap == nil {
		// User asked, data never arrived. Raise manual entry and stay
		// on the primary view.
		p.mu.Lock()
		p.needsManual = true
		p.mu.Unlock()
		p.logger.Warn("panel: intent without snapshot, manual entry required",
			"context", p.contextID, "intent", intent.ID)
		return
	}

	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		p.logger.Info("panel: analysis busy, trigger dropped",
			"context", p.contextID, "intent", intent.ID)
		return
	}
	p.busy = true
	p.state = StateDetail
	p.needsManual = false
	p.mu.Unlock()

	go p.analyze(ctx, snap)
}

// RetryManual re-runs the downstream action on the current snapshot at
// the user's request. Rejected with ErrBusy while a run is in flight;
// callers surface that by disabling the control.
func (p *Panel) RetryManual(ctx context.Context) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return ErrBusy
	}
	snap := p.snapshot
	if snap == nil {
		p.mu.Unlock()
		return errors.New("panel: no snapshot to analyze")
	}
	p.busy = true
	p.state = StateDetail
	p.needsManual = false
	p.mu.Unlock()

	go p.analyze(ctx, snap)
	return nil
}

// SetManualSnapshot accepts user-entered entity data as the context's
// snapshot, stores it, and clears the manual-entry affordance.
func (p *Panel) SetManualSnapshot(ctx context.Context, snap *entity.Snapshot) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return ErrBusy
	}
	p.mu.Unlock()

	snap.CapturedAt = entity.Now()
	if err := p.box.PutSnapshot(ctx, p.contextID, snap); err != nil {
		return err
	}
	p.mu.Lock()
	p.snapshot = snap
	p.needsManual = false
	p.mu.Unlock()
	return nil
}

// SetView switches between the explicit view surfaces. Reconciliation
// never produces Compare or Track; only the user reaches them.
func (p *Panel) SetView(state State) error {
	switch state {
	case StatePrimary, StateDetail, StateCompare, StateTrack:
	default:
		return errors.New("panel: unknown view state")
	}
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	return nil
}

// analyze runs the downstream action. The intent marker is already
// cleared, so a fault here is contained: it is logged and shown on the
// view, never retried automatically.
func (p *Panel) analyze(ctx context.Context, snap *entity.Snapshot) {
	result, err := p.analyzer.Analyze(ctx, snap)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
	if err != nil {
		p.lastAnalysisErr = err.Error()
		p.logger.Error("panel: analysis failed", "context", p.contextID, "error", err)
		return
	}
	p.result = result
	p.lastAnalysisErr = ""
}

// View returns the current read model.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return View{
		ContextID:        p.contextID,
		State:            p.state,
		Snapshot:         p.snapshot,
		Result:           p.result,
		Busy:             p.busy,
		NeedsManualEntry: p.needsManual,
		AnalysisError:    p.lastAnalysisErr,
	}
}
