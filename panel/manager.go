package panel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pagerelay/mailbox"
	"github.com/hazyhaar/pagerelay/signal"
)

// Manager owns panel lifecycles. Every activation builds a fresh Panel
// and attaches it to the context's signal receiver, displacing whatever
// instance held it before. Panels therefore never share state across
// activations; only the mailbox persists.
type Manager struct {
	box      *mailbox.Box
	bus      *signal.Bus
	analyzer Analyzer
	logger   *slog.Logger

	mu     sync.Mutex
	panels map[string]*managed
}

type managed struct {
	panel  *Panel
	cancel context.CancelFunc
}

// NewManager wires panel creation to the shared mailbox and bus.
func NewManager(box *mailbox.Box, bus *signal.Bus, analyzer Analyzer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		box:      box,
		bus:      bus,
		analyzer: analyzer,
		logger:   logger,
		panels:   make(map[string]*managed),
	}
}

// Activate creates a fresh panel for the context, reconciles it against
// the mailbox, and starts pumping pushed signals into it. Any previous
// panel for the context is stopped.
func (m *Manager) Activate(ctx context.Context, contextID string) *Panel {
	p := newPanel(contextID, m.box, m.analyzer, m.logger)

	pumpCtx, cancel := context.WithCancel(ctx)
	recv := m.bus.Attach(signal.PanelReceiver(contextID))

	m.mu.Lock()
	if prev, ok := m.panels[contextID]; ok {
		prev.cancel()
	}
	m.panels[contextID] = &managed{panel: p, cancel: cancel}
	m.mu.Unlock()

	p.activate(ctx)

	go func() {
		defer recv.Close()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case payload, ok := <-recv.C:
				if !ok {
					return
				}
				switch payload.Action {
				case signal.ActionShow:
					p.handlePush(pumpCtx, payload.Snapshot)
				case signal.ActionTrigger:
					p.handlePush(pumpCtx, payload.Snapshot)
				default:
					m.logger.Debug("panel: ignoring signal",
						"context", contextID, "action", payload.Action)
				}
			}
		}
	}()

	m.logger.Info("panel: activated", "context", contextID)
	return p
}

// Panel returns the live panel for a context, or nil when none is
// attached.
func (m *Manager) Panel(contextID string) *Panel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mg, ok := m.panels[contextID]; ok {
		return mg.panel
	}
	return nil
}

// Deactivate stops the context's panel pump. The mailbox keeps the
// durable state; a later Activate picks it back up.
func (m *Manager) Deactivate(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mg, ok := m.panels[contextID]; ok {
		mg.cancel()
		delete(m.panels, contextID)
	}
}
