package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagerelay/entity"
	"github.com/hazyhaar/pagerelay/mailbox"
	"github.com/hazyhaar/pagerelay/signal"
)

// Loader produces the current page model for a hosted context. The
// browse package provides implementations; tests substitute fixtures.
type Loader func(ctx context.Context, contextID string) (*PageModel, error)

// Agent is the extractor side of the relay: it captures snapshots into
// the mailbox and answers re-extraction requests pushed over the signal
// bus. One agent serves many contexts.
type Agent struct {
	extractor *Extractor
	box       *mailbox.Box
	bus       *signal.Bus
	logger    *slog.Logger
}

// NewAgent wires an extractor to the shared mailbox and bus.
func NewAgent(extractor *Extractor, box *mailbox.Box, bus *signal.Bus, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{extractor: extractor, box: box, bus: bus, logger: logger}
}

// Capture extracts a snapshot from the page, stores it durably, and
// then pushes a best-effort captured notification toward the relay.
// Storage always happens first so the snapshot is observable even when
// nobody is listening for the push.
func (a *Agent) Capture(ctx context.Context, page *PageModel) (*entity.Snapshot, error) {
	snap, err := a.extractor.Extract(page)
	if err != nil {
		return nil, err
	}
	if err := a.box.PutSnapshot(ctx, page.ContextID, snap); err != nil {
		return nil, fmt.Errorf("extract: store snapshot: %w", err)
	}
	a.bus.Send(ctx, signal.ReceiverRelay, signal.Payload{
		Action:          signal.ActionCaptured,
		TargetContextID: page.ContextID,
		Snapshot:        snap,
	})
	a.logger.Info("extract: captured snapshot",
		"context", page.ContextID, "subject", snap.SubjectID, "platform", snap.Platform)
	return snap, nil
}

// Watch serves re-extraction requests for one context until ctx ends.
// Each extract signal reloads the page through the loader and captures
// a fresh snapshot. Failures are logged and swallowed: a missed
// re-capture degrades staleness, it never breaks the loop.
func (a *Agent) Watch(ctx context.Context, contextID string, load Loader) {
	recv := a.bus.Attach(signal.ExtractorReceiver(contextID))
	defer recv.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-recv.C:
			if !ok {
				return
			}
			if p.Action != signal.ActionExtract {
				continue
			}
			page, err := load(ctx, contextID)
			if err != nil {
				a.logger.Warn("extract: reload failed", "context", contextID, "error", err)
				continue
			}
			if _, err := a.Capture(ctx, page); err != nil {
				a.logger.Warn("extract: re-capture failed", "context", contextID, "error", err)
			}
		}
	}
}
