// Package signal implements the one-way, unacknowledged messaging
// primitive between pagerelay components. A Send is best-effort by
// contract: the receiver may not be attached yet (the presenter is
// re-created on every activation) or its buffer may be full, and both
// outcomes are expected, silent and non-fatal.
//
// Signals are deliberately kept distinct from the mailbox. Delivery is
// never what correctness depends on — the store-based reconciliation
// is — so nothing here retries, acknowledges or errors. Collapsing the
// two channels would remove the intended redundancy of the trigger
// protocol's dual delivery.
package signal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/pagerelay/entity"
)

// Well-known receiver names. Per-context receivers append the context
// id to the prefix.
const (
	ReceiverRelay   = "relay"
	PanelPrefix     = "panel:"
	ExtractorPrefix = "extractor:"
)

// Actions carried by a Payload.
const (
	ActionShow     = "show"     // presenter: become visible
	ActionExtract  = "extract"  // extractor: produce a snapshot now
	ActionCaptured = "captured" // relay: a snapshot landed in the store
	ActionTrigger  = "trigger"  // presenter: act now (snapshot may ride along)
)

// Payload is the wire shape of a signal.
type Payload struct {
	Action          string           `json:"action"`
	TargetContextID string           `json:"targetContextId"`
	Snapshot        *entity.Snapshot `json:"snapshot,omitempty"`
}

// PanelReceiver returns the receiver name for a context's presenter.
func PanelReceiver(contextID string) string { return PanelPrefix + contextID }

// ExtractorReceiver returns the receiver name for a context's extractor.
func ExtractorReceiver(contextID string) string { return ExtractorPrefix + contextID }

type receiver struct {
	ch chan Payload
}

// Bus routes payloads to named receivers. Safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	receivers map[string]*receiver
	buffer    int
	logger    *slog.Logger
	dropped   atomic.Int64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithBuffer sets the per-receiver channel buffer. Default: 16.
func WithBuffer(n int) BusOption {
	return func(b *Bus) { b.buffer = n }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		receivers: make(map[string]*receiver),
		buffer:    16,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Receiver is an attached endpoint. Read payloads from C; the channel
// is closed when the receiver is displaced or Close is called.
type Receiver struct {
	C <-chan Payload

	bus  *Bus
	name string
	r    *receiver
}

// Attach registers a receiver under name, displacing (and closing) any
// previous holder. Displacement models the short-lived presenter: a new
// instance takes over the name and the old one stops receiving.
func (b *Bus) Attach(name string) *Receiver {
	r := &receiver{ch: make(chan Payload, b.buffer)}

	b.mu.Lock()
	if old, ok := b.receivers[name]; ok {
		close(old.ch)
	}
	b.receivers[name] = r
	b.mu.Unlock()

	return &Receiver{C: r.ch, bus: b, name: name, r: r}
}

// Close detaches the receiver. A receiver already displaced by a newer
// Attach is left alone.
func (r *Receiver) Close() {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	if cur, ok := r.bus.receivers[r.name]; ok && cur == r.r {
		delete(r.bus.receivers, r.name)
		close(r.r.ch)
	}
}

// Send delivers a payload to the named receiver if one is attached and
// has buffer room. It never blocks and never reports failure to the
// caller: "no receiver" and "buffer full" are expected outcomes of an
// unacknowledged channel, logged at debug level only.
func (b *Bus) Send(ctx context.Context, name string, p Payload) {
	// The non-blocking send happens under the lock so a concurrent
	// Close/Attach cannot close the channel mid-send.
	b.mu.Lock()
	r, ok := b.receivers[name]
	if ok {
		select {
		case r.ch <- p:
			b.mu.Unlock()
			return
		default:
		}
	}
	b.mu.Unlock()

	b.dropped.Add(1)
	if !ok {
		b.logger.DebugContext(ctx, "signal: no receiver, dropped",
			"receiver", name, "action", p.Action)
		return
	}
	b.logger.DebugContext(ctx, "signal: buffer full, dropped",
		"receiver", name, "action", p.Action)
}

// Dropped returns how many payloads were discarded since the bus was
// created.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
