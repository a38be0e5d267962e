package signal_test

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/pagerelay/signal"
)

func TestSendToAttachedReceiver(t *testing.T) {
	bus := signal.NewBus()
	ctx := context.Background()

	r := bus.Attach(signal.PanelReceiver("ctx-7"))
	defer r.Close()

	bus.Send(ctx, signal.PanelReceiver("ctx-7"), signal.Payload{
		Action:          signal.ActionTrigger,
		TargetContextID: "ctx-7",
	})

	select {
	case p := <-r.C:
		if p.Action != signal.ActionTrigger || p.TargetContextID != "ctx-7" {
			t.Fatalf("got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("payload never arrived")
	}
}

func TestSendWithoutReceiverIsSilent(t *testing.T) {
	bus := signal.NewBus()

	// Must not panic, block, or return anything — absence of a receiver
	// is an expected outcome.
	bus.Send(context.Background(), signal.PanelReceiver("nobody"), signal.Payload{
		Action: signal.ActionShow,
	})
}

func TestSendFullBufferDrops(t *testing.T) {
	bus := signal.NewBus(signal.WithBuffer(1))
	ctx := context.Background()

	r := bus.Attach("slow")
	defer r.Close()

	bus.Send(ctx, "slow", signal.Payload{Action: "a"})
	bus.Send(ctx, "slow", signal.Payload{Action: "b"}) // dropped, buffer=1

	got := <-r.C
	if got.Action != "a" {
		t.Fatalf("got %q, want the first payload", got.Action)
	}
	select {
	case p := <-r.C:
		t.Fatalf("unexpected second payload %+v — overflow must drop, not queue", p)
	default:
	}
}

func TestAttachDisplacesPrevious(t *testing.T) {
	bus := signal.NewBus()
	ctx := context.Background()

	old := bus.Attach("panel:ctx-1")
	fresh := bus.Attach("panel:ctx-1")
	defer fresh.Close()

	// The displaced receiver's channel is closed.
	select {
	case _, ok := <-old.C:
		if ok {
			t.Fatal("displaced receiver got a payload, want closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("displaced receiver channel not closed")
	}

	bus.Send(ctx, "panel:ctx-1", signal.Payload{Action: signal.ActionShow})
	select {
	case p := <-fresh.C:
		if p.Action != signal.ActionShow {
			t.Fatalf("got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("fresh receiver never got the payload")
	}
}

func TestCloseDetaches(t *testing.T) {
	bus := signal.NewBus()

	r := bus.Attach("panel:ctx-2")
	r.Close()

	// Send after close is a silent drop.
	bus.Send(context.Background(), "panel:ctx-2", signal.Payload{Action: signal.ActionShow})

	if _, ok := <-r.C; ok {
		t.Fatal("closed receiver still open")
	}
}

func TestCloseAfterDisplacementIsSafe(t *testing.T) {
	bus := signal.NewBus()

	old := bus.Attach("panel:ctx-3")
	fresh := bus.Attach("panel:ctx-3")

	// Closing a displaced handle must not touch the current receiver.
	old.Close()

	bus.Send(context.Background(), "panel:ctx-3", signal.Payload{Action: signal.ActionShow})
	select {
	case p := <-fresh.C:
		if p.Action != signal.ActionShow {
			t.Fatalf("got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("current receiver was detached by a stale Close")
	}
}
