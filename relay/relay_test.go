package relay_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagerelay/entity"
	"github.com/hazyhaar/pagerelay/mailbox"
	"github.com/hazyhaar/pagerelay/relay"
	"github.com/hazyhaar/pagerelay/signal"
)

func testSnapshot(contextID string) *entity.Snapshot {
	return &entity.Snapshot{
		SubjectID:  "subj-" + contextID,
		Name:       "Widget",
		Price:      &entity.Price{Amount: 9.99, Currency: "USD"},
		Platform:   entity.PlatformGeneric,
		SourceURL:  "https://example.com/" + contextID,
		CapturedAt: entity.Now(),
	}
}

// fakeExtractor answers extract signals the way the extract agent does:
// store first, then notify the relay.
func fakeExtractor(ctx context.Context, t *testing.T, box *mailbox.Box, bus *signal.Bus, contextID string) {
	t.Helper()
	recv := bus.Attach(signal.ExtractorReceiver(contextID))
	go func() {
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
				snap := testSnapshot(contextID)
				if err := box.PutSnapshot(ctx, contextID, snap); err != nil {
					t.Errorf("PutSnapshot: %v", err)
					return
				}
				bus.Send(ctx, signal.ReceiverRelay, signal.Payload{
					Action:          signal.ActionCaptured,
					TargetContextID: contextID,
					Snapshot:        snap,
				})
			}
		}
	}()
}

func waitFor(t *testing.T, c <-chan signal.Payload, action string) signal.Payload {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-c:
			if !ok {
				t.Fatalf("panel channel closed while waiting for %q", action)
			}
			if p.Action == action {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", action)
		}
	}
}

func TestIntentConvergesWithExtractor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	box := mailbox.OpenMemory(t)
	bus := signal.NewBus()
	r := relay.New(relay.Config{PollAttempts: 10, PollInterval: 20 * time.Millisecond}, box, bus, nil)
	go r.Run(ctx)

	panel := bus.Attach(signal.PanelReceiver("tab-1"))
	defer panel.Close()
	fakeExtractor(ctx, t, box, bus, "tab-1")

	r.OnUserIntent(ctx, "tab-1")

	waitFor(t, panel.C, signal.ActionShow)
	trig := waitFor(t, panel.C, signal.ActionTrigger)
	if trig.Snapshot == nil {
		t.Fatal("trigger arrived without a snapshot")
	}
	if trig.Snapshot.SubjectID != "subj-tab-1" {
		t.Errorf("trigger snapshot subject = %q", trig.Snapshot.SubjectID)
	}

	in, err := box.Intent(ctx, "tab-1")
	if err != nil {
		t.Fatalf("Intent: %v", err)
	}
	if in == nil || in.Kind != entity.KindTriggerAnalysis {
		t.Fatalf("stored intent = %+v, want trigger_analysis", in)
	}
}

func TestIntentExhaustsWithoutExtractor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	box := mailbox.OpenMemory(t)
	bus := signal.NewBus()
	r := relay.New(relay.Config{PollAttempts: 2, PollInterval: 10 * time.Millisecond}, box, bus, nil)
	go r.Run(ctx)

	panel := bus.Attach(signal.PanelReceiver("tab-2"))
	defer panel.Close()

	r.OnUserIntent(ctx, "tab-2")

	trig := waitFor(t, panel.C, signal.ActionTrigger)
	if trig.Snapshot != nil {
		t.Errorf("exhausted trigger carried a snapshot: %+v", trig.Snapshot)
	}

	// The intent is durable even though no snapshot ever arrived.
	in, err := box.Intent(ctx, "tab-2")
	if err != nil {
		t.Fatalf("Intent: %v", err)
	}
	if in == nil {
		t.Fatal("intent missing after exhaustion")
	}
	snap, err := box.Snapshot(ctx, "tab-2")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap != nil {
		t.Errorf("unexpected snapshot stored: %+v", snap)
	}
}

func TestFreshSnapshotSkipsExtraction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	box := mailbox.OpenMemory(t)
	bus := signal.NewBus()
	r := relay.New(relay.Config{PollAttempts: 2, PollInterval: time.Hour, Staleness: time.Minute}, box, bus, nil)
	go r.Run(ctx)

	snap := testSnapshot("tab-3")
	if err := box.PutSnapshot(ctx, "tab-3", snap); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}

	// No extractor attached. With an hour-long poll interval the trigger
	// can only arrive promptly if the stored snapshot short-circuits
	// the wait.
	panel := bus.Attach(signal.PanelReceiver("tab-3"))
	defer panel.Close()
	extractAsked := bus.Attach(signal.ExtractorReceiver("tab-3"))
	defer extractAsked.Close()

	r.OnUserIntent(ctx, "tab-3")

	trig := waitFor(t, panel.C, signal.ActionTrigger)
	if trig.Snapshot == nil || trig.Snapshot.SubjectID != snap.SubjectID {
		t.Fatalf("trigger snapshot = %+v, want stored snapshot", trig.Snapshot)
	}
	select {
	case p := <-extractAsked.C:
		t.Errorf("extractor was asked to re-capture a fresh snapshot: %+v", p)
	default:
	}
}

func TestOnUserIntentDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	box := mailbox.OpenMemory(t)
	bus := signal.NewBus()
	r := relay.New(relay.Config{PollAttempts: 5, PollInterval: time.Hour}, box, bus, nil)

	start := time.Now()
	r.OnUserIntent(ctx, "tab-4")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("OnUserIntent blocked for %v", elapsed)
	}
}
