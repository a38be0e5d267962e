package mailbox_test

import (
	"context"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagerelay/entity"
	"github.com/hazyhaar/pagerelay/idgen"
	"github.com/hazyhaar/pagerelay/mailbox"
)

func snap(name string, at int64) *entity.Snapshot {
	return &entity.Snapshot{
		SubjectID:  "subj-1",
		Name:       name,
		Price:      &entity.Price{Amount: 1299, Currency: "HKD"},
		Platform:   entity.PlatformGeneric,
		SourceURL:  "https://www.example.com.hk/p/1",
		CapturedAt: at,
		Attributes: map[string]string{"brand": "Acme"},
	}
}

func intent(contextID string, at int64) *entity.Intent {
	return &entity.Intent{
		ID:              idgen.New(),
		Kind:            entity.KindTriggerAnalysis,
		TargetContextID: contextID,
		IssuedAt:        at,
	}
}

func TestPutSnapshotAndGet(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	if err := box.PutSnapshot(ctx, "ctx-7", snap("Widget", 100)); err != nil {
		t.Fatal(err)
	}

	got, err := box.Snapshot(ctx, "ctx-7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Widget" {
		t.Fatalf("got %+v, want snapshot named Widget", got)
	}
	if got.Price == nil || got.Price.Currency != "HKD" {
		t.Fatalf("price not round-tripped: %+v", got.Price)
	}
}

func TestSnapshotAbsent(t *testing.T) {
	box := mailbox.OpenMemory(t)

	got, err := box.Snapshot(context.Background(), "nowhere")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent context, got %+v", got)
	}
}

func TestPutSnapshotLastWriteWins(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	box.PutSnapshot(ctx, "ctx-7", snap("Old", 100))
	if err := box.PutSnapshot(ctx, "ctx-7", snap("New", 200)); err != nil {
		t.Fatal(err)
	}

	got, _ := box.Snapshot(ctx, "ctx-7")
	if got.Name != "New" {
		t.Fatalf("got %q, want New — replace-only semantics", got.Name)
	}
}

func TestCurrentTracksMostRecentAcrossContexts(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	box.PutSnapshot(ctx, "ctx-a", snap("First", 100))
	box.PutSnapshot(ctx, "ctx-b", snap("Second", 200))

	cur, err := box.Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cur == nil || cur.Name != "Second" {
		t.Fatalf("current = %+v, want most recent write (Second)", cur)
	}

	// Per-context slots are untouched by each other's writes.
	a, _ := box.Snapshot(ctx, "ctx-a")
	if a.Name != "First" {
		t.Fatalf("ctx-a = %q, want First", a.Name)
	}
}

func TestIntentReplaceSemantics(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	box.PutIntent(ctx, intent("ctx-7", 100))
	second := intent("ctx-7", 200)
	if err := box.PutIntent(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := box.Intent(ctx, "ctx-7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("got %+v, want the second intent — issuing replaces any prior one", got)
	}
}

func TestTakeIntentConsumesOnce(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	box.PutIntent(ctx, intent("ctx-7", 100))

	first, err := box.TakeIntent(ctx, "ctx-7")
	if err != nil {
		t.Fatal(err)
	}
	if first == nil {
		t.Fatal("expected the pending intent")
	}

	second, err := box.TakeIntent(ctx, "ctx-7")
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Fatalf("second take returned %+v, want nil — intent is a single-use token", second)
	}
}

func TestTakeIntentConcurrent(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	box.PutIntent(ctx, intent("ctx-7", 100))

	const callers = 8
	var wg sync.WaitGroup
	wins := make(chan *entity.Intent, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, err := box.TakeIntent(ctx, "ctx-7")
			if err != nil {
				t.Error(err)
				return
			}
			if in != nil {
				wins <- in
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("%d callers observed the intent, want exactly 1", n)
	}
}

func TestClearIntent(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	box.PutIntent(ctx, intent("ctx-9", 100))
	if err := box.ClearIntent(ctx, "ctx-9"); err != nil {
		t.Fatal(err)
	}

	got, _ := box.Intent(ctx, "ctx-9")
	if got != nil {
		t.Fatalf("intent still present after clear: %+v", got)
	}

	// Clearing an empty slot is not an error.
	if err := box.ClearIntent(ctx, "ctx-9"); err != nil {
		t.Fatal(err)
	}
}

func TestIntentDoesNotConsume(t *testing.T) {
	box := mailbox.OpenMemory(t)
	ctx := context.Background()

	box.PutIntent(ctx, intent("ctx-7", 100))

	box.Intent(ctx, "ctx-7")
	got, err := box.Intent(ctx, "ctx-7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("Intent must read without consuming")
	}
}
