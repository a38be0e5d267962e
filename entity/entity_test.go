package entity

import (
	"encoding/json"
	"testing"
)

func baseSnapshot() *Snapshot {
	return &Snapshot{
		SubjectID:  "B00X",
		Name:       "Widget",
		Price:      &Price{Amount: 19.99, Currency: "USD"},
		Platform:   PlatformAmazon,
		SourceURL:  "https://amazon.com/dp/B00X",
		CapturedAt: 1000,
		Attributes: map[string]string{"brand": "Acme"},
	}
}

func TestEquivalentIgnoresCapturedAt(t *testing.T) {
	a := baseSnapshot()
	b := baseSnapshot()
	b.CapturedAt = 2000

	if !a.Equivalent(b) {
		t.Error("snapshots differing only in CapturedAt must be equivalent")
	}
}

func TestEquivalentDetectsChanges(t *testing.T) {
	mutations := map[string]func(*Snapshot){
		"name":       func(s *Snapshot) { s.Name = "Other" },
		"price":      func(s *Snapshot) { s.Price.Amount = 29.99 },
		"currency":   func(s *Snapshot) { s.Price.Currency = "EUR" },
		"nil price":  func(s *Snapshot) { s.Price = nil },
		"platform":   func(s *Snapshot) { s.Platform = PlatformGeneric },
		"url":        func(s *Snapshot) { s.SourceURL = "https://elsewhere" },
		"attr value": func(s *Snapshot) { s.Attributes["brand"] = "Other" },
		"attr added": func(s *Snapshot) { s.Attributes["color"] = "red" },
	}
	for name, mutate := range mutations {
		b := baseSnapshot()
		mutate(b)
		if baseSnapshot().Equivalent(b) {
			t.Errorf("%s change not detected", name)
		}
	}
}

func TestEquivalentNil(t *testing.T) {
	var nilSnap *Snapshot
	if !nilSnap.Equivalent(nil) {
		t.Error("nil must be equivalent to nil")
	}
	if nilSnap.Equivalent(baseSnapshot()) || baseSnapshot().Equivalent(nilSnap) {
		t.Error("nil must not be equivalent to a populated snapshot")
	}
}

func TestSnapshotWireNames(t *testing.T) {
	data, err := json.Marshal(baseSnapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"subjectId", "name", "price", "platform", "sourceUrl", "capturedAt", "attributes"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire form missing %q: %s", key, data)
		}
	}
}

func TestIntentWireNames(t *testing.T) {
	data, err := json.Marshal(&Intent{
		ID:              "int_1",
		Kind:            KindTriggerAnalysis,
		TargetContextID: "tab-1",
		IssuedAt:        1000,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "kind", "targetContextId", "issuedAt"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire form missing %q: %s", key, data)
		}
	}
	if m["kind"] != "trigger_analysis" {
		t.Errorf("kind = %v", m["kind"])
	}
}
