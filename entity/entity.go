// Package entity defines the data model shared across the pagerelay
// components: the captured Snapshot of a page's subject entity and the
// Intent record representing a user command awaiting fulfilment.
//
// Both types cross process boundaries only through the mailbox or the
// signal bus, serialized as JSON with the field names below.
package entity

import "time"

// Platform identifies the hosting site family a snapshot came from.
type Platform string

const (
	PlatformAmazon  Platform = "amazon"
	PlatformEBay    Platform = "ebay"
	PlatformShopify Platform = "shopify"
	PlatformWalmart Platform = "walmart"
	PlatformGeneric Platform = "generic"
)

// Price is an amount with its resolved currency code. Amount is never
// negative; Currency is always one of the codes extract.ResolveCurrency
// can return.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Snapshot is a captured representation of a page's subject entity.
// Replace-only: a new Snapshot for a context fully supersedes the old
// one — partial updates are not permitted anywhere in the system.
type Snapshot struct {
	SubjectID  string            `json:"subjectId"`
	Name       string            `json:"name"`
	Price      *Price            `json:"price,omitempty"`
	Platform   Platform          `json:"platform"`
	SourceURL  string            `json:"sourceUrl"`
	CapturedAt int64             `json:"capturedAt"` // epoch milliseconds
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Equivalent reports whether two snapshots are equal in every field
// except CapturedAt. Two extractions of an unchanged page must be
// Equivalent.
func (s *Snapshot) Equivalent(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.SubjectID != o.SubjectID || s.Name != o.Name ||
		s.Platform != o.Platform || s.SourceURL != o.SourceURL {
		return false
	}
	if (s.Price == nil) != (o.Price == nil) {
		return false
	}
	if s.Price != nil && (s.Price.Amount != o.Price.Amount || s.Price.Currency != o.Price.Currency) {
		return false
	}
	if len(s.Attributes) != len(o.Attributes) {
		return false
	}
	for k, v := range s.Attributes {
		if o.Attributes[k] != v {
			return false
		}
	}
	return true
}

// IntentKind is the command a stored Intent carries. Only one kind
// exists today.
type IntentKind string

// KindTriggerAnalysis asks the presenter to run the downstream analysis
// on the context's snapshot.
const KindTriggerAnalysis IntentKind = "trigger_analysis"

// Intent is a recorded user command awaiting fulfilment. It lives in
// the mailbox under intent:<contextId> until some presenter instance
// consumes it (exactly once) or it is replaced by a newer intent for
// the same context.
type Intent struct {
	ID              string     `json:"id"`
	Kind            IntentKind `json:"kind"`
	TargetContextID string     `json:"targetContextId"`
	IssuedAt        int64      `json:"issuedAt"` // epoch milliseconds
}

// Now returns the current time as epoch milliseconds, the timestamp
// convention used throughout the mailbox.
func Now() int64 {
	return time.Now().UnixMilli()
}
