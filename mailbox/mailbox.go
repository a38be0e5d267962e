// Package mailbox implements the durable, atomic, per-key store the
// pagerelay components coordinate through. Every cross-component
// handoff that has to survive a receiver not being loaded yet passes
// through here; the signal bus is only a best-effort fast path on top.
//
// Keys follow a fixed scheme:
//
//	entity:<contextId>  latest snapshot for a context (replace-only)
//	entity:current      most recent snapshot across all contexts
//	intent:<contextId>  pending user intent for a context (at most one)
//
// Every operation is atomic on its single key. There are no multi-key
// transactions and none are needed: writes are linearizable per key
// (last write wins) and the trigger protocol is designed to be correct
// under arbitrary interleavings of store visibility and signal arrival.
package mailbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/pagerelay/entity"
)

// Schema for the mailbox table. Applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS mailbox (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// CurrentKey is the slot holding the most recent snapshot across all
// contexts.
const CurrentKey = "entity:current"

func snapshotKey(contextID string) string { return "entity:" + contextID }
func intentKey(contextID string) string   { return "intent:" + contextID }

// Box is the mailbox handle. Safe for concurrent use; SQLite serializes
// the per-key writes.
type Box struct {
	db *sql.DB
}

// New wraps an already-opened database. The schema must have been
// applied (Open does both).
func New(db *sql.DB) *Box {
	return &Box{db: db}
}

// PutSnapshot stores snap under entity:<contextID> and updates the
// entity:current slot. Last write wins; the previous snapshot for the
// context is fully superseded.
func (b *Box) PutSnapshot(ctx context.Context, contextID string, snap *entity.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("mailbox: marshal snapshot: %w", err)
	}
	for _, key := range []string{snapshotKey(contextID), CurrentKey} {
		if err := b.put(ctx, key, data, snap.CapturedAt); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the latest snapshot for a context, or nil when none
// has been captured.
func (b *Box) Snapshot(ctx context.Context, contextID string) (*entity.Snapshot, error) {
	return b.getSnapshot(ctx, snapshotKey(contextID))
}

// Current returns the most recent snapshot across all contexts, or nil.
func (b *Box) Current(ctx context.Context) (*entity.Snapshot, error) {
	return b.getSnapshot(ctx, CurrentKey)
}

// PutIntent records a pending intent under intent:<targetContextId>.
// Replace semantics: at most one intent exists per context, and a new
// intent overwrites any prior one.
func (b *Box) PutIntent(ctx context.Context, in *entity.Intent) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("mailbox: marshal intent: %w", err)
	}
	return b.put(ctx, intentKey(in.TargetContextID), data, in.IssuedAt)
}

// Intent reads the pending intent for a context without consuming it.
// Returns nil when none is pending.
func (b *Box) Intent(ctx context.Context, contextID string) (*entity.Intent, error) {
	data, err := b.get(ctx, intentKey(contextID))
	if err != nil || data == nil {
		return nil, err
	}
	var in entity.Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("mailbox: unmarshal intent: %w", err)
	}
	return &in, nil
}

// TakeIntent atomically consumes the pending intent for a context: the
// row is deleted and returned in one statement, so at most one caller
// ever observes a given intent. This is the single-use token behind the
// presenter's at-most-once guarantee — both the live-push path and the
// reconciliation path call TakeIntent, and only one of them can win.
// Returns nil when no intent is pending.
func (b *Box) TakeIntent(ctx context.Context, contextID string) (*entity.Intent, error) {
	row := b.db.QueryRowContext(ctx,
		`DELETE FROM mailbox WHERE key = ? RETURNING value`, intentKey(contextID))

	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mailbox: take intent: %w", err)
	}
	var in entity.Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("mailbox: unmarshal intent: %w", err)
	}
	return &in, nil
}

// ClearIntent discards any pending intent for a context. Clearing a
// context with no intent is not an error.
func (b *Box) ClearIntent(ctx context.Context, contextID string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM mailbox WHERE key = ?`, intentKey(contextID))
	if err != nil {
		return fmt.Errorf("mailbox: clear intent: %w", err)
	}
	return nil
}

func (b *Box) put(ctx context.Context, key string, value []byte, at int64) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO mailbox (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, at)
	if err != nil {
		return fmt.Errorf("mailbox: put %s: %w", key, err)
	}
	return nil
}

func (b *Box) get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM mailbox WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mailbox: get %s: %w", key, err)
	}
	return data, nil
}

func (b *Box) getSnapshot(ctx context.Context, key string) (*entity.Snapshot, error) {
	data, err := b.get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	var snap entity.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("mailbox: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
