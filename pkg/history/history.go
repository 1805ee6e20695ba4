// Package history defines durable storage for finalized conversation turns.
//
// The session pipeline keeps its working transcript in memory; a Store is
// the write-behind archive consulted when a session reconnects or for
// offline analysis. Only finalized turns are written — a turn that failed
// mid-pipeline never reaches the Store.
package history

import (
	"context"
	"time"
)

// Record is one persisted turn.
type Record struct {
	SessionID     string
	Turn          uint64
	UserText      string
	AssistantText string
	// Degraded marks turns that completed without audio or with the canned
	// fallback reply.
	Degraded  bool
	Mood      string
	CreatedAt time.Time
}

// Store persists finalized turns. Implementations must be safe for
// concurrent use; the registry shares one Store across all sessions.
type Store interface {
	// AppendTurn writes rec. Records for one session arrive in strictly
	// increasing Turn order; implementations may rely on that.
	AppendTurn(ctx context.Context, rec Record) error

	// RecentTurns returns up to limit most recent records for sessionID,
	// ordered oldest first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Record, error)

	// Close releases held resources.
	Close()
}
