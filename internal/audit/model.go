// Package audit durably records capture-session lifecycle events
// (spec_full.md section 3, "Postgres capture ledger"): one row per
// session per terminal outcome, written with the same DB-write-then
// spool-on-failure pattern the teacher uses for its audit log, adapted
// from a multi-tenant user-action log to a single-device session
// ledger.
package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one row of the capture ledger: a session reaching a
// terminal phase, or an intermediate milestone worth keeping for audit
// (token issued, upload acknowledged).
type Event struct {
	ID         uuid.UUID       `json:"id"`
	EventID    uuid.UUID       `json:"event_id"` // idempotency key
	SessionID  string          `json:"session_id"`
	PlatformID string          `json:"platform_id"`
	Action     string          `json:"action"` // e.g. "pairing_issued", "capture_complete", "capture_error"
	Result     string          `json:"result"` // success/failure
	ReasonCode string          `json:"reason_code,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FailoverEvent wraps an Event for JSONL spooling when the database is
// unreachable.
type FailoverEvent struct {
	EventID   string    `json:"event_id"`
	Payload   Event     `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type Filter struct {
	PlatformID string
	Result     string
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Cursor     string
}

type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}
