// Package data owns the Postgres connection lifecycle for the capture
// ledger and wraps internal/audit with capture-specific helper calls.
// Grounded on the teacher's now-removed internal/data Postgres
// bootstrap, simplified from a multi-tenant schema to the single
// capture_ledger table.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/biokiosk/supervisor/internal/audit"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("data: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("data: ping: %w", err)
	}
	return db, nil
}

// CaptureRepository adapts internal/audit's generic event ledger to the
// handful of capture-lifecycle actions the orchestrator emits.
type CaptureRepository struct {
	audit *audit.Service
}

func NewCaptureRepository(db *sql.DB) *CaptureRepository {
	return &CaptureRepository{audit: audit.NewService(db)}
}

func (r *CaptureRepository) RecordPairingIssued(ctx context.Context, sessionID, platformID string) error {
	return r.audit.WriteEvent(ctx, audit.Event{
		SessionID:  sessionID,
		PlatformID: platformID,
		Action:     "pairing_issued",
		Result:     "success",
		CreatedAt:  time.Now(),
	})
}

func (r *CaptureRepository) RecordCaptureComplete(ctx context.Context, sessionID, platformID string, bestScore float64) error {
	meta, _ := json.Marshal(map[string]float64{"best_score": bestScore})
	return r.audit.WriteEvent(ctx, audit.Event{
		SessionID:  sessionID,
		PlatformID: platformID,
		Action:     "capture_complete",
		Result:     "success",
		Metadata:   meta,
		CreatedAt:  time.Now(),
	})
}

func (r *CaptureRepository) RecordCaptureError(ctx context.Context, sessionID, platformID, reasonCode string) error {
	return r.audit.WriteEvent(ctx, audit.Event{
		SessionID:  sessionID,
		PlatformID: platformID,
		Action:     "capture_error",
		Result:     "failure",
		ReasonCode: reasonCode,
		CreatedAt:  time.Now(),
	})
}

func (r *CaptureRepository) StartFailoverReplay(ctx context.Context) {
	r.audit.StartReplayer(ctx)
}

func (r *CaptureRepository) RecentForPlatform(ctx context.Context, platformID string, limit int) ([]audit.Event, error) {
	events, _, err := r.audit.QueryEvents(ctx, audit.Filter{PlatformID: platformID, Limit: limit})
	return events, err
}
