package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
)

func (s *Service) WriteEvent(ctx context.Context, evt Event) error {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}

	query := `
		INSERT INTO capture_ledger (
			event_id, session_id, platform_id, action, result, reason_code, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.DB.ExecContext(ctx, query,
		evt.EventID, evt.SessionID, evt.PlatformID, evt.Action, evt.Result, evt.ReasonCode, evt.Metadata, evt.CreatedAt,
	)

	if err != nil {
		log.Printf("[audit] ledger write failed: %v, spooling event %s", err, evt.EventID)
		if spoolErr := SpoolEvent(evt); spoolErr != nil {
			log.Printf("[audit] CRITICAL: spool also failed for event %s: %v", evt.EventID, spoolErr)
			return fmt.Errorf("audit critical failure: %w", spoolErr)
		}
		return nil
	}

	return nil
}

// Append-only: no Update or Delete is exposed.

func (s *Service) QueryEvents(ctx context.Context, f Filter) ([]Event, string, error) {
	q := `SELECT id, event_id, session_id, platform_id, action, result, created_at, metadata
	      FROM capture_ledger
	      WHERE platform_id = $1`
	args := []interface{}{f.PlatformID}
	idx := 2

	if f.Result != "" {
		q += fmt.Sprintf(" AND result = $%d", idx)
		args = append(args, f.Result)
		idx++
	}
	if f.Cursor != "" {
		q += fmt.Sprintf(" AND id < $%d", idx)
		args = append(args, f.Cursor)
		idx++
	}

	q += " ORDER BY created_at DESC, id DESC LIMIT " + fmt.Sprintf("$%d", idx)
	args = append(args, f.Limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var events []Event
	var lastID string

	for rows.Next() {
		var evt Event
		var meta []byte
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.SessionID, &evt.PlatformID, &evt.Action, &evt.Result, &evt.CreatedAt, &meta); err != nil {
			return nil, "", err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &evt.Metadata)
		}
		events = append(events, evt)
		lastID = evt.ID.String()
	}

	return events, lastID, nil
}
