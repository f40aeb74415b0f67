// Package fleet publishes ControllerEvents to a NATS subject so a
// fleet-monitoring service can watch many kiosks without polling each
// one's admin API (spec_full.md section 3, "fleet telemetry"). Adapted
// from the teacher's internal/nvr.NATSPublisher retry-with-backoff
// convention, subscribed here to the events bus instead of an NVR
// event stream.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/biokiosk/supervisor/internal/events"
	"github.com/biokiosk/supervisor/internal/phase"
)

// Envelope is one wire message published per phase.Event, tagged with
// the originating kiosk so the fleet side can key by device.
type Envelope struct {
	KioskID string      `json:"kiosk_id"`
	Event   phase.Event `json:"event"`
}

// publisher is the subset of *nats.Conn this package needs, narrowed to
// an interface so Publish's retry logic can be unit-tested without a
// running NATS server.
type publisher interface {
	Publish(subj string, data []byte) error
}

type Publisher struct {
	conn       publisher
	subject    string
	kioskID    string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, subject, kioskID string, maxRetries int) *Publisher {
	return newPublisher(conn, subject, kioskID, maxRetries)
}

func newPublisher(conn publisher, subject, kioskID string, maxRetries int) *Publisher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Publisher{conn: conn, subject: subject, kioskID: kioskID, maxRetries: maxRetries}
}

// Publish marshals and sends one event, retrying with linear backoff.
// A final failure is returned as an error; Run logs it and moves on to
// the next event, so fleet telemetry never holds up the session the
// event describes.
func (p *Publisher) Publish(e phase.Event) error {
	data, err := json.Marshal(Envelope{KioskID: p.kioskID, Event: e})
	if err != nil {
		return fmt.Errorf("fleet: marshal: %w", err)
	}

	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		if lastErr = p.conn.Publish(p.subject, data); lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("fleet: publish failed after %d retries: %w", p.maxRetries, lastErr)
}

// Run subscribes to bus and republishes every event until ctx is
// cancelled. One subscriber per Publisher; unsubscribes on exit.
func (p *Publisher) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-sub.Events:
			if err := p.Publish(e); err != nil {
				log.Printf("[fleet] %v", err)
			}
		}
	}
}
