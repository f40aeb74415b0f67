package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biokiosk/supervisor/internal/events"
	"github.com/biokiosk/supervisor/internal/phase"
)

type fakeConn struct {
	mu        sync.Mutex
	failUntil int // Publish fails on calls 1..failUntil, succeeds after
	calls     int
	published []string
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return errors.New("fakeConn: simulated publish failure")
	}
	f.published = append(f.published, subj)
	return nil
}

func TestPublishSucceedsOnFirstAttempt(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "kiosk.events.k1", "k1", 3)

	err := p.Publish(phase.Event{Type: "state", Phase: phase.Idle})
	require.NoError(t, err)
	require.Equal(t, 1, conn.calls)
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	conn := &fakeConn{failUntil: 2}
	p := newPublisher(conn, "kiosk.events.k1", "k1", 3)

	err := p.Publish(phase.Event{Type: "state", Phase: phase.Idle})
	require.NoError(t, err)
	require.Equal(t, 3, conn.calls)
}

func TestPublishFailsAfterExhaustingRetries(t *testing.T) {
	conn := &fakeConn{failUntil: 10}
	p := newPublisher(conn, "kiosk.events.k1", "k1", 2)

	err := p.Publish(phase.Event{Type: "state", Phase: phase.Idle})
	require.Error(t, err)
	require.Equal(t, 3, conn.calls) // initial attempt + 2 retries
}

func TestPublishWrapsEventInEnvelope(t *testing.T) {
	conn := &fakeConn{}
	var captured []byte
	spy := publishFunc(func(subj string, data []byte) error {
		captured = data
		return conn.Publish(subj, data)
	})
	p := newPublisher(spy, "kiosk.events.k1", "kiosk-7", 0)

	require.NoError(t, p.Publish(phase.Event{Type: "state", Phase: phase.Complete}))

	var env Envelope
	require.NoError(t, json.Unmarshal(captured, &env))
	require.Equal(t, "kiosk-7", env.KioskID)
	require.Equal(t, phase.Complete, env.Event.Phase)
}

type publishFunc func(subj string, data []byte) error

func (f publishFunc) Publish(subj string, data []byte) error { return f(subj, data) }

func TestRunRepublishesUntilContextCancelled(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "kiosk.events.k1", "k1", 1)
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, bus)
		close(done)
	}()

	bus.Publish(phase.Event{Type: "state", Phase: phase.HelloHuman})

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.published) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
