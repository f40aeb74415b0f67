package camera

import (
	"context"
	"testing"
	"time"

	"github.com/biokiosk/supervisor/internal/broadcast"
	"github.com/biokiosk/supervisor/internal/camera/adapters"
	"github.com/biokiosk/supervisor/internal/liveness"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Resolution:       adapters.Resolution{Width: 64, Height: 48},
		FPS:              30,
		PreviewFrameSkip: 4,
		Thresholds: liveness.Thresholds{
			DistanceMinM: 0.25, DistanceMaxM: 1.20, DepthVarianceMinM: 0.015, MinValidPoints: 1,
		},
	}
}

func newTestService(t *testing.T) *Service {
	backend, err := adapters.Get("mock")
	require.NoError(t, err)
	hub := broadcast.NewHub()
	return NewService(backend, adapters.NewMockFaceDetector(), hub, testConfig())
}

func TestAcquireReleaseIdempotentRefCount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "validation"))
	require.NoError(t, svc.Acquire(ctx, "validation"))
	require.True(t, svc.Running())

	svc.Release("validation")
	require.True(t, svc.Running(), "still held by the second acquire")

	svc.Release("validation")
	require.False(t, svc.Running())
}

func TestAcquireMultipleTagsShareOnePipeline(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Acquire(ctx, "validation"))
	require.NoError(t, svc.Acquire(ctx, "preview"))
	require.True(t, svc.Running())

	svc.Release("preview")
	require.True(t, svc.Running())
	svc.Release("validation")
	require.False(t, svc.Running())
}

func TestReleaseWithoutAcquireIsSafe(t *testing.T) {
	svc := newTestService(t)
	require.NotPanics(t, func() { svc.Release("validation") })
	require.False(t, svc.Running())
}

func TestProcessingLoopPublishesResults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	hub := svc.hub
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	require.NoError(t, svc.Acquire(ctx, "validation"))
	defer svc.Release("validation")

	select {
	case <-sub.Result:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one liveness result while pipeline running")
	}
}
