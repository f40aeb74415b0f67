package adapters

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/biokiosk/supervisor/internal/liveness"
)

func init() {
	Register("mock", func() (Backend, error) { return &mockBackend{}, nil })
}

// mockBackend simulates a depth+color pipeline for bench testing and
// CI, standing in for the vendor SDK the way internal/nvr's
// "rtsp_fallback" adapter stood in for an unrecognized NVR vendor.
type mockBackend struct{}

func (mockBackend) Name() string { return "mock" }

func (mockBackend) Start(ctx context.Context, res Resolution, fps int) (Pipeline, error) {
	return &mockPipeline{res: res, fps: fps, start: time.Now()}, nil
}

type mockPipeline struct {
	res     Resolution
	fps     int
	start   time.Time
	frameNo int64
	closed  int32
}

func (p *mockPipeline) NextFrame(ctx context.Context) (FrameSet, error) {
	if atomic.LoadInt32(&p.closed) != 0 {
		return FrameSet{}, ErrPipelineClosed
	}

	interval := time.Second / time.Duration(max(p.fps, 1))
	select {
	case <-ctx.Done():
		return FrameSet{}, ctx.Err()
	case <-time.After(interval):
	}

	n := atomic.AddInt64(&p.frameNo, 1)
	color := liveness.ColorFrame{
		Width:  p.res.Width,
		Height: p.res.Height,
		Pixels: make([]byte, p.res.Width*p.res.Height*3),
	}
	// A mild oscillation keeps mean depth and face presence exercising
	// every liveness branch across a run without external input.
	base := uint16(650 + int(80*math.Sin(float64(n)/10)))
	return FrameSet{
		Color:      color,
		Depth:      mockDepthFrame{base: base, present: n%37 != 0},
		DepthScale: 0.001,
	}, nil
}

func (p *mockPipeline) Close() error {
	atomic.StoreInt32(&p.closed, 1)
	return nil
}

type mockDepthFrame struct {
	base    uint16
	present bool
}

func (f mockDepthFrame) ValueAt(x, y int) (uint16, bool) {
	if !f.present {
		return 0, false
	}
	// Alternate slightly so stddev clears the flat_surface floor.
	if (x+y)%2 == 0 {
		return f.base - 20, true
	}
	return f.base + 20, true
}
