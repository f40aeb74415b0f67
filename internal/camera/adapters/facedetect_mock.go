package adapters

import (
	"sync/atomic"

	"github.com/biokiosk/supervisor/internal/liveness"
)

// MockFaceDetector stands in for the vendor face-landmark model
// (out of scope per spec.md section 1) so the liveness pipeline is
// exercisable without real hardware.
type MockFaceDetector struct {
	calls int64
}

func NewMockFaceDetector() *MockFaceDetector { return &MockFaceDetector{} }

func (d *MockFaceDetector) Detect(color liveness.ColorFrame) (liveness.BoundingBox, bool, error) {
	n := atomic.AddInt64(&d.calls, 1)
	if n%37 == 0 {
		return liveness.BoundingBox{}, false, nil
	}
	w, h := color.Width, color.Height
	if w == 0 || h == 0 {
		w, h = 640, 480
	}
	return liveness.BoundingBox{
		X0: w / 4, Y0: h / 4, X1: w * 3 / 4, Y1: h * 3 / 4,
	}, true, nil
}
