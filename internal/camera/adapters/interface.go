// Package adapters abstracts the vendor depth-camera SDK behind a small
// capability interface so the camera service can run against a mock
// backend in tests and a real SDK in production (spec.md section 9,
// "Polymorphism across sensor backends"). Adapted from the teacher's
// NVR vendor-adapter registry (internal/nvr/adapters).
package adapters

import (
	"context"

	"github.com/biokiosk/supervisor/internal/liveness"
)

// FrameSet is one aligned depth+color frame pair pulled from the pipeline.
type FrameSet struct {
	Color      liveness.ColorFrame
	Depth      liveness.DepthFrame
	DepthScale float64 // raw depth unit -> meters
}

// Pipeline is the live handle to a started vendor SDK session. One
// Pipeline instance backs one CameraService activation.
type Pipeline interface {
	// NextFrame blocks until the next aligned frame pair is available or
	// the context is cancelled/times out (spec.md section 4.2 step 1:
	// 1s timeout per iteration).
	NextFrame(ctx context.Context) (FrameSet, error)
	// Close releases depth/color buffers and stops the vendor session.
	Close() error
}

// Resolution is the requested color/depth frame size.
type Resolution struct {
	Width, Height int
}

// Backend starts a new Pipeline for the configured hardware. Exactly one
// Backend is selected at process construction (spec.md section 9).
type Backend interface {
	Start(ctx context.Context, res Resolution, fps int) (Pipeline, error)
	Name() string
}

// Factory constructs a Backend, mirroring the teacher's adapters.Factory
// vendor-registration pattern.
type Factory func() (Backend, error)

var registry = map[string]Factory{}

// Register adds a backend factory under a name (e.g. "mock", "realsense").
func Register(name string, f Factory) {
	registry[name] = f
}

// Get constructs the named backend. Falls back to "mock" if name is
// empty, matching the teacher's deterministic-fallback convention for
// an unrecognized/unset vendor.
func Get(name string) (Backend, error) {
	if name == "" {
		name = "mock"
	}
	f, ok := registry[name]
	if !ok {
		f, ok = registry["mock"]
		if !ok {
			return nil, &UnknownBackendError{Name: name}
		}
	}
	return f()
}

type UnknownBackendError struct{ Name string }

func (e *UnknownBackendError) Error() string {
	return "camera: unknown backend '" + e.Name + "' and no mock fallback registered"
}
