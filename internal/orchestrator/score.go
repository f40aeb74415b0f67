package orchestrator

import (
	"math"
	"time"

	"github.com/biokiosk/supervisor/internal/liveness"
)

// scorer tracks the temporal smoothing the orchestrator owns during
// HumanDetect (spec.md section 4.6): bbox-centroid stability and frame
// focus, neither of which liveness.Evaluate computes since it is a pure
// per-frame function with no state between calls.
type scorer struct {
	stabilityWeight    float64
	focusWeight        float64
	focusNormThreshold float64

	havePrev  bool
	prevX     float64
	prevY     float64
	prevAt    time.Time
	stability float64 // EWMA, [0,1]
}

func newScorer(stabilityWeight, focusWeight, focusNormThreshold float64) *scorer {
	return &scorer{
		stabilityWeight:    stabilityWeight,
		focusWeight:        focusWeight,
		focusNormThreshold: focusNormThreshold,
	}
}

// score folds r's bbox centroid into the running EWMA and returns the
// composite score for this frame: 0.7*stability + 0.3*focus_normalized
// (weights are configurable; these are the spec defaults).
func (s *scorer) score(r liveness.Result) (composite, stability, focus float64) {
	stability = s.updateStability(r)
	focus = focusNormalized(r.Color, s.focusNormThreshold)
	composite = s.stabilityWeight*stability + s.focusWeight*focus
	return composite, stability, focus
}

// updateStability is the exponentially-weighted inverse of bbox
// centroid motion, half-life 400ms, clamped to [0,1].
func (s *scorer) updateStability(r liveness.Result) float64 {
	if r.BBox == nil {
		return s.stability
	}
	cx := float64(r.BBox.X0+r.BBox.X1) / 2
	cy := float64(r.BBox.Y0+r.BBox.Y1) / 2

	if !s.havePrev {
		s.prevX, s.prevY, s.prevAt = cx, cy, r.Timestamp
		s.havePrev = true
		s.stability = 1
		return s.stability
	}

	dt := r.Timestamp.Sub(s.prevAt)
	dist := math.Hypot(cx-s.prevX, cy-s.prevY)
	instant := 1 / (1 + dist/10) // normalize pixel motion into (0,1]

	const halfLife = 400 * time.Millisecond
	alpha := 1 - math.Exp(-math.Ln2*float64(dt)/float64(halfLife))
	if alpha > 1 {
		alpha = 1
	}
	if alpha < 0 {
		alpha = 0
	}

	s.stability = clamp01(s.stability + alpha*(instant-s.stability))
	s.prevX, s.prevY, s.prevAt = cx, cy, r.Timestamp
	return s.stability
}

// focusNormalized is min(1, variance_of_laplacian(color)/threshold), a
// standard sharpness proxy: a blurred or flat image (a printed photo,
// a screen replay) has low second-derivative energy.
func focusNormalized(c liveness.ColorFrame, threshold float64) float64 {
	if threshold <= 0 || c.Width < 3 || c.Height < 3 {
		return 0
	}
	gray := toGrayscale(c)
	variance := laplacianVariance(gray, c.Width, c.Height)
	v := variance / threshold
	return clamp01(v)
}

func toGrayscale(c liveness.ColorFrame) []float64 {
	gray := make([]float64, c.Width*c.Height)
	for i := 0; i < c.Width*c.Height; i++ {
		off := i * 3
		if off+2 >= len(c.Pixels) {
			break
		}
		r := float64(c.Pixels[off])
		g := float64(c.Pixels[off+1])
		b := float64(c.Pixels[off+2])
		gray[i] = 0.299*r + 0.587*g + 0.114*b
	}
	return gray
}

// laplacianVariance applies the standard 4-neighbor discrete Laplacian
// kernel and returns the variance of the response across the interior
// pixels.
func laplacianVariance(gray []float64, w, h int) float64 {
	var responses []float64
	at := func(x, y int) float64 { return gray[y*w+x] }

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := -4*at(x, y) + at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)
			responses = append(responses, lap)
		}
	}
	if len(responses) == 0 {
		return 0
	}

	var sum float64
	for _, v := range responses {
		sum += v
	}
	mean := sum / float64(len(responses))

	var sq float64
	for _, v := range responses {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(responses))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
