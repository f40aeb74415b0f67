package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	bbox  BoundingBox
	found bool
	err   error
}

func (f fakeDetector) Detect(ColorFrame) (BoundingBox, bool, error) {
	return f.bbox, f.found, f.err
}

type flatDepth struct{ raw uint16 }

func (f flatDepth) ValueAt(x, y int) (uint16, bool) { return f.raw, true }

type varyingDepth struct{ base uint16 }

func (v varyingDepth) ValueAt(x, y int) (uint16, bool) {
	// Alternate between base-d and base+d so the stddev is nonzero but
	// the mean stays pinned at base.
	if (x+y)%2 == 0 {
		return v.base - 50, true
	}
	return v.base + 50, true
}

func thresholds() Thresholds {
	return Thresholds{DistanceMinM: 0.25, DistanceMaxM: 1.20, DepthVarianceMinM: 0.015, MinValidPoints: 100}
}

func bigBBox() BoundingBox {
	return BoundingBox{X0: 0, Y0: 0, X1: 20, Y1: 20} // 400 points
}

func TestEvaluateNoFace(t *testing.T) {
	res := Evaluate(ColorFrame{}, flatDepth{raw: 1000}, 0.001, thresholds(), fakeDetector{found: false}, time.Now())
	assert.Equal(t, VerdictNoFace, res.Verdict)
	assert.False(t, res.FaceDetected)
	assert.Nil(t, res.BBox)
}

func TestEvaluateInsufficientDepth(t *testing.T) {
	small := BoundingBox{X0: 0, Y0: 0, X1: 5, Y1: 5} // 25 points < 100
	res := Evaluate(ColorFrame{}, flatDepth{raw: 1000}, 0.001, thresholds(), fakeDetector{bbox: small, found: true}, time.Now())
	assert.Equal(t, VerdictInsufficientDepth, res.Verdict)
}

func TestEvaluateTooClose(t *testing.T) {
	res := Evaluate(ColorFrame{}, varyingDepth{base: 100}, 0.001, thresholds(), fakeDetector{bbox: bigBBox(), found: true}, time.Now())
	assert.Equal(t, VerdictTooClose, res.Verdict)
}

func TestEvaluateTooFar(t *testing.T) {
	res := Evaluate(ColorFrame{}, varyingDepth{base: 2000}, 0.001, thresholds(), fakeDetector{bbox: bigBBox(), found: true}, time.Now())
	assert.Equal(t, VerdictTooFar, res.Verdict)
}

func TestEvaluateFlatSurface(t *testing.T) {
	res := Evaluate(ColorFrame{}, flatDepth{raw: 650}, 0.001, thresholds(), fakeDetector{bbox: bigBBox(), found: true}, time.Now())
	assert.Equal(t, VerdictFlatSurface, res.Verdict)
	assert.InDelta(t, 0, res.StdDevM, 1e-9)
}

func TestEvaluateLive(t *testing.T) {
	res := Evaluate(ColorFrame{}, varyingDepth{base: 650}, 0.001, thresholds(), fakeDetector{bbox: bigBBox(), found: true}, time.Now())
	require.Equal(t, VerdictLive, res.Verdict)
	assert.InDelta(t, 0.65, res.MeanDepthM, 0.01)
	assert.Greater(t, res.StdDevM, 0.015)
}

// Boundary: depth stddev exactly at depth_variance_min_m is inclusive (live).
func TestEvaluateBoundaryStdDevInclusive(t *testing.T) {
	b := BoundingBox{X0: 0, Y0: 0, X1: 2, Y1: 1} // two points, values 0.635 and 0.665 -> stddev 0.015
	det := fakeDetector{bbox: b, found: true}
	depth := exactBoundaryDepth{}
	thr := thresholds()
	thr.MinValidPoints = 2 // the bbox holds only two points
	res := Evaluate(ColorFrame{}, depth, 0.001, thr, det, time.Now())
	require.Equal(t, VerdictLive, res.Verdict)
}

type exactBoundaryDepth struct{}

func (exactBoundaryDepth) ValueAt(x, y int) (uint16, bool) {
	if x == 0 {
		return 635, true
	}
	return 665, true
}
