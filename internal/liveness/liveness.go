// Package liveness implements the per-frame face-detection and
// 3D-depth liveness decision (spec.md section 4.3, component C3).
//
// Evaluate is a pure function: no state survives between calls. Any
// temporal smoothing (stability, composite score) is the orchestrator's
// concern, not this package's — see internal/orchestrator/score.go.
package liveness

import (
	"math"
	"time"
)

type Verdict string

const (
	VerdictLive                Verdict = "live"
	VerdictInsufficientDepth    Verdict = "insufficient_depth_data"
	VerdictTooClose             Verdict = "too_close"
	VerdictTooFar               Verdict = "too_far"
	VerdictFlatSurface          Verdict = "flat_surface"
	VerdictNoFace               Verdict = "no_face"
)

type BoundingBox struct {
	X0, Y0, X1, Y1 int
}

// ColorFrame is the decoded color buffer handed to the face detector.
// Ownership moves into the Result it produces (spec.md section 3).
type ColorFrame struct {
	Width, Height int
	Pixels        []byte // packed RGB, Width*Height*3
}

// DepthFrame is a borrowed handle into the vendor SDK's depth buffer;
// it must stay valid only for the Result's lifetime (spec.md section 3).
// Real implementations wrap the depth-camera SDK's frame object;
// ValueAt returns the raw depth unit at (x, y), which the caller
// multiplies by DepthScale to get meters.
type DepthFrame interface {
	ValueAt(x, y int) (raw uint16, ok bool)
}

// FaceDetector runs a single forward pass of the landmark model over a
// color frame and returns the tightest face bounding box, or ok=false
// if no face was found. No iris refinement (spec.md section 4.2 step 2).
type FaceDetector interface {
	Detect(color ColorFrame) (bbox BoundingBox, ok bool, err error)
}

// Thresholds are the explicit configuration values the algorithm
// compares against; spec.md's defaults are the only conformant
// defaults, but this package does not hardcode them.
type Thresholds struct {
	DistanceMinM      float64
	DistanceMaxM      float64
	DepthVarianceMinM float64
	MinValidPoints    int
}

// Result is a LivenessResult (spec.md section 3). Color is owned by
// the result; Depth is borrowed and must not be read after the frame
// that produced it is released.
type Result struct {
	Timestamp        time.Time
	FaceDetected     bool
	BBox             *BoundingBox
	MeanDepthM       float64
	StdDevM          float64
	ValidDepthPoints int
	Verdict          Verdict
	Color            ColorFrame
	Depth            DepthFrame
}

// Evaluate runs the three liveness checks in the stated order; the
// first-failing reason wins (spec.md section 4.3).
func Evaluate(color ColorFrame, depth DepthFrame, depthScale float64, thr Thresholds, detector FaceDetector, now time.Time) Result {
	res := Result{Timestamp: now, Color: color, Depth: depth}

	bbox, found, err := detector.Detect(color)
	if err != nil || !found {
		res.Verdict = VerdictNoFace
		return res
	}
	res.FaceDetected = true
	res.BBox = &bbox

	values := extractDepthMeters(depth, bbox, depthScale)
	res.ValidDepthPoints = len(values)
	if len(values) < thr.MinValidPoints {
		res.Verdict = VerdictInsufficientDepth
		return res
	}

	mean, stddev := meanStdDev(values)
	res.MeanDepthM = mean
	res.StdDevM = stddev

	if mean < thr.DistanceMinM {
		res.Verdict = VerdictTooClose
		return res
	}
	if mean > thr.DistanceMaxM {
		res.Verdict = VerdictTooFar
		return res
	}
	if stddev < thr.DepthVarianceMinM {
		res.Verdict = VerdictFlatSurface
		return res
	}

	res.Verdict = VerdictLive
	return res
}

func extractDepthMeters(depth DepthFrame, bbox BoundingBox, scale float64) []float64 {
	var out []float64
	for y := bbox.Y0; y < bbox.Y1; y++ {
		for x := bbox.X0; x < bbox.X1; x++ {
			raw, ok := depth.ValueAt(x, y)
			if !ok || raw == 0 {
				continue
			}
			out = append(out, float64(raw)*scale)
		}
	}
	return out
}

// meanStdDev uses the naive two-pass estimator: stable enough for the
// small per-bbox samples this runs over (spec.md section 4.3).
func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(values)))
	return mean, stddev
}
