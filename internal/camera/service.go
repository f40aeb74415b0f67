// Package camera owns the depth+color pipeline, arbitrates activation
// among source tags by reference count, and drives the per-frame
// processing loop (spec.md section 4.2, component C2). Structurally
// grounded on the teacher's HybridCameraMonitor lifecycle and
// health.Scheduler's restart-on-failure worker, adapted to a single
// reference-counted pipeline rather than a fleet of NVR channels.
package camera

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/biokiosk/supervisor/internal/broadcast"
	"github.com/biokiosk/supervisor/internal/camera/adapters"
	"github.com/biokiosk/supervisor/internal/liveness"
)

const (
	maxConsecutiveTimeouts = 8
	maxConsecutiveFailures = 5
	frameTimeout           = time.Second
)

var ErrPipelineStartFailed = errors.New("camera: pipeline start failed")

// Config is the subset of internal/config.Camera the service needs;
// kept local so this package doesn't import internal/config.
type Config struct {
	Resolution       adapters.Resolution
	FPS              int
	PreviewFrameSkip int
	Thresholds       liveness.Thresholds
}

type Service struct {
	backend  adapters.Backend
	detector liveness.FaceDetector
	hub      *broadcast.Hub
	cfg      Config

	mu       sync.Mutex
	counts   map[string]int
	pipeline adapters.Pipeline
	stopLoop chan struct{}
	loopDone chan struct{}

	previewMu      sync.RWMutex
	previewEnabled bool
}

func NewService(backend adapters.Backend, detector liveness.FaceDetector, hub *broadcast.Hub, cfg Config) *Service {
	return &Service{
		backend:  backend,
		detector: detector,
		hub:      hub,
		cfg:      cfg,
		counts:   make(map[string]int),
	}
}

// SetPreviewEnabled flips the runtime preview-stream flag (spec_full.md
// section 3, "preview toggle admin endpoint").
func (s *Service) SetPreviewEnabled(enabled bool) {
	s.previewMu.Lock()
	defer s.previewMu.Unlock()
	s.previewEnabled = enabled
}

func (s *Service) previewOn() bool {
	s.previewMu.RLock()
	defer s.previewMu.RUnlock()
	return s.previewEnabled
}

// Acquire increments the ref count for tag; physical activation happens
// only on the first overall increment (spec.md section 4.2). acquire
// and release are serialized by s.mu.
func (s *Service) Acquire(ctx context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasIdle := s.totalLocked() == 0
	s.counts[tag]++

	if !wasIdle {
		return nil
	}

	pipeline, err := s.backend.Start(ctx, s.cfg.Resolution, s.cfg.FPS)
	if err != nil {
		s.counts[tag]--
		return ErrPipelineStartFailed
	}
	s.pipeline = pipeline
	s.stopLoop = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.runLoop(s.pipeline, s.stopLoop, s.loopDone)
	return nil
}

// Release decrements the ref count for tag; physical deactivation
// happens on the last overall decrement. Always completes, even if the
// pipeline was never started (idempotent per spec.md section 8).
func (s *Service) Release(tag string) {
	s.mu.Lock()
	if s.counts[tag] > 0 {
		s.counts[tag]--
	}
	if s.counts[tag] == 0 {
		delete(s.counts, tag)
	}
	stillActive := s.totalLocked() > 0
	stopCh := s.stopLoop
	pipeline := s.pipeline
	if !stillActive {
		s.pipeline = nil
		s.stopLoop = nil
	}
	s.mu.Unlock()

	if stillActive || pipeline == nil {
		return
	}
	close(stopCh)
	<-s.loopDone
	if err := pipeline.Close(); err != nil {
		log.Printf("[camera] close error: %v", err)
	}
}

// Subscribe registers a broadcast subscriber directly against the
// service's hub, used by the orchestrator's HumanDetect phase to read
// liveness results without holding a reference to the hub itself.
func (s *Service) Subscribe() broadcast.Subscription {
	return s.hub.Subscribe()
}

func (s *Service) Unsubscribe(sub broadcast.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Running reports whether the reference-count aggregate is strictly
// positive (spec.md section 3, invariant 2).
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked() > 0
}

func (s *Service) totalLocked() int {
	total := 0
	for _, c := range s.counts {
		total += c
	}
	return total
}

// runLoop drives ~fps iterations: pull an aligned frame, run liveness,
// publish the result and, every N-th frame, a preview. Restarts the
// pipeline in place on sustained timeouts or failures rather than
// tearing down the whole activation, matching the teacher's
// consecutive-failure restart convention in health.Scheduler.
func (s *Service) runLoop(pipeline adapters.Pipeline, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	consecutiveTimeouts := 0
	consecutiveFailures := 0
	frameN := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		frame, err := pipeline.NextFrame(ctx)
		cancel()

		if errors.Is(err, context.DeadlineExceeded) {
			consecutiveTimeouts++
			if consecutiveTimeouts >= maxConsecutiveTimeouts {
				log.Printf("[camera] %d consecutive timeouts, restarting pipeline", consecutiveTimeouts)
				pipeline = s.restartPipeline(pipeline)
				consecutiveTimeouts = 0
			}
			continue
		}
		if err != nil {
			if errors.Is(err, adapters.ErrPipelineClosed) {
				return
			}
			consecutiveFailures++
			log.Printf("[camera] frame error: %v", err)
			if consecutiveFailures >= maxConsecutiveFailures {
				log.Printf("[camera] %d consecutive failures, restarting pipeline", consecutiveFailures)
				pipeline = s.restartPipeline(pipeline)
				consecutiveFailures = 0
			}
			continue
		}
		consecutiveTimeouts = 0
		consecutiveFailures = 0

		result := liveness.Evaluate(frame.Color, frame.Depth, frame.DepthScale, s.cfg.Thresholds, s.detector, time.Now())
		s.hub.PublishResult(result)

		frameN++
		skip := s.cfg.PreviewFrameSkip
		if skip <= 0 {
			skip = 1
		}
		if s.previewOn() && frameN%skip == 0 {
			s.hub.PublishPreview(encodePreviewPlaceholder(result))
		}
	}
}

func (s *Service) restartPipeline(old adapters.Pipeline) adapters.Pipeline {
	_ = old.Close()
	fresh, err := s.backend.Start(context.Background(), s.cfg.Resolution, s.cfg.FPS)
	if err != nil {
		log.Printf("[camera] pipeline restart failed: %v", err)
		return old
	}
	s.mu.Lock()
	s.pipeline = fresh
	s.mu.Unlock()
	return fresh
}

// encodePreviewPlaceholder stands in for JPEG encoding, which spec.md
// section 1 puts out of scope for the core. Real wiring swaps this for
// the presentation layer's encoder.
func encodePreviewPlaceholder(r liveness.Result) []byte {
	return r.Color.Pixels
}
