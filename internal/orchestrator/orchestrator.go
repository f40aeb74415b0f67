// Package orchestrator drives the kiosk's phase state machine (spec.md
// section 4.6, component C6): one serial task owns SessionContext end
// to end, external actors only ever post typed commands onto a channel,
// and every phase's min/max duration and cancellation behavior follows
// the table in spec.md section 4.6 exactly. Grounded on the teacher's
// single-goroutine-owns-the-struct discipline in internal/nvr's
// channel-fed poller, generalized from "poll a camera" to "drive a
// multi-phase session."
package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/biokiosk/supervisor/internal/bridge"
	"github.com/biokiosk/supervisor/internal/camera"
	"github.com/biokiosk/supervisor/internal/capture"
	"github.com/biokiosk/supervisor/internal/config"
	"github.com/biokiosk/supervisor/internal/crypto"
	"github.com/biokiosk/supervisor/internal/data"
	"github.com/biokiosk/supervisor/internal/events"
	"github.com/biokiosk/supervisor/internal/liveness"
	"github.com/biokiosk/supervisor/internal/metrics"
	"github.com/biokiosk/supervisor/internal/phase"
	"github.com/biokiosk/supervisor/internal/ratelimit"
	"github.com/biokiosk/supervisor/internal/session"
)

// Deps are the orchestrator's collaborators, all supplied at
// construction by the top-level supervisor (component C9).
type Deps struct {
	Config  config.Config
	KioskID string // this device's own platform_id, used for token issuance and rate limiting

	Camera *camera.Service
	Bridge *bridge.Client
	Bus    *events.Bus
	Store  *capture.Store
	QRKey  []byte

	// Sessions, Ledger and Limiter are optional: a kiosk deployed
	// without Redis/Postgres still runs, just without cross-restart
	// session lookup, a capture ledger, or pairing-token rate limits.
	Sessions *session.Manager
	Ledger   *data.CaptureRepository
	Limiter  *ratelimit.Limiter
}

// Status is a point-in-time read of the orchestrator's observable
// state, for the admin health probe (spec_full.md section 3).
type Status struct {
	Phase         phase.Phase
	SessionID     string
	PlatformID    string
	CameraRunning bool
}

// Orchestrator is the single owner of SessionContext (spec.md section
// 3, invariant 1). Every external actor — the proximity callback, the
// bridge's inbound handler, an admin HTTP request — reaches it only
// through the Post* methods, which enqueue a command for the serial
// loop in Run to interpret. Nothing outside that loop ever touches
// phase or sess directly.
type Orchestrator struct {
	deps  Deps
	cmdCh chan interface{}

	mu             sync.RWMutex
	phase          phase.Phase
	sess           *phase.Context
	phaseEnteredAt time.Time

	cancelMu    sync.Mutex
	cancelTimer *time.Timer

	inboundMu sync.Mutex
	inbound   chan bridge.InboundMessage
}

// runState is the per-session working data that never needs to be
// externally observable, so it doesn't belong on phase.Context.
type runState struct {
	tokenResult    *bridge.TokenResult
	cameraAcquired bool
	best           *liveness.Result
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:  deps,
		cmdCh: make(chan interface{}, 32),
		phase: phase.Idle,
	}
}

type proximityCmd struct {
	triggered  bool
	distanceMM uint16
}
type bridgeInboundCmd struct{ msg bridge.InboundMessage }
type adminTriggerCmd struct{}
type adminPreviewCmd struct{ enabled bool }
type cancelSessionCmd struct{}

// PostProximityEvent is the ProximitySource's EventHandler callback.
func (o *Orchestrator) PostProximityEvent(triggered bool, distanceMM uint16) {
	o.post(proximityCmd{triggered: triggered, distanceMM: distanceMM})
}

// PostBridgeInbound is passed as the onMessage callback to bridge.Connect.
func (o *Orchestrator) PostBridgeInbound(msg bridge.InboundMessage) {
	o.post(bridgeInboundCmd{msg: msg})
}

// PostAdminTrigger simulates a proximity trigger from the admin API.
func (o *Orchestrator) PostAdminTrigger() {
	o.post(adminTriggerCmd{})
}

// PostPreviewToggle flips the camera preview stream from the admin API.
func (o *Orchestrator) PostPreviewToggle(enabled bool) {
	o.post(adminPreviewCmd{enabled: enabled})
}

func (o *Orchestrator) post(cmd interface{}) {
	select {
	case o.cmdCh <- cmd:
	default:
		log.Printf("[orchestrator] command queue full, dropping %T", cmd)
	}
}

// Run is the serial task: the only goroutine that ever reads phase or
// sess outside of the accessor methods below. It blocks until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-o.cmdCh:
			o.handle(ctx, raw)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, raw interface{}) {
	switch cmd := raw.(type) {
	case proximityCmd:
		o.handleProximity(ctx, cmd.triggered)
	case adminTriggerCmd:
		o.handleProximity(ctx, true)
	case adminPreviewCmd:
		o.deps.Camera.SetPreviewEnabled(cmd.enabled)
	case bridgeInboundCmd:
		o.routeInbound(cmd.msg)
	case cancelSessionCmd:
		o.cancelActiveSession()
	}
}

// handleProximity implements the two debounce layers spec.md section
// 4.6 describes: ProximitySource has already debounced near/far before
// this ever runs, so "triggered" here only ever fires once per
// transition. The orchestrator then applies a second, independent
// debounce before committing to a cancellation: a far event schedules
// a cancel after debounce_ms, and a near event before that deadline
// cancels the pending cancel rather than restarting a new session.
func (o *Orchestrator) handleProximity(ctx context.Context, triggered bool) {
	if triggered {
		o.clearPendingCancel()
		if o.getPhase() == phase.Idle {
			o.startSession(ctx)
		}
		return
	}

	if o.getPhase().Cancellable() {
		o.schedulePendingCancel()
	}
}

func (o *Orchestrator) schedulePendingCancel() {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	if o.cancelTimer != nil {
		return
	}
	debounce := o.deps.Config.Proximity.DebounceDuration()
	o.cancelTimer = time.AfterFunc(debounce, func() {
		o.post(cancelSessionCmd{})
	})
}

func (o *Orchestrator) clearPendingCancel() {
	o.cancelMu.Lock()
	defer o.cancelMu.Unlock()
	if o.cancelTimer != nil {
		o.cancelTimer.Stop()
		o.cancelTimer = nil
	}
}

func (o *Orchestrator) cancelActiveSession() {
	o.cancelMu.Lock()
	o.cancelTimer = nil
	o.cancelMu.Unlock()

	_, sess := o.Snapshot()
	if sess != nil && sess.Cancel != nil {
		sess.Cancel()
	}
}

func (o *Orchestrator) routeInbound(msg bridge.InboundMessage) {
	o.inboundMu.Lock()
	ch := o.inbound
	o.inboundMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		log.Printf("[orchestrator] inbound queue full, dropping %s", msg.Type)
	}
}

func (o *Orchestrator) startSession(parent context.Context) {
	runCtx, cancel := context.WithCancel(parent)
	sess := &phase.Context{
		SessionID: uuid.New().String(),
		EnteredAt: time.Now(),
		Cancel:    cancel,
	}
	o.setSess(sess)

	inboundCh := make(chan bridge.InboundMessage, 8)
	o.setInbound(inboundCh)

	go o.runSession(runCtx, sess, inboundCh)
}

// runSession is the per-trigger goroutine: it walks the phase table to
// completion or failure, then the cleanup block always runs (spec.md
// section 4.6, "cleanup is unconditional").
func (o *Orchestrator) runSession(ctx context.Context, sess *phase.Context, inboundCh chan bridge.InboundMessage) {
	rs := &runState{}
	defer o.cleanup(sess, rs)

	err := o.walkPhases(ctx, sess, inboundCh, rs)
	defer func() {
		metrics.SessionDurationSeconds.Observe(time.Since(sess.EnteredAt).Seconds())
	}()

	var se *SessionError
	if errors.As(err, &se) && se.Kind == KindCancelled {
		log.Printf("[orchestrator] session %s cancelled", sess.SessionID)
		metrics.SessionsTotal.WithLabelValues("cancelled").Inc()
		return
	}

	if err != nil {
		message := "unexpected error"
		kind := KindUnknown
		if se != nil {
			message = se.Message
			kind = se.Kind
		}
		metrics.ErrorsByKind.WithLabelValues(string(kind)).Inc()
		metrics.SessionsTotal.WithLabelValues("error").Inc()
		o.recordError(sess, kind)
		o.enterPhase(phase.Error, &phase.Data{ErrorMsg: message})
		sleepFixed(o.deps.Config.ErrorS)
		return
	}

	metrics.SessionsTotal.WithLabelValues("complete").Inc()
	o.recordSuccess(sess)
	o.enterPhase(phase.Complete, nil)
	sleepFixed(o.deps.Config.CompleteS)
}

func (o *Orchestrator) walkPhases(ctx context.Context, sess *phase.Context, inboundCh chan bridge.InboundMessage, rs *runState) error {
	if err := o.stepPairingRequest(ctx, sess, rs); err != nil {
		return err
	}
	if err := o.stepHelloHuman(ctx); err != nil {
		return err
	}
	if err := o.stepScanPrompt(ctx); err != nil {
		return err
	}
	if err := o.stepQrDisplay(ctx, sess, inboundCh, rs); err != nil {
		return err
	}
	if err := o.stepHumanDetect(ctx, sess, inboundCh, rs); err != nil {
		return err
	}
	if err := o.stepProcessing(ctx, sess, inboundCh, rs); err != nil {
		return err
	}
	return nil
}

// stepPairingRequest mints a pairing token over the bridge. Min display
// 1.5s, max display is the bridge HTTP timeout (spec.md section 4.6).
func (o *Orchestrator) stepPairingRequest(ctx context.Context, sess *phase.Context, rs *runState) *SessionError {
	const minDisplay = 1500 * time.Millisecond
	start := time.Now()
	o.enterPhase(phase.PairingRequest, nil)

	if o.deps.Limiter != nil {
		key := "pairing_token:" + o.deps.Limiter.HashPlatformID(o.deps.KioskID)
		decision, err := o.deps.Limiter.CheckRateLimit(ctx, key, ratelimit.LimitConfig{Rate: 30, Window: time.Minute})
		if err == nil && !decision.Allowed {
			_ = waitMin(ctx, start, minDisplay)
			return newError(KindNetwork, "too many pairing attempts, please wait")
		}
	}

	httpCtx, cancel := context.WithTimeout(ctx, time.Duration(o.deps.Config.Bridge.HTTPTimeoutS)*time.Second)
	result := o.deps.Bridge.IssueToken(httpCtx, o.deps.KioskID)
	cancel()

	if werr := waitMin(ctx, start, minDisplay); werr != nil {
		return werr
	}
	if result == nil {
		return newError(KindNetwork, "unable to reach backend")
	}

	sess.Token = result.Token
	rs.tokenResult = result

	if o.deps.Ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := o.deps.Ledger.RecordPairingIssued(ctx, sess.SessionID, o.deps.KioskID); err != nil {
			log.Printf("[orchestrator] ledger write failed: %v", err)
		}
		cancel()
	}
	return nil
}

// stepHelloHuman is a fixed 2.0s/2.0s display phase.
func (o *Orchestrator) stepHelloHuman(ctx context.Context) *SessionError {
	o.enterPhase(phase.HelloHuman, nil)
	return waitCancelable(ctx, 2*time.Second)
}

// stepScanPrompt is a fixed 3.0s/3.0s display phase.
func (o *Orchestrator) stepScanPrompt(ctx context.Context) *SessionError {
	o.enterPhase(phase.ScanPrompt, nil)
	return waitCancelable(ctx, 3*time.Second)
}

// stepQrDisplay opens the bridge with the freshly minted token, shows a
// signed QR payload, and waits for the companion app's "from_app" up to
// the token's own expiry (min display 0, spec.md section 4.6).
func (o *Orchestrator) stepQrDisplay(ctx context.Context, sess *phase.Context, inboundCh chan bridge.InboundMessage, rs *runState) *SessionError {
	tr := rs.tokenResult
	signature := crypto.SignQRPayload(o.deps.QRKey, tr.QRPayload)
	signedPayload := tr.QRPayload + "." + signature

	o.enterPhase(phase.QrDisplay, &phase.Data{
		Token:      tr.Token,
		QRPayload:  signedPayload,
		ExpiresInS: tr.ExpiresInS,
	})

	if err := o.deps.Bridge.Connect(ctx, tr.Token, o.PostBridgeInbound); err != nil {
		return newError(KindNetwork, "unable to open bridge connection")
	}
	metrics.BridgeConnected.Set(1)

	expires := time.Duration(tr.ExpiresInS) * time.Second
	timer := time.NewTimer(expires)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return errCancelled
		case <-timer.C:
			return newError(KindTimeout, "pairing code expired")
		case msg := <-inboundCh:
			switch msg.Type {
			case "from_app":
				var appData bridge.FromAppData
				if err := json.Unmarshal(msg.Data, &appData); err == nil {
					sess.PlatformID = appData.PlatformID
				}
				if o.deps.Sessions != nil && sess.PlatformID != "" {
					rec := session.Record{SessionID: sess.SessionID, PlatformID: sess.PlatformID, Token: tr.Token, CreatedAt: time.Now()}
					if err := o.deps.Sessions.Put(ctx, rec, expires); err != nil {
						log.Printf("[orchestrator] session registry write failed: %v", err)
					}
				}
				return nil
			case "error":
				return newError(KindNetwork, "companion app reported a connection error")
			case bridge.Disconnected:
				return newError(KindNetwork, "bridge connection lost")
			}
		}
	}
}

// stepHumanDetect acquires the camera for the validation source tag,
// warms up, then collects passing frames for the validation window,
// tracking the highest-composite-score frame as the candidate best
// (spec.md sections 4.2, 4.3, 4.6).
func (o *Orchestrator) stepHumanDetect(ctx context.Context, sess *phase.Context, inboundCh chan bridge.InboundMessage, rs *runState) *SessionError {
	wasRunning := o.deps.Camera.Running()
	if err := o.deps.Camera.Acquire(ctx, "validation"); err != nil {
		return newError(KindCamera, "camera unavailable")
	}
	rs.cameraAcquired = true
	metrics.CameraRunning.Set(1)

	o.enterPhase(phase.HumanDetect, nil)

	warm := o.deps.Config.Validation.WarmupCold()
	if wasRunning {
		warm = o.deps.Config.Validation.WarmupWarm()
	}
	if werr := waitCancelable(ctx, warm); werr != nil {
		return werr
	}

	sub := o.deps.Camera.Subscribe()
	defer o.deps.Camera.Unsubscribe(sub)

	sc := newScorer(o.deps.Config.Validation.StabilityWeight, o.deps.Config.Validation.FocusWeight, o.deps.Config.Validation.FocusNormThreshold)
	minPassing := o.deps.Config.Validation.MinPassingFrames

	windowTimer := time.NewTimer(o.deps.Config.Validation.Duration())
	defer windowTimer.Stop()

	passing := 0
	bestComposite := -1.0

	for {
		select {
		case <-ctx.Done():
			return errCancelled
		case <-windowTimer.C:
			metrics.ValidationPassingFrames.Observe(float64(passing))
			if passing < minPassing {
				return newError(KindValidationInsufficient, "please position your face in frame")
			}
			sess.BestScore = bestComposite
			return nil
		case msg := <-inboundCh:
			if msg.Type == bridge.Disconnected {
				return newError(KindNetwork, "bridge connection lost")
			}
		case r := <-sub.Result:
			composite, stability, focus := sc.score(r)
			alive := r.Verdict == liveness.VerdictLive
			if alive {
				passing++
				if composite > bestComposite {
					bestComposite = composite
					frame := r
					rs.best = &frame
				}
			}
			progress := float64(passing) / float64(minPassing)
			if progress > 1 {
				progress = 1
			}
			o.deps.Bus.Publish(phase.Event{
				Type:  "metrics",
				Phase: phase.HumanDetect,
				Metrics: &phase.Metrics{
					Stability:          stability,
					Focus:              focus,
					Composite:          composite,
					InstantAlive:       alive,
					StableAlive:        stability >= 0.5,
					DepthOK:            alive,
					FaceDetected:       r.FaceDetected,
					ValidationProgress: progress,
				},
				Timestamp: time.Now(),
			})
		}
	}
}

// stepProcessing releases the camera, persists and uploads the best
// frame, and waits for the backend's ack (min display 3s, max wait
// 15s, spec.md section 4.6).
func (o *Orchestrator) stepProcessing(ctx context.Context, sess *phase.Context, inboundCh chan bridge.InboundMessage, rs *runState) *SessionError {
	start := time.Now()
	o.deps.Camera.Release("validation")
	rs.cameraAcquired = false
	metrics.CameraRunning.Set(0)
	o.enterPhase(phase.Processing, nil)

	if rs.best == nil {
		return newError(KindUnknown, "no frame selected")
	}
	best := *rs.best

	var bbox [4]int
	if best.BBox != nil {
		bbox = [4]int{best.BBox.X0, best.BBox.Y0, best.BBox.X1, best.BBox.Y1}
	}

	artifact := capture.Artifact{
		SessionID:  sess.SessionID,
		PlatformID: sess.PlatformID,
		Timestamp:  time.Now(),
		Score:      sess.BestScore,
		DistanceM:  best.MeanDepthM,
		StdDevM:    best.StdDevM,
		BBox:       bbox,
		ImageJPEG:  encodeBestFrame(best.Color),
	}
	if _, err := o.deps.Store.Persist(artifact); err != nil {
		log.Printf("[orchestrator] capture persist failed: %v", err)
	}

	_ = o.deps.Bridge.SendPayload(bridge.OutboundPayload{
		ImageB64: base64.StdEncoding.EncodeToString(artifact.ImageJPEG),
		Metadata: bridge.OutboundMetadata{
			PlatformID: sess.PlatformID,
			Score:      artifact.Score,
			DistanceM:  artifact.DistanceM,
			StdDevM:    artifact.StdDevM,
			BBox:       bbox,
		},
	})

	deadline := time.NewTimer(o.deps.Config.Processing.MaxWait())
	defer deadline.Stop()

	var ack *bridge.BackendResponseData
waitAck:
	for {
		select {
		case <-ctx.Done():
			return errCancelled
		case <-deadline.C:
			return newError(KindTimeout, "backend processing timeout")
		case msg := <-inboundCh:
			switch msg.Type {
			case "backend_response":
				var data bridge.BackendResponseData
				if err := json.Unmarshal(msg.Data, &data); err != nil {
					data = bridge.BackendResponseData{Status: "ok"}
				}
				ack = &data
				break waitAck
			case "error", bridge.Disconnected:
				return newError(KindNetwork, "bridge connection lost")
			}
		}
	}

	sess.AckReceived = true
	sess.AckStatus = ack.Status

	if werr := waitMin(ctx, start, o.deps.Config.Processing.MinDisplay()); werr != nil {
		return werr
	}

	if ack.Status != "ok" {
		message := ack.Detail
		if message == "" {
			message = "backend rejected the capture"
		}
		return newError(KindNetwork, message)
	}
	return nil
}

// cleanup always runs once per session, win or lose (spec.md section
// 4.6). Every step is independently recovered so a panic in one can't
// skip the rest.
func (o *Orchestrator) cleanup(sess *phase.Context, rs *runState) {
	safely("release camera", func() {
		if rs.cameraAcquired {
			o.deps.Camera.Release("validation")
			rs.cameraAcquired = false
			metrics.CameraRunning.Set(0)
		}
	})
	safely("cancel pending cancel timer", o.clearPendingCancel)
	safely("disconnect bridge", func() {
		o.deps.Bridge.Disconnect()
		metrics.BridgeConnected.Set(0)
	})
	safely("clear session state", func() {
		o.setInbound(nil)
		o.setSess(nil)
		if o.deps.Sessions != nil && sess.PlatformID != "" {
			if err := o.deps.Sessions.Delete(context.Background(), sess.PlatformID); err != nil {
				log.Printf("[orchestrator] session registry delete failed: %v", err)
			}
		}
	})
	safely("force idle", func() { o.enterPhase(phase.Idle, nil) })
}

func safely(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[orchestrator] cleanup step %q panicked: %v", step, r)
		}
	}()
	fn()
}

func (o *Orchestrator) recordError(sess *phase.Context, kind ErrorKind) {
	if o.deps.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.deps.Ledger.RecordCaptureError(ctx, sess.SessionID, sess.PlatformID, string(kind)); err != nil {
		log.Printf("[orchestrator] ledger write failed: %v", err)
	}
}

func (o *Orchestrator) recordSuccess(sess *phase.Context) {
	if o.deps.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.deps.Ledger.RecordCaptureComplete(ctx, sess.SessionID, sess.PlatformID, sess.BestScore); err != nil {
		log.Printf("[orchestrator] ledger write failed: %v", err)
	}
}

// encodeBestFrame stands in for JPEG encoding, out of scope per
// spec.md section 1; the presentation layer swaps this for a real
// encoder. Mirrors internal/camera's encodePreviewPlaceholder.
func encodeBestFrame(c liveness.ColorFrame) []byte {
	return c.Pixels
}

func waitCancelable(ctx context.Context, d time.Duration) *SessionError {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errCancelled
	case <-timer.C:
		return nil
	}
}

func waitMin(ctx context.Context, since time.Time, min time.Duration) *SessionError {
	remaining := min - time.Since(since)
	if remaining <= 0 {
		return nil
	}
	return waitCancelable(ctx, remaining)
}

func sleepFixed(seconds float64) {
	if seconds <= 0 {
		return
	}
	time.Sleep(time.Duration(seconds * float64(time.Second)))
}

func (o *Orchestrator) getPhase() phase.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p phase.Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

func (o *Orchestrator) enterPhase(p phase.Phase, d *phase.Data) {
	now := time.Now()

	o.mu.Lock()
	prev := o.phase
	since := o.phaseEnteredAt
	o.phase = p
	o.phaseEnteredAt = now
	o.mu.Unlock()

	if !since.IsZero() {
		metrics.PhaseDurationSeconds.WithLabelValues(string(prev)).Observe(now.Sub(since).Seconds())
	}

	o.deps.Bus.Publish(phase.Event{Type: "state", Phase: p, Data: d, Timestamp: now})
}

func (o *Orchestrator) setSess(s *phase.Context) {
	o.mu.Lock()
	o.sess = s
	o.mu.Unlock()
}

// Snapshot returns the current phase and the orchestrator's own pointer
// to the active SessionContext (nil when idle), not a copy, for
// read-only callers like the admin health probe.
func (o *Orchestrator) Snapshot() (phase.Phase, *phase.Context) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase, o.sess
}

func (o *Orchestrator) setInbound(ch chan bridge.InboundMessage) {
	o.inboundMu.Lock()
	o.inbound = ch
	o.inboundMu.Unlock()
}

// Status reports a point-in-time read for the admin health probe.
func (o *Orchestrator) Status() Status {
	p, sess := o.Snapshot()
	st := Status{Phase: p, CameraRunning: o.deps.Camera.Running()}
	if sess != nil {
		st.SessionID = sess.SessionID
		st.PlatformID = sess.PlatformID
	}
	return st
}
