// Package phase defines the kiosk's phase state machine vocabulary:
// the Phase tag, per-session context, and the events emitted to
// presentation subscribers. Shared by orchestrator, events, and api so
// none of them need to import each other.
package phase

import "time"

type Phase string

const (
	Idle           Phase = "idle"
	PairingRequest Phase = "pairing_request"
	HelloHuman     Phase = "hello_human"
	ScanPrompt     Phase = "scan_prompt"
	QrDisplay      Phase = "qr_display"
	HumanDetect    Phase = "human_detect"
	Processing     Phase = "processing"
	Complete       Phase = "complete"
	Error          Phase = "error"
)

// Terminal reports whether the phase unconditionally returns to Idle
// after its display duration, with no externally observable work left.
func (p Phase) Terminal() bool {
	return p == Complete || p == Error
}

// Cancellable reports whether a proximity far-event may pre-empt this
// phase (spec section 4.6: any non-Idle, non-Complete, non-Error state).
func (p Phase) Cancellable() bool {
	return p != Idle && p != Complete && p != Error
}

// Data carries the optional per-phase payload: a pairing token/QR
// payload, or a user-facing error message. Exactly one of these is set
// for any phase that needs one.
type Data struct {
	Token       string `json:"token,omitempty"`
	QRPayload   string `json:"qr_payload,omitempty"`
	ExpiresInS  int    `json:"expires_in,omitempty"`
	ErrorMsg    string `json:"error,omitempty"`
}

// Context is created on each trigger and destroyed on return to Idle.
// The orchestrator is the sole owner; nothing outside its serial task
// mutates it (spec section 3, invariant 1 and 3).
type Context struct {
	SessionID    string
	EnteredAt    time.Time
	Token        string
	PlatformID   string
	BestScore    float64
	AckReceived  bool
	AckStatus    string
	Cancel       func()
}

// Event is emitted to presentation/admin subscribers via the event bus.
// Insertion order is the observed order (spec section 3).
type Event struct {
	Type      string    `json:"type"` // "state", "metrics", "heartbeat"
	Phase     Phase     `json:"phase,omitempty"`
	Data      *Data     `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is the payload of a "metrics" ControllerEvent, emitted during
// HumanDetect as passing frames accumulate.
type Metrics struct {
	Stability          float64 `json:"stability"`
	Focus              float64 `json:"focus"`
	Composite          float64 `json:"composite"`
	InstantAlive       bool    `json:"instant_alive"`
	StableAlive        bool    `json:"stable_alive"`
	DepthOK            bool    `json:"depth_ok"`
	FaceDetected       bool    `json:"face_detected"`
	ValidationProgress float64 `json:"validation_progress"`
}
