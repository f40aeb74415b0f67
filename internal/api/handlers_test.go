package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biokiosk/supervisor/internal/bridge"
	"github.com/biokiosk/supervisor/internal/broadcast"
	"github.com/biokiosk/supervisor/internal/camera"
	"github.com/biokiosk/supervisor/internal/camera/adapters"
	"github.com/biokiosk/supervisor/internal/capture"
	"github.com/biokiosk/supervisor/internal/config"
	"github.com/biokiosk/supervisor/internal/events"
	"github.com/biokiosk/supervisor/internal/liveness"
	"github.com/biokiosk/supervisor/internal/orchestrator"
	"github.com/biokiosk/supervisor/internal/phase"
)

func testServer(t *testing.T) (*Server, *events.Bus) {
	t.Helper()

	backend, err := adapters.Get("mock")
	require.NoError(t, err)
	hub := broadcast.NewHub()
	camSvc := camera.NewService(backend, adapters.NewMockFaceDetector(), hub, camera.Config{
		Resolution: adapters.Resolution{Width: 64, Height: 48},
		FPS:        60,
		Thresholds: liveness.Thresholds{
			DistanceMinM:      0.25,
			DistanceMaxM:      1.2,
			DepthVarianceMinM: 0.001,
			MinValidPoints:    10,
		},
	})

	bus := events.NewBus()
	o := orchestrator.New(orchestrator.Deps{
		Config:  config.Defaults(),
		KioskID: "kiosk-1",
		Camera:  camSvc,
		Bridge:  bridge.NewClient("", "", "test-key", time.Second),
		Bus:     bus,
		Store:   capture.NewStore(t.TempDir()),
		QRKey:   []byte("test-signing-key"),
	})

	return NewServer(o, bus), bus
}

func TestHandleHealthReportsIdlePhase(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, phase.Idle, resp.Phase)
	require.False(t, resp.CameraRunning)
}

func TestHandleHealthIncludesReplayedEvents(t *testing.T) {
	s, bus := testServer(t)
	bus.Publish(phase.Event{Type: "phase_changed"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RecentEvents)
	require.Equal(t, "phase_changed", resp.RecentEvents[0].Type)
}

func TestHandleTriggerAccepted(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/trigger", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandlePreviewToggleRejectsBadBody(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/preview", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePreviewToggleAccepts(t *testing.T) {
	s, _ := testServer(t)

	body, _ := json.Marshal(previewRequest{Enabled: true})
	req := httptest.NewRequest(http.MethodPost, "/admin/preview", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}
