// Package supervisor owns process-level wiring: it constructs every
// component (C1-C9) from a loaded config.Config and holds them for the
// lifetime of the process, the way the teacher's cmd/server/main.go
// wires DB/Redis/services/handlers before calling ListenAndServe,
// factored here into a reusable package so cmd/kiosksupervisord stays
// a thin entrypoint.
package supervisor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/biokiosk/supervisor/internal/audit"
	"github.com/biokiosk/supervisor/internal/bridge"
	"github.com/biokiosk/supervisor/internal/broadcast"
	"github.com/biokiosk/supervisor/internal/camera"
	"github.com/biokiosk/supervisor/internal/camera/adapters"
	"github.com/biokiosk/supervisor/internal/capture"
	"github.com/biokiosk/supervisor/internal/config"
	"github.com/biokiosk/supervisor/internal/crypto"
	"github.com/biokiosk/supervisor/internal/data"
	"github.com/biokiosk/supervisor/internal/events"
	"github.com/biokiosk/supervisor/internal/fleet"
	"github.com/biokiosk/supervisor/internal/liveness"
	"github.com/biokiosk/supervisor/internal/orchestrator"
	"github.com/biokiosk/supervisor/internal/proximity"
	"github.com/biokiosk/supervisor/internal/ratelimit"
	"github.com/biokiosk/supervisor/internal/session"
)

// Controller is the fully-wired kiosk process: everything main needs to
// start, run and stop.
type Controller struct {
	Config       config.Config
	Watcher      *config.Watcher
	Orchestrator *orchestrator.Orchestrator
	Proximity    *proximity.Source
	Camera       *camera.Service
	Bus          *events.Bus
	FleetPub     *fleet.Publisher // nil if Storage.NatsURL is unset
	DB           *sql.DB          // nil if Storage.DatabaseURL is unset
	Redis        *redis.Client    // nil if Storage.RedisAddr is unset
	NATS         *nats.Conn       // nil if Storage.NatsURL is unset
}

// Options carries the pieces a Build caller must provide that aren't
// derivable from config alone.
type Options struct {
	KioskID          string
	ConfigPath       string
	DistanceProvider proximity.DistanceProvider
	QRSigningKey     []byte
	RateLimitSalt    string
}

// Build constructs every component and wires them together, but starts
// nothing: callers start Proximity, the orchestrator's Run loop, the
// fleet publisher, and the admin HTTP server explicitly so shutdown
// order stays under the caller's control.
func Build(opts Options) (*Controller, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("supervisor: load config: %w", err)
	}

	backend, err := adapters.Get(cfg.Camera.Backend)
	if err != nil {
		return nil, fmt.Errorf("supervisor: camera backend: %w", err)
	}

	hub := broadcast.NewHub()
	camSvc := camera.NewService(backend, adapters.NewMockFaceDetector(), hub, camera.Config{
		Resolution:       adapters.Resolution{Width: cfg.Camera.ResolutionW, Height: cfg.Camera.ResolutionH},
		FPS:              cfg.Camera.FPS,
		PreviewFrameSkip: cfg.Camera.PreviewFrameSkip,
		Thresholds: liveness.Thresholds{
			DistanceMinM:      cfg.Camera.DistanceMinM,
			DistanceMaxM:      cfg.Camera.DistanceMaxM,
			DepthVarianceMinM: cfg.Camera.DepthVarianceMinM,
			MinValidPoints:    cfg.Camera.MinValidPoints,
		},
	})

	bus := events.NewBus()
	store := capture.NewStore(cfg.Storage.CapturesDir)
	if kr := crypto.NewKeyring(); kr.LoadFromEnv() == nil {
		store = store.WithKeyring(kr)
	} else {
		log.Printf("[supervisor] MASTER_KEYS/ACTIVE_MASTER_KID not set: captured images will be stored unencrypted")
	}
	bridgeClient := bridge.NewClient(cfg.Bridge.BackendURL, cfg.Bridge.WSURL, cfg.Bridge.APIKey,
		time.Duration(cfg.Bridge.HTTPTimeoutS)*time.Second)

	c := &Controller{Config: cfg, Camera: camSvc, Bus: bus}

	deps := orchestrator.Deps{
		Config:  cfg,
		KioskID: opts.KioskID,
		Camera:  camSvc,
		Bridge:  bridgeClient,
		Bus:     bus,
		Store:   store,
		QRKey:   opts.QRSigningKey,
	}

	// Redis, Postgres and NATS are each optional: a kiosk without one
	// configured still runs its core loop, just without cross-restart
	// session lookup, an audit ledger, rate limiting, or fleet telemetry
	// (spec_full.md section 3).
	if cfg.Storage.RedisAddr != "" {
		c.Redis = redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		deps.Sessions = session.NewManager(cfg.Storage.RedisAddr, "")
		deps.Limiter = ratelimit.NewLimiter(c.Redis, opts.RateLimitSalt)
	}

	if cfg.Storage.DatabaseURL != "" {
		db, err := data.Open(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("supervisor: open database: %w", err)
		}
		c.DB = db
		deps.Ledger = data.NewCaptureRepository(db)
		audit.ConfigureFailover(cfg.Storage.CapturesDir+"/spool", 64)
	}

	if cfg.Storage.NatsURL != "" {
		conn, err := nats.Connect(cfg.Storage.NatsURL)
		if err != nil {
			return nil, fmt.Errorf("supervisor: connect nats: %w", err)
		}
		c.NATS = conn
		c.FleetPub = fleet.NewPublisher(conn, "kiosk.events."+opts.KioskID, opts.KioskID, 3)
	}

	o := orchestrator.New(deps)
	c.Orchestrator = o

	if opts.DistanceProvider != nil {
		src, err := proximity.New(opts.DistanceProvider, proximity.Config{
			ThresholdMM: cfg.Proximity.ThresholdMM,
			DebounceMs:  cfg.Proximity.DebounceMs,
			PollHz:      cfg.Proximity.PollHz,
		}, o.PostProximityEvent, func(failures int) {
			log.Printf("[supervisor] proximity sensor unhealthy: %d consecutive read failures", failures)
		})
		if err != nil {
			return nil, fmt.Errorf("supervisor: proximity source: %w", err)
		}
		c.Proximity = src
	}

	watcher := config.NewWatcher(opts.ConfigPath, cfg)
	c.Watcher = watcher

	return c, nil
}

// Run starts every background loop and blocks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c.Proximity != nil {
		c.Proximity.Start()
		defer c.Proximity.Stop()
	}

	go c.Bus.RunHeartbeat(ctx)
	go c.Watcher.Start(ctx, func(config.Config) {
		log.Printf("[supervisor] configuration reloaded")
	})

	if c.FleetPub != nil {
		go c.FleetPub.Run(ctx, c.Bus)
	}

	c.Orchestrator.Run(ctx)
}

// Close releases external connections. Safe to call on a partially
// built Controller.
func (c *Controller) Close() {
	if c.DB != nil {
		_ = c.DB.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.NATS != nil {
		c.NATS.Close()
	}
}
