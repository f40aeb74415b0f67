// kiosksupervisord is the kiosk supervisor's process entrypoint: loads
// config, wires every component through internal/supervisor, serves the
// admin API, and runs either as a console process or a Windows Service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biokiosk/supervisor/internal/api"
	"github.com/biokiosk/supervisor/internal/platform/paths"
	"github.com/biokiosk/supervisor/internal/platform/windows"
	"github.com/biokiosk/supervisor/internal/proximity"
	"github.com/biokiosk/supervisor/internal/supervisor"
)

const (
	serviceName  = "BioKiosk-Supervisor"
	eventIDStart = 100
	eventIDStop  = 101
	eventIDError = 102
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml; defaults to the platform data root")
	kioskID := flag.String("kiosk-id", os.Getenv("KIOSK_ID"), "this device's stable identity")
	flag.Parse()

	isService := windows.IsWindowsService()
	elog := windows.NewEventLogger(serviceName)
	defer elog.Close()

	if isService {
		elog.Info(eventIDStart, "starting as Windows Service")
	}

	stopChan := make(chan struct{})
	if isService {
		go func() {
			if err := windows.RunAsService(serviceName, stopChan); err != nil {
				elog.Error(eventIDError, fmt.Sprintf("service run error: %v", err))
				os.Exit(1)
			}
		}()
	}

	if err := paths.EnsureDirs(); err != nil {
		elog.Error(eventIDError, fmt.Sprintf("platform init error: %v", err))
		os.Exit(1)
	}

	if *kioskID == "" {
		elog.Error(eventIDError, "kiosk-id is required (flag -kiosk-id or KIOSK_ID)")
		os.Exit(1)
	}

	signingKey := os.Getenv("BRIDGE_SIGNING_KEY")
	if signingKey == "" {
		elog.Error(eventIDError, "BRIDGE_SIGNING_KEY is required")
		os.Exit(1)
	}

	resolvedConfigPath := paths.ResolveConfigPath(*configPath)

	ctrl, err := supervisor.Build(supervisor.Options{
		KioskID:          *kioskID,
		ConfigPath:       resolvedConfigPath,
		DistanceProvider: selectDistanceProvider(),
		QRSigningKey:     []byte(signingKey),
		RateLimitSalt:    os.Getenv("RATE_LIMIT_SALT"),
	})
	if err != nil {
		elog.Error(eventIDError, fmt.Sprintf("supervisor init error: %v", err))
		os.Exit(1)
	}
	defer ctrl.Close()

	adminSrv := api.NewServer(ctrl.Orchestrator, ctrl.Bus)
	httpSrv := &http.Server{
		Addr:    ctrl.Config.AdminAddr,
		Handler: adminSrv.Router(),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			elog.Error(eventIDError, fmt.Sprintf("admin http server error: %v", err))
		}
	}()

	runCtx, cancelRun := context.WithCancel(context.Background())
	go ctrl.Run(runCtx)

	elog.Info(eventIDStart, fmt.Sprintf("kiosk supervisor running, kiosk_id=%s admin=%s", *kioskID, ctrl.Config.AdminAddr))

	if isService {
		<-stopChan
		elog.Info(eventIDStop, "service stop requested")
	} else {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		elog.Info(eventIDStop, "interrupt received")
	}

	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		elog.Error(eventIDError, fmt.Sprintf("graceful shutdown error: %v", err))
	}

	elog.Info(eventIDStop, "kiosk supervisor stopped")
}

// selectDistanceProvider returns nil until a real I2C sensor driver is
// wired in (spec.md section 9); a nil provider means supervisor.Build
// skips constructing a proximity.Source, and the admin trigger endpoint
// becomes the only way to start a session.
func selectDistanceProvider() proximity.DistanceProvider {
	return nil
}
