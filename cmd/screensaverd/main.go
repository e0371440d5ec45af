// Command screensaverd is the ambient debug/status surface described
// in SPEC_FULL.md: it boots the engine headless (a log-backed Display,
// a goroutine-backed ThreadPool) against configured folders/feeds and
// exposes /healthz, /metrics, and /debug/queue over HTTP so operators
// and integration tests can introspect engine state without a GUI
// shell. It is not a wire protocol the core depends on.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/basjohn/srpss-core/config"
	"github.com/basjohn/srpss-core/internal/engine"
	"github.com/basjohn/srpss-core/internal/hostsim"
	"github.com/basjohn/srpss-core/utils/logger"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		panic(err)
	}

	log := logger.InitLoggerWithOTel(logger.IsOTelEnabled())
	log.Info("screensaverd starting", "config", cfg.String())

	display := hostsim.LogDisplay{}
	threads := hostsim.NewThreadPool()
	defer threads.Close()

	eng := engine.New(cfg, display, threads)
	reg := prometheus.NewRegistry()
	eng.EnableMetrics(reg)

	if err := eng.Initialize(); err != nil {
		log.Error("engine initialize failed", "error", err)
		panic(err)
	}
	if err := eng.Start(); err != nil {
		log.Error("engine start failed", "error", err)
		panic(err)
	}

	e := echo.New()
	e.HideBanner = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "state": eng.State().String()})
	})
	e.GET("/debug/queue", func(c echo.Context) error {
		return c.JSON(http.StatusOK, eng.Snapshot())
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	server := &http.Server{Addr: cfg.Internal.StatusAddr, Handler: e}

	go func() {
		log.Info("screensaverd status server starting", "addr", cfg.Internal.StatusAddr)
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			log.Error("status server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("screensaverd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ClientTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("status server shutdown error", "error", err)
	}

	if err := eng.Stop(true); err != nil {
		log.Error("engine stop error", "error", err)
	}
	eng.Shutdown()
	log.Info("screensaverd stopped")
}
