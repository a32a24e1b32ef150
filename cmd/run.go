package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/divert/internal/clock"
	"grimm.is/divert/internal/config"
	"grimm.is/divert/internal/divert"
	"grimm.is/divert/internal/eventloop"
	"grimm.is/divert/internal/firewall"
	"grimm.is/divert/internal/logging"
	"grimm.is/divert/internal/metrics"
)

// Run starts the daemon in the foreground: install every configured
// divert rule, then pump the event loop until SIGINT/SIGTERM. All rules
// are removed before Run returns, including when a later element fails
// to come up.
func Run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)
	logging.SetDefault(log)

	if len(cfg.Diverts) == 0 {
		return fmt.Errorf("no divert blocks in %s", configFile)
	}

	driver, err := firewall.New(log)
	if err != nil {
		return err
	}
	loop, err := eventloop.New(log)
	if err != nil {
		return err
	}
	defer loop.Close()

	reg := metrics.Get()
	var live []*divert.Element
	teardown := func() {
		for i := len(live) - 1; i >= 0; i-- {
			live[i].Uninitialize()
			reg.RuleRemoved()
		}
		live = nil
	}

	for i := range cfg.Diverts {
		d := &cfg.Diverts[i]
		sink := metrics.NewSink(d.Name, nil)
		elem := divert.NewElement(d.Name, divert.Deps{
			Driver:    driver,
			Output:    sink,
			Registrar: loop,
			Log:       log,
		})
		if err := elem.Configure(d.Tokens()); err != nil {
			teardown()
			return err
		}
		if err := elem.Initialize(); err != nil {
			reg.RecordInstallFailure(d.Name)
			teardown()
			return err
		}
		reg.RuleInstalled()
		live = append(live, elem)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if cfg.Metrics != nil && cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			log.Info("metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err.Error())
			}
		}()
	}

	start := clock.Now()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.Uptime.Set(clock.Since(start).Seconds())
			}
		}
	}()

	log.Info("daemon started", "elements", len(live))
	err = loop.Run(ctx)

	teardown()
	if metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsSrv.Shutdown(shutCtx)
		cancel()
	}

	if errors.Is(err, context.Canceled) {
		log.Info("shut down")
		return nil
	}
	return err
}

// newLogger builds the daemon logger from the optional log block.
func newLogger(lc *config.LogConfig) *logging.Logger {
	c := logging.DefaultConfig()
	if lc != nil {
		c.JSON = lc.JSON
		switch lc.Level {
		case "debug":
			c.Level = logging.LevelDebug
		case "warn":
			c.Level = logging.LevelWarn
		case "error":
			c.Level = logging.LevelError
		}
	}
	return logging.New(c)
}
