// Command reach runs the BrowserPool as a long-lived daemon, fronted by a
// small status/metrics HTTP server. Automation itself is driven through the
// library packages (browserpool, browsercontext, page, network) by code
// embedding reach, not by this binary; main wires the pool, watches its
// config file for live changes, and serves /health, /pool/status, and
// Prometheus metrics until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"reach/internal/browserhandle"
	"reach/internal/config"
	"reach/internal/server"
	"reach/pkg/browserpool"
	"reach/pkg/logger"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	l, err := logger.New(cfg.Logging.ToLoggerConfig())
	if err != nil {
		return nil, err
	}
	return l.Zap(), nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	reloader := config.NewReloader(*configPath)
	if err := reloader.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "reach: %v\n", err)
		os.Exit(1)
	}
	defer reloader.Stop()

	cfg := reloader.GetConfig()

	zlog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reach: logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := browserpool.New(ctx, poolConfig(cfg), zlog)
	if err != nil {
		zlog.Sugar().Fatalf("start browser pool: %v", err)
	}
	defer pool.Close()

	srv := server.New(reloader, pool, zlog)
	defer srv.Shutdown()

	httpSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: srv.Routes(),
	}
	go func() {
		zlog.Sugar().Infof("status server listening on %s", cfg.MetricsAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Sugar().Errorf("status server: %v", err)
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func poolConfig(cfg *config.Config) browserpool.Config {
	return browserpool.Config{
		MaxInstances:        cfg.Pool.MaxInstances,
		MinInstances:        cfg.Pool.MinInstances,
		AcquireTimeout:      cfg.Pool.AcquireTimeout,
		InstanceMaxAge:      cfg.Pool.InstanceMaxAge,
		InstanceMaxSessions: cfg.Pool.InstanceMaxSessions,
		Launch: browserhandle.Options{
			ExecPath:      cfg.Launch.ExecPath,
			Headless:      cfg.Launch.Headless,
			UserDataDir:   cfg.Launch.UserDataDir,
			ExtraFlags:    parseExtraFlags(cfg.Launch.ExtraFlags),
			ProxyURL:      cfg.Launch.ProxyURL,
			LaunchTimeout: cfg.Launch.LaunchTimeout,
		},
	}
}

// parseExtraFlags turns "--flag=value" / "--flag" YAML entries into the
// map[string]string BrowserHandle.Options expects.
func parseExtraFlags(flags []string) map[string]string {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		f = strings.TrimPrefix(f, "--")
		if k, v, ok := strings.Cut(f, "="); ok {
			out[k] = v
		} else {
			out[f] = ""
		}
	}
	return out
}
