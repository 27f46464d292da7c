// Package main provides wasmstore-sandbox, a local wasmstore server backed by
// the in-memory mock store. It serves the full HTTP and websocket API so the
// SDK and CLI can be exercised without a real server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/dylibso/wasmstore_sdk_go/internal/devseed"
	"github.com/dylibso/wasmstore_sdk_go/internal/logger"
	"github.com/dylibso/wasmstore_sdk_go/pkg/wasmstore/mock"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "wasmstore-sandbox",
		Usage:   "Run a local in-memory wasmstore server",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":6384", Usage: "listen address"},
			&cli.StringFlag{Name: "seed", Usage: "path to a YAML module seed file", EnvVars: []string{"WASMSTORE_MOCK_SEED"}},
			&cli.StringFlag{Name: "auth", Usage: "require this Wasmstore-Auth token", EnvVars: []string{"WASMSTORE_AUTH"}},
			&cli.StringFlag{Name: "api-version", Value: "v1", Usage: "API version tag to mount routes under"},
			&cli.DurationFlag{Name: "latency", Usage: "artificial latency to inject per request"},
			&cli.StringFlag{Name: "fail", Usage: "failure injection (rate=<float>,code=<httpStatus>)"},
			&cli.StringFlag{Name: "metrics-path", Value: "/metrics", Usage: "path serving Prometheus metrics (empty disables)"},
			&cli.StringFlag{Name: "log-level", Usage: "log level: debug, info, warn, error (default info)"},
			&cli.StringFlag{Name: "log-format", Usage: "log format: text, json (default text)"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	logCfg := logger.DefaultConfig()
	if v := c.String("log-level"); v != "" {
		logCfg.Level = v
	}
	if v := c.String("log-format"); v != "" {
		logCfg.Format = v
	}
	if c.App.ErrWriter != nil {
		logCfg.Output = c.App.ErrWriter
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	failCfg, err := parseFailConfig(c.String("fail"))
	if err != nil {
		return fmt.Errorf("parse fail flag: %w", err)
	}

	store := mock.NewStore(mock.WithStoreLogger(log))
	if path := c.String("seed"); path != "" {
		entries, err := devseed.LoadModuleSeed(path)
		if err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		if err := store.Seed(entries); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		log.Info("seed applied", "path", path, "modules", len(entries))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	api := mock.NewHandler(store,
		mock.WithAuthToken(c.String("auth")),
		mock.WithVersion(c.String("api-version")),
		mock.WithLogger(log),
	)
	handler, err := newSandboxHandler(api, sandboxOptions{
		latency:     c.Duration("latency"),
		fail:        failCfg,
		metricsPath: c.String("metrics-path"),
		registry:    reg,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", c.String("addr"))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("wasmstore-sandbox listening", "addr", ln.Addr().String(), "auth", c.String("auth"))
	printExports(c.App.Writer, ln.Addr().String(), c.String("auth"))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	store.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// printExports writes shell lines that point the SDK at this sandbox.
func printExports(w io.Writer, addr, auth string) {
	host := addr
	if strings.HasPrefix(host, ":") || strings.HasPrefix(host, "[::]:") || strings.HasPrefix(host, "0.0.0.0:") {
		host = "localhost" + host[strings.LastIndex(host, ":"):]
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "export WASMSTORE_RUNTIME_MODE=http")
	fmt.Fprintf(w, "export WASMSTORE_URL=http://%s\n", host)
	if auth != "" {
		fmt.Fprintf(w, "export WASMSTORE_AUTH=%s\n", auth)
	}
	fmt.Fprintln(w)
}
