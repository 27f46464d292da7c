package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type failConfig struct {
	rate float64
	code int
}

type sandboxOptions struct {
	latency     time.Duration
	fail        failConfig
	metricsPath string
	registry    *prometheus.Registry
	// random returns a value in [0, 1); defaults to math/rand.
	random func() float64
}

// newSandboxHandler wraps api with latency and failure injection plus request
// metrics, and mounts the metrics endpoint beside it.
func newSandboxHandler(api http.Handler, opts sandboxOptions) (http.Handler, error) {
	if opts.random == nil {
		opts.random = rand.Float64
	}
	reg := opts.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wasmstore",
		Subsystem: "sandbox",
		Name:      "requests_total",
		Help:      "Requests served by the sandbox, by method and status code.",
	}, []string{"code", "method"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wasmstore",
		Subsystem: "sandbox",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving sandbox requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wasmstore",
		Subsystem: "sandbox",
		Name:      "requests_in_flight",
		Help:      "Requests currently being served, including open watch streams.",
	})
	injected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wasmstore",
		Subsystem: "sandbox",
		Name:      "injected_failures_total",
		Help:      "Requests failed on purpose by --fail.",
	})
	for _, c := range []prometheus.Collector{requests, duration, inFlight, injected} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var h http.Handler = withMiddleware(opts.latency, opts.fail, opts.random, injected, api)
	h = promhttp.InstrumentHandlerCounter(requests, h)
	h = promhttp.InstrumentHandlerDuration(duration, h)
	h = promhttp.InstrumentHandlerInFlight(inFlight, h)

	if opts.metricsPath == "" {
		return h, nil
	}
	mux := http.NewServeMux()
	mux.Handle(opts.metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", h)
	return mux, nil
}

func withMiddleware(delay time.Duration, failCfg failConfig, random func() float64, injected prometheus.Counter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failCfg.rate > 0 && random() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			injected.Inc()
			http.Error(w, "failure injected", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseFailConfig(raw string) (failConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	cfg := failConfig{code: http.StatusInternalServerError}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return failConfig{}, fmt.Errorf("invalid fail segment %q", part)
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "rate":
			rate, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return failConfig{}, err
			}
			if rate < 0 || rate > 1 {
				return failConfig{}, fmt.Errorf("fail rate %v outside [0, 1]", rate)
			}
			cfg.rate = rate
		case "code":
			code, err := strconv.Atoi(val)
			if err != nil {
				return failConfig{}, err
			}
			if code < 100 || code > 599 {
				return failConfig{}, fmt.Errorf("fail code %d is not an HTTP status", code)
			}
			cfg.code = code
		default:
			return failConfig{}, fmt.Errorf("unknown fail key %q", key)
		}
	}
	return cfg, nil
}
