package httpx

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// instrument wraps d so every round trip is counted and timed. Collectors that
// are already registered (a second client on the same registry) are reused.
func instrument(d Doer, reg prometheus.Registerer) (Doer, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wasmstore",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Requests sent to the wasmstore server, by method and status code.",
	}, []string{"code", "method"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wasmstore",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Round-trip latency of wasmstore requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}

	var rt http.RoundTripper = promhttp.RoundTripperFunc(d.Do)
	rt = promhttp.InstrumentRoundTripperCounter(requests, rt)
	rt = promhttp.InstrumentRoundTripperDuration(duration, rt)
	return DoerFunc(rt.RoundTrip), nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
