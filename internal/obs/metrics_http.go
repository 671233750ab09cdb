package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Route is an extra handler mounted next to /metrics and /healthz.
type Route struct {
	Pattern string
	Handler http.Handler
}

type ServerTimeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

func BootstrapMetricsServer(addr string, health func(context.Context) error, l *zap.Logger, routes ...Route) *http.Server {
	return BootstrapServer(addr, ServerTimeouts{}, health, l, routes...)
}

func BootstrapServer(addr string, to ServerTimeouts, health func(context.Context) error, l *zap.Logger, routes ...Route) *http.Server {
	ms := createMetricsServer(addr, to, health, routes)

	go func() {
		l.Info("http listening", zap.String("addr", addr), zap.Int("routes", len(routes)))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}()

	return ms
}

func createMetricsServer(addr string, to ServerTimeouts, health func(context.Context) error, routes []Route) *http.Server {
	if to.Read <= 0 {
		to.Read = 3 * time.Second
	}
	if to.Write <= 0 {
		to.Write = 3 * time.Second
	}
	if to.Idle <= 0 {
		to.Idle = 30 * time.Second
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := health(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	for _, r := range routes {
		mux.Handle(r.Pattern, otelhttp.NewHandler(r.Handler, r.Pattern))
	}
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  to.Read,
		WriteTimeout: to.Write,
		IdleTimeout:  to.Idle,
	}
}
