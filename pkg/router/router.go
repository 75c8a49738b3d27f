package router

import (
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-logr/logr"
)

type Options struct {
	CompressLevel     int
	RateLimitRequests *int
	RateLimitDuration *time.Duration
	BasicAuth         bool
	BasicAuthCreds    map[string]string
}

type Option func(*Options)

func WithCompressLevel(level int) Option {
	return func(o *Options) {
		o.CompressLevel = level
	}
}

func WithRateLimit(requests int, duration time.Duration) Option {
	return func(o *Options) {
		if requests != 0 && duration != 0 {
			o.RateLimitRequests = &requests
			o.RateLimitDuration = &duration
		}
	}
}

func WithBasicAuth(auth bool, user, pass string) Option {
	return func(o *Options) {
		o.BasicAuth = auth
		o.BasicAuthCreds = map[string]string{
			user: pass,
		}
	}
}

// HealthChecker reports whether the daemon is healthy. A nil error means healthy.
type HealthChecker interface {
	Healthy() error
}

func NewRouter(health HealthChecker, metrics http.Handler, logger logr.Logger, opts ...Option) http.Handler {
	routerOpts := Options{
		CompressLevel: 5,
	}
	for _, setOpt := range opts {
		setOpt(&routerOpts)
	}
	r := chi.NewRouter()
	r.Use(middleware.Compress(routerOpts.CompressLevel))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(health, logger))
	r.Mount("/metrics", metricsRouter(metrics, &routerOpts))

	return r
}

func healthHandler(health HealthChecker, logger logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		if err := health.Healthy(); err != nil {
			logger.V(1).Info("Unhealthy", "err", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func metricsRouter(metrics http.Handler, opts *Options) http.Handler {
	r := chi.NewRouter()
	if opts.RateLimitRequests != nil && opts.RateLimitDuration != nil {
		r.Use(httprate.LimitAll(*opts.RateLimitRequests, *opts.RateLimitDuration))
	}
	if opts.BasicAuth && opts.BasicAuthCreds != nil {
		r.Use(middleware.BasicAuth("mysqlbackup", opts.BasicAuthCreds))
	}
	r.Handle("/", metrics)

	return r
}
