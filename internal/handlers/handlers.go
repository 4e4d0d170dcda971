package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/itisteddy/fan-club-z-sub008/internal/auth"
	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
	"github.com/itisteddy/fan-club-z-sub008/internal/metrics"
	"github.com/itisteddy/fan-club-z-sub008/internal/service"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// Config wires the HTTP surface to the settlement services.
type Config struct {
	Store       *storage.Store
	Disputes    *service.DisputeService
	Coordinator *service.Coordinator
	// Preparer and Notifier back the service-to-service endpoints.
	Preparer service.Preparer
	Notifier service.Notifier
	// Session returns the server signing session used for settlement requests.
	Session   func() *ledger.Session
	Validator *auth.Validator
	// ServiceKey guards /api/settlement/*; empty disables those routes.
	ServiceKey       string
	FilingsPerMinute int
	Clock            clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Disputes == nil {
		return errors.New("dispute service is required")
	}
	if c.Coordinator == nil {
		return errors.New("coordinator is required")
	}
	if c.Validator == nil {
		return errors.New("validator is required")
	}
	if c.Session == nil {
		c.Session = func() *ledger.Session { return nil }
	}
	if c.Notifier == nil {
		c.Notifier = service.LogNotifier{}
	}
	if c.FilingsPerMinute < 1 {
		c.FilingsPerMinute = 5
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler serves the settlement API.
type Handler struct {
	cfg            Config
	disputeLimiter *RateLimiter
}

// New creates the API handler
func New(cfg Config) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiter := NewRateLimiter(rate.Every(time.Minute/time.Duration(cfg.FilingsPerMinute)), cfg.FilingsPerMinute, cfg.Clock)
	return &Handler{cfg: cfg, disputeLimiter: limiter}, nil
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.HandlePing)

		if h.cfg.ServiceKey != "" && h.cfg.Preparer != nil {
			r.Group(func(r chi.Router) {
				r.Use(h.requireServiceKey)
				r.Post("/settlement/prepare", h.HandlePrepare)
				r.Post("/settlement/onchain", h.HandleOnchain)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.cfg.Validator, h.cfg.Store))

			r.Get("/me", h.HandleMe)
			r.Put("/me/address", h.HandleSetAddress)

			r.Get("/predictions/{id}", h.HandleGetPrediction)
			r.Get("/predictions/{id}/proof", h.HandleProof)
			r.Post("/predictions/{id}/proposals", h.HandleProposeSettlement)
			r.Get("/predictions/{id}/settlement", h.HandleSettlementStatus)
			r.Post("/predictions/{id}/settlement", h.HandleSubmitSettlement)
			r.Post("/predictions/{id}/settlement/recheck", h.HandleRecheck)

			r.Get("/proposals/{id}/disputes", h.HandleListDisputes)
			r.With(RateLimitMiddleware(h.disputeLimiter, userKey)).Post("/proposals/{id}/disputes", h.HandleFileDispute)
			r.Post("/proposals/{id}/resolve", h.HandleResolveDispute)
		})
	})
	return r
}

// requireServiceKey checks the bearer token sent by backend.Client.
func (h *Handler) requireServiceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.ServiceKey)) != 1 {
			respondWithError(w, "Unauthorized: invalid service key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userKey(r *http.Request) string {
	userID, _ := auth.GetUserIDFromContext(r.Context())
	return userID
}
