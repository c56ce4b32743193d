// Package httpapi exposes the board over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"meal-board/internal/app"
	"meal-board/internal/identity"
	"meal-board/internal/logging"
	"meal-board/internal/metrics"
	"meal-board/internal/shopping"
	"meal-board/internal/storage"
)

const maxBodyBytes = 2 << 20

// BoardService is the application surface the handlers drive.
type BoardService interface {
	GetWeek(ctx context.Context, userID, weekStartISO string) (app.SaveResult, error)
	SaveWeek(ctx context.Context, userID, weekStartISO string, payload []byte) (app.SaveResult, error)
	AddMeal(ctx context.Context, userID, weekStartISO, date, slot string, mealJSON []byte) (app.SaveResult, error)
	RemoveMeal(ctx context.Context, userID, weekStartISO, date, slot, mealID string) (app.SaveResult, error)
	ShoppingList(ctx context.Context, userID, weekStartISO string) (shopping.ShoppingList, error)
}

// Options configures the router.
type Options struct {
	Resolver *identity.Resolver
	Sessions identity.TokenVerifier
	// ImageDir is the local bucket root served under /images/. Empty disables the route.
	ImageDir string
	Health   func(ctx context.Context) metrics.SysHealth
	Logger   logrus.FieldLogger
}

type handler struct {
	svc      BoardService
	resolver *identity.Resolver
	log      logrus.FieldLogger
}

// NewRouter builds the HTTP API.
func NewRouter(svc BoardService, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = identity.NewResolver(opts.Sessions, "", "")
	}
	h := &handler{svc: svc, resolver: resolver, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(requestLogger(log))

	r.Get("/healthz", healthHandler(opts.Health))
	r.Handle("/metrics", metrics.Handler())
	if opts.ImageDir != "" {
		r.Handle(storage.LocalRoutePrefix+"*", imageHandler(opts.ImageDir))
	}

	r.Route("/api", func(r chi.Router) {
		if opts.Sessions != nil {
			r.Use(identity.SessionMiddleware(opts.Sessions))
		}
		r.Use(h.requireUser)

		r.Route("/weeks/{weekStartISO}", func(r chi.Router) {
			r.Get("/", h.getWeek)
			r.Put("/", h.saveWeek)
			r.Get("/shopping-list", h.shoppingList)
			r.Post("/days/{date}/{slot}/meals", h.addMeal)
			r.Delete("/days/{date}/{slot}/meals/{mealId}", h.removeMeal)
		})
	})
	return r
}

// requireUser resolves the caller once and pins it on the context.
func (h *handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := h.resolver.Resolve(r)
		if err != nil {
			h.log.WithFields(logrus.Fields{"path": r.URL.Path, "reason": err.Error()}).Debug("Rejected unauthenticated request")
			writeAppError(w, h.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), u)))
	})
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"durationMs": time.Since(start).Milliseconds(),
				"requestId":  middleware.GetReqID(r.Context()),
			}).Info("HTTP request")
		})
	}
}

func healthHandler(health func(ctx context.Context) metrics.SysHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		h := health(r.Context())
		status := http.StatusOK
		if !h.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}

// imageHandler serves stored objects with the same immutable caching the
// remote bucket uses. Directory listings are not exposed.
func imageHandler(dir string) http.Handler {
	files := http.StripPrefix(storage.LocalRoutePrefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || strings.Contains(r.URL.Path, "/.upload-") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", storage.CacheControl)
		files.ServeHTTP(w, r)
	})
}
