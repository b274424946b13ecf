package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/brewstamp/brewstamp/internal/stamp"
	"github.com/brewstamp/brewstamp/internal/storage"
)

// Alerter is told about every newly created stamp request.
type Alerter interface {
	StampRequested(ctx context.Context, req *stamp.Request)
}

// Options tunes a Handler. Zero values pick sensible defaults.
type Options struct {
	Clock        clockwork.Clock
	Location     *time.Location
	CookieSecure bool
	Alerts       Alerter
}

// Handler holds all API handler state.
type Handler struct {
	service *stamp.Service
	store   *storage.Storage
	alerts  Alerter
	clock   clockwork.Clock
	loc     *time.Location
	secure  bool
	log     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(service *stamp.Service, store *storage.Storage, opts Options, log *slog.Logger) *Handler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Handler{
		service: service,
		store:   store,
		alerts:  opts.Alerts,
		clock:   opts.Clock,
		loc:     opts.Location,
		secure:  opts.CookieSecure,
		log:     log,
	}
}

// Routes mounts the API endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/shops", h.CreateShop)
	r.Patch("/api/customers/{id}", h.UpdateCustomer)

	r.Post("/api/stamp-request", h.CreateRequest)
	r.Get("/api/stamp-request/history", h.History)
	r.Get("/api/stamp-request/active-dates", h.ActiveDates)
	r.Patch("/api/stamp-request/{id}", h.DecideRequest)

	r.Route("/s", func(r chi.Router) {
		r.Use(h.customerCookie)
		r.Get("/{code}", h.CheckIn)
	})
}

// Router returns a chi router with the API mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
