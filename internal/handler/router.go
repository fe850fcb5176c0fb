package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
	"github.com/Shivanand-hulikatti/blackboards/internal/metrics"
)

// NewRouter builds the chi router with the global middleware stack. m may
// be nil, in which case /metrics is not mounted.
func NewRouter(h *Handler, log *logger.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(log, m))
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.CreateSession)
		r.Post("/register", h.Register)
		r.Get("/confirm/{token}", h.Confirm)
		r.Get("/{id}", h.GetSession)
		r.Delete("/{id}", h.DeleteSession)
		r.Get("/{id}/attendance", h.SessionAttendance)
		r.Delete("/{id}/registrations/{userID}", h.Cancel)
	})

	r.Get("/registrations", h.ListRegistrations)
	r.Get("/users/{id}/bookings", h.UserBookings)
	r.Post("/attendance/record", h.RecordAttendance)

	r.Get("/leaderboard", h.Leaderboard)
	r.Put("/leaderboard", h.ReplaceLeaderboard)

	r.Route("/ballots/{positionID}", func(r chi.Router) {
		r.Put("/", h.SubmitBallot)
		r.Get("/users/{userID}", h.CurrentBallot)
		r.Get("/results", h.Results)
	})

	return r
}
