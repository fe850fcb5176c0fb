// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
	"github.com/Shivanand-hulikatti/blackboards/internal/model"
	"github.com/Shivanand-hulikatti/blackboards/internal/service"
	"github.com/Shivanand-hulikatti/blackboards/internal/validator"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Handler holds all HTTP handlers for the blackboards API.
type Handler struct {
	booking     *service.BookingService
	leaderboard *service.LeaderboardService
	voting      *service.VotingService
	log         *logger.Logger
}

// New constructs a Handler.
func New(booking *service.BookingService, leaderboard *service.LeaderboardService, voting *service.VotingService, log *logger.Logger) *Handler {
	return &Handler{booking: booking, leaderboard: leaderboard, voting: voting, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps a service error kind onto a status code. Store
// failures are logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusUnprocessableEntity, model.ErrorResponse{Error: "validation failed", Details: verrs})
	case errors.Is(err, service.ErrSessionStarted):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrCapacityExhausted):
		writeError(w, http.StatusConflict, "session is fully booked")
	case errors.Is(err, service.ErrDuplicate):
		writeError(w, http.StatusConflict, "you are already booked onto this session")
	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathInt(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// window reads ?start=&end= as RFC 3339. A missing bound falls back to the
// service default.
func (h *Handler) window(r *http.Request) (model.SessionWindow, error) {
	w := h.booking.DefaultWindow()
	q := r.URL.Query()
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return w, fmt.Errorf("invalid start: %q", raw)
		}
		w.Start = t.UTC()
		if q.Get("end") == "" {
			w.End = w.Start.Add(service.DefaultWindowLength)
		}
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return w, fmt.Errorf("invalid end: %q", raw)
		}
		w.End = t.UTC()
	}
	return w, nil
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.booking.ListSessions(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CreateSession handles POST /sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	session, err := h.booking.CreateSession(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// GetSession handles GET /sessions/{id}
// Returns the session with its booked count and capacity.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.booking.GetSession(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DeleteSession handles DELETE /sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.booking.DeleteSession(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Booking ──────────────────────────────────────────────────────────────────

// Register handles POST /sessions/register
// Confirmed bookings answer 201; bookings awaiting email verification answer 202.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var form model.RegisterForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := h.booking.Submit(r.Context(), form)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if outcome.Status == model.BookingStatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

// Confirm handles GET /sessions/confirm/{token}
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	token, err := pathInt(r, "token")
	if err != nil {
		// Malformed tokens are indistinguishable from unknown ones.
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	outcome, err := h.booking.Redeem(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Cancel handles DELETE /sessions/{id}/registrations/{userID}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.booking.Cancel(r.Context(), sessionID, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ListRegistrations handles GET /registrations?start=&end=
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	window, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listings, err := h.booking.ListRegistrations(r.Context(), window)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// UserBookings handles GET /users/{id}/bookings?start=&end=
func (h *Handler) UserBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.booking.UserBookings(r.Context(), userID, window)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// ─── Attendance ───────────────────────────────────────────────────────────────

// RecordAttendance handles POST /attendance/record
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var form model.AttendanceForm
	if err := decodeJSON(w, r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	a, err := h.booking.RecordAttendance(r.Context(), form)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// SessionAttendance handles GET /sessions/{id}/attendance
func (h *Handler) SessionAttendance(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.booking.SessionAttendance(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ─── Leaderboard ──────────────────────────────────────────────────────────────

// Leaderboard handles GET /leaderboard
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.leaderboard.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ReplaceLeaderboard handles PUT /leaderboard with a "name,score" CSV body.
func (h *Handler) ReplaceLeaderboard(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "text/csv" && mediaType != "text/plain") {
			writeError(w, http.StatusUnsupportedMediaType, "expected text/csv body")
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	entries, err := h.leaderboard.Replace(r.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "leaderboard upload too large")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ─── Voting ───────────────────────────────────────────────────────────────────

type ballotRequest struct {
	UserID     int64   `json:"user_id"`
	Candidates []int64 `json:"candidates"`
}

// SubmitBallot handles PUT /ballots/{positionID}
func (h *Handler) SubmitBallot(w http.ResponseWriter, r *http.Request) {
	positionID, err := pathInt(r, "positionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ballotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	votes, err := h.voting.SubmitBallot(r.Context(), model.Ballot{
		UserID:     req.UserID,
		PositionID: positionID,
		Candidates: req.Candidates,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

// CurrentBallot handles GET /ballots/{positionID}/users/{userID}
func (h *Handler) CurrentBallot(w http.ResponseWriter, r *http.Request) {
	positionID, err := pathInt(r, "positionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := pathInt(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.voting.CurrentBallot(r.Context(), userID, positionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Ballot{UserID: userID, PositionID: positionID, Candidates: candidates})
}

// Results handles GET /ballots/{positionID}/results
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	positionID, err := pathInt(r, "positionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.voting.Results(r.Context(), positionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
