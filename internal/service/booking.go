package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
	"github.com/Shivanand-hulikatti/blackboards/internal/metrics"
	"github.com/Shivanand-hulikatti/blackboards/internal/model"
	"github.com/Shivanand-hulikatti/blackboards/internal/notify"
	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
	"github.com/Shivanand-hulikatti/blackboards/internal/telemetry"
	"github.com/Shivanand-hulikatti/blackboards/internal/validator"
)

// Messages returned to bookers on success.
const (
	MsgPending   = "Successfully registered for the session, check your email to confirm it!"
	MsgConfirmed = "Successfully registered for the session!"
	MsgRedeemed  = "Thanks for confirming your email, see you at the session!"
	MsgCancelled = "Your booking has been cancelled."
)

// DefaultWindowLength is the span listed when no window is given.
const DefaultWindowLength = 7 * 24 * time.Hour

// notifyTimeout bounds one notification, independent of the request context.
const notifyTimeout = 15 * time.Second

// BookingService orchestrates sessions, pending requests and registrations.
type BookingService struct {
	store    repository.Store
	notifier notify.Notifier
	validate *validator.Validator
	log      *logger.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	newToken TokenSource
	now      func() time.Time
}

// NewBookingService constructs a BookingService with its dependencies.
func NewBookingService(store repository.Store, notifier notify.Notifier, log *logger.Logger, opts ...Option) *BookingService {
	s := &BookingService{
		store:    store,
		notifier: notifier,
		validate: validator.New(),
		log:      log,
		tracer:   telemetry.Tracer(),
		newToken: RandomToken,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit books a seat. Users who have verified their email before, by
// redeeming a token, are booked directly; everyone else receives a
// verification email and is booked when they redeem its token.
// Verification survives cancelling a seat.
func (s *BookingService) Submit(ctx context.Context, form model.RegisterForm) (outcome model.BookingOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.submit", trace.WithAttributes(
		attribute.Int64("session.id", form.SessionID),
		attribute.Int64("user.id", form.UserID),
	))
	defer func() {
		s.observe("submit", outcome, err)
		endSpan(span, err)
	}()

	form.Name = strings.TrimSpace(form.Name)
	form.Email = strings.ToLower(strings.TrimSpace(form.Email))
	if err := s.validate.Struct(form); err != nil {
		return model.BookingOutcome{}, err
	}

	verified, err := s.store.Users().IsVerified(ctx, form.UserID)
	if err != nil {
		return model.BookingOutcome{}, storeErr("check verified user", err)
	}
	span.SetAttributes(attribute.Bool("user.verified", verified))

	if verified {
		return s.submitVerified(ctx, form)
	}
	return s.submitUnverified(ctx, form)
}

// submitUnverified stores a pending request. No seat is taken until the
// token is redeemed, so unconfirmed submissions cannot exhaust a session.
func (s *BookingService) submitUnverified(ctx context.Context, form model.RegisterForm) (model.BookingOutcome, error) {
	session, err := s.store.Sessions().Find(ctx, form.SessionID)
	if err != nil {
		return model.BookingOutcome{}, storeErr("find session", err)
	}
	if session.HasStarted(s.now()) {
		return model.BookingOutcome{}, ErrSessionStarted
	}
	if session.IsFull() {
		return model.BookingOutcome{}, ErrCapacityExhausted
	}

	req := model.PendingRequest{
		SessionID: form.SessionID,
		UserID:    form.UserID,
		Name:      form.Name,
		Email:     form.Email,
	}
	if err := s.insertRequest(ctx, &req); err != nil {
		return model.BookingOutcome{}, err
	}

	s.log.Info("booking pending verification", "session_id", req.SessionID, "user_id", req.UserID)
	s.dispatch(ctx, notify.KindVerification, req.SessionID, req.UserID, func(ctx context.Context) error {
		return s.notifier.SendVerification(ctx, req, session)
	})

	return model.BookingOutcome{
		Status:    model.BookingStatusPending,
		Message:   MsgPending,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}, nil
}

// insertRequest allocates a token and inserts req, drawing a fresh token
// whenever the store reports a collision.
func (s *BookingService) insertRequest(ctx context.Context, req *model.PendingRequest) error {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return fmt.Errorf("allocate token: %w", err)
		}
		req.Token = token

		err = s.store.Requests().Insert(ctx, *req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return storeErr("insert pending request", err)
		}
		s.log.Warn("confirmation token collision", "attempt", attempt, "max_attempts", maxTokenAttempts)
	}
	return &StoreError{
		Op:  "insert pending request",
		Err: fmt.Errorf("no unique token after %d attempts", maxTokenAttempts),
	}
}

// submitVerified inserts the registration and takes the seat in one
// transaction. The insert runs first so that a repeat booking reports
// Duplicate even when the session is full.
func (s *BookingService) submitVerified(ctx context.Context, form model.RegisterForm) (model.BookingOutcome, error) {
	reg := model.Registration{SessionID: form.SessionID, UserID: form.UserID, Name: form.Name}

	var session model.Session
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		if session, err = q.Sessions().Find(ctx, reg.SessionID); err != nil {
			return err
		}
		if session.HasStarted(s.now()) {
			return ErrSessionStarted
		}
		if err := q.Registrations().Insert(ctx, reg); err != nil {
			return err
		}
		if err := q.Sessions().DecrementRemaining(ctx, reg.SessionID); err != nil {
			return err
		}
		return q.Users().MarkVerified(ctx, reg.UserID, s.now())
	})
	if err != nil {
		if errors.Is(err, ErrSessionStarted) {
			return model.BookingOutcome{}, err
		}
		return model.BookingOutcome{}, storeErr("book session", err)
	}

	s.log.Info("booking confirmed", "session_id", reg.SessionID, "user_id", reg.UserID, "path", "direct")
	s.dispatch(ctx, notify.KindConfirmation, reg.SessionID, reg.UserID, func(ctx context.Context) error {
		return s.notifier.SendConfirmation(ctx, form.Email, reg, session)
	})

	return model.BookingOutcome{
		Status:    model.BookingStatusConfirmed,
		Message:   MsgConfirmed,
		SessionID: reg.SessionID,
		UserID:    reg.UserID,
	}, nil
}

// Redeem promotes the pending request identified by token to a registration.
//
// Redeeming is idempotent: if the user already holds the seat, or the token
// was redeemed before and the seat is still held, Redeem succeeds without
// taking another seat. Redeeming marks the user verified. A spent token is
// discarded when its seat is cancelled. When the session is full the request is left intact
// and ErrCapacityExhausted is returned. A token whose session has started is
// discarded and reported as ErrSessionStarted.
func (s *BookingService) Redeem(ctx context.Context, token int64) (outcome model.BookingOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.redeem")
	defer func() {
		s.observe("redeem", outcome, err)
		endSpan(span, err)
	}()

	req, err := s.store.Requests().FindByToken(ctx, token)
	if err != nil {
		return model.BookingOutcome{}, storeErr("find pending request", err)
	}
	span.SetAttributes(
		attribute.Int64("session.id", req.SessionID),
		attribute.Int64("user.id", req.UserID),
	)

	reg := model.Registration{SessionID: req.SessionID, UserID: req.UserID, Name: req.Name}
	var (
		session model.Session
		started bool
		booked  bool
	)
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		if session, err = q.Sessions().Find(ctx, req.SessionID); err != nil {
			return err
		}

		if req.Redeemed {
			held, err := q.Registrations().Exists(ctx, reg.SessionID, reg.UserID)
			if err != nil {
				return err
			}
			if !held {
				// Spent token whose seat has since been cancelled.
				return repository.ErrNotFound
			}
			return nil
		}

		if session.HasStarted(s.now()) {
			started = true
			return ignoreNotFound(q.Requests().DeleteByToken(ctx, token))
		}

		switch err := q.Registrations().Insert(ctx, reg); {
		case errors.Is(err, repository.ErrDuplicate):
			// Already booked; the request is spent either way.
		case err != nil:
			return err
		default:
			if err := q.Sessions().DecrementRemaining(ctx, reg.SessionID); err != nil {
				return err
			}
			booked = true
		}
		if err := q.Users().MarkVerified(ctx, reg.UserID, s.now()); err != nil {
			return err
		}
		// A concurrent redeem of the same token may have marked it first.
		return ignoreNotFound(q.Requests().MarkRedeemed(ctx, token))
	})
	if err != nil {
		return model.BookingOutcome{}, storeErr("redeem token", err)
	}
	if started {
		s.log.Info("discarded token for started session", "session_id", req.SessionID, "user_id", req.UserID)
		return model.BookingOutcome{}, ErrSessionStarted
	}

	if booked {
		s.log.Info("booking confirmed", "session_id", reg.SessionID, "user_id", reg.UserID, "path", "redeem")
		s.dispatch(ctx, notify.KindConfirmation, reg.SessionID, reg.UserID, func(ctx context.Context) error {
			return s.notifier.SendConfirmation(ctx, req.Email, reg, session)
		})
	}

	return model.BookingOutcome{
		Status:    model.BookingStatusConfirmed,
		Message:   MsgRedeemed,
		SessionID: reg.SessionID,
		UserID:    reg.UserID,
	}, nil
}

// Cancel removes the user's registration and returns the seat. Spent
// tokens for the seat are deleted with it.
func (s *BookingService) Cancel(ctx context.Context, sessionID, userID int64) (outcome model.BookingOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.cancel", trace.WithAttributes(
		attribute.Int64("session.id", sessionID),
		attribute.Int64("user.id", userID),
	))
	defer func() {
		s.observe("cancel", outcome, err)
		endSpan(span, err)
	}()

	err = s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.Registrations().Cancel(ctx, sessionID, userID); err != nil {
			return err
		}
		if err := q.Sessions().IncrementRemaining(ctx, sessionID); err != nil {
			return err
		}
		_, err := q.Requests().DeleteRedeemed(ctx, sessionID, userID)
		return err
	})
	if err != nil {
		return model.BookingOutcome{}, storeErr("cancel registration", err)
	}

	s.log.Info("booking cancelled", "session_id", sessionID, "user_id", userID)
	return model.BookingOutcome{
		Status:    model.BookingStatusCancelled,
		Message:   MsgCancelled,
		SessionID: sessionID,
		UserID:    userID,
	}, nil
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// CreateSession validates the request and stores a new session.
func (s *BookingService) CreateSession(ctx context.Context, req model.CreateSessionRequest) (model.Session, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validate.Struct(req); err != nil {
		return model.Session{}, err
	}
	session, err := s.store.Sessions().Create(ctx, req)
	if err != nil {
		return model.Session{}, storeErr("create session", err)
	}
	s.log.Info("session created", "session_id", session.ID, "capacity", req.Capacity)
	return session, nil
}

// GetSession returns a session with its derived capacity.
func (s *BookingService) GetSession(ctx context.Context, id int64) (model.SessionSummary, error) {
	var summary model.SessionSummary
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		session, err := q.Sessions().Find(ctx, id)
		if err != nil {
			return err
		}
		booked, err := q.Registrations().Count(ctx, id)
		if err != nil {
			return err
		}
		summary = model.SessionSummary{
			Session:  session,
			Booked:   booked,
			Capacity: session.Remaining + booked,
		}
		return nil
	})
	if err != nil {
		return model.SessionSummary{}, storeErr("get session", err)
	}
	return summary, nil
}

// ListSessions returns every session ordered by start time.
func (s *BookingService) ListSessions(ctx context.Context) ([]model.Session, error) {
	sessions, err := s.store.Sessions().List(ctx)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	return orEmpty(sessions), nil
}

// DeleteSession removes a session together with its requests and registrations.
func (s *BookingService) DeleteSession(ctx context.Context, id int64) error {
	if err := s.store.Sessions().Delete(ctx, id); err != nil {
		return storeErr("delete session", err)
	}
	s.log.Info("session deleted", "session_id", id)
	return nil
}

// DefaultWindow is [now, now+DefaultWindowLength).
func (s *BookingService) DefaultWindow() model.SessionWindow {
	now := s.now().UTC()
	return model.SessionWindow{Start: now, End: now.Add(DefaultWindowLength)}
}

// ListRegistrations lists registrations for sessions starting inside window.
func (s *BookingService) ListRegistrations(ctx context.Context, window model.SessionWindow) ([]model.RegistrationListing, error) {
	if err := validateWindow(window); err != nil {
		return nil, err
	}
	listings, err := s.store.Registrations().ListInWindow(ctx, window)
	if err != nil {
		return nil, storeErr("list registrations", err)
	}
	return orEmpty(listings), nil
}

// UserBookings lists the sessions inside window the user holds a seat for.
func (s *BookingService) UserBookings(ctx context.Context, userID int64, window model.SessionWindow) ([]model.Session, error) {
	if err := validateWindow(window); err != nil {
		return nil, err
	}
	sessions, err := s.store.Registrations().ListBookingsOf(ctx, userID, window)
	if err != nil {
		return nil, storeErr("list user bookings", err)
	}
	return orEmpty(sessions), nil
}

// ─── Attendance ──────────────────────────────────────────────────────────────

// RecordAttendance notes that a user turned up to a session. Each pair is
// recorded once.
func (s *BookingService) RecordAttendance(ctx context.Context, form model.AttendanceForm) (model.Attendance, error) {
	if err := s.validate.Struct(form); err != nil {
		return model.Attendance{}, err
	}
	a := model.Attendance{
		SessionID:  form.SessionID,
		UserID:     form.UserID,
		RecordedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.Attendance().Record(ctx, a); err != nil {
		return model.Attendance{}, storeErr("record attendance", err)
	}
	return a, nil
}

// SessionAttendance lists who attended a session.
func (s *BookingService) SessionAttendance(ctx context.Context, sessionID int64) ([]model.Attendance, error) {
	if _, err := s.store.Sessions().Find(ctx, sessionID); err != nil {
		return nil, storeErr("find session", err)
	}
	list, err := s.store.Attendance().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list attendance", err)
	}
	return orEmpty(list), nil
}

// ─── Sweeping ────────────────────────────────────────────────────────────────

// SweepStartedRequests deletes pending requests whose session has started.
// Their tokens can no longer be redeemed.
func (s *BookingService) SweepStartedRequests(ctx context.Context) (int64, error) {
	n, err := s.store.Requests().DeleteForStartedSessions(ctx, s.now())
	if err != nil {
		return 0, storeErr("sweep pending requests", err)
	}
	s.metrics.AddSwept(n)
	if n > 0 {
		s.log.Info("swept pending requests", "count", n)
	}
	return n, nil
}

// RunSweeper calls SweepStartedRequests every interval until ctx is done.
func (s *BookingService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepStartedRequests(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// dispatch sends one notification after commit. Failures are logged and
// counted, never returned.
func (s *BookingService) dispatch(ctx context.Context, kind notify.Kind, sessionID, userID int64, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := send(ctx)
	s.metrics.ObserveNotification(string(kind), err)
	if err != nil {
		s.log.Warn("notification failed",
			"kind", kind,
			"session_id", sessionID,
			"user_id", userID,
			"error", err,
		)
	}
}

func (s *BookingService) observe(operation string, outcome model.BookingOutcome, err error) {
	label := string(outcome.Status)
	if err != nil {
		label = outcomeLabel(err)
	}
	s.metrics.ObserveBooking(operation, label)
}

func validateWindow(w model.SessionWindow) error {
	if !w.End.After(w.Start) {
		return validator.Field("end", "must be after start")
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
