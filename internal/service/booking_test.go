package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/blackboards/internal/metrics"
	"github.com/Shivanand-hulikatti/blackboards/internal/model"
	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
	"github.com/Shivanand-hulikatti/blackboards/internal/validator"
)

func TestSubmitUnverifiedCreatesPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 2)

	out, err := env.booking.Submit(ctx, model.RegisterForm{SessionID: s.ID, UserID: 1, Name: "  Ada ", Email: " Ada@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPending, out.Status)
	assert.Equal(t, MsgPending, out.Message)

	// A pending request never takes a seat.
	assert.Equal(t, 2, env.remaining(t, s.ID))
	env.requireConserved(t, s.ID, 2)

	require.Len(t, env.notifier.verifications, 1)
	sent := env.notifier.verifications[0]
	assert.Equal(t, "Ada", sent.Name)
	assert.Equal(t, "ada@example.com", sent.Email)
	assert.GreaterOrEqual(t, sent.Token, int64(0))

	stored, err := env.store.Requests().FindByToken(ctx, sent.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, stored.SessionID)
	assert.False(t, stored.Redeemed)
}

func TestSubmitFailureModes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.booking.Submit(ctx, form(999, 1))
	assert.ErrorIs(t, err, ErrNotFound)

	full := env.createSession(t, 1)
	env.verify(t, 50)
	_, err = env.booking.Submit(ctx, form(full.ID, 50))
	require.NoError(t, err)

	_, err = env.booking.Submit(ctx, form(full.ID, 2))
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Empty(t, env.notifier.verifications, "no email for a full session")

	var verrs validator.ValidationErrors
	_, err = env.booking.Submit(ctx, model.RegisterForm{SessionID: full.ID, UserID: 3, Name: "x", Email: "not-an-email"})
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "email", verrs[0].Field)
}

func TestSubmitForStartedSession(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, 3)
	env.clock.Set(s.StartTime)

	_, err := env.booking.Submit(context.Background(), form(s.ID, 1))
	assert.ErrorIs(t, err, ErrSessionStarted)
	assert.ErrorIs(t, err, ErrNotFound)

	env.verify(t, 2)
	_, err = env.booking.Submit(context.Background(), form(s.ID, 2))
	assert.ErrorIs(t, err, ErrSessionStarted)
	assert.Equal(t, 3, env.remaining(t, s.ID))
}

// Three unverified users, two seats: the third redeem fails and its token survives.
func TestRedeemUntilCapacityExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 2)

	for _, user := range []int64{1, 2, 3} {
		out, err := env.booking.Submit(ctx, form(s.ID, user))
		require.NoError(t, err)
		require.Equal(t, model.BookingStatusPending, out.Status)
	}
	assert.Equal(t, 2, env.remaining(t, s.ID))

	out, err := env.booking.Redeem(ctx, env.notifier.tokenFor(t, 1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, out.Status)
	assert.Equal(t, MsgRedeemed, out.Message)
	assert.Equal(t, 1, env.remaining(t, s.ID))

	_, err = env.booking.Redeem(ctx, env.notifier.tokenFor(t, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, env.remaining(t, s.ID))

	token3 := env.notifier.tokenFor(t, 3)
	_, err = env.booking.Redeem(ctx, token3)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Equal(t, 0, env.remaining(t, s.ID))

	req, err := env.store.Requests().FindByToken(ctx, token3)
	require.NoError(t, err, "token must stay redeemable")
	assert.False(t, req.Redeemed)

	// A seat frees up and the same token now works.
	_, err = env.booking.Cancel(ctx, s.ID, 1)
	require.NoError(t, err)
	_, err = env.booking.Redeem(ctx, token3)
	require.NoError(t, err)

	env.requireConserved(t, s.ID, 2)
	assert.Len(t, env.notifier.confirmations, 3)
}

// A verified user is booked directly; a second submission is a duplicate.
func TestSubmitVerifiedDirectPathAndDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 1)
	env.verify(t, 1)

	out, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, out.Status)
	assert.Equal(t, MsgConfirmed, out.Message)
	assert.Equal(t, 0, env.remaining(t, s.ID))
	assert.Empty(t, env.notifier.verifications)
	assert.Equal(t, []string{"user@example.com"}, env.notifier.confirmations)

	_, err = env.booking.Submit(ctx, form(s.ID, 1))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 0, env.remaining(t, s.ID))
	env.requireConserved(t, s.ID, 1)
}

// A user confirmed by email who cancels their only seat stays verified and
// rebooks directly.
func TestCancelThenResubmitTakesDirectPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 1)

	out, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	require.Equal(t, model.BookingStatusPending, out.Status)
	_, err = env.booking.Redeem(ctx, env.notifier.tokenFor(t, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, env.remaining(t, s.ID))

	out, err = env.booking.Cancel(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, out.Status)
	assert.Equal(t, 1, env.remaining(t, s.ID))

	n, err := env.store.Registrations().Count(ctx, s.ID)
	require.NoError(t, err)
	require.Zero(t, n, "no seat held anywhere")

	out, err = env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, out.Status)
	assert.Equal(t, MsgConfirmed, out.Message)
	assert.Equal(t, 0, env.remaining(t, s.ID))
	assert.Len(t, env.notifier.verifications, 1, "no second verification email")
	env.requireConserved(t, s.ID, 1)
}

func TestVerificationCarriesAcrossSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.createSession(t, 3)
	second := env.createSession(t, 3)

	_, err := env.booking.Submit(ctx, form(first.ID, 1))
	require.NoError(t, err)

	// A pending request does not verify anyone.
	out, err := env.booking.Submit(ctx, form(second.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPending, out.Status)

	_, err = env.booking.Redeem(ctx, env.verificationToken(t, 1, first.ID))
	require.NoError(t, err)

	third := env.createSession(t, 3)
	out, err = env.booking.Submit(ctx, form(third.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, out.Status)
	env.requireConserved(t, third.ID, 3)
}

func TestCancelWithoutRegistration(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, 2)

	_, err := env.booking.Cancel(context.Background(), s.ID, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, env.remaining(t, s.ID))

	_, err = env.booking.Cancel(context.Background(), s.ID+10, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenCollisionRetries(t *testing.T) {
	tokens := []int64{7, 7, 7, 8}
	var mu sync.Mutex
	source := func() (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}
	env := newTestEnv(t, WithTokenSource(source))
	ctx := context.Background()
	s := env.createSession(t, 5)

	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	_, err = env.booking.Submit(ctx, form(s.ID, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(7), env.notifier.tokenFor(t, 1))
	assert.Equal(t, int64(8), env.notifier.tokenFor(t, 2))

	second, err := env.store.Requests().FindByToken(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.UserID)
}

func TestTokenCollisionGivesUp(t *testing.T) {
	env := newTestEnv(t, WithTokenSource(func() (int64, error) { return 7, nil }))
	ctx := context.Background()
	s := env.createSession(t, 5)

	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)

	_, err = env.booking.Submit(ctx, form(s.ID, 2))
	var storeError *StoreError
	require.ErrorAs(t, err, &storeError)
	assert.NotErrorIs(t, err, ErrDuplicate)
}

func TestTokenSourceError(t *testing.T) {
	boom := errors.New("entropy exhausted")
	env := newTestEnv(t, WithTokenSource(func() (int64, error) { return 0, boom }))
	s := env.createSession(t, 5)

	_, err := env.booking.Submit(context.Background(), form(s.ID, 1))
	assert.ErrorIs(t, err, boom)
}

// Two verified users race for the last seat.
func TestVerifiedRaceForLastSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 1)
	env.verify(t, 1)
	env.verify(t, 2)

	results := runConcurrently(2, func(i int) error {
		_, err := env.booking.Submit(ctx, form(s.ID, int64(i+1)))
		return err
	})

	var ok, full int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrCapacityExhausted):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 0, env.remaining(t, s.ID))
	env.requireConserved(t, s.ID, 1)
}

func TestConcurrentSubmitsNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const capacity, users = 3, 10
	s := env.createSession(t, capacity)
	for u := 1; u <= users; u++ {
		env.verify(t, int64(u))
	}

	results := runConcurrently(users, func(i int) error {
		_, err := env.booking.Submit(ctx, form(s.ID, int64(i+1)))
		return err
	})

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrCapacityExhausted)
	}
	assert.Equal(t, capacity, ok)
	env.requireConserved(t, s.ID, capacity)
}

func TestConcurrentRedeemsOfLastSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 1)
	for _, u := range []int64{1, 2} {
		_, err := env.booking.Submit(ctx, form(s.ID, u))
		require.NoError(t, err)
	}
	tokens := []int64{env.notifier.tokenFor(t, 1), env.notifier.tokenFor(t, 2)}

	results := runConcurrently(2, func(i int) error {
		_, err := env.booking.Redeem(ctx, tokens[i])
		return err
	})

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, ErrCapacityExhausted)
	}
	assert.Equal(t, 1, ok)
	env.requireConserved(t, s.ID, 1)
}

func TestRedeemIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 3)

	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	token := env.notifier.tokenFor(t, 1)

	for i := 0; i < 2; i++ {
		out, err := env.booking.Redeem(ctx, token)
		require.NoError(t, err, "redeem #%d", i+1)
		assert.Equal(t, model.BookingStatusConfirmed, out.Status)
	}

	n, err := env.store.Registrations().Count(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, env.remaining(t, s.ID))
	assert.Len(t, env.notifier.confirmations, 1, "one confirmation email")
}

func TestRedeemWhenSeatAlreadyHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 3)

	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	token := env.notifier.tokenFor(t, 1)

	// The user got a seat some other way in the meantime.
	require.NoError(t, env.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.Registrations().Insert(ctx, model.Registration{SessionID: s.ID, UserID: 1, Name: "A"}); err != nil {
			return err
		}
		return q.Sessions().DecrementRemaining(ctx, s.ID)
	}))

	_, err = env.booking.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 2, env.remaining(t, s.ID))

	req, err := env.store.Requests().FindByToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, req.Redeemed)
	env.requireConserved(t, s.ID, 3)
}

func TestRedeemSpentTokenAfterCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 3)

	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	token := env.notifier.tokenFor(t, 1)
	_, err = env.booking.Redeem(ctx, token)
	require.NoError(t, err)
	_, err = env.booking.Cancel(ctx, s.ID, 1)
	require.NoError(t, err)

	// Cancelling discarded the spent token.
	_, err = env.store.Requests().FindByToken(ctx, token)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = env.booking.Redeem(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, env.remaining(t, s.ID))
}

func TestRedeemUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.booking.Redeem(context.Background(), 123456)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeemAfterSessionStarted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 3)

	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	token := env.notifier.tokenFor(t, 1)

	env.clock.Set(s.StartTime.Add(time.Minute))
	_, err = env.booking.Redeem(ctx, token)
	assert.ErrorIs(t, err, ErrSessionStarted)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, env.remaining(t, s.ID))

	_, err = env.store.Requests().FindByToken(ctx, token)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// submit, redeem, cancel, submit: each step keeps the counter conserved.
func TestBookingCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 4)

	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	_, err = env.booking.Redeem(ctx, env.notifier.tokenFor(t, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, env.remaining(t, s.ID))

	_, err = env.booking.Cancel(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, env.remaining(t, s.ID))

	out, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	require.Equal(t, model.BookingStatusConfirmed, out.Status)

	assert.Equal(t, 3, env.remaining(t, s.ID))
	env.requireConserved(t, s.ID, 4)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	m := metrics.New()
	env := newTestEnv(t, WithMetrics(m))
	env.notifier.err = errors.New("smtp relay down")
	ctx := context.Background()
	s := env.createSession(t, 2)

	out, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPending, out.Status)

	_, err = env.booking.Redeem(ctx, env.notifier.tokenFor(t, 1))
	require.NoError(t, err)
	env.requireConserved(t, s.ID, 2)
	assert.Equal(t, 1, env.remaining(t, s.ID))

	n, err := testutil.GatherAndCount(m.Registry(), "blackboards_notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one failed series per notification kind")

	n, err = testutil.GatherAndCount(m.Registry(), "blackboards_booking_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetSessionSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 5)
	env.verify(t, 1)
	env.verify(t, 2)
	for _, u := range []int64{1, 2} {
		_, err := env.booking.Submit(ctx, form(s.ID, u))
		require.NoError(t, err)
	}

	summary, err := env.booking.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Remaining)
	assert.Equal(t, 2, summary.Booked)
	assert.Equal(t, 5, summary.Capacity)

	_, err = env.booking.GetSession(ctx, s.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.booking.CreateSession(context.Background(), model.CreateSessionRequest{
		Title:     "   ",
		StartTime: testNow,
		Capacity:  0,
	})
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
}

func TestListSessionsAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessions, err := env.booking.ListSessions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)

	s := env.createSession(t, 2)
	sessions, err = env.booking.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, env.booking.DeleteSession(ctx, s.ID))
	assert.ErrorIs(t, env.booking.DeleteSession(ctx, s.ID), ErrNotFound)
}

func TestListRegistrationsWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 2)
	env.verify(t, 1)
	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)

	window := env.booking.DefaultWindow()
	assert.Equal(t, testNow, window.Start)
	assert.Equal(t, testNow.Add(DefaultWindowLength), window.End)

	listings, err := env.booking.ListRegistrations(ctx, window)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, s.ID, listings[0].SessionID)
	assert.Equal(t, "Intro to Go", listings[0].SessionTitle)

	bookings, err := env.booking.UserBookings(ctx, 1, window)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)

	_, err = env.booking.ListRegistrations(ctx, model.SessionWindow{Start: testNow, End: testNow})
	var verrs validator.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestRecordAttendance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 2)

	a, err := env.booking.RecordAttendance(ctx, model.AttendanceForm{SessionID: s.ID, UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, testNow, a.RecordedAt)

	_, err = env.booking.RecordAttendance(ctx, model.AttendanceForm{SessionID: s.ID, UserID: 1})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = env.booking.RecordAttendance(ctx, model.AttendanceForm{SessionID: s.ID + 1, UserID: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := env.booking.SessionAttendance(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.Attendance{a}, list)
}

func TestSweepStartedRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSession(t, 2)
	_, err := env.booking.Submit(ctx, form(s.ID, 1))
	require.NoError(t, err)

	n, err := env.booking.SweepStartedRequests(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Set(s.StartTime)
	n, err = env.booking.SweepStartedRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = env.booking.Redeem(ctx, env.notifier.tokenFor(t, 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.booking.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRandomTokenRange(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		tok, err := RandomToken()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, tok, int64(0))
		seen[tok] = true
	}
	assert.Greater(t, len(seen), 95)
}

func runConcurrently(n int, fn func(i int) error) []error {
	results := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return results
}
