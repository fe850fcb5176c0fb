package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/blackboards/internal/database"
	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
	"github.com/Shivanand-hulikatti/blackboards/internal/model"
	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu            sync.Mutex
	verifications []model.PendingRequest
	confirmations []string
	err           error
}

func (n *fakeNotifier) SendVerification(_ context.Context, req model.PendingRequest, _ model.Session) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, req)
	return n.err
}

func (n *fakeNotifier) SendConfirmation(_ context.Context, to string, _ model.Registration, _ model.Session) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, to)
	return n.err
}

// tokenFor returns the token mailed to userID most recently.
func (n *fakeNotifier) tokenFor(t *testing.T, userID int64) int64 {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.verifications) - 1; i >= 0; i-- {
		if n.verifications[i].UserID == userID {
			return n.verifications[i].Token
		}
	}
	t.Fatalf("no verification sent to user %d", userID)
	return 0
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	store    *repository.SQLiteStore
	notifier *fakeNotifier
	clock    *testClock
	booking  *BookingService
}

func newTestStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bb.db"))
	require.NoError(t, err)
	store := repository.NewSQLiteStore(db)
	t.Cleanup(store.Close)
	return store
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newTestStore(t),
		notifier: &fakeNotifier{},
		clock:    &testClock{now: testNow},
	}
	opts = append([]Option{WithClock(env.clock.Now)}, opts...)
	env.booking = NewBookingService(env.store, env.notifier, logger.Discard(), opts...)
	return env
}

func (e *testEnv) createSession(t *testing.T, capacity int) model.Session {
	t.Helper()
	s, err := e.booking.CreateSession(context.Background(), model.CreateSessionRequest{
		Title:     "Intro to Go",
		StartTime: testNow.Add(24 * time.Hour),
		Capacity:  capacity,
	})
	require.NoError(t, err)
	return s
}

// verify records userID as having confirmed their email before.
func (e *testEnv) verify(t *testing.T, userID int64) {
	t.Helper()
	require.NoError(t, e.store.Users().MarkVerified(context.Background(), userID, testNow))
}

// verificationToken returns the token mailed to userID for sessionID.
func (e *testEnv) verificationToken(t *testing.T, userID, sessionID int64) int64 {
	t.Helper()
	e.notifier.mu.Lock()
	defer e.notifier.mu.Unlock()
	for _, req := range e.notifier.verifications {
		if req.UserID == userID && req.SessionID == sessionID {
			return req.Token
		}
	}
	t.Fatalf("no verification sent to user %d for session %d", userID, sessionID)
	return 0
}

func (e *testEnv) remaining(t *testing.T, sessionID int64) int {
	t.Helper()
	s, err := e.store.Sessions().Find(context.Background(), sessionID)
	require.NoError(t, err)
	return s.Remaining
}

// requireConserved checks remaining + registrations == capacity.
func (e *testEnv) requireConserved(t *testing.T, sessionID int64, capacity int) {
	t.Helper()
	n, err := e.store.Registrations().Count(context.Background(), sessionID)
	require.NoError(t, err)
	r := e.remaining(t, sessionID)
	require.GreaterOrEqual(t, r, 0)
	require.Equal(t, capacity, r+n, "remaining=%d registrations=%d", r, n)
}

func form(sessionID, userID int64) model.RegisterForm {
	return model.RegisterForm{
		SessionID: sessionID,
		UserID:    userID,
		Name:      "User " + string(rune('A'+userID%26)),
		Email:     "user@example.com",
	}
}
