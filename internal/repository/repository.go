// Package repository implements persistence for sessions, pending requests,
// registrations and the sibling leaderboard and voting tables.
//
// Two backends implement Store: PostgreSQL through pgx, and SQLite through
// database/sql. Both express the capacity counter as a conditional UPDATE so
// that the check "remaining > 0" and the decrement are a single statement.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/blackboards/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoCapacity is returned when a session has no remaining seats.
var ErrNoCapacity = errors.New("session has no remaining capacity")

// ErrDuplicate is returned when an insert collides with an existing key.
var ErrDuplicate = errors.New("duplicate key")

// Store is the persistence boundary used by the services.
type Store interface {
	Queries

	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. The Queries passed to fn must
	// not be used after fn returns.
	InTx(ctx context.Context, fn func(q Queries) error) error

	Close()
}

// Queries groups the per-table repositories bound to one connection or transaction.
type Queries interface {
	Sessions() SessionRepository
	Requests() RequestRepository
	Registrations() RegistrationRepository
	Users() UserRepository
	Attendance() AttendanceRepository
	Leaderboard() LeaderboardRepository
	Votes() VoteRepository
}

// SessionRepository owns session rows and their free-seat counter.
type SessionRepository interface {
	Create(ctx context.Context, req model.CreateSessionRequest) (model.Session, error)
	Find(ctx context.Context, id int64) (model.Session, error)
	// List returns sessions ordered by start time, then id.
	List(ctx context.Context) ([]model.Session, error)
	// DecrementRemaining takes one seat. It returns ErrNoCapacity without
	// touching the row when remaining is already zero.
	DecrementRemaining(ctx context.Context, id int64) error
	// IncrementRemaining gives one seat back. Callers only invoke it when a
	// matching registration is removed in the same transaction.
	IncrementRemaining(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// RequestRepository owns verification-pending bookings keyed by token.
type RequestRepository interface {
	// Insert returns ErrDuplicate when the token is already taken.
	Insert(ctx context.Context, req model.PendingRequest) error
	FindByToken(ctx context.Context, token int64) (model.PendingRequest, error)
	// MarkRedeemed flags a request as promoted. It returns ErrNotFound when
	// the token is unknown or already redeemed.
	MarkRedeemed(ctx context.Context, token int64) error
	DeleteByToken(ctx context.Context, token int64) error
	// DeleteRedeemed removes the user's spent tokens for a session.
	DeleteRedeemed(ctx context.Context, sessionID, userID int64) (int64, error)
	// DeleteForStartedSessions removes requests whose session starts at or before now.
	DeleteForStartedSessions(ctx context.Context, now time.Time) (int64, error)
}

// RegistrationRepository owns confirmed seats.
type RegistrationRepository interface {
	// Insert returns ErrDuplicate when the user already holds a seat for the
	// session. A duplicate does not abort an enclosing transaction.
	Insert(ctx context.Context, reg model.Registration) error
	Cancel(ctx context.Context, sessionID, userID int64) error
	Exists(ctx context.Context, sessionID, userID int64) (bool, error)
	Count(ctx context.Context, sessionID int64) (int, error)
	ListInWindow(ctx context.Context, window model.SessionWindow) ([]model.RegistrationListing, error)
	ListBookingsOf(ctx context.Context, userID int64, window model.SessionWindow) ([]model.Session, error)
}

// UserRepository records which users have proven their email address.
// Verification is permanent: cancelling registrations does not revoke it.
type UserRepository interface {
	// MarkVerified is idempotent.
	MarkVerified(ctx context.Context, userID int64, at time.Time) error
	IsVerified(ctx context.Context, userID int64) (bool, error)
}

// AttendanceRepository records who turned up to a session.
type AttendanceRepository interface {
	Record(ctx context.Context, a model.Attendance) error
	ListBySession(ctx context.Context, sessionID int64) ([]model.Attendance, error)
}

// LeaderboardRepository stores taskmaster scores.
type LeaderboardRepository interface {
	List(ctx context.Context) ([]model.LeaderboardEntry, error)
	DeleteAll(ctx context.Context) error
	Insert(ctx context.Context, entries []model.LeaderboardEntry) error
}

// VoteRepository stores ranked ballots.
type VoteRepository interface {
	DeleteBallot(ctx context.Context, userID, positionID int64) error
	Insert(ctx context.Context, votes []model.Vote) error
	// Ballot returns one user's votes for a position ordered by ranking.
	Ballot(ctx context.Context, userID, positionID int64) ([]model.Vote, error)
	// ListByPosition returns every vote for a position ordered by user, then ranking.
	ListByPosition(ctx context.Context, positionID int64) ([]model.Vote, error)
}
