// Package model defines the core domain types for session booking, the
// taskmaster leaderboard and ranked-choice voting.
package model

import "time"

// Session is a scheduled event with a finite number of seats.
// Remaining is the live free-seat counter; capacity is derived as
// Remaining plus the number of registrations held for the session.
type Session struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	Remaining int       `json:"remaining"`
}

// IsFull returns true when no seats remain.
func (s *Session) IsFull() bool {
	return s.Remaining <= 0
}

// HasStarted reports whether the session start time is at or before now.
func (s *Session) HasStarted(now time.Time) bool {
	return !s.StartTime.After(now)
}

// SessionSummary is a session together with its derived capacity.
type SessionSummary struct {
	Session
	Booked   int `json:"booked"`
	Capacity int `json:"capacity"`
}

// PendingRequest is a booking that is waiting for its email address to be
// verified. Token is the bearer secret sent in the verification link.
// A redeemed request is kept until its session starts so that a repeated
// click on the same link can be answered.
type PendingRequest struct {
	Token     int64  `json:"-"`
	SessionID int64  `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Redeemed  bool   `json:"redeemed"`
}

// Registration is a confirmed seat. (SessionID, UserID) is unique.
type Registration struct {
	SessionID int64  `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
}

// RegistrationListing is one row of the registration list joined with its session.
type RegistrationListing struct {
	SessionID    int64     `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	SessionTitle string    `json:"session_title"`
	UserName     string    `json:"user_name"`
}

// SessionWindow is the half-open range [Start, End) over session start times.
type SessionWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w SessionWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// BookingStatus is the state a booking ends up in after a coordinator operation.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// BookingOutcome summarises a successful coordinator operation for the caller.
type BookingOutcome struct {
	Status    BookingStatus `json:"status"`
	Message   string        `json:"message"`
	SessionID int64         `json:"session_id"`
	UserID    int64         `json:"user_id"`
}

// Attendance records that a user turned up to a session.
type Attendance struct {
	SessionID  int64     `json:"session_id"`
	UserID     int64     `json:"user_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LeaderboardEntry is one row of the taskmaster leaderboard.
type LeaderboardEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Vote is a single ranked preference within a user's ballot for a position.
type Vote struct {
	UserID      int64 `json:"user_id"`
	PositionID  int64 `json:"position_id"`
	CandidateID int64 `json:"candidate_id"`
	Ranking     int   `json:"ranking"`
}

// TallyRound is one round of an instant-runoff count.
type TallyRound struct {
	// Counts maps each continuing candidate to its first-preference votes.
	Counts     map[int64]int `json:"counts"`
	Eliminated int64         `json:"eliminated,omitempty"`
}

// ElectionResult is the outcome of counting every ballot for a position.
// Winner is zero when no ballots were cast.
type ElectionResult struct {
	PositionID int64        `json:"position_id"`
	Ballots    int          `json:"ballots"`
	Winner     int64        `json:"winner,omitempty"`
	Rounds     []TallyRound `json:"rounds"`
}

// ─── Payloads ────────────────────────────────────────────────────────────────

// RegisterForm is the payload submitted to book a seat on a session.
type RegisterForm struct {
	SessionID int64  `json:"session_id" yaml:"session_id" validate:"required,gt=0"`
	UserID    int64  `json:"user_id" yaml:"user_id" validate:"required,gt=0"`
	Name      string `json:"name" yaml:"name" validate:"required,min=1,max=100"`
	Email     string `json:"email" yaml:"email" validate:"required,email,max=254"`
}

// AttendanceForm is the payload submitted to record attendance.
type AttendanceForm struct {
	SessionID int64 `json:"session_id" validate:"required,gt=0"`
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
}

// CreateSessionRequest is the payload for creating a new session.
type CreateSessionRequest struct {
	Title     string    `json:"title" yaml:"title" validate:"required,min=1,max=200"`
	StartTime time.Time `json:"start_time" yaml:"start_time" validate:"required"`
	Capacity  int       `json:"capacity" yaml:"capacity" validate:"required,min=1,max=100000"`
}

// Ballot is a user's ordered list of preferred candidates for one position.
type Ballot struct {
	UserID     int64   `json:"user_id" validate:"required,gt=0"`
	PositionID int64   `json:"position_id" validate:"required,gt=0"`
	Candidates []int64 `json:"candidates" validate:"required,min=1,max=50,unique,dive,gt=0"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}
