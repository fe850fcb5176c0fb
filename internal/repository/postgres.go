package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/blackboards/internal/model"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PostgresStore persists everything in PostgreSQL.
type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction.
//
// READ COMMITTED is sufficient for the capacity counter: the conditional
// UPDATE in DecrementRemaining re-evaluates "remaining > 0" after it obtains
// the row lock, so of two transactions racing for the last seat the second
// observes zero affected rows instead of a serialization failure.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type pgQueries struct {
	q pgQuerier
}

func (p pgQueries) Sessions() SessionRepository           { return pgSessions(p) }
func (p pgQueries) Requests() RequestRepository           { return pgRequests(p) }
func (p pgQueries) Registrations() RegistrationRepository { return pgRegistrations(p) }
func (p pgQueries) Users() UserRepository                 { return pgUsers(p) }
func (p pgQueries) Attendance() AttendanceRepository      { return pgAttendance(p) }
func (p pgQueries) Leaderboard() LeaderboardRepository    { return pgLeaderboard(p) }
func (p pgQueries) Votes() VoteRepository                 { return pgVotes(p) }

// mapPgError turns constraint violations into repository sentinels.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503":
			return ErrNotFound
		}
	}
	return err
}

// ─── Sessions ────────────────────────────────────────────────────────────────

type pgSessions pgQueries

func (r pgSessions) Create(ctx context.Context, req model.CreateSessionRequest) (model.Session, error) {
	s := model.Session{
		Title:     req.Title,
		StartTime: req.StartTime.UTC(),
		Remaining: req.Capacity,
	}
	err := r.q.QueryRow(ctx,
		`INSERT INTO sessions (title, start_time, remaining)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		s.Title, s.StartTime, s.Remaining,
	).Scan(&s.ID)
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (r pgSessions) Find(ctx context.Context, id int64) (model.Session, error) {
	var s model.Session
	err := r.q.QueryRow(ctx,
		`SELECT id, title, start_time, remaining
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Title, &s.StartTime, &s.Remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("get session: %w", err)
	}
	s.StartTime = s.StartTime.UTC()
	return s, nil
}

func (r pgSessions) List(ctx context.Context) ([]model.Session, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, title, start_time, remaining
		 FROM sessions
		 ORDER BY start_time, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return scanPgSessions(rows)
}

func (r pgSessions) DecrementRemaining(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE sessions
		 SET remaining = remaining - 1
		 WHERE id = $1 AND remaining > 0`,
		id,
	)
	if err != nil {
		return fmt.Errorf("decrement remaining: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing session from a full one.
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNoCapacity
}

func (r pgSessions) IncrementRemaining(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE sessions SET remaining = remaining + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("increment remaining: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgSessions) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgSessions(rows pgx.Rows) ([]model.Session, error) {
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.Title, &s.StartTime, &s.Remaining); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartTime = s.StartTime.UTC()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ─── Pending requests ────────────────────────────────────────────────────────

type pgRequests pgQueries

func (r pgRequests) Insert(ctx context.Context, req model.PendingRequest) error {
	tag, err := r.q.Exec(ctx,
		`INSERT INTO pending_requests (token, session_id, user_id, name, email)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (token) DO NOTHING`,
		req.Token, req.SessionID, req.UserID, req.Name, req.Email,
	)
	if err != nil {
		if mapped := mapPgError(err); mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("insert pending request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r pgRequests) FindByToken(ctx context.Context, token int64) (model.PendingRequest, error) {
	var req model.PendingRequest
	err := r.q.QueryRow(ctx,
		`SELECT token, session_id, user_id, name, email, redeemed
		 FROM pending_requests WHERE token = $1`,
		token,
	).Scan(&req.Token, &req.SessionID, &req.UserID, &req.Name, &req.Email, &req.Redeemed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PendingRequest{}, ErrNotFound
		}
		return model.PendingRequest{}, fmt.Errorf("get pending request: %w", err)
	}
	return req, nil
}

func (r pgRequests) MarkRedeemed(ctx context.Context, token int64) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE pending_requests SET redeemed = TRUE WHERE token = $1 AND NOT redeemed`,
		token,
	)
	if err != nil {
		return fmt.Errorf("mark request redeemed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgRequests) DeleteByToken(ctx context.Context, token int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM pending_requests WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete pending request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgRequests) DeleteRedeemed(ctx context.Context, sessionID, userID int64) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM pending_requests WHERE session_id = $1 AND user_id = $2 AND redeemed`,
		sessionID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete redeemed requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r pgRequests) DeleteForStartedSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM pending_requests p
		 USING sessions s
		 WHERE p.session_id = s.id AND s.start_time <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep pending requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ─── Registrations ───────────────────────────────────────────────────────────

type pgRegistrations pgQueries

func (r pgRegistrations) Insert(ctx context.Context, reg model.Registration) error {
	// ON CONFLICT keeps the enclosing transaction usable after a duplicate.
	tag, err := r.q.Exec(ctx,
		`INSERT INTO registrations (session_id, user_id, name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, user_id) DO NOTHING`,
		reg.SessionID, reg.UserID, reg.Name,
	)
	if err != nil {
		if mapped := mapPgError(err); mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r pgRegistrations) Cancel(ctx context.Context, sessionID, userID int64) error {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM registrations WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r pgRegistrations) Exists(ctx context.Context, sessionID, userID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE session_id = $1 AND user_id = $2)`,
		sessionID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return exists, nil
}

func (r pgRegistrations) Count(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE session_id = $1`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

func (r pgRegistrations) ListInWindow(ctx context.Context, window model.SessionWindow) ([]model.RegistrationListing, error) {
	rows, err := r.q.Query(ctx,
		`SELECT s.id, s.start_time, s.title, r.name
		 FROM registrations r
		 JOIN sessions s ON s.id = r.session_id
		 WHERE s.start_time >= $1 AND s.start_time < $2
		 ORDER BY s.start_time, s.id, r.name`,
		window.Start.UTC(), window.End.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var out []model.RegistrationListing
	for rows.Next() {
		var l model.RegistrationListing
		if err := rows.Scan(&l.SessionID, &l.StartTime, &l.SessionTitle, &l.UserName); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		l.StartTime = l.StartTime.UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r pgRegistrations) ListBookingsOf(ctx context.Context, userID int64, window model.SessionWindow) ([]model.Session, error) {
	rows, err := r.q.Query(ctx,
		`SELECT s.id, s.title, s.start_time, s.remaining
		 FROM registrations r
		 JOIN sessions s ON s.id = r.session_id
		 WHERE r.user_id = $1 AND s.start_time >= $2 AND s.start_time < $3
		 ORDER BY s.start_time, s.id`,
		userID, window.Start.UTC(), window.End.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list user bookings: %w", err)
	}
	return scanPgSessions(rows)
}

// ─── Users ───────────────────────────────────────────────────────────────────

type pgUsers pgQueries

func (r pgUsers) MarkVerified(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO verified_users (user_id, verified_at)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	return nil
}

func (r pgUsers) IsVerified(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM verified_users WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check verified user: %w", err)
	}
	return exists, nil
}

// ─── Attendance ──────────────────────────────────────────────────────────────

type pgAttendance pgQueries

func (r pgAttendance) Record(ctx context.Context, a model.Attendance) error {
	tag, err := r.q.Exec(ctx,
		`INSERT INTO attendances (session_id, user_id, recorded_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, user_id) DO NOTHING`,
		a.SessionID, a.UserID, a.RecordedAt.UTC(),
	)
	if err != nil {
		if mapped := mapPgError(err); mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r pgAttendance) ListBySession(ctx context.Context, sessionID int64) ([]model.Attendance, error) {
	rows, err := r.q.Query(ctx,
		`SELECT session_id, user_id, recorded_at
		 FROM attendances
		 WHERE session_id = $1
		 ORDER BY recorded_at, user_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []model.Attendance
	for rows.Next() {
		var a model.Attendance
		if err := rows.Scan(&a.SessionID, &a.UserID, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		a.RecordedAt = a.RecordedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── Leaderboard ─────────────────────────────────────────────────────────────

type pgLeaderboard pgQueries

func (r pgLeaderboard) List(ctx context.Context) ([]model.LeaderboardEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT name, score FROM taskmaster_entries ORDER BY score DESC, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer rows.Close()

	var out []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.Name, &e.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r pgLeaderboard) DeleteAll(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM taskmaster_entries`); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	return nil
}

func (r pgLeaderboard) Insert(ctx context.Context, entries []model.LeaderboardEntry) error {
	_, err := r.q.CopyFrom(ctx,
		pgx.Identifier{"taskmaster_entries"},
		[]string{"name", "score"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			return []any{entries[i].Name, entries[i].Score}, nil
		}),
	)
	if err != nil {
		if mapped := mapPgError(err); mapped == ErrDuplicate {
			return ErrDuplicate
		}
		return fmt.Errorf("insert leaderboard: %w", err)
	}
	return nil
}

// ─── Votes ───────────────────────────────────────────────────────────────────

type pgVotes pgQueries

func (r pgVotes) DeleteBallot(ctx context.Context, userID, positionID int64) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM votes WHERE user_id = $1 AND position_id = $2`,
		userID, positionID,
	)
	if err != nil {
		return fmt.Errorf("delete ballot: %w", err)
	}
	return nil
}

func (r pgVotes) Insert(ctx context.Context, votes []model.Vote) error {
	_, err := r.q.CopyFrom(ctx,
		pgx.Identifier{"votes"},
		[]string{"user_id", "position_id", "candidate_id", "ranking"},
		pgx.CopyFromSlice(len(votes), func(i int) ([]any, error) {
			v := votes[i]
			return []any{v.UserID, v.PositionID, v.CandidateID, v.Ranking}, nil
		}),
	)
	if err != nil {
		if mapped := mapPgError(err); mapped == ErrDuplicate {
			return ErrDuplicate
		}
		return fmt.Errorf("insert votes: %w", err)
	}
	return nil
}

func (r pgVotes) Ballot(ctx context.Context, userID, positionID int64) ([]model.Vote, error) {
	rows, err := r.q.Query(ctx,
		`SELECT user_id, position_id, candidate_id, ranking
		 FROM votes
		 WHERE user_id = $1 AND position_id = $2
		 ORDER BY ranking`,
		userID, positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get ballot: %w", err)
	}
	return scanPgVotes(rows)
}

func (r pgVotes) ListByPosition(ctx context.Context, positionID int64) ([]model.Vote, error) {
	rows, err := r.q.Query(ctx,
		`SELECT user_id, position_id, candidate_id, ranking
		 FROM votes
		 WHERE position_id = $1
		 ORDER BY user_id, ranking`,
		positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return scanPgVotes(rows)
}

func scanPgVotes(rows pgx.Rows) ([]model.Vote, error) {
	defer rows.Close()

	var out []model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.UserID, &v.PositionID, &v.CandidateID, &v.Ranking); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
