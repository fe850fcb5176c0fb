package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/blackboards/internal/model"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore persists everything in a local SQLite file. It is meant for
// development and tests; the handle should be opened with
// database.OpenSQLite so that foreign keys are enforced and transactions
// are serialised over one connection.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

// NewSQLiteStore wraps an open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqliteQueries: sqliteQueries{q: db}, db: db}
}

// InTx runs fn in a transaction. fn must only use the Queries it is given:
// the handle has a single connection, which the transaction holds.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(sqliteQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

type sqliteQueries struct {
	q sqlQuerier
}

func (s sqliteQueries) Sessions() SessionRepository           { return sqliteSessions(s) }
func (s sqliteQueries) Requests() RequestRepository           { return sqliteRequests(s) }
func (s sqliteQueries) Registrations() RegistrationRepository { return sqliteRegistrations(s) }
func (s sqliteQueries) Users() UserRepository                 { return sqliteUsers(s) }
func (s sqliteQueries) Attendance() AttendanceRepository      { return sqliteAttendance(s) }
func (s sqliteQueries) Leaderboard() LeaderboardRepository    { return sqliteLeaderboard(s) }
func (s sqliteQueries) Votes() VoteRepository                 { return sqliteVotes(s) }

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// mapSQLiteError turns constraint violations into repository sentinels.
func mapSQLiteError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return ErrDuplicate
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrNotFound
		}
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "unique constraint failed"):
		return ErrDuplicate
	case strings.Contains(message, "foreign key constraint failed"):
		return ErrNotFound
	}
	return err
}

func isSentinel(err error) bool {
	return err == ErrDuplicate || err == ErrNotFound
}

// ─── Sessions ────────────────────────────────────────────────────────────────

type sqliteSessions sqliteQueries

func (r sqliteSessions) Create(ctx context.Context, req model.CreateSessionRequest) (model.Session, error) {
	s := model.Session{
		Title:     req.Title,
		StartTime: fromMillis(toMillis(req.StartTime)),
		Remaining: req.Capacity,
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO sessions (title, start_time, remaining) VALUES (?, ?, ?)`,
		s.Title, toMillis(s.StartTime), s.Remaining,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (r sqliteSessions) Find(ctx context.Context, id int64) (model.Session, error) {
	var s model.Session
	var start int64
	err := r.q.QueryRowContext(ctx,
		`SELECT id, title, start_time, remaining FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.Title, &start, &s.Remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("get session: %w", err)
	}
	s.StartTime = fromMillis(start)
	return s, nil
}

func (r sqliteSessions) List(ctx context.Context) ([]model.Session, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, title, start_time, remaining
		   FROM sessions
		  ORDER BY start_time, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return scanSQLiteSessions(rows)
}

func (r sqliteSessions) DecrementRemaining(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE sessions SET remaining = remaining - 1 WHERE id = ? AND remaining > 0`,
		id,
	)
	if err != nil {
		return fmt.Errorf("decrement remaining: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement remaining: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNoCapacity
}

func (r sqliteSessions) IncrementRemaining(ctx context.Context, id int64) error {
	return execOne(ctx, r.q, "increment remaining",
		`UPDATE sessions SET remaining = remaining + 1 WHERE id = ?`, id)
}

func (r sqliteSessions) Delete(ctx context.Context, id int64) error {
	return execOne(ctx, r.q, "delete session", `DELETE FROM sessions WHERE id = ?`, id)
}

func scanSQLiteSessions(rows *sql.Rows) ([]model.Session, error) {
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		var start int64
		if err := rows.Scan(&s.ID, &s.Title, &start, &s.Remaining); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartTime = fromMillis(start)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, q sqlQuerier, op, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// insertOne runs an INSERT ... ON CONFLICT DO NOTHING and reports a skipped
// row as ErrDuplicate.
func insertOne(ctx context.Context, q sqlQuerier, op, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		if mapped := mapSQLiteError(err); isSentinel(mapped) {
			return mapped
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// ─── Pending requests ────────────────────────────────────────────────────────

type sqliteRequests sqliteQueries

func (r sqliteRequests) Insert(ctx context.Context, req model.PendingRequest) error {
	return insertOne(ctx, r.q, "insert pending request",
		`INSERT INTO pending_requests (token, session_id, user_id, name, email)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (token) DO NOTHING`,
		req.Token, req.SessionID, req.UserID, req.Name, req.Email,
	)
}

func (r sqliteRequests) FindByToken(ctx context.Context, token int64) (model.PendingRequest, error) {
	var req model.PendingRequest
	err := r.q.QueryRowContext(ctx,
		`SELECT token, session_id, user_id, name, email, redeemed
		   FROM pending_requests
		  WHERE token = ?`,
		token,
	).Scan(&req.Token, &req.SessionID, &req.UserID, &req.Name, &req.Email, &req.Redeemed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PendingRequest{}, ErrNotFound
		}
		return model.PendingRequest{}, fmt.Errorf("get pending request: %w", err)
	}
	return req, nil
}

func (r sqliteRequests) MarkRedeemed(ctx context.Context, token int64) error {
	return execOne(ctx, r.q, "mark request redeemed",
		`UPDATE pending_requests SET redeemed = 1 WHERE token = ? AND redeemed = 0`, token)
}

func (r sqliteRequests) DeleteByToken(ctx context.Context, token int64) error {
	return execOne(ctx, r.q, "delete pending request",
		`DELETE FROM pending_requests WHERE token = ?`, token)
}

func (r sqliteRequests) DeleteRedeemed(ctx context.Context, sessionID, userID int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM pending_requests WHERE session_id = ? AND user_id = ? AND redeemed = 1`,
		sessionID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete redeemed requests: %w", err)
	}
	return res.RowsAffected()
}

func (r sqliteRequests) DeleteForStartedSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM pending_requests
		  WHERE session_id IN (SELECT id FROM sessions WHERE start_time <= ?)`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep pending requests: %w", err)
	}
	return res.RowsAffected()
}

// ─── Registrations ───────────────────────────────────────────────────────────

type sqliteRegistrations sqliteQueries

func (r sqliteRegistrations) Insert(ctx context.Context, reg model.Registration) error {
	return insertOne(ctx, r.q, "insert registration",
		`INSERT INTO registrations (session_id, user_id, name)
		 VALUES (?, ?, ?)
		 ON CONFLICT (session_id, user_id) DO NOTHING`,
		reg.SessionID, reg.UserID, reg.Name,
	)
}

func (r sqliteRegistrations) Cancel(ctx context.Context, sessionID, userID int64) error {
	return execOne(ctx, r.q, "delete registration",
		`DELETE FROM registrations WHERE session_id = ? AND user_id = ?`, sessionID, userID)
}

func (r sqliteRegistrations) Exists(ctx context.Context, sessionID, userID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE session_id = ? AND user_id = ?)`,
		sessionID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return exists, nil
}

func (r sqliteRegistrations) Count(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

func (r sqliteRegistrations) ListInWindow(ctx context.Context, window model.SessionWindow) ([]model.RegistrationListing, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT s.id, s.start_time, s.title, r.name
		   FROM registrations r
		   JOIN sessions s ON s.id = r.session_id
		  WHERE s.start_time >= ? AND s.start_time < ?
		  ORDER BY s.start_time, s.id, r.name`,
		toMillis(window.Start), toMillis(window.End),
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var out []model.RegistrationListing
	for rows.Next() {
		var l model.RegistrationListing
		var start int64
		if err := rows.Scan(&l.SessionID, &start, &l.SessionTitle, &l.UserName); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		l.StartTime = fromMillis(start)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r sqliteRegistrations) ListBookingsOf(ctx context.Context, userID int64, window model.SessionWindow) ([]model.Session, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT s.id, s.title, s.start_time, s.remaining
		   FROM registrations r
		   JOIN sessions s ON s.id = r.session_id
		  WHERE r.user_id = ? AND s.start_time >= ? AND s.start_time < ?
		  ORDER BY s.start_time, s.id`,
		userID, toMillis(window.Start), toMillis(window.End),
	)
	if err != nil {
		return nil, fmt.Errorf("list user bookings: %w", err)
	}
	return scanSQLiteSessions(rows)
}

// ─── Users ───────────────────────────────────────────────────────────────────

type sqliteUsers sqliteQueries

func (r sqliteUsers) MarkVerified(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO verified_users (user_id, verified_at)
		 VALUES (?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	return nil
}

func (r sqliteUsers) IsVerified(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verified_users WHERE user_id = ?)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check verified user: %w", err)
	}
	return exists, nil
}

// ─── Attendance ──────────────────────────────────────────────────────────────

type sqliteAttendance sqliteQueries

func (r sqliteAttendance) Record(ctx context.Context, a model.Attendance) error {
	return insertOne(ctx, r.q, "insert attendance",
		`INSERT INTO attendances (session_id, user_id, recorded_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (session_id, user_id) DO NOTHING`,
		a.SessionID, a.UserID, toMillis(a.RecordedAt),
	)
}

func (r sqliteAttendance) ListBySession(ctx context.Context, sessionID int64) ([]model.Attendance, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT session_id, user_id, recorded_at
		   FROM attendances
		  WHERE session_id = ?
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
		var at int64
		if err := rows.Scan(&a.SessionID, &a.UserID, &at); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		a.RecordedAt = fromMillis(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── Leaderboard ─────────────────────────────────────────────────────────────

type sqliteLeaderboard sqliteQueries

func (r sqliteLeaderboard) List(ctx context.Context) ([]model.LeaderboardEntry, error) {
	rows, err := r.q.QueryContext(ctx,
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

func (r sqliteLeaderboard) DeleteAll(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM taskmaster_entries`); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	return nil
}

func (r sqliteLeaderboard) Insert(ctx context.Context, entries []model.LeaderboardEntry) error {
	for _, e := range entries {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO taskmaster_entries (name, score) VALUES (?, ?)`,
			e.Name, e.Score,
		)
		if err != nil {
			if mapped := mapSQLiteError(err); mapped == ErrDuplicate {
				return ErrDuplicate
			}
			return fmt.Errorf("insert leaderboard entry %q: %w", e.Name, err)
		}
	}
	return nil
}

// ─── Votes ───────────────────────────────────────────────────────────────────

type sqliteVotes sqliteQueries

func (r sqliteVotes) DeleteBallot(ctx context.Context, userID, positionID int64) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM votes WHERE user_id = ? AND position_id = ?`, userID, positionID,
	)
	if err != nil {
		return fmt.Errorf("delete ballot: %w", err)
	}
	return nil
}

func (r sqliteVotes) Insert(ctx context.Context, votes []model.Vote) error {
	for _, v := range votes {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO votes (user_id, position_id, candidate_id, ranking) VALUES (?, ?, ?, ?)`,
			v.UserID, v.PositionID, v.CandidateID, v.Ranking,
		)
		if err != nil {
			if mapped := mapSQLiteError(err); mapped == ErrDuplicate {
				return ErrDuplicate
			}
			return fmt.Errorf("insert vote: %w", err)
		}
	}
	return nil
}

func (r sqliteVotes) Ballot(ctx context.Context, userID, positionID int64) ([]model.Vote, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id, position_id, candidate_id, ranking
		   FROM votes
		  WHERE user_id = ? AND position_id = ?
		  ORDER BY ranking`,
		userID, positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get ballot: %w", err)
	}
	return scanSQLiteVotes(rows)
}

func (r sqliteVotes) ListByPosition(ctx context.Context, positionID int64) ([]model.Vote, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id, position_id, candidate_id, ranking
		   FROM votes
		  WHERE position_id = ?
		  ORDER BY user_id, ranking`,
		positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return scanSQLiteVotes(rows)
}

func scanSQLiteVotes(rows *sql.Rows) ([]model.Vote, error) {
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

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
