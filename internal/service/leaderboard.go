package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
	"github.com/Shivanand-hulikatti/blackboards/internal/model"
	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
	"github.com/Shivanand-hulikatti/blackboards/internal/validator"
)

// LeaderboardService maintains the taskmaster leaderboard.
type LeaderboardService struct {
	store repository.Store
	log   *logger.Logger
}

// NewLeaderboardService constructs a LeaderboardService.
func NewLeaderboardService(store repository.Store, log *logger.Logger) *LeaderboardService {
	return &LeaderboardService{store: store, log: log}
}

// List returns entries by score descending, then name.
func (s *LeaderboardService) List(ctx context.Context) ([]model.LeaderboardEntry, error) {
	entries, err := s.store.Leaderboard().List(ctx)
	if err != nil {
		return nil, storeErr("list leaderboard", err)
	}
	return orEmpty(entries), nil
}

// Replace parses a "name,score" CSV payload and swaps it in for the current
// leaderboard in one transaction. Nothing is written when parsing fails.
func (s *LeaderboardService) Replace(ctx context.Context, r io.Reader) ([]model.LeaderboardEntry, error) {
	entries, err := ParseLeaderboard(r)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.Leaderboard().DeleteAll(ctx); err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return q.Leaderboard().Insert(ctx, entries)
	})
	if err != nil {
		return nil, storeErr("replace leaderboard", err)
	}

	s.log.Info("leaderboard replaced", "entries", len(entries))
	return entries, nil
}

// ParseLeaderboard reads "name,score" records. Blank lines are skipped and
// fields are trimmed. Malformed lines and repeated names are rejected.
func ParseLeaderboard(r io.Reader) ([]model.LeaderboardEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		entries []model.LeaderboardEntry
		errs    validator.ValidationErrors
		seen    = make(map[string]int)
	)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				errs = append(errs, validator.ValidationError{
					Field:   lineField(parseErr.StartLine),
					Message: parseErr.Err.Error(),
				})
				continue
			}
			return nil, fmt.Errorf("read leaderboard csv: %w", err)
		}

		line, _ := cr.FieldPos(0)
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) != 2 {
			errs = append(errs, validator.ValidationError{
				Field:   lineField(line),
				Message: fmt.Sprintf("expected 2 fields, got %d", len(record)),
			})
			continue
		}

		name := strings.TrimSpace(record[0])
		rawScore := strings.TrimSpace(record[1])
		if name == "" {
			errs = append(errs, validator.ValidationError{Field: lineField(line), Message: "name is required"})
			continue
		}
		score, err := strconv.Atoi(rawScore)
		if err != nil {
			errs = append(errs, validator.ValidationError{
				Field:   lineField(line),
				Message: fmt.Sprintf("score %q is not an integer", rawScore),
			})
			continue
		}
		if first, ok := seen[name]; ok {
			errs = append(errs, validator.ValidationError{
				Field:   lineField(line),
				Message: fmt.Sprintf("name %q already appears on line %d", name, first),
			})
			continue
		}
		seen[name] = line
		entries = append(entries, model.LeaderboardEntry{Name: name, Score: score})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return entries, nil
}

func lineField(line int) string {
	return "line " + strconv.Itoa(line)
}
