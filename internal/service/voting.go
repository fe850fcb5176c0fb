package service

import (
	"context"
	"maps"
	"slices"

	"github.com/Shivanand-hulikatti/blackboards/internal/logger"
	"github.com/Shivanand-hulikatti/blackboards/internal/model"
	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
	"github.com/Shivanand-hulikatti/blackboards/internal/validator"
)

// VotingService stores ranked ballots and counts them.
type VotingService struct {
	store    repository.Store
	validate *validator.Validator
	log      *logger.Logger
}

// NewVotingService constructs a VotingService.
func NewVotingService(store repository.Store, log *logger.Logger) *VotingService {
	return &VotingService{store: store, validate: validator.New(), log: log}
}

// SubmitBallot replaces the user's ballot for the position. The first
// candidate listed is ranked 1.
func (s *VotingService) SubmitBallot(ctx context.Context, ballot model.Ballot) ([]model.Vote, error) {
	if err := s.validate.Struct(ballot); err != nil {
		return nil, err
	}

	votes := make([]model.Vote, len(ballot.Candidates))
	for i, candidate := range ballot.Candidates {
		votes[i] = model.Vote{
			UserID:      ballot.UserID,
			PositionID:  ballot.PositionID,
			CandidateID: candidate,
			Ranking:     i + 1,
		}
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.Votes().DeleteBallot(ctx, ballot.UserID, ballot.PositionID); err != nil {
			return err
		}
		return q.Votes().Insert(ctx, votes)
	})
	if err != nil {
		return nil, storeErr("submit ballot", err)
	}

	s.log.Debug("ballot submitted", "user_id", ballot.UserID, "position_id", ballot.PositionID, "preferences", len(votes))
	return votes, nil
}

// CurrentBallot returns the user's candidates for the position in ranking
// order, or ErrNotFound if they have not voted.
func (s *VotingService) CurrentBallot(ctx context.Context, userID, positionID int64) ([]int64, error) {
	votes, err := s.store.Votes().Ballot(ctx, userID, positionID)
	if err != nil {
		return nil, storeErr("get ballot", err)
	}
	if len(votes) == 0 {
		return nil, ErrNotFound
	}
	candidates := make([]int64, len(votes))
	for i, v := range votes {
		candidates[i] = v.CandidateID
	}
	return candidates, nil
}

// Results counts every ballot cast for the position.
func (s *VotingService) Results(ctx context.Context, positionID int64) (model.ElectionResult, error) {
	votes, err := s.store.Votes().ListByPosition(ctx, positionID)
	if err != nil {
		return model.ElectionResult{}, storeErr("list votes", err)
	}

	// Votes arrive ordered by user, then ranking.
	var ballots [][]int64
	for i, v := range votes {
		if i == 0 || votes[i-1].UserID != v.UserID {
			ballots = append(ballots, nil)
		}
		ballots[len(ballots)-1] = append(ballots[len(ballots)-1], v.CandidateID)
	}

	winner, rounds := Tally(ballots)
	return model.ElectionResult{
		PositionID: positionID,
		Ballots:    len(ballots),
		Winner:     winner,
		Rounds:     rounds,
	}, nil
}

// Tally runs an instant-runoff count. Each round every ballot counts for its
// highest-ranked continuing candidate. A candidate holding more than half of
// the counted ballots wins; otherwise the candidate with the fewest votes is
// eliminated, the lowest id going first on a tie. Winner is zero when no
// ballot names a candidate.
func Tally(ballots [][]int64) (int64, []model.TallyRound) {
	continuing := make(map[int64]bool)
	for _, b := range ballots {
		for _, c := range b {
			continuing[c] = true
		}
	}

	rounds := []model.TallyRound{}
	for len(continuing) > 0 {
		counts := make(map[int64]int, len(continuing))
		for c := range continuing {
			counts[c] = 0
		}
		active := 0
		for _, b := range ballots {
			for _, c := range b {
				if continuing[c] {
					counts[c]++
					active++
					break
				}
			}
		}

		candidates := slices.Sorted(maps.Keys(counts))
		leader, lowest := candidates[0], candidates[0]
		for _, c := range candidates[1:] {
			if counts[c] > counts[leader] {
				leader = c
			}
			if counts[c] < counts[lowest] {
				lowest = c
			}
		}

		round := model.TallyRound{Counts: counts}
		if counts[leader]*2 > active || len(candidates) == 1 {
			rounds = append(rounds, round)
			return leader, rounds
		}

		round.Eliminated = lowest
		delete(continuing, lowest)
		rounds = append(rounds, round)
	}
	return 0, rounds
}
