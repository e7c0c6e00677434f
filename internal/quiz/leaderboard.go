package quiz

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/session"
)

// Leaderboard computes the top-10 ranking for a session. It is a pure
// function of current participant scores: score descending, ties broken by
// join order, so recomputation without new events is idempotent.
func (a *Aggregator) Leaderboard(s *session.Session) domain.Leaderboard {
	participants := s.Participants() // already in join order

	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].Score > participants[j].Score
	})

	if len(participants) > leaderboardSize {
		participants = participants[:leaderboardSize]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	for i, p := range participants {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:  i + 1,
			Name:  p.Name,
			Team:  p.Team,
			Score: p.Score,
		})
	}

	return domain.Leaderboard{
		SessionCode: s.Code(),
		Entries:     entries,
	}
}

// TeamScores averages member scores per team, two decimal places. Teams are
// ordered by score descending, name ascending on ties.
func (a *Aggregator) TeamScores(s *session.Session) []domain.TeamScore {
	sums := make(map[string]decimal.Decimal)
	sizes := make(map[string]int)

	for _, p := range s.Participants() {
		if p.Team == "" {
			continue
		}
		sums[p.Team] = sums[p.Team].Add(decimal.NewFromInt(int64(p.Score)))
		sizes[p.Team]++
	}

	out := make([]domain.TeamScore, 0, len(sums))
	for team, sum := range sums {
		out = append(out, domain.TeamScore{
			Team:  team,
			Score: sum.Div(decimal.NewFromInt(int64(sizes[team]))).Round(2),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Score.Equal(out[j].Score) {
			return out[i].Score.GreaterThan(out[j].Score)
		}
		return out[i].Team < out[j].Team
	})

	return out
}
