package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/event"
)

type ArchiveConfig struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

// Archive persists session history to Postgres. It only listens on the event
// bus, so a slow or unavailable database never stalls a live session; failed
// writes are logged by the bus and the row is lost.
type Archive struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewArchive(c ArchiveConfig) *Archive {
	a := &Archive{
		eb: c.EventBus,
		db: c.DB,
	}

	a.eb.Subscribe(domain.EventNameAnswerRecorded, func(ctx context.Context, e event.Event) error {
		return a.insertAnswer(ctx, e.(domain.EventAnswerRecorded))
	})
	a.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return a.upsertScore(ctx, e.(domain.EventScoreUpdated))
	})
	a.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return a.insertSession(ctx, e.(domain.EventSessionEnded))
	})

	return a
}

func (a *Archive) insertAnswer(ctx context.Context, e domain.EventAnswerRecorded) error {
	const stmt = `
INSERT INTO answers (session_code, slide_id, participant_id, option_index, correct, submit_time)
VALUES ($1, $2, $3, $4, $5, $6);`

	if _, err := a.db.Exec(ctx, stmt,
		e.SessionCode, e.SlideID, e.ParticipantID, e.OptionIndex, e.Correct, e.SubmitTime,
	); err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	return nil
}

func (a *Archive) upsertScore(ctx context.Context, e domain.EventScoreUpdated) error {
	const stmt = `
INSERT INTO scores (session_code, participant_id, team, total_score, update_time)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_code, participant_id)
DO UPDATE SET total_score = EXCLUDED.total_score, update_time = EXCLUDED.update_time;`

	if _, err := a.db.Exec(ctx, stmt,
		e.SessionCode, e.ParticipantID, e.Team, e.TotalScore, e.UpdateTime,
	); err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}

	return nil
}

func (a *Archive) insertSession(ctx context.Context, e domain.EventSessionEnded) error {
	leaderboard, err := json.Marshal(e.Leaderboard)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}

	const stmt = `
INSERT INTO sessions (session_code, presentation_id, total_participants, leaderboard, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	if _, err := a.db.Exec(ctx, stmt,
		e.SessionCode, e.PresentationID, e.TotalParticipants, leaderboard, e.StartedAt, e.EndedAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}
