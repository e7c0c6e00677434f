package domain

import "time"

const (
	EventNameSessionEnded       = "session.ended"
	EventNameScoreUpdated       = "score.updated"
	EventNameAnswerRecorded     = "answer.recorded"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionEnded struct {
	SessionCode       string
	PresentationID    string
	Leaderboard       Leaderboard
	TotalParticipants int
	StartedAt         time.Time
	EndedAt           time.Time
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventScoreUpdated struct {
	SessionCode   string
	ParticipantID string
	Team          string
	TotalScore    int
	UpdateTime    time.Time
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventAnswerRecorded struct {
	SessionCode   string
	SlideID       string
	ParticipantID string
	OptionIndex   int
	Correct       bool
	SubmitTime    time.Time
}

func (EventAnswerRecorded) Name() string { return EventNameAnswerRecorded }

type EventLeaderboardUpdated struct {
	SessionCode string
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
