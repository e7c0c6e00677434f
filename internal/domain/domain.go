package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SlideType string

const (
	SlideTypeContent     SlideType = "content"
	SlideTypeTrivia      SlideType = "trivia"
	SlideTypePoll        SlideType = "poll"
	SlideTypeWordCloud   SlideType = "word_cloud"
	SlideTypeOpenText    SlideType = "open_text"
	SlideTypeLeaderboard SlideType = "leaderboard"
)

// Presentation is the externally-owned document a session is driven from.
// The hub only reads it; editing goes through the collaboration channel and
// the durable store outside this process.
type Presentation struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

type Slide struct {
	ID       string    `json:"id"`
	Type     SlideType `json:"type"`
	Question string    `json:"question,omitempty"`
	Options  []string  `json:"options,omitempty"`

	// CorrectIndex is -1 for slides without correctness semantics.
	CorrectIndex int `json:"correctIndex,omitempty"`
	Points       int `json:"points,omitempty"`

	// TimeLimit is advisory. The hub never enforces it; clients run their own
	// countdowns and the host locks the slide explicitly.
	TimeLimitSeconds int `json:"timeLimitSeconds,omitempty"`
}

// Scored reports whether answers to this slide award points.
func (s Slide) Scored() bool {
	return s.Type == SlideTypeTrivia && s.CorrectIndex >= 0 && s.Points > 0
}

type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusEnded   SessionStatus = "ended"
)

type SlideState string

const (
	SlideStateShow   SlideState = "show"
	SlideStateLocked SlideState = "locked"
	SlideStateReveal SlideState = "reveal"
)

type SessionSettings struct {
	AllowLateJoin   bool `json:"allowLateJoin"`
	ShowLeaderboard bool `json:"showLeaderboard"`
	AllowAnonymous  bool `json:"allowAnonymous"`
}

// Participant is a snapshot of one audience member's state within a session.
// The session aggregate owns the mutable record; everything crossing a
// package boundary is a copy.
type Participant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Team         string    `json:"team,omitempty"`
	Score        int       `json:"score"`
	IsActive     bool      `json:"isActive"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

type Leaderboard struct {
	SessionCode string             `json:"sessionCode"`
	Entries     []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Team  string `json:"team,omitempty"`
	Score int    `json:"score"`
}

type TeamScore struct {
	Team  string          `json:"team"`
	Score decimal.Decimal `json:"score"`
}

type CollaboratorRole string

const (
	RoleOwner  CollaboratorRole = "owner"
	RoleEditor CollaboratorRole = "editor"
)

// Collaborator is one editor's presence within a document room.
type Collaborator struct {
	UserID       string           `json:"userId"`
	Name         string           `json:"userName"`
	Color        string           `json:"color"`
	Role         CollaboratorRole `json:"role"`
	IsActive     bool             `json:"isActive"`
	LastActiveAt time.Time        `json:"lastActiveAt"`
}

// WordCount is one aggregated entry of a word-cloud slide.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}
