// Package protocol defines the wire vocabulary of the hub: a closed set of
// inbound and outbound event types, each with a typed payload. Decoding goes
// through one exhaustive switch so an unhandled event type is a compile-time
// visible gap, not a silent no-op.
package protocol

import (
	"encoding/json"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/errors"
)

type Type string

// Inbound event types.
const (
	TypeRegisterPresentation Type = "register-presentation"
	TypeCreateSession        Type = "create-session"
	TypeJoinSession          Type = "join-session"
	TypeStartSession         Type = "start-session"
	TypeResumeSession        Type = "resume-session"
	TypeEndSession           Type = "end-session"
	TypeNextSlide            Type = "next-slide"
	TypeQuestionShow         Type = "question:show"
	TypeQuestionLock         Type = "question:lock"
	TypeQuestionReveal       Type = "question:reveal"
	TypeQuestionNext         Type = "question:next"
	TypeAnswerSubmit         Type = "answer:submit"
	TypeSubmitWordCloud      Type = "submit-word-cloud"
	TypeSendReaction         Type = "send-reaction"
	TypeJoinCollaboration    Type = "join-collaboration"
	TypeCursorMove           Type = "cursor-move"
	TypeContentChange        Type = "content-change"
	TypeHeartbeat            Type = "heartbeat"
	TypePing                 Type = "ping"
)

// Outbound event types.
const (
	TypeSessionCreated     Type = "session-created"
	TypeJoinedSession      Type = "joined-session"
	TypeParticipantJoined  Type = "participant-joined"
	TypeParticipantLeft    Type = "participant-left"
	TypeAudienceUpdate     Type = "audience:update"
	TypeSlideChanged       Type = "slide-changed"
	TypeSlideState         Type = "slide:state"
	TypeResultsUpdate      Type = "results:update"
	TypeWordCloudUpdate    Type = "word-cloud-update"
	TypeTeamScoresUpdated  Type = "team-scores-updated"
	TypeSessionEnded       Type = "session-ended"
	TypeSessionResumed     Type = "session-resumed"
	TypeReaction           Type = "reaction"
	TypeCollaboratorJoined Type = "collaborator-joined"
	TypeCollaboratorLeft   Type = "collaborator-left"
	TypeCursorUpdate       Type = "cursor-update"
	TypeError              Type = "error"
	TypePong               Type = "pong"
)

type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads.
type (
	RegisterPresentation struct {
		Presentation domain.Presentation `json:"presentation"`
	}

	CreateSession struct {
		PresentationID string                  `json:"presentationId"`
		Teams          []string                `json:"teams,omitempty"`
		Settings       *domain.SessionSettings `json:"settings,omitempty"`
	}

	JoinSession struct {
		Code string `json:"code"`
		Name string `json:"name"`
		Team string `json:"team,omitempty"`
	}

	StartSession struct {
		SessionCode string `json:"sessionCode"`
	}

	ResumeSession struct {
		SessionCode string `json:"sessionCode"`
		HostToken   string `json:"hostToken"`
	}

	EndSession struct {
		SessionCode string `json:"sessionCode"`
	}

	NextSlide struct {
		SessionCode string `json:"sessionCode"`
	}

	QuestionShow struct {
		SlideIndex int `json:"slideIndex"`
	}

	QuestionLock struct{}

	QuestionReveal struct{}

	QuestionNext struct {
		NextIndex int `json:"nextIndex"`
	}

	AnswerSubmit struct {
		SlideID    string `json:"slideId"`
		SlideIndex int    `json:"slideIndex"`
		Answer     int    `json:"answer"`
	}

	SubmitWordCloud struct {
		SlideID string   `json:"slideId"`
		Words   []string `json:"words"`
	}

	SendReaction struct {
		Emoji string `json:"emoji"`
	}

	JoinCollaboration struct {
		PresentationID string `json:"presentationId"`
		UserID         string `json:"userId"`
		UserName       string `json:"userName"`
	}

	CursorMove struct {
		UserID         string `json:"userId"`
		PresentationID string `json:"presentationId"`
		Cursor         Cursor `json:"cursor"`
	}

	ContentChange struct {
		UserID         string `json:"userId"`
		PresentationID string `json:"presentationId"`
		Change         Change `json:"change"`
	}

	Heartbeat struct {
		UserID string `json:"userId"`
	}

	Ping struct {
		Timestamp int64 `json:"timestamp"`
	}
)

type Cursor struct {
	SlideID string  `json:"slideId,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// Change is an opaque content edit. The hub validates its shape and relays
// it; convergence is the document store's problem, not ours.
type Change struct {
	Type     string          `json:"type"`
	Target   string          `json:"target"`
	TargetID string          `json:"targetId"`
	Data     json.RawMessage `json:"data,omitempty"`

	// ServerTime is stamped by the hub before fan-out.
	ServerTime int64 `json:"serverTime,omitempty"`
}

// Decode parses an envelope and returns the typed payload for its type.
func Decode(data []byte) (Type, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed message"), errors.WithCause(err))
	}

	decode := func(v any) (Type, any, error) {
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, v); err != nil {
				return "", nil, errors.New(errors.CodeInvalidArgument,
					errors.WithMessagef("malformed %s payload", env.Type),
					errors.WithCause(err))
			}
		}
		return env.Type, v, nil
	}

	switch env.Type {
	case TypeRegisterPresentation:
		return decode(&RegisterPresentation{})
	case TypeCreateSession:
		return decode(&CreateSession{})
	case TypeJoinSession:
		return decode(&JoinSession{})
	case TypeStartSession:
		return decode(&StartSession{})
	case TypeResumeSession:
		return decode(&ResumeSession{})
	case TypeEndSession:
		return decode(&EndSession{})
	case TypeNextSlide:
		return decode(&NextSlide{})
	case TypeQuestionShow:
		return decode(&QuestionShow{})
	case TypeQuestionLock:
		return decode(&QuestionLock{})
	case TypeQuestionReveal:
		return decode(&QuestionReveal{})
	case TypeQuestionNext:
		return decode(&QuestionNext{})
	case TypeAnswerSubmit:
		return decode(&AnswerSubmit{})
	case TypeSubmitWordCloud:
		return decode(&SubmitWordCloud{})
	case TypeSendReaction:
		return decode(&SendReaction{})
	case TypeJoinCollaboration:
		return decode(&JoinCollaboration{})
	case TypeCursorMove:
		return decode(&CursorMove{})
	case TypeContentChange:
		return decode(&ContentChange{})
	case TypeHeartbeat:
		return decode(&Heartbeat{})
	case TypePing:
		return decode(&Ping{})
	default:
		return "", nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown event type: %q", env.Type))
	}
}

// Message is an outbound event ready for fan-out.
type Message struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload,omitempty"`
}

func NewMessage(t Type, payload any) Message {
	return Message{Type: t, Payload: payload}
}

func NewError(message string) Message {
	return Message{Type: TypeError, Payload: map[string]string{"message": message}}
}

// Outbound payloads.
type (
	SessionCreated struct {
		SessionCode  string                 `json:"sessionCode"`
		Presentation domain.Presentation    `json:"presentation"`
		Settings     domain.SessionSettings `json:"settings"`
		HostToken    string                 `json:"hostToken"`
		ServerURL    string                 `json:"serverUrl,omitempty"`
	}

	JoinedSession struct {
		SessionCode  string              `json:"sessionCode"`
		Presentation domain.Presentation `json:"presentation"`
		SlideIndex   int                 `json:"currentSlideIndex"`
		SlideState   domain.SlideState   `json:"slideState"`
		Participant  domain.Participant  `json:"participant"`
	}

	ParticipantJoined struct {
		Participant       domain.Participant `json:"participant"`
		TotalParticipants int                `json:"totalParticipants"`
	}

	ParticipantLeft struct {
		ParticipantID     string `json:"participantId"`
		Name              string `json:"name"`
		TotalParticipants int    `json:"totalParticipants"`
	}

	AudienceUpdate struct {
		TotalParticipants int `json:"totalParticipants"`
	}

	SlideChanged struct {
		SlideIndex int          `json:"slideIndex"`
		Slide      domain.Slide `json:"slide"`
	}

	SlideStateChanged struct {
		SlideIndex int               `json:"slideIndex"`
		State      domain.SlideState `json:"state"`
	}

	ResultsUpdate struct {
		SlideID string `json:"slideId"`
		Counts  []int  `json:"counts"`
		Total   int    `json:"total"`
	}

	WordCloudUpdate struct {
		SlideID    string             `json:"slideId"`
		WordCounts []domain.WordCount `json:"wordCounts"`
	}

	TeamScoresUpdated struct {
		TeamScores []domain.TeamScore `json:"teamScores"`
	}

	SessionEnded struct {
		Leaderboard       domain.Leaderboard `json:"leaderboard"`
		DurationSeconds   int64              `json:"duration"`
		TotalParticipants int                `json:"totalParticipants"`
	}

	SessionResumed struct {
		SessionCode       string               `json:"sessionCode"`
		Status            domain.SessionStatus `json:"status"`
		SlideIndex        int                  `json:"slideIndex"`
		SlideState        domain.SlideState    `json:"slideState"`
		TotalParticipants int                  `json:"totalParticipants"`
	}

	Reaction struct {
		ParticipantID string `json:"participantId"`
		Emoji         string `json:"emoji"`
	}

	CollaboratorJoined struct {
		Collaborator  domain.Collaborator   `json:"collaborator"`
		Collaborators []domain.Collaborator `json:"collaborators"`
	}

	CollaboratorLeft struct {
		UserID string `json:"userId"`
		Name   string `json:"userName"`
	}

	CursorUpdate struct {
		UserID string `json:"userId"`
		Color  string `json:"color"`
		Cursor Cursor `json:"cursor"`
	}

	ContentChanged struct {
		UserID string `json:"userId"`
		Change Change `json:"change"`
	}

	Pong struct {
		Timestamp int64 `json:"timestamp"`
	}
)
