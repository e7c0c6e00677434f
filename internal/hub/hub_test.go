package hub_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slidewire/slidewire/internal/collab"
	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/event"
	"github.com/slidewire/slidewire/internal/hub"
	"github.com/slidewire/slidewire/internal/protocol"
	"github.com/slidewire/slidewire/internal/quiz"
	"github.com/slidewire/slidewire/internal/ratelimit"
	"github.com/slidewire/slidewire/internal/session"
)

type testHub struct {
	h   *hub.Hub
	reg *session.Registry
	eb  *event.Bus
}

func makeHub(t *testing.T, opts ...options) *testHub {
	c := config{}
	for _, opt := range opts {
		opt(&c)
	}

	eb := event.NewBus()
	reg := session.NewRegistry(session.RegistryConfig{})
	t.Cleanup(reg.Stop)

	router := hub.NewRouter()
	agg := quiz.New(quiz.Config{
		EventBus:    eb,
		Broadcaster: router,
	})
	t.Cleanup(agg.Stop)
	reg.SetOnEnd(agg.CancelSession)

	h := hub.New(hub.Config{
		Registry:   reg,
		Aggregator: agg,
		Collab:     collab.New(collab.Config{}),
		Limiter:    ratelimit.New(c.limits),
		Router:     router,
		EventBus:   eb,
		ServerURL:  "ws://localhost:8080/ws",
	})

	return &testHub{h: h, reg: reg, eb: eb}
}

type config struct {
	limits ratelimit.Config
}

type options func(c *config)

func withLimits(l ratelimit.Config) options {
	return func(c *config) {
		c.limits = l
	}
}

func testPresentation() domain.Presentation {
	return domain.Presentation{
		ID:    "p1",
		Title: "Quiz Night",
		Slides: []domain.Slide{
			{
				ID:           "sl-1",
				Type:         domain.SlideTypeTrivia,
				Question:     "Which keyword starts a goroutine?",
				Options:      []string{"run", "go", "spawn", "fork"},
				CorrectIndex: 1,
				Points:       100,
			},
			{
				ID:           "sl-2",
				Type:         domain.SlideTypePoll,
				Question:     "Generics: yes or no?",
				Options:      []string{"yes", "no"},
				CorrectIndex: -1,
			},
		},
	}
}

func inbound(t *testing.T, typ protocol.Type, payload any) []byte {
	t.Helper()

	env := map[string]any{"type": typ}
	if payload != nil {
		env["payload"] = payload
	}

	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

// createSession registers the fixture presentation and opens a session for
// it, returning the created-session payload.
func createSession(t *testing.T, th *testHub, host *hub.Client, hostRec *recorder) protocol.SessionCreated {
	t.Helper()

	th.h.Handle(host, inbound(t, protocol.TypeRegisterPresentation, protocol.RegisterPresentation{
		Presentation: testPresentation(),
	}))
	th.h.Handle(host, inbound(t, protocol.TypeCreateSession, protocol.CreateSession{
		PresentationID: "p1",
	}))

	created := hostRec.last(t, protocol.TypeSessionCreated).Payload.(protocol.SessionCreated)
	require.Regexp(t, `^\d{6}$`, created.SessionCode)
	require.NotEmpty(t, created.HostToken)
	require.Equal(t, "ws://localhost:8080/ws", created.ServerURL)
	return created
}

func TestHub_SessionLifecycle(t *testing.T) {
	th := makeHub(t)

	host, hostRec := newTestClient()
	created := createSession(t, th, host, hostRec)
	code := created.SessionCode

	// a participant joins while the session is waiting
	ana, anaRec := newTestClient()
	th.h.Handle(ana, inbound(t, protocol.TypeJoinSession, protocol.JoinSession{
		Code: code,
		Name: "Ana",
	}))

	joined := anaRec.last(t, protocol.TypeJoinedSession).Payload.(protocol.JoinedSession)
	require.Equal(t, "Ana", joined.Participant.Name)
	require.Equal(t, 0, joined.SlideIndex)
	require.Equal(t, domain.SlideStateShow, joined.SlideState)

	pj := hostRec.last(t, protocol.TypeParticipantJoined).Payload.(protocol.ParticipantJoined)
	require.Equal(t, 1, pj.TotalParticipants)

	th.h.Handle(host, inbound(t, protocol.TypeStartSession, protocol.StartSession{SessionCode: code}))
	require.NotEmpty(t, anaRec.byType(protocol.TypeSlideChanged))

	// the host locks the question; a submission now is dropped silently
	th.h.Handle(host, inbound(t, protocol.TypeQuestionLock, nil))
	require.Equal(t, domain.SlideStateLocked,
		anaRec.last(t, protocol.TypeSlideState).Payload.(protocol.SlideStateChanged).State)

	th.h.Handle(ana, inbound(t, protocol.TypeAnswerSubmit, protocol.AnswerSubmit{SlideID: "sl-1", Answer: 1}))
	require.Empty(t, anaRec.byType(protocol.TypeResultsUpdate), "a locked slide takes no answers")
	require.Empty(t, anaRec.byType(protocol.TypeError), "a locked-slide rejection is not an error")

	// re-showing the slide reopens it
	th.h.Handle(host, inbound(t, protocol.TypeQuestionShow, protocol.QuestionShow{SlideIndex: 0}))
	require.Equal(t, domain.SlideStateShow,
		anaRec.last(t, protocol.TypeSlideState).Payload.(protocol.SlideStateChanged).State)

	th.h.Handle(ana, inbound(t, protocol.TypeAnswerSubmit, protocol.AnswerSubmit{SlideID: "sl-1", Answer: 1}))

	ru := anaRec.last(t, protocol.TypeResultsUpdate).Payload.(protocol.ResultsUpdate)
	require.Equal(t, protocol.ResultsUpdate{SlideID: "sl-1", Counts: []int{0, 1, 0, 0}, Total: 1}, ru)
	require.Len(t, hostRec.byType(protocol.TypeResultsUpdate), 1, "the host sees the same tally")

	// a second submission by the same participant changes nothing
	th.h.Handle(ana, inbound(t, protocol.TypeAnswerSubmit, protocol.AnswerSubmit{SlideID: "sl-1", Answer: 2}))
	require.Len(t, anaRec.byType(protocol.TypeResultsUpdate), 1, "a duplicate answer is not rebroadcast")
	require.Empty(t, anaRec.byType(protocol.TypeError))

	th.h.Handle(host, inbound(t, protocol.TypeEndSession, protocol.EndSession{SessionCode: code}))

	ended := anaRec.last(t, protocol.TypeSessionEnded).Payload.(protocol.SessionEnded)
	require.Equal(t, 1, ended.TotalParticipants)
	require.Len(t, ended.Leaderboard.Entries, 1)
	require.Equal(t, domain.LeaderboardEntry{Rank: 1, Name: "Ana", Score: 100}, ended.Leaderboard.Entries[0])

	s, err := th.reg.Lookup(code)
	require.NoError(t, err)
	require.Equal(t, domain.StatusEnded, s.Status())

	th.eb.Stop()
}

func TestHub_HostOnlyControls(t *testing.T) {
	th := makeHub(t)

	host, hostRec := newTestClient()
	created := createSession(t, th, host, hostRec)

	ana, anaRec := newTestClient()
	th.h.Handle(ana, inbound(t, protocol.TypeJoinSession, protocol.JoinSession{Code: created.SessionCode, Name: "Ana"}))

	th.h.Handle(ana, inbound(t, protocol.TypeQuestionLock, nil))
	require.NotEmpty(t, anaRec.byType(protocol.TypeError), "a participant cannot lock the slide")
	require.Empty(t, anaRec.byType(protocol.TypeSlideState))

	th.h.Handle(ana, inbound(t, protocol.TypeStartSession, protocol.StartSession{SessionCode: created.SessionCode}))
	require.Len(t, anaRec.byType(protocol.TypeError), 2, "a participant cannot start the session")

	stranger, strangerRec := newTestClient()
	th.h.Handle(stranger, inbound(t, protocol.TypeQuestionReveal, nil))
	require.NotEmpty(t, strangerRec.byType(protocol.TypeError), "no session, no controls")
}

func TestHub_NextSlide(t *testing.T) {
	th := makeHub(t)

	host, hostRec := newTestClient()
	created := createSession(t, th, host, hostRec)

	th.h.Handle(host, inbound(t, protocol.TypeNextSlide, protocol.NextSlide{SessionCode: created.SessionCode}))
	sc := hostRec.last(t, protocol.TypeSlideChanged).Payload.(protocol.SlideChanged)
	require.Equal(t, 1, sc.SlideIndex)

	// stepping past the last slide is ignored without an error
	before := len(hostRec.byType(protocol.TypeSlideChanged))
	th.h.Handle(host, inbound(t, protocol.TypeNextSlide, protocol.NextSlide{SessionCode: created.SessionCode}))
	require.Len(t, hostRec.byType(protocol.TypeSlideChanged), before)
	require.Empty(t, hostRec.byType(protocol.TypeError))

	th.h.Handle(host, inbound(t, protocol.TypeQuestionShow, protocol.QuestionShow{SlideIndex: 9}))
	require.Len(t, hostRec.byType(protocol.TypeSlideChanged), before)
	require.Empty(t, hostRec.byType(protocol.TypeError))
}

func TestHub_Ping(t *testing.T) {
	th := makeHub(t)

	c, rec := newTestClient()
	th.h.Handle(c, inbound(t, protocol.TypePing, protocol.Ping{Timestamp: 42}))

	pong := rec.last(t, protocol.TypePong).Payload.(protocol.Pong)
	require.Equal(t, int64(42), pong.Timestamp)
}

func TestHub_MalformedInput(t *testing.T) {
	th := makeHub(t)

	c, rec := newTestClient()

	th.h.Handle(c, []byte(`not json`))
	require.Len(t, rec.byType(protocol.TypeError), 1)

	th.h.Handle(c, []byte(`{"type":"no-such-event"}`))
	require.Len(t, rec.byType(protocol.TypeError), 2)

	th.h.Handle(c, []byte(`{"type":"join-session","payload":"not an object"}`))
	require.Len(t, rec.byType(protocol.TypeError), 3)
}

func TestHub_RateLimit(t *testing.T) {
	th := makeHub(t, withLimits(ratelimit.Config{MessageLimit: 2, ActionLimit: 30}))

	c, rec := newTestClient()

	th.h.Handle(c, inbound(t, protocol.TypePing, protocol.Ping{Timestamp: 1}))
	th.h.Handle(c, inbound(t, protocol.TypePing, protocol.Ping{Timestamp: 2}))
	require.Len(t, rec.byType(protocol.TypePong), 2)

	th.h.Handle(c, inbound(t, protocol.TypePing, protocol.Ping{Timestamp: 3}))
	require.Len(t, rec.byType(protocol.TypePong), 2, "the third message in the window is dropped")
	require.Len(t, rec.byType(protocol.TypeError), 1)

	// throttled reactions are dropped without an error reply
	th.h.Handle(c, inbound(t, protocol.TypeSendReaction, protocol.SendReaction{Emoji: "🔥"}))
	require.Len(t, rec.byType(protocol.TypeError), 1)
}

func TestHub_ParticipantDisconnect(t *testing.T) {
	th := makeHub(t)

	host, hostRec := newTestClient()
	created := createSession(t, th, host, hostRec)

	ana, _ := newTestClient()
	th.h.Handle(ana, inbound(t, protocol.TypeJoinSession, protocol.JoinSession{Code: created.SessionCode, Name: "Ana"}))

	th.h.Disconnect(ana)

	left := hostRec.last(t, protocol.TypeParticipantLeft).Payload.(protocol.ParticipantLeft)
	require.Equal(t, "Ana", left.Name)
	require.Equal(t, 0, left.TotalParticipants)

	s, err := th.reg.Lookup(created.SessionCode)
	require.NoError(t, err)
	require.Equal(t, 0, s.ActiveCount())
	require.Equal(t, 1, s.TotalCount(), "the record survives for a possible rejoin")
}

func TestHub_HostDisconnectAndResume(t *testing.T) {
	th := makeHub(t)

	host, hostRec := newTestClient()
	created := createSession(t, th, host, hostRec)
	code := created.SessionCode

	th.h.Handle(host, inbound(t, protocol.TypeStartSession, protocol.StartSession{SessionCode: code}))

	th.h.Disconnect(host)

	s, err := th.reg.Lookup(code)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaused, s.Status(), "losing the host pauses the session")

	// a new connection presenting the host token takes over
	host2, host2Rec := newTestClient()
	th.h.Handle(host2, inbound(t, protocol.TypeResumeSession, protocol.ResumeSession{
		SessionCode: code,
		HostToken:   created.HostToken,
	}))

	resumed := host2Rec.last(t, protocol.TypeSessionResumed).Payload.(protocol.SessionResumed)
	require.Equal(t, domain.StatusActive, resumed.Status)

	th.h.Handle(host2, inbound(t, protocol.TypeQuestionLock, nil))
	require.Equal(t, domain.SlideStateLocked,
		host2Rec.last(t, protocol.TypeSlideState).Payload.(protocol.SlideStateChanged).State)
}

func TestHub_ResumeSession_BadToken(t *testing.T) {
	th := makeHub(t)

	host, hostRec := newTestClient()
	created := createSession(t, th, host, hostRec)

	imposter, rec := newTestClient()
	th.h.Handle(imposter, inbound(t, protocol.TypeResumeSession, protocol.ResumeSession{
		SessionCode: created.SessionCode,
		HostToken:   "stolen",
	}))

	require.NotEmpty(t, rec.byType(protocol.TypeError))
	require.Empty(t, rec.byType(protocol.TypeSessionResumed))
}

func TestHub_Collaboration(t *testing.T) {
	th := makeHub(t)

	a, aRec := newTestClient()
	b, bRec := newTestClient()

	th.h.Handle(a, inbound(t, protocol.TypeJoinCollaboration, protocol.JoinCollaboration{
		PresentationID: "doc-1", UserID: "u1", UserName: "Ana",
	}))

	joined := aRec.last(t, protocol.TypeCollaboratorJoined).Payload.(protocol.CollaboratorJoined)
	require.Equal(t, domain.RoleOwner, joined.Collaborator.Role)

	th.h.Handle(b, inbound(t, protocol.TypeJoinCollaboration, protocol.JoinCollaboration{
		PresentationID: "doc-1", UserID: "u2", UserName: "Ben",
	}))
	require.Len(t, aRec.byType(protocol.TypeCollaboratorJoined), 2, "existing members see the new joiner")

	th.h.Handle(b, inbound(t, protocol.TypeCursorMove, protocol.CursorMove{
		PresentationID: "doc-1", UserID: "u2",
		Cursor: protocol.Cursor{SlideID: "sl-1"},
	}))

	cu := aRec.last(t, protocol.TypeCursorUpdate).Payload.(protocol.CursorUpdate)
	require.Equal(t, "u2", cu.UserID)
	require.NotEmpty(t, cu.Color)
	require.Empty(t, bRec.byType(protocol.TypeCursorUpdate), "the mover does not hear their own cursor")

	th.h.Handle(b, inbound(t, protocol.TypeContentChange, protocol.ContentChange{
		PresentationID: "doc-1", UserID: "u2",
		Change: protocol.Change{Type: "update", Target: "slide", TargetID: "sl-1"},
	}))

	cc := aRec.last(t, protocol.TypeContentChange).Payload.(protocol.ContentChanged)
	require.Equal(t, "u2", cc.UserID)
	require.NotZero(t, cc.Change.ServerTime, "the hub stamps relayed changes")

	// a malformed change bounces back to the sender only
	th.h.Handle(b, inbound(t, protocol.TypeContentChange, protocol.ContentChange{
		PresentationID: "doc-1", UserID: "u2",
		Change: protocol.Change{Type: "update"},
	}))
	require.NotEmpty(t, bRec.byType(protocol.TypeError))
	require.Len(t, aRec.byType(protocol.TypeContentChange), 1)

	th.h.Disconnect(b)

	left := aRec.last(t, protocol.TypeCollaboratorLeft).Payload.(protocol.CollaboratorLeft)
	require.Equal(t, "u2", left.UserID)
}
