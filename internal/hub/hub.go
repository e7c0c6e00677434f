package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/slidewire/slidewire/internal/collab"
	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/errors"
	"github.com/slidewire/slidewire/internal/event"
	"github.com/slidewire/slidewire/internal/protocol"
	"github.com/slidewire/slidewire/internal/quiz"
	"github.com/slidewire/slidewire/internal/ratelimit"
	"github.com/slidewire/slidewire/internal/session"
	"github.com/slidewire/slidewire/internal/telemetry"
)

// defaultSettings apply when create-session carries none.
var defaultSettings = domain.SessionSettings{
	AllowLateJoin:   true,
	ShowLeaderboard: true,
	AllowAnonymous:  false,
}

type Config struct {
	Registry    *session.Registry
	Aggregator  *quiz.Aggregator
	Collab      *collab.Service
	Limiter     *ratelimit.Limiter
	Router      *Router
	EventBus    *event.Bus
	ServerURL   string
	CheckOrigin func(r *http.Request) bool
}

// Hub is the single entry point for inbound events. Each connection's reads
// are handled sequentially on its own goroutine, so events from one
// connection are processed in submission order; disconnect is just the last
// event of the stream.
type Hub struct {
	reg     *session.Registry
	agg     *quiz.Aggregator
	collab  *collab.Service
	limiter *ratelimit.Limiter
	router  *Router
	eb      *event.Bus

	serverURL string
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client
}

func New(c Config) *Hub {
	checkOrigin := c.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		reg:       c.Registry,
		agg:       c.Aggregator,
		collab:    c.Collab,
		limiter:   c.Limiter,
		router:    c.Router,
		eb:        c.EventBus,
		serverURL: c.ServerURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*Client),
	}
}

// HandleWS upgrades the request and runs the connection's read loop until it
// drops.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("hub: upgrade failed", "error", err)
		return
	}

	client := NewClient(conn)
	h.addClient(client)
	client.Run()
	slog.Info("hub: connected", "conn", client.ID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.Handle(client, data)
	}

	h.Disconnect(client)
}

// Handle processes one raw inbound message: decode, rate-limit gate, then
// one exhaustive dispatch. Exported so tests can drive the hub without a
// socket.
func (h *Hub) Handle(client *Client, data []byte) {
	typ, payload, err := protocol.Decode(data)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	telemetry.EventsTotal.WithLabelValues(string(typ)).Inc()

	if !h.limiter.Allow(client.ID, classOf(typ)) {
		// reactions are low-value; their throttling is silent
		if typ != protocol.TypeSendReaction {
			client.Send(protocol.NewError("rate limit exceeded"))
		}
		return
	}

	ctx := context.Background()

	switch p := payload.(type) {
	case *protocol.RegisterPresentation:
		h.handleRegisterPresentation(client, p)
	case *protocol.CreateSession:
		h.handleCreateSession(client, p)
	case *protocol.JoinSession:
		h.handleJoinSession(client, p)
	case *protocol.StartSession:
		h.handleStartSession(client, p)
	case *protocol.ResumeSession:
		h.handleResumeSession(client, p)
	case *protocol.EndSession:
		h.handleEndSession(ctx, client, p)
	case *protocol.NextSlide:
		h.handleNextSlide(client, p)
	case *protocol.QuestionShow:
		h.handleQuestionShow(client, p)
	case *protocol.QuestionLock:
		h.handleQuestionLock(client)
	case *protocol.QuestionReveal:
		h.handleQuestionReveal(client)
	case *protocol.QuestionNext:
		h.handleQuestionNext(client, p)
	case *protocol.AnswerSubmit:
		h.handleAnswerSubmit(ctx, client, p)
	case *protocol.SubmitWordCloud:
		h.handleSubmitWordCloud(client, p)
	case *protocol.SendReaction:
		h.handleSendReaction(client, p)
	case *protocol.JoinCollaboration:
		h.handleJoinCollaboration(client, p)
	case *protocol.CursorMove:
		h.handleCursorMove(client, p)
	case *protocol.ContentChange:
		h.handleContentChange(client, p)
	case *protocol.Heartbeat:
		h.handleHeartbeat(client, p)
	case *protocol.Ping:
		client.Send(protocol.NewMessage(protocol.TypePong, protocol.Pong{Timestamp: p.Timestamp}))
	}
}

// classOf assigns each inbound type to a rate-limit class: frequent
// per-participant traffic is "message", room-level commands are "action".
func classOf(t protocol.Type) ratelimit.Class {
	switch t {
	case protocol.TypeAnswerSubmit,
		protocol.TypeSubmitWordCloud,
		protocol.TypeSendReaction,
		protocol.TypeCursorMove,
		protocol.TypeHeartbeat,
		protocol.TypePing:
		return ratelimit.ClassMessage
	default:
		return ratelimit.ClassAction
	}
}

func (h *Hub) handleRegisterPresentation(client *Client, p *protocol.RegisterPresentation) {
	if err := h.reg.RegisterPresentation(p.Presentation); err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
	}
}

func (h *Hub) handleCreateSession(client *Client, p *protocol.CreateSession) {
	settings := defaultSettings
	if p.Settings != nil {
		settings = *p.Settings
	}

	sess, err := h.reg.Create(client.ID, p.PresentationID, p.Teams, settings)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	h.router.BindHost(sess.Code(), client)

	client.Send(protocol.NewMessage(protocol.TypeSessionCreated, protocol.SessionCreated{
		SessionCode:  sess.Code(),
		Presentation: sess.Presentation(),
		Settings:     sess.Settings(),
		HostToken:    sess.HostToken(),
		ServerURL:    h.serverURL,
	}))
}

func (h *Hub) handleJoinSession(client *Client, p *protocol.JoinSession) {
	sess, part, err := h.reg.Join(p.Code, client.ID, p.Name, p.Team)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	h.router.BindParticipant(sess.Code(), client)

	_, slideIndex, slideState, _ := sess.CurrentSlide()
	client.Send(protocol.NewMessage(protocol.TypeJoinedSession, protocol.JoinedSession{
		SessionCode:  sess.Code(),
		Presentation: sess.Presentation(),
		SlideIndex:   slideIndex,
		SlideState:   slideState,
		Participant:  part,
	}))

	total := sess.ActiveCount()
	h.router.ToSessionExcept(sess.Code(), client.ID, protocol.NewMessage(protocol.TypeParticipantJoined, protocol.ParticipantJoined{
		Participant:       part,
		TotalParticipants: total,
	}))
	h.router.ToSession(sess.Code(), protocol.NewMessage(protocol.TypeAudienceUpdate, protocol.AudienceUpdate{
		TotalParticipants: total,
	}))
}

func (h *Hub) handleStartSession(client *Client, p *protocol.StartSession) {
	sess, err := h.reg.Start(p.SessionCode, client.ID)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	slide, slideIndex, _, _ := sess.CurrentSlide()
	h.router.ToSession(sess.Code(), protocol.NewMessage(protocol.TypeSlideChanged, protocol.SlideChanged{
		SlideIndex: slideIndex,
		Slide:      slide,
	}))
}

func (h *Hub) handleResumeSession(client *Client, p *protocol.ResumeSession) {
	sess, err := h.reg.HostReconnected(p.SessionCode, client.ID, p.HostToken)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	h.router.BindHost(sess.Code(), client)

	_, slideIndex, slideState, _ := sess.CurrentSlide()
	client.Send(protocol.NewMessage(protocol.TypeSessionResumed, protocol.SessionResumed{
		SessionCode:       sess.Code(),
		Status:            sess.Status(),
		SlideIndex:        slideIndex,
		SlideState:        slideState,
		TotalParticipants: sess.ActiveCount(),
	}))
}

func (h *Hub) handleEndSession(ctx context.Context, client *Client, p *protocol.EndSession) {
	sess, err := h.reg.Lookup(p.SessionCode)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	// snapshot before End clears answer tracking
	leaderboard := h.agg.Leaderboard(sess)
	total := sess.TotalCount()

	if _, err := h.reg.End(p.SessionCode, client.ID); err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	var duration int64
	if started := sess.StartedAt(); !started.IsZero() {
		duration = int64(sess.EndedAt().Sub(started).Seconds())
	}

	h.router.ToSession(sess.Code(), protocol.NewMessage(protocol.TypeSessionEnded, protocol.SessionEnded{
		Leaderboard:       leaderboard,
		DurationSeconds:   duration,
		TotalParticipants: total,
	}))
	h.router.CloseSession(sess.Code())

	h.eb.Publish(ctx, domain.EventSessionEnded{
		SessionCode:       sess.Code(),
		PresentationID:    sess.PresentationID(),
		Leaderboard:       leaderboard,
		TotalParticipants: total,
		StartedAt:         sess.StartedAt(),
		EndedAt:           sess.EndedAt(),
	})
}

func (h *Hub) handleNextSlide(client *Client, p *protocol.NextSlide) {
	sess, err := h.reg.Lookup(p.SessionCode)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}
	if !sess.IsHost(client.ID) {
		client.Send(protocol.NewError("only the host can change slides"))
		return
	}

	_, slideIndex, _, _ := sess.CurrentSlide()
	h.showSlide(sess, slideIndex+1)
}

func (h *Hub) handleQuestionShow(client *Client, p *protocol.QuestionShow) {
	sess, ok := h.hostSession(client)
	if !ok {
		return
	}
	h.showSlide(sess, p.SlideIndex)
}

func (h *Hub) handleQuestionNext(client *Client, p *protocol.QuestionNext) {
	sess, ok := h.hostSession(client)
	if !ok {
		return
	}
	h.showSlide(sess, p.NextIndex)
}

// showSlide moves the cursor and broadcasts the change. Out-of-range
// requests are dropped without a reply; surfacing them would leak internal
// navigation races to the host UI.
func (h *Hub) showSlide(sess *session.Session, index int) {
	slide, ok := sess.ShowSlide(index)
	if !ok {
		telemetry.OutOfRangeNavigationTotal.Inc()
		return
	}

	h.router.ToSession(sess.Code(), protocol.NewMessage(protocol.TypeSlideChanged, protocol.SlideChanged{
		SlideIndex: index,
		Slide:      slide,
	}))
	h.router.ToSession(sess.Code(), protocol.NewMessage(protocol.TypeSlideState, protocol.SlideStateChanged{
		SlideIndex: index,
		State:      domain.SlideStateShow,
	}))
}

func (h *Hub) handleQuestionLock(client *Client) {
	sess, ok := h.hostSession(client)
	if !ok {
		return
	}

	slideIndex, state := sess.Lock()
	h.router.ToSession(sess.Code(), protocol.NewMessage(protocol.TypeSlideState, protocol.SlideStateChanged{
		SlideIndex: slideIndex,
		State:      state,
	}))
}

func (h *Hub) handleQuestionReveal(client *Client) {
	sess, ok := h.hostSession(client)
	if !ok {
		return
	}

	slideIndex, state := sess.Reveal()
	h.router.ToSession(sess.Code(), protocol.NewMessage(protocol.TypeSlideState, protocol.SlideStateChanged{
		SlideIndex: slideIndex,
		State:      state,
	}))
}

// hostSession resolves the session the connection hosts, rejecting
// everything else with an error event.
func (h *Hub) hostSession(client *Client) (*session.Session, bool) {
	m, ok := h.router.Membership(client.ID)
	if !ok || m.SessionCode == "" {
		client.Send(protocol.NewError("not in a session"))
		return nil, false
	}

	sess, err := h.reg.Lookup(m.SessionCode)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return nil, false
	}
	if !sess.IsHost(client.ID) {
		client.Send(protocol.NewError("host authority required"))
		return nil, false
	}
	return sess, true
}

// memberSession resolves the session the connection belongs to, any role.
func (h *Hub) memberSession(client *Client) (*session.Session, bool) {
	m, ok := h.router.Membership(client.ID)
	if !ok || m.SessionCode == "" {
		client.Send(protocol.NewError("not in a session"))
		return nil, false
	}

	sess, err := h.reg.Lookup(m.SessionCode)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return nil, false
	}
	return sess, true
}

func (h *Hub) handleAnswerSubmit(ctx context.Context, client *Client, p *protocol.AnswerSubmit) {
	sess, ok := h.memberSession(client)
	if !ok {
		return
	}

	if _, err := h.agg.Submit(ctx, sess, p.SlideID, client.ID, p.Answer); err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
	}
}

func (h *Hub) handleSubmitWordCloud(client *Client, p *protocol.SubmitWordCloud) {
	sess, ok := h.memberSession(client)
	if !ok {
		return
	}
	h.agg.SubmitWords(sess, p.SlideID, client.ID, p.Words)
}

func (h *Hub) handleSendReaction(client *Client, p *protocol.SendReaction) {
	m, ok := h.router.Membership(client.ID)
	if !ok || m.SessionCode == "" {
		return
	}

	var participantID string
	if sess, err := h.reg.Lookup(m.SessionCode); err == nil {
		if part, ok := sess.Participant(client.ID); ok {
			participantID = part.ID
		}
	}

	h.router.ToSessionExcept(m.SessionCode, client.ID, protocol.NewMessage(protocol.TypeReaction, protocol.Reaction{
		ParticipantID: participantID,
		Emoji:         p.Emoji,
	}))
}

func (h *Hub) handleJoinCollaboration(client *Client, p *protocol.JoinCollaboration) {
	col, all, err := h.collab.Join(p.PresentationID, p.UserID, p.UserName)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	h.router.JoinCollab(p.PresentationID, p.UserID, client)

	msg := protocol.NewMessage(protocol.TypeCollaboratorJoined, protocol.CollaboratorJoined{
		Collaborator:  col,
		Collaborators: all,
	})
	client.Send(msg)
	h.router.ToCollab(p.PresentationID, client.ID, msg)
}

func (h *Hub) handleCursorMove(client *Client, p *protocol.CursorMove) {
	color, err := h.collab.MoveCursor(p.PresentationID, p.UserID)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	h.router.ToCollab(p.PresentationID, client.ID, protocol.NewMessage(protocol.TypeCursorUpdate, protocol.CursorUpdate{
		UserID: p.UserID,
		Color:  color,
		Cursor: p.Cursor,
	}))
}

func (h *Hub) handleContentChange(client *Client, p *protocol.ContentChange) {
	change, err := h.collab.ApplyChange(p.PresentationID, p.UserID, p.Change)
	if err != nil {
		client.Send(protocol.NewError(errors.Convert(err).Message))
		return
	}

	h.router.ToCollab(p.PresentationID, client.ID, protocol.NewMessage(protocol.TypeContentChange, protocol.ContentChanged{
		UserID: p.UserID,
		Change: change,
	}))
}

func (h *Hub) handleHeartbeat(client *Client, p *protocol.Heartbeat) {
	if m, ok := h.router.Membership(client.ID); ok && m.SessionCode != "" {
		if sess, err := h.reg.Lookup(m.SessionCode); err == nil {
			sess.Heartbeat(client.ID)
		}
	}
	if p.UserID != "" {
		h.collab.Heartbeat(p.UserID)
	}
}

// Disconnect is the single teardown hook for a closed connection: it looks
// up every aggregate the connection belonged to via the router's reverse
// index and detaches it from each.
func (h *Hub) Disconnect(client *Client) {
	m, had := h.router.Drop(client.ID)
	h.limiter.Forget(client.ID)
	h.removeClient(client)
	client.Close()

	if !had {
		return
	}

	if m.SessionCode != "" {
		switch m.Role {
		case RoleHost:
			h.reg.HostDisconnected(m.SessionCode, client.ID)
		case RoleParticipant:
			if sess, err := h.reg.Lookup(m.SessionCode); err == nil {
				if part, ok := sess.MarkInactive(client.ID); ok {
					total := sess.ActiveCount()
					h.router.ToSession(m.SessionCode, protocol.NewMessage(protocol.TypeParticipantLeft, protocol.ParticipantLeft{
						ParticipantID:     part.ID,
						Name:              part.Name,
						TotalParticipants: total,
					}))
					h.router.ToSession(m.SessionCode, protocol.NewMessage(protocol.TypeAudienceUpdate, protocol.AudienceUpdate{
						TotalParticipants: total,
					}))
				}
			}
		}
	}

	for docID, userID := range m.Collabs {
		if col, ok := h.collab.Leave(docID, userID); ok {
			h.router.ToCollab(docID, client.ID, protocol.NewMessage(protocol.TypeCollaboratorLeft, protocol.CollaboratorLeft{
				UserID: col.UserID,
				Name:   col.Name,
			}))
		}
	}

	slog.Info("hub: disconnected", "conn", client.ID)
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ID)
}

// Close terminates every live connection. Part of process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
