package hub_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slidewire/slidewire/internal/hub"
	"github.com/slidewire/slidewire/internal/protocol"
)

// recorder captures everything sent to one client.
type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) record(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) byType(t protocol.Type) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []protocol.Message
	for _, m := range r.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, typ protocol.Type) protocol.Message {
	t.Helper()
	msgs := r.byType(typ)
	require.NotEmpty(t, msgs, "expected a %s message", typ)
	return msgs[len(msgs)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestClient() (*hub.Client, *recorder) {
	c := hub.NewClient(nil)
	rec := &recorder{}
	c.SetSendHook(rec.record)
	return c, rec
}

func TestRouter_SessionAudiences(t *testing.T) {
	r := hub.NewRouter()

	host, hostRec := newTestClient()
	p1, p1Rec := newTestClient()
	p2, p2Rec := newTestClient()

	r.BindHost("123456", host)
	r.BindParticipant("123456", p1)
	r.BindParticipant("123456", p2)

	msg := protocol.NewMessage(protocol.TypeAudienceUpdate, protocol.AudienceUpdate{TotalParticipants: 2})
	r.ToSession("123456", msg)
	require.Equal(t, 1, hostRec.count())
	require.Equal(t, 1, p1Rec.count())
	require.Equal(t, 1, p2Rec.count())

	r.ToSessionExcept("123456", p1.ID, msg)
	require.Equal(t, 2, hostRec.count())
	require.Equal(t, 1, p1Rec.count(), "the excluded connection must not receive the message")
	require.Equal(t, 2, p2Rec.count())

	r.ToHost("123456", msg)
	require.Equal(t, 3, hostRec.count())
	require.Equal(t, 1, p1Rec.count())
	require.Equal(t, 2, p2Rec.count())

	r.ToSession("999999", msg)
	require.Equal(t, 3, hostRec.count(), "an unknown room reaches nobody")
}

func TestRouter_CollabAudience(t *testing.T) {
	r := hub.NewRouter()

	a, aRec := newTestClient()
	b, bRec := newTestClient()

	r.JoinCollab("doc-1", "u1", a)
	r.JoinCollab("doc-1", "u2", b)

	msg := protocol.NewMessage(protocol.TypeCursorUpdate, protocol.CursorUpdate{UserID: "u1"})
	r.ToCollab("doc-1", a.ID, msg)
	require.Equal(t, 0, aRec.count(), "the originator is excluded")
	require.Equal(t, 1, bRec.count())

	r.LeaveCollab("doc-1", b.ID)
	r.ToCollab("doc-1", a.ID, msg)
	require.Equal(t, 1, bRec.count())
}

func TestRouter_Drop(t *testing.T) {
	r := hub.NewRouter()

	c, rec := newTestClient()
	r.BindParticipant("123456", c)
	r.JoinCollab("doc-1", "u1", c)

	m, ok := r.Drop(c.ID)
	require.True(t, ok)
	require.Equal(t, "123456", m.SessionCode)
	require.Equal(t, hub.RoleParticipant, m.Role)
	require.Equal(t, map[string]string{"doc-1": "u1"}, m.Collabs)

	r.ToSession("123456", protocol.NewMessage(protocol.TypePong, protocol.Pong{}))
	r.ToCollab("doc-1", "", protocol.NewMessage(protocol.TypePong, protocol.Pong{}))
	require.Equal(t, 0, rec.count(), "a dropped connection is out of every audience")

	_, ok = r.Drop(c.ID)
	require.False(t, ok, "dropping twice is a no-op")
}

func TestRouter_CloseSession(t *testing.T) {
	r := hub.NewRouter()

	host, _ := newTestClient()
	p1, p1Rec := newTestClient()

	r.BindHost("123456", host)
	r.BindParticipant("123456", p1)

	r.CloseSession("123456")

	r.ToSession("123456", protocol.NewMessage(protocol.TypePong, protocol.Pong{}))
	require.Equal(t, 0, p1Rec.count())

	m, ok := r.Membership(p1.ID)
	require.True(t, ok, "the connection itself survives the room")
	require.Empty(t, m.SessionCode)
	require.Empty(t, m.Role)
}
