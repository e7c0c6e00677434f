package hub

import (
	"sync"

	"github.com/slidewire/slidewire/internal/protocol"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Membership records everything a connection belongs to. The router keeps
// one per connection as a reverse index, so disconnect teardown never scans
// every room.
type Membership struct {
	SessionCode string
	Role        Role
	Collabs     map[string]string // docID -> userID
}

// Router maps logical audiences to live connections. Components address
// broadcasts by audience, never by connection list; this is the only place
// that enumerates sockets.
type Router struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Client // code -> connID -> client
	hosts    map[string]*Client            // code -> host client
	collabs  map[string]map[string]*Client // docID -> connID -> client
	members  map[string]*Membership        // connID -> memberships
}

func NewRouter() *Router {
	return &Router{
		sessions: make(map[string]map[string]*Client),
		hosts:    make(map[string]*Client),
		collabs:  make(map[string]map[string]*Client),
		members:  make(map[string]*Membership),
	}
}

func (r *Router) membershipLocked(connID string) *Membership {
	m := r.members[connID]
	if m == nil {
		m = &Membership{Collabs: make(map[string]string)}
		r.members[connID] = m
	}
	return m
}

// BindHost attaches a connection to a session room as its host.
func (r *Router) BindHost(code string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[code] == nil {
		r.sessions[code] = make(map[string]*Client)
	}
	r.sessions[code][c.ID] = c
	r.hosts[code] = c

	m := r.membershipLocked(c.ID)
	m.SessionCode = code
	m.Role = RoleHost
}

// BindParticipant attaches a connection to a session room.
func (r *Router) BindParticipant(code string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[code] == nil {
		r.sessions[code] = make(map[string]*Client)
	}
	r.sessions[code][c.ID] = c

	m := r.membershipLocked(c.ID)
	m.SessionCode = code
	m.Role = RoleParticipant
}

// JoinCollab attaches a connection to a collaboration room.
func (r *Router) JoinCollab(docID, userID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.collabs[docID] == nil {
		r.collabs[docID] = make(map[string]*Client)
	}
	r.collabs[docID][c.ID] = c

	r.membershipLocked(c.ID).Collabs[docID] = userID
}

// LeaveCollab detaches a connection from a collaboration room.
func (r *Router) LeaveCollab(docID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room := r.collabs[docID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.collabs, docID)
		}
	}
	if m := r.members[connID]; m != nil {
		delete(m.Collabs, docID)
	}
}

// Membership returns a copy of what a connection belongs to.
func (r *Router) Membership(connID string) (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.members[connID]
	if m == nil {
		return Membership{}, false
	}

	out := Membership{SessionCode: m.SessionCode, Role: m.Role, Collabs: make(map[string]string, len(m.Collabs))}
	for d, u := range m.Collabs {
		out.Collabs[d] = u
	}
	return out, true
}

// Drop removes a connection from every audience and returns what it was a
// member of, for the disconnect hook to tear down aggregates.
func (r *Router) Drop(connID string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.members[connID]
	if m == nil {
		return Membership{}, false
	}
	delete(r.members, connID)

	if m.SessionCode != "" {
		if room := r.sessions[m.SessionCode]; room != nil {
			delete(room, connID)
			if len(room) == 0 {
				delete(r.sessions, m.SessionCode)
			}
		}
		if h := r.hosts[m.SessionCode]; h != nil && h.ID == connID {
			delete(r.hosts, m.SessionCode)
		}
	}
	for docID := range m.Collabs {
		if room := r.collabs[docID]; room != nil {
			delete(room, connID)
			if len(room) == 0 {
				delete(r.collabs, docID)
			}
		}
	}

	return *m, true
}

// CloseSession dissolves a session audience. Connections stay open; they
// just no longer belong to the room.
func (r *Router) CloseSession(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID := range r.sessions[code] {
		if m := r.members[connID]; m != nil && m.SessionCode == code {
			m.SessionCode = ""
			m.Role = ""
		}
	}
	delete(r.sessions, code)
	delete(r.hosts, code)
}

// ToSession sends to every connection in a session room.
func (r *Router) ToSession(code string, msg protocol.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.sessions[code] {
		c.Send(msg)
	}
}

// ToSessionExcept sends to every connection in a session room but one.
func (r *Router) ToSessionExcept(code, exceptConnID string, msg protocol.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID, c := range r.sessions[code] {
		if connID == exceptConnID {
			continue
		}
		c.Send(msg)
	}
}

// ToHost sends to the session's host connection only.
func (r *Router) ToHost(code string, msg protocol.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h := r.hosts[code]; h != nil {
		h.Send(msg)
	}
}

// ToCollab sends to every connection in a collaboration room except the
// originator.
func (r *Router) ToCollab(docID, exceptConnID string, msg protocol.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID, c := range r.collabs[docID] {
		if connID == exceptConnID {
			continue
		}
		c.Send(msg)
	}
}
