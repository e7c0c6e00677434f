package collab

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/errors"
	"github.com/slidewire/slidewire/internal/protocol"
)

// palette of collaborator colors, assigned by join order modulo its size.
var palette = []string{
	"#E53E3E", "#3182CE", "#38A169", "#D69E2E",
	"#805AD5", "#DD6B20", "#319795", "#D53F8C",
}

type Config struct {
	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time
}

// Service tracks presence per document: who is editing, their cursor color
// and role. It is a relay, not a CRDT engine; content changes pass through
// shape-validated and timestamped, never merged.
type Service struct {
	mu    sync.Mutex
	rooms map[string]*room
	now   func() time.Time
}

type room struct {
	docID         string
	collaborators map[string]*collaborator
	joinSeq       int
}

type collaborator struct {
	userID       string
	name         string
	color        string
	role         domain.CollaboratorRole
	lastActiveAt time.Time
}

func New(c Config) *Service {
	if c.NowFunc == nil {
		c.NowFunc = time.Now
	}
	return &Service{
		rooms: make(map[string]*room),
		now:   c.NowFunc,
	}
}

// Join adds a collaborator to a document room, creating the room on first
// join. The first joiner owns the document; everyone after edits.
func (s *Service) Join(docID, userID, name string) (domain.Collaborator, []domain.Collaborator, error) {
	if docID == "" || userID == "" {
		return domain.Collaborator{}, nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("document and user ids are required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[docID]
	if r == nil {
		r = &room{docID: docID, collaborators: make(map[string]*collaborator)}
		s.rooms[docID] = r
		slog.Info("collab: room opened", "doc", docID)
	}

	c := r.collaborators[userID]
	if c == nil {
		role := domain.RoleEditor
		if len(r.collaborators) == 0 {
			role = domain.RoleOwner
		}
		c = &collaborator{
			userID: userID,
			name:   name,
			color:  palette[r.joinSeq%len(palette)],
			role:   role,
		}
		r.joinSeq++
		r.collaborators[userID] = c
	}
	c.lastActiveAt = s.now()

	return c.snapshot(), r.snapshotAll(), nil
}

// Leave removes a collaborator. An empty room is discarded entirely; no
// presence state survives a no-collaborator interval.
func (s *Service) Leave(docID, userID string) (domain.Collaborator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[docID]
	if r == nil {
		return domain.Collaborator{}, false
	}
	c, ok := r.collaborators[userID]
	if !ok {
		return domain.Collaborator{}, false
	}

	delete(r.collaborators, userID)
	if len(r.collaborators) == 0 {
		delete(s.rooms, docID)
		slog.Info("collab: room discarded", "doc", docID)
	}

	return c.snapshot(), true
}

// MoveCursor validates membership and returns the collaborator's color for
// the fan-out. Cursor positions are never persisted.
func (s *Service) MoveCursor(docID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.memberLocked(docID, userID)
	if err != nil {
		return "", err
	}
	c.lastActiveAt = s.now()
	return c.color, nil
}

// ApplyChange shape-checks a content change and stamps it with server time.
// Convergence is out of scope here; the change is relayed as-is.
func (s *Service) ApplyChange(docID, userID string, change protocol.Change) (protocol.Change, error) {
	if strings.TrimSpace(change.Type) == "" ||
		strings.TrimSpace(change.Target) == "" ||
		strings.TrimSpace(change.TargetID) == "" {
		return protocol.Change{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("content change requires type, target and targetId"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.memberLocked(docID, userID)
	if err != nil {
		return protocol.Change{}, err
	}
	c.lastActiveAt = s.now()

	change.ServerTime = s.now().UnixMilli()
	return change, nil
}

// Heartbeat refreshes last-active for a user across all their rooms.
func (s *Service) Heartbeat(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rooms {
		if c, ok := r.collaborators[userID]; ok {
			c.lastActiveAt = s.now()
		}
	}
}

// Collaborators lists a room's members; ok is false for an unknown room.
func (s *Service) Collaborators(docID string) ([]domain.Collaborator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[docID]
	if r == nil {
		return nil, false
	}
	return r.snapshotAll(), true
}

// Rooms reports how many document rooms are open.
func (s *Service) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Service) memberLocked(docID, userID string) (*collaborator, error) {
	r := s.rooms[docID]
	if r == nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no collaboration room for document %s", docID))
	}
	c, ok := r.collaborators[userID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("not a collaborator of document %s", docID))
	}
	return c, nil
}

func (c *collaborator) snapshot() domain.Collaborator {
	return domain.Collaborator{
		UserID:       c.userID,
		Name:         c.name,
		Color:        c.color,
		Role:         c.role,
		IsActive:     true,
		LastActiveAt: c.lastActiveAt,
	}
}

func (r *room) snapshotAll() []domain.Collaborator {
	out := make([]domain.Collaborator, 0, len(r.collaborators))
	for _, c := range r.collaborators {
		out = append(out, c.snapshot())
	}
	return out
}
