package session

import (
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/errors"
)

const (
	// DefaultGracePeriod is how long an ended session stays resolvable so
	// late result reads still work.
	DefaultGracePeriod = 5 * time.Minute

	codeAttempts = 100
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

type RegistryConfig struct {
	GracePeriod time.Duration

	// OnEnd runs when a session ends, before its deletion is scheduled.
	// The answer aggregator hooks in here to cancel debounce timers so none
	// fire against a half-torn-down aggregate.
	OnEnd func(code string)

	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time
	// RandFunc overrides code generation randomness in tests.
	RandFunc func(n int) int
}

// Registry owns every live session and the presentations they reference.
// Construct one per process; tests construct their own isolated instances.
type Registry struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	presentations map[string]domain.Presentation
	gcTimers      map[string]*time.Timer

	grace   time.Duration
	onEnd   func(code string)
	now     func() time.Time
	randInt func(n int) int
	stopped bool
}

func NewRegistry(c RegistryConfig) *Registry {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.NowFunc == nil {
		c.NowFunc = time.Now
	}
	if c.RandFunc == nil {
		c.RandFunc = rand.Intn
	}
	if c.OnEnd == nil {
		c.OnEnd = func(string) {}
	}

	return &Registry{
		sessions:      make(map[string]*Session),
		presentations: make(map[string]domain.Presentation),
		gcTimers:      make(map[string]*time.Timer),
		grace:         c.GracePeriod,
		onEnd:         c.OnEnd,
		now:           c.NowFunc,
		randInt:       c.RandFunc,
	}
}

// SetOnEnd installs the end hook after construction. Wiring needs this
// because the aggregator and the registry reference each other.
func (r *Registry) SetOnEnd(fn func(code string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnd = fn
}

// RegisterPresentation makes a presentation document available for sessions.
func (r *Registry) RegisterPresentation(p domain.Presentation) error {
	if p.ID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("presentation id is required"))
	}
	if len(p.Slides) == 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("presentation has no slides"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.presentations[p.ID] = p
	return nil
}

func (r *Registry) Presentation(id string) (domain.Presentation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presentations[id]
	return p, ok
}

// Create builds a session for a registered presentation, generating a 6-digit
// code that no live session holds. A lingering ended session may be evicted
// early; its code is reusable by contract.
func (r *Registry) Create(hostConnID, presentationID string, teams []string, settings domain.SessionSettings) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("registry is shut down"))
	}

	p, ok := r.presentations[presentationID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("presentation not found: %s", presentationID))
	}

	code, err := r.generateCodeLocked()
	if err != nil {
		return nil, err
	}

	if old, ok := r.sessions[code]; ok && old.Status() == domain.StatusEnded {
		r.deleteLocked(code)
	}

	s := newSession(code, hostConnID, uuid.NewString(), p, teams, settings, r.now)
	r.sessions[code] = s

	slog.Info("session: created", "code", code, "presentation", presentationID)
	return s, nil
}

func (r *Registry) generateCodeLocked() (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := fmt.Sprintf("%06d", r.randInt(1000000))
		if s, ok := r.sessions[code]; !ok || s.Status() == domain.StatusEnded {
			return code, nil
		}
	}
	return "", errors.New(errors.CodeResourceExhausted, errors.WithMessagef("could not allocate a session code"))
}

// Lookup resolves a session by code. The code format is validated before the
// map is consulted.
func (r *Registry) Lookup(code string) (*Session, error) {
	if !codePattern.MatchString(code) {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid session code"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[code]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found"))
	}
	return s, nil
}

// Join adds a participant to the session behind a code.
func (r *Registry) Join(code, connID, name, team string) (*Session, domain.Participant, error) {
	s, err := r.Lookup(code)
	if err != nil {
		return nil, domain.Participant{}, err
	}

	p, err := s.Join(connID, name, team)
	if err != nil {
		return nil, domain.Participant{}, err
	}
	return s, p, nil
}

// Start moves a waiting session to active. Host only.
func (r *Registry) Start(code, connID string) (*Session, error) {
	s, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	if !s.IsHost(connID) {
		return nil, errors.New(errors.CodePermissionDenied, errors.WithMessagef("only the host can start the session"))
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

// End terminates a session. Host only. Ordering matters: the end hook cancels
// debounce timers first, then the aggregate is marked ended and its deletion
// is scheduled after the grace period.
func (r *Registry) End(code, connID string) (*Session, error) {
	s, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	if !s.IsHost(connID) {
		return nil, errors.New(errors.CodePermissionDenied, errors.WithMessagef("only the host can end the session"))
	}

	r.onEnd(code)
	s.end()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return s, nil
	}
	r.gcTimers[code] = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.deleteLocked(code)
		slog.Info("session: garbage collected", "code", code)
	})

	slog.Info("session: ended", "code", code)
	return s, nil
}

// HostDisconnected pauses the session owned by the given host connection.
func (r *Registry) HostDisconnected(code, connID string) {
	s, err := r.Lookup(code)
	if err != nil || !s.IsHost(connID) {
		return
	}
	s.pause()
	slog.Info("session: paused, host disconnected", "code", code)
}

// HostReconnected rebinds the host connection after validating the host
// token, and resumes the session to its pre-pause status.
func (r *Registry) HostReconnected(code, connID, hostToken string) (*Session, error) {
	s, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	if err := s.resume(connID, hostToken); err != nil {
		return nil, err
	}
	slog.Info("session: resumed, host reconnected", "code", code)
	return s, nil
}

// Live reports how many sessions the registry currently holds, ended but not
// yet collected included.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stop cancels every pending deletion timer. Sessions are left in place for
// inspection; the process is going away anyway.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for code, t := range r.gcTimers {
		t.Stop()
		delete(r.gcTimers, code)
	}
}

func (r *Registry) deleteLocked(code string) {
	if t, ok := r.gcTimers[code]; ok {
		t.Stop()
		delete(r.gcTimers, code)
	}
	delete(r.sessions, code)
}
