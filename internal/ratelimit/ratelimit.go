package ratelimit

import (
	"sync"
	"time"

	"github.com/slidewire/slidewire/internal/telemetry"
)

type Class string

const (
	// ClassMessage covers high-frequency traffic: cursor moves, heartbeats,
	// reactions, answer submissions.
	ClassMessage Class = "message"
	// ClassAction covers low-frequency commands: session lifecycle, slide
	// navigation, content changes.
	ClassAction Class = "action"
)

const (
	DefaultMessageLimit = 100
	DefaultActionLimit  = 30
	DefaultWindow       = time.Minute
)

type Config struct {
	MessageLimit int
	ActionLimit  int
	Window       time.Duration

	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks per-connection fixed windows with lazy reset, one window per
// action class. Windows appear on first use and are dropped wholesale when
// the connection goes away.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]map[Class]*window

	limits map[Class]int
	period time.Duration
	now    func() time.Time
}

func New(c Config) *Limiter {
	if c.MessageLimit <= 0 {
		c.MessageLimit = DefaultMessageLimit
	}
	if c.ActionLimit <= 0 {
		c.ActionLimit = DefaultActionLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.NowFunc == nil {
		c.NowFunc = time.Now
	}

	return &Limiter{
		windows: make(map[string]map[Class]*window),
		limits: map[Class]int{
			ClassMessage: c.MessageLimit,
			ClassAction:  c.ActionLimit,
		},
		period: c.Window,
		now:    c.NowFunc,
	}
}

// Allow reports whether the connection may perform one more event of the
// given class. Denied events must be dropped by the caller; there is no
// queueing and no retry at this layer.
func (l *Limiter) Allow(connID string, class Class) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	byClass := l.windows[connID]
	if byClass == nil {
		byClass = make(map[Class]*window)
		l.windows[connID] = byClass
	}

	now := l.now()
	w := byClass[class]
	if w == nil || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.period)}
		byClass[class] = w
	}

	if w.count >= l.limits[class] {
		telemetry.RateLimitedTotal.WithLabelValues(string(class)).Inc()
		return false
	}

	w.count++
	return true
}

// Forget drops all windows for a connection.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, connID)
}
