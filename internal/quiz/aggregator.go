package quiz

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/event"
	"github.com/slidewire/slidewire/internal/protocol"
	"github.com/slidewire/slidewire/internal/session"
	"github.com/slidewire/slidewire/internal/telemetry"
)

const (
	// DefaultDebounceInterval collapses a burst of answers arriving during
	// reveal into one extra broadcast.
	DefaultDebounceInterval = 150 * time.Millisecond

	leaderboardSize = 10
)

// speedBonusFactor scales the speed bonus: a correct answer at the moment a
// slide is shown earns half the base points on top.
var speedBonusFactor = decimal.NewFromFloat(0.5)

// Broadcaster fans a message out to a logical audience. The hub's router
// implements it; the aggregator never touches connections directly.
type Broadcaster interface {
	ToSession(code string, msg protocol.Message)
	ToHost(code string, msg protocol.Message)
}

type Config struct {
	EventBus    *event.Bus
	Broadcaster Broadcaster

	DebounceInterval time.Duration
	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time
}

// Aggregator turns raw submissions into tallies, scores and broadcasts. It
// owns the per-(session, slide) debounce timers; nothing else may touch them.
type Aggregator struct {
	eb       *event.Bus
	bc       Broadcaster
	debounce time.Duration
	now      func() time.Time

	mu      sync.Mutex
	timers  map[timerKey]*time.Timer
	stopped bool
}

type timerKey struct {
	code    string
	slideID string
}

func New(c Config) *Aggregator {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.NowFunc == nil {
		c.NowFunc = time.Now
	}

	return &Aggregator{
		eb:       c.EventBus,
		bc:       c.Broadcaster,
		debounce: c.DebounceInterval,
		now:      c.NowFunc,
		timers:   make(map[timerKey]*time.Timer),
	}
}

// Submit records one answer. Rejections fall into three kinds: a locked
// slide and a duplicate submission come back as accepted=false without
// error, a bad option index or unknown slide is a validation error.
func (a *Aggregator) Submit(ctx context.Context, s *session.Session, slideID, connID string, optionIndex int) (session.AnswerResult, error) {
	slide, slideIndex, ok := s.SlideByID(slideID)
	if !ok {
		// unknown slide surfaces through RecordAnswer's own lookup
		return s.RecordAnswer(slideID, connID, optionIndex, 0)
	}

	award := a.priceAnswer(s, slide, slideIndex)

	res, err := s.RecordAnswer(slideID, connID, optionIndex, award)
	if err != nil {
		return res, err
	}
	if res.Duplicate {
		telemetry.DuplicateAnswersTotal.Inc()
		return res, nil
	}
	if !res.Accepted {
		return res, nil
	}

	code := s.Code()
	a.bc.ToSession(code, protocol.NewMessage(protocol.TypeResultsUpdate, protocol.ResultsUpdate{
		SlideID: slideID,
		Counts:  res.Counts,
		Total:   res.Total,
	}))

	a.eb.Publish(ctx, domain.EventAnswerRecorded{
		SessionCode:   code,
		SlideID:       slideID,
		ParticipantID: res.ParticipantID,
		OptionIndex:   optionIndex,
		Correct:       res.Correct,
		SubmitTime:    a.now(),
	})

	if res.ScoreChanged {
		a.eb.Publish(ctx, domain.EventScoreUpdated{
			SessionCode:   code,
			ParticipantID: res.ParticipantID,
			Team:          res.Team,
			TotalScore:    res.TotalScore,
			UpdateTime:    a.now(),
		})

		a.eb.Publish(ctx, domain.EventLeaderboardUpdated{
			SessionCode: code,
			Leaderboard: a.Leaderboard(s),
		})

		if teams := s.Teams(); len(teams) > 0 {
			a.bc.ToSession(code, protocol.NewMessage(protocol.TypeTeamScoresUpdated, protocol.TeamScoresUpdated{
				TeamScores: a.TeamScores(s),
			}))
		}
	}

	if _, _, state, _ := s.CurrentSlide(); state == domain.SlideStateReveal {
		a.scheduleRebroadcast(s, slideID)
	}

	return res, nil
}

// priceAnswer computes what a correct answer is worth right now: base points
// plus a speed bonus proportional to the remaining fraction of the slide's
// time budget.
func (a *Aggregator) priceAnswer(s *session.Session, slide domain.Slide, slideIndex int) int {
	if !slide.Scored() {
		return 0
	}

	award := slide.Points

	_, curIndex, state, shownAt := s.CurrentSlide()
	if curIndex != slideIndex || state != domain.SlideStateShow || slide.TimeLimitSeconds <= 0 {
		return award
	}

	elapsed := a.now().Sub(shownAt).Seconds()
	frac := 1 - elapsed/float64(slide.TimeLimitSeconds)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	bonus := decimal.NewFromInt(int64(slide.Points)).
		Mul(speedBonusFactor).
		Mul(decimal.NewFromFloat(frac)).
		Round(0)

	return award + int(bonus.IntPart())
}

// SubmitWords records a word-cloud submission and broadcasts the recomputed
// aggregation. No per-participant dedup beyond last-write-wins.
func (a *Aggregator) SubmitWords(s *session.Session, slideID, connID string, words []string) []domain.WordCount {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		normalized = append(normalized, w)
	}

	counts := s.RecordWords(slideID, connID, normalized)

	a.bc.ToSession(s.Code(), protocol.NewMessage(protocol.TypeWordCloudUpdate, protocol.WordCloudUpdate{
		SlideID:    slideID,
		WordCounts: counts,
	}))

	return counts
}

// scheduleRebroadcast arms (or refreshes) the debounce timer for a
// (session, slide) key. At most one timer per key is ever outstanding.
func (a *Aggregator) scheduleRebroadcast(s *session.Session, slideID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}

	key := timerKey{code: s.Code(), slideID: slideID}
	if t, ok := a.timers[key]; ok {
		t.Stop()
	}

	a.timers[key] = time.AfterFunc(a.debounce, func() {
		a.mu.Lock()
		if a.stopped {
			a.mu.Unlock()
			return
		}
		delete(a.timers, key)
		a.mu.Unlock()

		counts, total := s.Tally(slideID)
		if counts == nil {
			return
		}
		a.bc.ToSession(key.code, protocol.NewMessage(protocol.TypeResultsUpdate, protocol.ResultsUpdate{
			SlideID: slideID,
			Counts:  counts,
			Total:   total,
		}))
	})
}

// CancelSession drops every outstanding debounce timer for a session. The
// registry calls this from its end hook before the aggregate is torn down.
func (a *Aggregator) CancelSession(code string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, t := range a.timers {
		if key.code == code {
			t.Stop()
			delete(a.timers, key)
		}
	}
}

// Stop cancels all timers. Called once on shutdown.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	for key, t := range a.timers {
		t.Stop()
		delete(a.timers, key)
	}
}
