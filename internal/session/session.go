package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slidewire/slidewire/internal/domain"
	"github.com/slidewire/slidewire/internal/errors"
)

// Session is the aggregate root for one live run of a presentation. All
// mutation goes through its methods under one mutex, so every state change is
// atomic with respect to the broadcast that follows it. Other packages only
// ever see copies.
type Session struct {
	mu sync.Mutex

	code         string
	presentation domain.Presentation
	hostConnID   string
	hostToken    string
	settings     domain.SessionSettings
	teams        []string

	status       domain.SessionStatus
	beforePause  domain.SessionStatus
	slideIndex   int
	slideState   domain.SlideState
	slideShownAt time.Time

	participants map[string]*participant // keyed by connection id
	joinSeq      int

	tallies    map[string][]int                 // slideID -> per-option counts
	answeredBy map[string]map[string]struct{}   // slideID -> connection ids counted
	words      map[string]map[string][]string   // slideID -> connection id -> words

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time

	now func() time.Time
}

type participant struct {
	id           string
	name         string
	team         string
	score        int
	responses    map[string]int // slideID -> option index
	isActive     bool
	joinedAt     time.Time
	lastActiveAt time.Time
	order        int
}

func newSession(code, hostConnID, hostToken string, p domain.Presentation, teams []string, settings domain.SessionSettings, now func() time.Time) *Session {
	return &Session{
		code:         code,
		presentation: p,
		hostConnID:   hostConnID,
		hostToken:    hostToken,
		settings:     settings,
		teams:        teams,
		status:       domain.StatusWaiting,
		slideIndex:   0,
		slideState:   domain.SlideStateShow,
		slideShownAt: now(),
		participants: make(map[string]*participant),
		tallies:      make(map[string][]int),
		answeredBy:   make(map[string]map[string]struct{}),
		words:        make(map[string]map[string][]string),
		createdAt:    now(),
		now:          now,
	}
}

func (s *Session) Code() string { return s.code }

func (s *Session) PresentationID() string { return s.presentation.ID }

func (s *Session) Presentation() domain.Presentation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presentation
}

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Settings() domain.SessionSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) Teams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.teams...)
}

func (s *Session) IsHost(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return connID == s.hostConnID
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// CurrentSlide returns the slide under the cursor, its index and state, and
// when it was last shown.
func (s *Session) CurrentSlide() (domain.Slide, int, domain.SlideState, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presentation.Slides[s.slideIndex], s.slideIndex, s.slideState, s.slideShownAt
}

// SlideByID resolves a slide by its document id.
func (s *Session) SlideByID(id string) (domain.Slide, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sl := range s.presentation.Slides {
		if sl.ID == id {
			return sl, i, true
		}
	}
	return domain.Slide{}, 0, false
}

// Join adds a participant, or reclaims an inactive record with the same name
// so a transient drop keeps its score. Joinability depends on session status
// and the late-join setting.
func (s *Session) Join(connID, name, team string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case domain.StatusWaiting:
	case domain.StatusActive, domain.StatusPaused:
		if !s.settings.AllowLateJoin {
			return domain.Participant{}, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("session already started"))
		}
	default:
		return domain.Participant{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found"))
	}

	name = strings.TrimSpace(name)
	if name == "" {
		if !s.settings.AllowAnonymous {
			return domain.Participant{}, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("name is required"))
		}
		name = "Anonymous"
	}

	// reclaim an inactive record left by a dropped connection
	for oldConnID, p := range s.participants {
		if !p.isActive && p.name == name {
			delete(s.participants, oldConnID)
			p.isActive = true
			p.lastActiveAt = s.now()
			s.participants[connID] = p
			return p.snapshot(), nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Participant{}, errors.Internal(err)
	}

	s.joinSeq++
	p := &participant{
		id:           id.String(),
		name:         name,
		team:         team,
		responses:    make(map[string]int),
		isActive:     true,
		joinedAt:     s.now(),
		lastActiveAt: s.now(),
		order:        s.joinSeq,
	}
	s.participants[connID] = p

	return p.snapshot(), nil
}

// MarkInactive flags a participant's record on disconnect. The record stays;
// only the liveness bit flips.
func (s *Session) MarkInactive(connID string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return domain.Participant{}, false
	}
	p.isActive = false
	p.lastActiveAt = s.now()
	return p.snapshot(), true
}

func (s *Session) Heartbeat(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[connID]; ok {
		p.lastActiveAt = s.now()
	}
}

// Participant returns the record bound to a connection.
func (s *Session) Participant(connID string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[connID]
	if !ok {
		return domain.Participant{}, false
	}
	return p.snapshot(), true
}

// Participants returns snapshots ordered by join order.
func (s *Session) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]*participant, 0, len(s.participants))
	for _, p := range s.participants {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })

	out := make([]domain.Participant, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, p.snapshot())
	}
	return out
}

func (s *Session) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.participants {
		if p.isActive {
			n++
		}
	}
	return n
}

func (s *Session) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.StatusWaiting {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is %s, not waiting", s.status))
	}
	s.status = domain.StatusActive
	s.startedAt = s.now()
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = domain.StatusEnded
	s.endedAt = s.now()
	// answer-tracking sets are cleared here; the registry cancels debounce
	// timers before calling so nothing fires against the cleared maps
	s.answeredBy = make(map[string]map[string]struct{})
}

func (s *Session) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded || s.status == domain.StatusPaused {
		return
	}
	s.beforePause = s.status
	s.status = domain.StatusPaused
}

func (s *Session) resume(hostConnID, hostToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hostToken != s.hostToken {
		return errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid host token"))
	}
	s.hostConnID = hostConnID
	if s.status == domain.StatusPaused {
		s.status = s.beforePause
	}
	return nil
}

// HostToken is the secret handed to the creating connection; presenting it
// later reclaims host authority after a dropped connection.
func (s *Session) HostToken() string { return s.hostToken }

// ShowSlide moves the cursor and puts the new slide into the show state.
// An out-of-range index leaves everything untouched and returns false.
func (s *Session) ShowSlide(index int) (domain.Slide, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.presentation.Slides) {
		return domain.Slide{}, false
	}
	s.slideIndex = index
	s.slideState = domain.SlideStateShow
	s.slideShownAt = s.now()
	return s.presentation.Slides[index], true
}

// Lock freezes the current slide: answers are rejected until reveal.
func (s *Session) Lock() (int, domain.SlideState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slideState = domain.SlideStateLocked
	return s.slideIndex, s.slideState
}

// Reveal shows results. Late answers still count toward tallies.
func (s *Session) Reveal() (int, domain.SlideState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slideState = domain.SlideStateReveal
	return s.slideIndex, s.slideState
}

// AnswerResult reports the outcome of one answer submission.
type AnswerResult struct {
	Accepted bool
	// Duplicate marks a re-submission by a participant already counted.
	// Dropped without error so client retries stay invisible to the user.
	Duplicate bool
	Correct   bool
	Counts    []int
	Total     int

	ParticipantID string
	Team          string
	TotalScore    int
	ScoreChanged  bool
}

// RecordAnswer applies one answer atomically: lock check, range check,
// at-most-once per participant per slide, tally increment, conditional score
// award. award is the points value this answer is worth if it turns out
// correct; the caller prices it from the slide's time budget.
func (s *Session) RecordAnswer(slideID, connID string, optionIndex, award int) (AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slide domain.Slide
	found := false
	for _, sl := range s.presentation.Slides {
		if sl.ID == slideID {
			slide, found = sl, true
			break
		}
	}
	if !found {
		return AnswerResult{}, errors.New(errors.CodeNotFound, errors.WithMessagef("unknown slide: %s", slideID))
	}

	if s.slideState == domain.SlideStateLocked {
		return AnswerResult{Accepted: false}, nil
	}

	if optionIndex < 0 || optionIndex >= len(slide.Options) {
		return AnswerResult{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option index %d out of range for slide %s", optionIndex, slideID))
	}

	answered := s.answeredBy[slideID]
	if answered == nil {
		answered = make(map[string]struct{})
		s.answeredBy[slideID] = answered
	}
	if _, dup := answered[connID]; dup {
		return AnswerResult{Accepted: false, Duplicate: true}, nil
	}
	answered[connID] = struct{}{}

	tally := s.tallies[slideID]
	if tally == nil {
		tally = make([]int, len(slide.Options))
		s.tallies[slideID] = tally
	}
	tally[optionIndex]++

	res := AnswerResult{
		Accepted: true,
		Counts:   append([]int(nil), tally...),
		Total:    len(answered),
	}

	p, ok := s.participants[connID]
	if ok {
		p.responses[slideID] = optionIndex
		p.lastActiveAt = s.now()
		res.ParticipantID = p.id
		res.Team = p.team

		if slide.Scored() && optionIndex == slide.CorrectIndex {
			res.Correct = true
			p.score += award
			res.ScoreChanged = true
		}
		res.TotalScore = p.score
	}

	return res, nil
}

// Tally returns a copy of the tally vector and the distinct-responder count
// for a slide.
func (s *Session) Tally(slideID string) ([]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tally := s.tallies[slideID]
	if tally == nil {
		if sl, _, ok := s.slideByIDLocked(slideID); ok {
			return make([]int, len(sl.Options)), 0
		}
		return nil, 0
	}
	return append([]int(nil), tally...), len(s.answeredBy[slideID])
}

func (s *Session) slideByIDLocked(slideID string) (domain.Slide, int, bool) {
	for i, sl := range s.presentation.Slides {
		if sl.ID == slideID {
			return sl, i, true
		}
	}
	return domain.Slide{}, 0, false
}

// RecordWords stores a participant's word-cloud submission. The last write
// per participant is authoritative; words are expected pre-normalized.
func (s *Session) RecordWords(slideID, connID string, words []string) []domain.WordCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	byConn := s.words[slideID]
	if byConn == nil {
		byConn = make(map[string][]string)
		s.words[slideID] = byConn
	}
	byConn[connID] = words

	if p, ok := s.participants[connID]; ok {
		p.lastActiveAt = s.now()
	}

	counts := make(map[string]int)
	for _, ws := range byConn {
		for _, w := range ws {
			counts[w]++
		}
	}

	out := make([]domain.WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, domain.WordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	return out
}

func (p *participant) snapshot() domain.Participant {
	return domain.Participant{
		ID:           p.id,
		Name:         p.name,
		Team:         p.team,
		Score:        p.score,
		IsActive:     p.isActive,
		JoinedAt:     p.joinedAt,
		LastActiveAt: p.lastActiveAt,
	}
}
