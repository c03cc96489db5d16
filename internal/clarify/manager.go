package clarify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/intent"
)

// Manager owns the in-memory clarification sessions. Answers to one session
// are applied one batch at a time in arrival order; different sessions do
// not block each other.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*slot

	timeout       time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

type slot struct {
	mu sync.Mutex
	s  Session
}

// NewManager creates a manager. Sessions idle for timeout expire.
func NewManager(timeout, sweepInterval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	logger.Info("clarification sessions are held in memory; sessions open before a restart are lost",
		zap.Duration("session_timeout", timeout),
	)
	return &Manager{
		sessions:      make(map[string]*slot),
		timeout:       timeout,
		sweepInterval: sweepInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Open creates a session for request and opens it with questions.
func (m *Manager) Open(ctx context.Context, request string, draft intent.Intent, questions []Question) (Session, Effect, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, Effect{}, err
	}
	now := m.now()
	created := Session{
		ID:           uuid.NewString(),
		Request:      request,
		Status:       StatusCreated,
		Draft:        draft.Clone(),
		Timeout:      m.timeout,
		CreatedAt:    now,
		LastActivity: now,
	}
	s, eff, err := Transition(created, Open{Questions: questions}, now)
	if err != nil {
		return Session{}, Effect{}, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = &slot{s: s}
	m.mu.Unlock()

	m.logger.Debug("clarification session opened",
		zap.String("session_id", s.ID),
		zap.Int("questions", len(s.Questions)),
	)
	return s.clone(), eff, nil
}

// Get returns a snapshot of the session. An open session past its timeout
// is expired first.
func (m *Manager) Get(id string) (Session, error) {
	sl, err := m.slot(id)
	if err != nil {
		return Session{}, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	m.expire(sl)
	return sl.s.clone(), nil
}

// Answer applies a batch of answers. When the batch completes the session
// it is resolved in the same step and the effect carries the resolved
// intent. If ctx is cancelled before the result is committed the session is
// left as it was.
func (m *Manager) Answer(ctx context.Context, id string, answers []Answer) (Session, Effect, error) {
	sl, err := m.slot(id)
	if err != nil {
		return Session{}, Effect{}, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return sl.s.clone(), Effect{Kind: EffectNone}, err
	}
	if m.expire(sl) {
		return sl.s.clone(), Effect{Kind: EffectNone}, ErrSessionExpired
	}

	now := m.now()
	next, eff, err := Transition(sl.s, AnswerBatch{Answers: answers}, now)
	if err != nil {
		return sl.s.clone(), Effect{Kind: EffectNone}, err
	}
	if next.Status == StatusAnswered {
		next, eff, err = Transition(next, Resolve{}, now)
		if err != nil {
			return sl.s.clone(), Effect{Kind: EffectNone}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return sl.s.clone(), Effect{Kind: EffectNone}, err
	}

	sl.s = next
	m.logger.Debug("clarification answers applied",
		zap.String("session_id", id),
		zap.Int("answers", len(answers)),
		zap.String("status", string(next.Status)),
	)
	return next.clone(), eff, nil
}

// List returns snapshots of every session, oldest first.
func (m *Manager) List() []Session {
	m.mu.RLock()
	slots := make([]*slot, 0, len(m.sessions))
	for _, sl := range m.sessions {
		slots = append(slots, sl)
	}
	m.mu.RUnlock()

	out := make([]Session, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		out = append(out, sl.s.clone())
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sweep expires idle sessions and evicts sessions that have been finished
// or expired for longer than the timeout. It returns the number evicted.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, sl := range m.sessions {
		sl.mu.Lock()
		m.expire(sl)
		done := sl.s.Status == StatusExpired || sl.s.Status == StatusResolved
		stale := now.Sub(sl.s.LastActivity) >= 2*m.timeout
		sl.mu.Unlock()
		if done && stale {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Debug("evicted clarification sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Run sweeps sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of sessions held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) slot(id string) (*slot, error) {
	m.mu.RLock()
	sl, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sl, nil
}

// expire applies a Tick to the slot's session. The slot must be locked.
func (m *Manager) expire(sl *slot) bool {
	next, eff, _ := Transition(sl.s, Tick{}, m.now())
	if eff.Kind == EffectExpired {
		m.logger.Info("clarification session expired",
			zap.String("session_id", next.ID),
			zap.Int("unanswered", len(next.Pending())),
		)
	}
	sl.s = next
	return next.Status == StatusExpired
}
