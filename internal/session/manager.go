package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/jobsync/internal/gateway"
	"github.com/dunamismax/jobsync/internal/id"
	"github.com/dunamismax/jobsync/internal/interaction"
	"github.com/dunamismax/jobsync/internal/projection"
	"github.com/dunamismax/jobsync/internal/store"
	"github.com/dunamismax/jobsync/internal/syncer"
)

var ErrNoUser = errors.New("user id is required")

// GatewayFactory builds the gateway for one session. token always returns the
// session's current bearer token.
type GatewayFactory func(token gateway.TokenSource) (gateway.RemoteJobGateway, error)

// Scheduler arranges for ExpireIfIdle to be called for a session after
// delay.
type Scheduler interface {
	ScheduleExpiry(ctx context.Context, sessionID, userID string, delay time.Duration) error
}

type Config struct {
	IdleTimeout         time.Duration
	MaxConcurrentChecks int
	Journal             store.Journal
	Metrics             *syncer.Metrics
	Logger              *log.Logger
	Now                 func() time.Time
}

type ExpiryResult string

const (
	ExpiryExpired ExpiryResult = "expired"
	ExpiryActive  ExpiryResult = "active"
	ExpiryGone    ExpiryResult = "gone"
)

type Manager struct {
	cfg        Config
	newGateway GatewayFactory
	scheduler  Scheduler
	logger     *log.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, newGateway GatewayFactory, scheduler Scheduler) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.Journal == nil {
		cfg.Journal = store.NewMemoryJournal()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Manager{
		cfg:        cfg,
		newGateway: newGateway,
		scheduler:  scheduler,
		logger:     logger,
		now:        now,
		sessions:   make(map[string]*Session),
	}
}

// Acquire returns the user's session, creating it on first use. The token
// replaces whatever the session held, and the session counts as active.
func (m *Manager) Acquire(ctx context.Context, userID, token string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrNoUser
	}
	now := m.now()

	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		s.setToken(token)
		s.touch(now)
		m.mu.Unlock()
		return s, nil
	}

	s := &Session{
		ID:        id.New(),
		UserID:    userID,
		CreatedAt: now,
		Store:     interaction.NewStore(),
		views:     make(map[*projection.LiveView]struct{}),
	}
	s.setToken(token)
	s.touch(now)

	gw, err := m.newGateway(s.Token)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	s.Gateway = gw
	s.Engine = syncer.New(s.Store, gw, syncer.Config{
		UserID:              userID,
		MaxConcurrentChecks: m.cfg.MaxConcurrentChecks,
		Journal:             m.cfg.Journal,
		Metrics:             m.cfg.Metrics,
		Logger:              m.logger,
	})
	m.sessions[userID] = s
	m.mu.Unlock()

	m.logger.Printf("session started user_id=%s session_id=%s", userID, s.ID)
	m.schedule(ctx, s, m.cfg.IdleTimeout)
	return s, nil
}

func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Logout tears down the user's session. It reports whether one existed.
func (m *Manager) Logout(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.teardown()
	m.logger.Printf("session ended user_id=%s session_id=%s reason=logout", userID, s.ID)
	return true
}

// ExpireIfIdle tears the session down when it has been idle for the
// configured timeout. An active session reports how long until it could
// expire. Sessions that were replaced or logged out report ExpiryGone.
func (m *Manager) ExpireIfIdle(sessionID, userID string) (ExpiryResult, time.Duration) {
	now := m.now()

	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok || s.ID != sessionID {
		m.mu.Unlock()
		return ExpiryGone, 0
	}
	idle := now.Sub(s.LastSeen())
	if idle < m.cfg.IdleTimeout {
		m.mu.Unlock()
		return ExpiryActive, m.cfg.IdleTimeout - idle
	}
	delete(m.sessions, userID)
	m.mu.Unlock()

	s.teardown()
	m.logger.Printf("session ended user_id=%s session_id=%s reason=idle idle=%s", userID, s.ID, idle.Round(time.Second))
	return ExpiryExpired, 0
}

// Sweep expires every idle session and returns how many it removed. It is
// the fallback when no Scheduler is configured.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	expired := 0
	for _, s := range candidates {
		if result, _ := m.ExpireIfIdle(s.ID, s.UserID); result == ExpiryExpired {
			expired++
		}
	}
	return expired
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Printf("swept idle sessions count=%d", n)
			}
		}
	}
}

// Reschedule queues another expiry check for a session that was still
// active.
func (m *Manager) Reschedule(ctx context.Context, sessionID, userID string, delay time.Duration) {
	s, ok := m.Get(userID)
	if !ok || s.ID != sessionID {
		return
	}
	m.schedule(ctx, s, delay)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.teardown()
	}
}

func (m *Manager) schedule(ctx context.Context, s *Session, delay time.Duration) {
	if m.scheduler == nil {
		return
	}
	if err := m.scheduler.ScheduleExpiry(context.WithoutCancel(ctx), s.ID, s.UserID, delay); err != nil {
		m.logger.Printf("schedule expiry failed user_id=%s session_id=%s err=%v", s.UserID, s.ID, err)
	}
}
