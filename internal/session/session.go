// Package session owns the per-user interaction state. Each signed-in user
// gets one store, engine and gateway; all of it is dropped on logout or
// after the session sits idle.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dunamismax/jobsync/internal/domain"
	"github.com/dunamismax/jobsync/internal/gateway"
	"github.com/dunamismax/jobsync/internal/interaction"
	"github.com/dunamismax/jobsync/internal/projection"
	"github.com/dunamismax/jobsync/internal/syncer"
)

type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Store     *interaction.Store
	Engine    *syncer.Engine
	Gateway   gateway.RemoteJobGateway

	token    atomic.Value
	lastSeen atomic.Int64

	mu     sync.Mutex
	views  map[*projection.LiveView]struct{}
	closed bool
}

// Token is the marketplace bearer token most recently presented by the user.
func (s *Session) Token() string {
	v, _ := s.token.Load().(string)
	return v
}

func (s *Session) setToken(token string) {
	s.token.Store(token)
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load()).UTC()
}

// OpenView starts a live view bound to the session. Teardown closes every
// view that is still open.
func (s *Session) OpenView(jobs []domain.JobRef, filters projection.Filters, onChange func(*projection.Projection)) *projection.LiveView {
	view := projection.NewLiveView(s.Store, jobs, filters, onChange)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		view.Close()
		return view
	}
	s.views[view] = struct{}{}
	return view
}

// CloseView closes view and forgets it.
func (s *Session) CloseView(view *projection.LiveView) {
	s.mu.Lock()
	delete(s.views, view)
	s.mu.Unlock()
	view.Close()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	views := make([]*projection.LiveView, 0, len(s.views))
	for v := range s.views {
		views = append(views, v)
	}
	s.views = nil
	s.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}
