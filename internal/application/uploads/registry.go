package uploads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

type entry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Registry holds the live upload sessions, one per client view.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[domain.SessionID]*entry
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps.withDefaults(),
		sessions: make(map[domain.SessionID]*entry),
	}
}

// Create opens a new idle session for owner.
func (r *Registry) Create(owner string) *Controller {
	id := domain.SessionID(uuid.New().String())
	ctrl := NewController(id, owner, r.deps)

	r.mu.Lock()
	r.sessions[id] = &entry{ctrl: ctrl, lastSeen: r.deps.Clock.Now()}
	r.mu.Unlock()

	r.deps.Logger.Debug("session created", zap.String("session", string(id)), zap.String("owner", owner))
	return ctrl
}

// Get returns owner's session; sessions of other owners are reported as not found.
func (r *Registry) Get(owner string, id domain.SessionID) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.ctrl.Owner() != owner {
		return nil, domain.ErrSessionNotFound
	}
	e.lastSeen = r.deps.Clock.Now()
	return e.ctrl, nil
}

// Delete closes the session, releasing its preview.
func (r *Registry) Delete(ctx context.Context, owner string, id domain.SessionID) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.ctrl.Owner() != owner {
		r.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	e.ctrl.Close(ctx)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// InFlight counts sessions with a prediction request outstanding.
func (r *Registry) InFlight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.ctrl.Busy() {
			n++
		}
	}
	return n
}

// Sweep evicts sessions untouched for longer than maxIdle. Sessions with a
// request in flight are kept.
func (r *Registry) Sweep(ctx context.Context, maxIdle time.Duration) int {
	now := r.deps.Clock.Now()

	r.mu.Lock()
	var stale []*Controller
	for id, e := range r.sessions {
		last := e.lastSeen
		if a := e.ctrl.LastActivity(); a.After(last) {
			last = a
		}
		if now.Sub(last) <= maxIdle || e.ctrl.Busy() {
			continue
		}
		delete(r.sessions, id)
		stale = append(stale, e.ctrl)
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.Close(ctx)
	}
	if len(stale) > 0 {
		r.deps.Logger.Info("idle sessions evicted", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx, maxIdle)
		}
	}
}

// CloseAll evicts every session, used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Controller, 0, len(r.sessions))
	for id, e := range r.sessions {
		all = append(all, e.ctrl)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, c := range all {
		c.Close(ctx)
	}
}
