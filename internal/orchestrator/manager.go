package orchestrator

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/broadcast"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/logging"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// DefaultSessionName is used when a caller names no session.
const DefaultSessionName = "default"

// Manager owns the named sessions of one process. Sessions share the generator and nothing else.
type Manager struct {
	gen  codec.Generator
	cfg  SessionConfig
	opts []Option

	publisher broadcast.Publisher
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. opts apply to every session it creates; WithPublisher
// and WithLogger are also used for the manager's own events.
func NewManager(gen codec.Generator, cfg SessionConfig, opts ...Option) *Manager {
	probe := &Session{publisher: broadcast.Nop{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(probe)
	}
	return &Manager{
		gen:       gen,
		cfg:       cfg,
		opts:      opts,
		publisher: probe.publisher,
		logger:    logging.OrNop(probe.logger).Named("sessions"),
		sessions:  make(map[string]*Session),
	}
}

func normalizeName(name string) string {
	if name == "" {
		return DefaultSessionName
	}
	return name
}

// Get returns the session registered under name, creating it on first use.
func (m *Manager) Get(name string) *Session {
	name = normalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[name]; ok {
		return s
	}
	s := NewSession(name, m.gen, m.cfg, m.opts...)
	m.sessions[name] = s
	m.logger.Info("session created", zap.String("name", name), zap.String("session_id", s.ID()))
	return s
}

// Lookup returns the session registered under name without creating one.
func (m *Manager) Lookup(name string) (*Session, bool) {
	name = normalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Status returns the named session's status, or the status a fresh session would report
// when none is registered. It never creates a session.
func (m *Manager) Status(name string) Status {
	if s, ok := m.Lookup(name); ok {
		return s.Status()
	}
	v := traits.NewVector()
	return Status{
		Model:         m.gen.Model(),
		Personality:   v,
		DominantTrait: v.Dominant().String(),
		Phase:         PhaseIdle.String(),
	}
}

// Constraints returns the named session's constraints, empty when none is registered.
func (m *Manager) Constraints(name string) []constraint.Constraint {
	if s, ok := m.Lookup(name); ok {
		return s.Constraints()
	}
	return []constraint.Constraint{}
}

// Traits returns the named session's trait vector, the default vector when none is registered.
func (m *Manager) Traits(name string) traits.Vector {
	if s, ok := m.Lookup(name); ok {
		return s.Traits()
	}
	return traits.NewVector()
}

// Reset replaces the named session with a fresh one. A turn in flight on the old session
// completes against it but is neither broadcast nor visible through the manager afterwards.
func (m *Manager) Reset(ctx context.Context, name string) *Session {
	name = normalizeName(name)
	s := NewSession(name, m.gen, m.cfg, m.opts...)

	m.mu.Lock()
	old := m.sessions[name]
	m.sessions[name] = s
	m.mu.Unlock()
	if old != nil {
		old.retire()
	}

	fields := []zap.Field{zap.String("name", name), zap.String("session_id", s.ID())}
	if old != nil {
		fields = append(fields, zap.String("previous_session_id", old.ID()))
	}
	m.logger.Info("session reset", fields...)

	if err := m.publisher.Publish(context.WithoutCancel(ctx), broadcast.Event{
		Type: broadcast.TypeSessionReset,
		Data: map[string]string{"name": name, "session_id": s.ID()},
	}); err != nil {
		m.logger.Warn("broadcast failed", zap.String("type", broadcast.TypeSessionReset), zap.Error(err))
	}
	return s
}

// Names lists registered session names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Model reports the generator's model name.
func (m *Manager) Model() string { return m.gen.Model() }
