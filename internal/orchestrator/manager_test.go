package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/broadcast"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/metrics"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

func TestManager_GetCreatesOnce(t *testing.T) {
	m := NewManager(codec.NewScripted(), DefaultSessionConfig())

	def := m.Get("")
	assert.Equal(t, DefaultSessionName, def.Name())
	assert.Same(t, def, m.Get(DefaultSessionName))

	other := m.Get("work")
	assert.NotEqual(t, def.ID(), other.ID())
	assert.Equal(t, []string{"default", "work"}, m.Names())
	assert.Equal(t, "scripted", m.Model())
}

func TestManager_Reset(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique)
	pub := &recordingPublisher{}
	m := NewManager(gen, DefaultSessionConfig(), WithPublisher(pub))

	old := m.Get("")
	_, err := old.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)
	require.Equal(t, 1, old.MessageCount())

	fresh := m.Reset(context.Background(), "")
	assert.NotEqual(t, old.ID(), fresh.ID())
	assert.Same(t, fresh, m.Get(""))

	st := fresh.Status()
	assert.Equal(t, 0, st.MessageCount)
	assert.Equal(t, 0, st.ConstraintCount)
	assert.Equal(t, "analytical", st.DominantTrait)
	assert.Empty(t, fresh.History())

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, broadcast.TypeChatUpdate, events[0].Type)
	assert.Equal(t, broadcast.TypeSessionReset, events[1].Type)
	assert.Equal(t, map[string]string{"name": "default", "session_id": fresh.ID()}, events[1].Data)
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique)
	m := NewManager(gen, DefaultSessionConfig())

	_, err := m.Get("a").ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)

	assert.Equal(t, 1, m.Get("a").MessageCount())
	assert.Equal(t, 0, m.Get("b").MessageCount())
	assert.Empty(t, m.Get("b").Constraints())
}

func TestManager_LookupsDoNotCreate(t *testing.T) {
	m := NewManager(codec.NewScripted(), DefaultSessionConfig())

	_, ok := m.Lookup("ghost")
	assert.False(t, ok)

	st := m.Status("ghost")
	assert.Empty(t, st.SessionID)
	assert.Equal(t, "scripted", st.Model)
	assert.Equal(t, 0, st.MessageCount)
	assert.Equal(t, "idle", st.Phase)
	assert.Equal(t, traits.NewVector(), st.Personality)
	assert.Equal(t, "analytical", st.DominantTrait)
	assert.NotNil(t, m.Constraints("ghost"))
	assert.Empty(t, m.Constraints("ghost"))
	assert.Equal(t, traits.NewVector(), m.Traits("ghost"))
	assert.Empty(t, m.Names())

	s := m.Get("ghost")
	got, ok := m.Lookup("ghost")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, s.ID(), m.Status("ghost").SessionID)
}

func TestManager_ResetSilencesInFlightTurn(t *testing.T) {
	gen := &blockingGen{release: make(chan struct{})}
	pub := &recordingPublisher{}
	m := NewManager(gen, DefaultSessionConfig(), WithPublisher(pub))
	old := m.Get("")

	done := make(chan error, 1)
	go func() {
		_, err := old.ProcessTurn(context.Background(), "hello there")
		done <- err
	}()
	require.Eventually(t, func() bool { return old.Phase() == PhaseGenerating }, time.Second, time.Millisecond)

	fresh := m.Reset(context.Background(), "")
	assert.True(t, old.Retired())
	assert.False(t, fresh.Retired())

	close(gen.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, old.MessageCount())
	assert.Equal(t, 0, m.Get("").MessageCount())

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.TypeSessionReset, events[0].Type)
}

func TestManager_ConstraintGaugeTracksLiveSessions(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique,
		poorResponse, "- Avoid one-word answers and ensure you elaborate")
	m := NewManager(gen, DefaultSessionConfig())
	base := testutil.ToFloat64(metrics.Constraints)

	old := m.Get("")
	_, err := old.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, base+1, testutil.ToFloat64(metrics.Constraints))

	m.Reset(context.Background(), "")
	assert.Equal(t, base, testutil.ToFloat64(metrics.Constraints))

	// a retired session no longer moves the gauge
	_, err = old.ProcessTurn(context.Background(), "something else entirely")
	require.NoError(t, err)
	require.Len(t, old.Constraints(), 2)
	assert.Equal(t, base, testutil.ToFloat64(metrics.Constraints))
}
