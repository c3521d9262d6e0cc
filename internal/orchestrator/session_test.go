package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/broadcast"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/critique"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/gate"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/journal"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// #region fixtures

const (
	// scores 0.25: no question, too short, not self-aware
	poorResponse = "Sure."
	// scores 1.0 against an empty store
	goodResponse = "I notice you are asking about pacing, and a steady rhythm usually works best for long runs. " +
		"Would you like a weekly plan that builds endurance gradually?"

	poorCritique = "1. Answered quickly.\n- You should ask a clarifying question\n3. Nothing else stands out."
	goodCritique = "The answer was balanced.\n- You should keep doing this"

	learnedRule = "You should ask a clarifying question"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestSession(gen codec.Generator, opts ...Option) *Session {
	cfg := DefaultSessionConfig()
	cfg.GenerateTimeout = time.Second
	return NewSession("test", gen, cfg, append([]Option{WithClock(fixedClock())}, opts...)...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev broadcast.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []broadcast.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast.Event(nil), p.events...)
}

// blockingGen blocks every call until release is closed.
type blockingGen struct {
	release chan struct{}
}

func (g *blockingGen) Model() string { return "blocking" }

func (g *blockingGen) Generate(ctx context.Context, _ []codec.Message) (string, error) {
	select {
	case <-g.release:
		return poorResponse, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// #endregion fixtures

// #region turn-tests

func TestProcessTurn_LowQualityTurnLearnsConstraint(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique)
	s := newTestSession(gen)

	rec, err := s.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)

	assert.Equal(t, poorResponse, rec.Response)
	assert.Equal(t, poorCritique, rec.SelfEvaluation)
	assert.Equal(t, 0.25, rec.QualitySignals.QualityScore)
	assert.False(t, rec.QualitySignals.DeservesReinforcement)
	assert.Equal(t, gate.PathExtract, rec.Decision)
	assert.Equal(t, []constraint.UpdateAction{
		{Action: constraint.ActionAdded, Constraint: learnedRule, Strength: 1.0},
	}, rec.ConstraintUpdates)
	require.Len(t, rec.Constraints, 1)
	assert.Equal(t, "hello there", rec.Constraints[0].Context)
	assert.Equal(t, 1, rec.MessageCount)
	assert.False(t, rec.MirrorLoop)
	assert.Equal(t, s.ID(), rec.SessionID)
	assert.NotEmpty(t, rec.TurnID)

	st := s.Status()
	assert.Equal(t, 1, st.MessageCount)
	assert.Equal(t, 1, st.ConstraintCount)
	assert.Equal(t, rec.QualitySignals, st.LastQuality)
	assert.Equal(t, "scripted", st.Model)
	assert.Equal(t, PhaseIdle.String(), st.Phase)
	assert.Equal(t, []codec.Message{
		{Role: codec.RoleUser, Content: "hello there"},
		{Role: codec.RoleAssistant, Content: poorResponse},
	}, s.History())
}

func TestProcessTurn_HighQualityTurnReinforces(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique, goodResponse, goodCritique)
	s := newTestSession(gen)

	_, err := s.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)
	rec, err := s.ProcessTurn(context.Background(), "how should I pace a marathon?")
	require.NoError(t, err)

	// the stored rule is generic, so adherence is 0.7 and FollowedConstraints is false
	assert.Equal(t, 0.75, rec.QualitySignals.QualityScore)
	assert.True(t, rec.QualitySignals.DeservesReinforcement)
	assert.Equal(t, gate.PathReinforce, rec.Decision)
	require.Len(t, rec.ConstraintUpdates, 1)
	assert.Equal(t, constraint.ActionStrengthened, rec.ConstraintUpdates[0].Action)
	assert.InDelta(t, 1.1, rec.ConstraintUpdates[0].Strength, 1e-9)
	// critique lines are ignored on a reinforced turn
	assert.Len(t, rec.Constraints, 1)

	assert.InDelta(t, 0.55, rec.Personality.Get(traits.Curious), 1e-9)
	assert.InDelta(t, 0.53, rec.Personality.Get(traits.Concise), 1e-9)
	assert.InDelta(t, 0.54, rec.Personality.Get(traits.Analytical), 1e-9)
	assert.InDelta(t, 0.5, rec.Personality.Get(traits.Empathic), 1e-9)
	assert.Equal(t, "curious", rec.DominantTrait)
}

func TestProcessTurn_GeneratorRequests(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique, goodResponse, goodCritique)
	s := newTestSession(gen)

	_, err := s.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)
	_, err = s.ProcessTurn(context.Background(), "second message")
	require.NoError(t, err)

	calls := gen.Calls()
	require.Len(t, calls, 4)

	first := calls[0]
	require.Len(t, first, 2)
	assert.Equal(t, codec.RoleSystem, first[0].Role)
	assert.NotContains(t, first[0].Content, "Learned Behavioral Guidelines")
	assert.Equal(t, codec.Message{Role: codec.RoleUser, Content: "hello there"}, first[1])

	assert.Equal(t, []codec.Message{
		{Role: codec.RoleUser, Content: critique.Prompt("hello there", poorResponse)},
	}, calls[1])

	third := calls[2]
	require.Len(t, third, 4)
	assert.Contains(t, third[0].Content,
		"Learned Behavioral Guidelines:\n1. "+learnedRule+" (strength: 1.00, context: hello there)\n")
	assert.Equal(t, []codec.Message{
		{Role: codec.RoleUser, Content: "hello there"},
		{Role: codec.RoleAssistant, Content: poorResponse},
		{Role: codec.RoleUser, Content: "second message"},
	}, third[1:])
}

func TestProcessTurn_MirrorLoopEveryThirdTurn(t *testing.T) {
	gen := codec.NewScripted()
	for i := 0; i < 9; i++ {
		gen.Push(codec.Reply{Text: poorResponse}, codec.Reply{Text: "ok"})
	}
	s := newTestSession(gen)

	for i := 1; i <= 9; i++ {
		rec, err := s.ProcessTurn(context.Background(), fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		assert.Equal(t, i, rec.MessageCount)
		assert.Equal(t, i%3 == 0, rec.MirrorLoop, "turn %d", i)
	}
}

func TestProcessTurn_FailureLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		replies []codec.Reply
		stage   Stage
	}{
		{"generate", []codec.Reply{{Err: errors.New("connection refused")}}, StageGenerate},
		{"self_evaluate", []codec.Reply{{Text: goodResponse}, {Err: errors.New("connection refused")}}, StageSelfEvaluate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := codec.NewScripted(poorResponse, poorCritique)
			s := newTestSession(gen)
			_, err := s.ProcessTurn(context.Background(), "hello there")
			require.NoError(t, err)

			before := s.Status()
			beforeConstraints := s.Constraints()
			beforeHistory := s.History()

			gen.Push(tt.replies...)
			rec, err := s.ProcessTurn(context.Background(), "this turn fails")
			require.Error(t, err)
			assert.Nil(t, rec)

			var turnErr *TurnError
			require.ErrorAs(t, err, &turnErr)
			assert.Equal(t, tt.stage, turnErr.Stage)
			assert.ErrorIs(t, err, codec.ErrGenerationFailed)

			assert.Equal(t, before, s.Status())
			assert.Equal(t, beforeConstraints, s.Constraints())
			assert.Equal(t, beforeHistory, s.History())
		})
	}
}

func TestProcessTurn_TimeoutIsReported(t *testing.T) {
	gen := codec.NewScripted()
	gen.Push(codec.Reply{Text: goodResponse, Delay: time.Second})
	cfg := DefaultSessionConfig()
	cfg.GenerateTimeout = 20 * time.Millisecond
	s := NewSession("test", gen, cfg)

	_, err := s.ProcessTurn(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrGenerationTimeout)
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, StageGenerate, turnErr.Stage)
	assert.Equal(t, 0, s.MessageCount())
}

func TestProcessTurn_EmptyMessage(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique)
	s := newTestSession(gen)

	_, err := s.ProcessTurn(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, gen.Calls())
}

func TestProcessTurn_CancelledWhileWaitingForTurn(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique)
	s := newTestSession(gen)

	s.turn <- struct{}{} // hold the turn lock
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.ProcessTurn(ctx, "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, gen.Calls())
	s.release()

	_, err = s.ProcessTurn(context.Background(), "hello")
	assert.NoError(t, err)
}

func TestProcessTurn_ConcurrentTurnsSerialize(t *testing.T) {
	const turns = 8
	gen := codec.NewScripted()
	for i := 0; i < turns; i++ {
		gen.Push(codec.Reply{Text: poorResponse, Delay: time.Millisecond}, codec.Reply{Text: poorCritique})
	}
	s := newTestSession(gen)

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ProcessTurn(context.Background(), fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, turns, s.MessageCount())
	history := s.History()
	require.Len(t, history, 2*turns)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, codec.RoleUser, history[i].Role)
		assert.Equal(t, codec.Message{Role: codec.RoleAssistant, Content: poorResponse}, history[i+1])
	}
	// first turn adds the rule, every later turn re-extracts and reinforces it
	require.Len(t, s.Constraints(), 1)
	assert.InDelta(t, 1.0+0.1*(turns-1), s.Constraints()[0].Strength, 1e-9)
}

func TestSnapshotsDoNotWaitForTurn(t *testing.T) {
	gen := &blockingGen{release: make(chan struct{})}
	s := newTestSession(gen)

	done := make(chan error, 1)
	go func() {
		_, err := s.ProcessTurn(context.Background(), "hello")
		done <- err
	}()

	require.Eventually(t, func() bool { return s.Phase() == PhaseGenerating }, time.Second, time.Millisecond)
	st := s.Status()
	assert.Equal(t, "generating", st.Phase)
	assert.Equal(t, 0, st.MessageCount)

	close(gen.release)
	require.NoError(t, <-done)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Equal(t, 1, s.MessageCount())
}

func TestProcessTurn_CancelledDuringGeneration(t *testing.T) {
	gen := &blockingGen{release: make(chan struct{})}
	s := newTestSession(gen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.ProcessTurn(ctx, "hello")
		done <- err
	}()
	require.Eventually(t, func() bool { return s.Phase() == PhaseGenerating }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.MessageCount())
	assert.Empty(t, s.History())
}

// #endregion turn-tests

// #region feedback-tests

func TestFeedback(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique)
	pub := &recordingPublisher{}
	s := newTestSession(gen, WithPublisher(pub))
	_, err := s.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)

	action, err := s.Feedback(context.Background(), "clarifying question", false)
	require.NoError(t, err)
	assert.Equal(t, constraint.ActionWeakened, action.Action)
	assert.Equal(t, learnedRule, action.Constraint)
	assert.InDelta(t, 0.95, action.Strength, 1e-9)

	action, err = s.Feedback(context.Background(), "CLARIFYING QUESTION", true)
	require.NoError(t, err)
	assert.Equal(t, constraint.ActionStrengthened, action.Action)
	assert.InDelta(t, 1.05, action.Strength, 1e-9)

	_, err = s.Feedback(context.Background(), "unrelated rule", true)
	assert.ErrorIs(t, err, constraint.ErrConstraintNotFound)

	c := s.Constraints()[0]
	assert.Equal(t, 1, c.Failures)
	assert.Equal(t, 1, c.Successes)
	// feedback does not count as a turn
	assert.Equal(t, 1, s.MessageCount())

	events := pub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, broadcast.TypeChatUpdate, events[0].Type)
	assert.Equal(t, broadcast.TypeFeedback, events[1].Type)
	assert.Equal(t, broadcast.TypeFeedback, events[2].Type)
}

// #endregion feedback-tests

// #region side-effect-tests

func TestProcessTurn_PublishesChatUpdate(t *testing.T) {
	gen := codec.NewScripted(poorResponse, poorCritique)
	pub := &recordingPublisher{}
	s := newTestSession(gen, WithPublisher(pub))

	rec, err := s.ProcessTurn(context.Background(), "hello")
	require.NoError(t, err)

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.TypeChatUpdate, events[0].Type)
	assert.Same(t, rec, events[0].Data)
}

func TestProcessTurn_Journal(t *testing.T) {
	store, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gen := codec.NewScripted(poorResponse, poorCritique)
	gen.Push(codec.Reply{Err: errors.New("backend down")})
	s := newTestSession(gen, WithJournal(store))

	rec, err := s.ProcessTurn(context.Background(), "hello there")
	require.NoError(t, err)
	_, err = s.ProcessTurn(context.Background(), "second")
	require.Error(t, err)

	entries, err := store.ListSession(context.Background(), s.ID())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	committed := entries[0]
	assert.Equal(t, rec.TurnID, committed.TurnID)
	assert.Equal(t, journal.DecisionExtract, committed.Decision)
	assert.Equal(t, 1, committed.MessageCount)
	assert.Equal(t, "hello there", committed.UserMessage)
	assert.Equal(t, poorResponse, committed.Response)
	assert.Contains(t, committed.UpdatesJSON, `"action":"added"`)
	assert.Contains(t, committed.SignalsJSON, `"quality_score":0.25`)

	aborted := entries[1]
	assert.Equal(t, journal.DecisionAborted, aborted.Decision)
	assert.Equal(t, 1, aborted.MessageCount)
	assert.Contains(t, aborted.Reason, "generate")
	assert.Contains(t, aborted.Reason, "backend down")
}

// #endregion side-effect-tests
