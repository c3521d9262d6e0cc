package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/broadcast"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/codec"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/constraint"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/critique"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/eval"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/gate"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/journal"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/logging"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/metrics"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/signals"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/traits"
)

// #endregion

const tracerName = "butterfly/orchestrator"

// #region options

// Option configures a Session.
type Option func(*Session)

// WithJournal records every turn to r.
func WithJournal(r Recorder) Option {
	return func(s *Session) { s.journal = r }
}

// WithPublisher broadcasts committed turns and feedback to p.
func WithPublisher(p broadcast.Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = logging.OrNop(l) }
}

// WithClock overrides the wall clock used for constraint timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// #endregion

// #region session

// Session is one conversation: its constraint store, trait vector, history and counter.
// Turns are serialized by a one-slot semaphore; snapshot reads take mu only.
type Session struct {
	id   string
	name string
	cfg  SessionConfig

	gen       codec.Generator
	evaluator *signals.Evaluator
	extractor *critique.Extractor
	gate      *gate.Gate
	harness   *eval.EvalHarness
	journal   Recorder
	publisher broadcast.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	turn chan struct{}

	mu          sync.RWMutex
	store       *constraint.Store
	traits      traits.Vector
	history     []codec.Message
	count       int
	lastQuality signals.QualitySignals
	phase       Phase
	retired     bool // replaced by a reset; no longer counted or broadcast
}

// NewSession creates an idle session with an empty store and default traits.
func NewSession(name string, gen codec.Generator, cfg SessionConfig, opts ...Option) *Session {
	if cfg.MirrorLoopInterval <= 0 {
		cfg.MirrorLoopInterval = DefaultSessionConfig().MirrorLoopInterval
	}
	s := &Session{
		id:        uuid.NewString(),
		name:      name,
		cfg:       cfg,
		gen:       gen,
		evaluator: signals.NewEvaluator(cfg.SignalVocabulary),
		extractor: critique.NewExtractor(cfg.CritiqueVocabulary),
		gate:      gate.NewGate(),
		publisher: broadcast.Nop{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		turn:      make(chan struct{}, 1),
		traits:    traits.NewVector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	evalCfg := eval.DefaultEvalConfig()
	evalCfg.MirrorInterval = cfg.MirrorLoopInterval
	s.harness = eval.NewEvalHarness(evalCfg)
	s.store = constraint.NewStoreWithClock(s.now)
	s.logger = s.logger.Named("orch").With(zap.String("session", name), zap.String("session_id", s.id))
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Name returns the name the session is registered under.
func (s *Session) Name() string { return s.name }

// #endregion

// #region turn-lock

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() { <-s.turn }

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.logger.Debug("phase", zap.Stringer("phase", p))
}

// #endregion

// #region process-turn

// ProcessTurn runs one full turn for userMessage. On any error before commit the session is
// left exactly as it was.
func (s *Session) ProcessTurn(ctx context.Context, userMessage string) (*TurnRecord, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.acquire(ctx); err != nil {
		return nil, fmt.Errorf("wait for turn: %w", err)
	}
	defer s.release()

	ctx, span := s.tracer.Start(ctx, "Session.ProcessTurn",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	start := time.Now()
	turnID := journal.NewTurnID()
	defer s.setPhase(PhaseIdle)

	s.mu.RLock()
	messages := make([]codec.Message, 0, len(s.history)+2)
	messages = append(messages, codec.Message{
		Role:    codec.RoleSystem,
		Content: BuildSystemPrompt(s.traits, s.store.Recent(s.cfg.PromptConstraintLimit)),
	})
	messages = append(messages, s.history...)
	s.mu.RUnlock()
	messages = append(messages, codec.Message{Role: codec.RoleUser, Content: userMessage})

	// Step 1: generate
	s.setPhase(PhaseGenerating)
	response, err := s.generate(ctx, StageGenerate, messages)
	if err != nil {
		return nil, s.abort(ctx, span, start, turnID, userMessage, &TurnError{Stage: StageGenerate, Err: err})
	}

	// Step 2: self-critique
	s.setPhase(PhaseSelfEvaluating)
	critiqueText, err := s.generate(ctx, StageSelfEvaluate, []codec.Message{
		{Role: codec.RoleUser, Content: critique.Prompt(userMessage, response)},
	})
	if err != nil {
		return nil, s.abort(ctx, span, start, turnID, userMessage, &TurnError{Stage: StageSelfEvaluate, Err: err})
	}

	if err := ctx.Err(); err != nil {
		return nil, s.abort(ctx, span, start, turnID, userMessage, fmt.Errorf("turn cancelled: %w", err))
	}

	rec, decision := s.commit(turnID, userMessage, response, critiqueText)
	span.SetAttributes(
		attribute.String("turn.decision", string(decision.Path)),
		attribute.Float64("turn.quality_score", rec.QualitySignals.QualityScore),
		attribute.Int("turn.message_count", rec.MessageCount),
	)

	s.afterCommit(ctx, rec, decision, userMessage, time.Since(start))
	return rec, nil
}

// generate performs one generator call under the configured per-call timeout.
func (s *Session) generate(ctx context.Context, stage Stage, messages []codec.Message) (string, error) {
	ctx, span := s.tracer.Start(ctx, "Generator.Generate",
		trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	if s.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.gen.Generate(ctx, messages)
	metrics.ObserveGeneration(string(stage), time.Since(start))
	if err != nil {
		err = codec.Normalize(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", err
	}
	return text, nil
}

// commit applies steps 3 through 8 atomically with respect to snapshot readers.
func (s *Session) commit(turnID, userMessage, response, critiqueText string) (*TurnRecord, gate.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.store.Len()
	s.phase = PhaseScoring
	s.logger.Debug("phase", zap.Stringer("phase", s.phase))
	qs := s.evaluator.Evaluate(userMessage, response, s.store.Snapshot())
	candidates := s.extractor.Extract(critiqueText, qs)
	decision := s.gate.Decide(qs, candidates, s.store.Len())
	s.logger.Debug("scored",
		zap.Float64("quality_score", qs.QualityScore),
		zap.Float64("adherence", qs.Adherence),
		zap.Int("candidates", len(candidates)),
		zap.String("decision", string(decision.Path)))

	s.phase = PhaseUpdating
	s.logger.Debug("phase", zap.Stringer("phase", s.phase))
	updates := s.store.Update(candidates, decision.Reinforce(), userMessage)
	s.traits.Evolve(traits.Signals{
		AskedQuestions:     qs.AskedQuestions,
		AppropriateLength:  qs.AppropriateLength,
		ShowsSelfAwareness: qs.ShowsSelfAwareness,
	}, response, s.cfg.TraitVocabulary)
	s.trackConstraints(before)

	s.history = append(s.history,
		codec.Message{Role: codec.RoleUser, Content: userMessage},
		codec.Message{Role: codec.RoleAssistant, Content: response},
	)
	s.count++
	s.lastQuality = qs

	if updates == nil {
		updates = []constraint.UpdateAction{}
	}
	rec := &TurnRecord{
		TurnID:            turnID,
		SessionID:         s.id,
		Response:          response,
		SelfEvaluation:    critiqueText,
		QualitySignals:    qs,
		Constraints:       s.store.Snapshot(),
		Personality:       s.traits,
		DominantTrait:     s.traits.Dominant().String(),
		MirrorLoop:        s.count%s.cfg.MirrorLoopInterval == 0,
		MessageCount:      s.count,
		ConstraintUpdates: updates,
		Decision:          decision.Path,
	}
	return rec, decision
}

// afterCommit validates, measures, journals and broadcasts a committed turn. None of it can fail the turn.
func (s *Session) afterCommit(ctx context.Context, rec *TurnRecord, decision gate.Decision, userMessage string, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)

	result := s.harness.Run(eval.Snapshot{
		Constraints:  rec.Constraints,
		Traits:       rec.Personality,
		MessageCount: rec.MessageCount,
		MirrorLoop:   rec.MirrorLoop,
	})
	if !result.Passed {
		s.logger.Warn("post-turn invariants failed",
			zap.String("turn_id", rec.TurnID),
			zap.Strings("metrics", result.Failed()),
			zap.String("reason", result.Reason))
	}

	metrics.ObserveTurn(string(decision.Path), elapsed)
	metrics.QualityScore.Observe(rec.QualitySignals.QualityScore)
	for _, u := range rec.ConstraintUpdates {
		metrics.ConstraintUpdatesTotal.WithLabelValues(string(u.Action)).Inc()
	}

	s.logger.Info("turn committed",
		zap.String("turn_id", rec.TurnID),
		zap.Int("message_count", rec.MessageCount),
		zap.String("decision", string(decision.Path)),
		zap.String("reason", decision.Reason),
		zap.Float64("quality_score", rec.QualitySignals.QualityScore),
		zap.Int("updates", len(rec.ConstraintUpdates)),
		zap.Bool("mirror_loop", rec.MirrorLoop),
		zap.Duration("elapsed", elapsed))

	s.record(ctx, journal.Entry{
		TurnID:                rec.TurnID,
		SessionID:             s.id,
		MessageCount:          rec.MessageCount,
		Decision:              journal.Decision(decision.Path),
		Reason:                decision.Reason,
		QualityScore:          rec.QualitySignals.QualityScore,
		DeservesReinforcement: rec.QualitySignals.DeservesReinforcement,
		UserMessage:           userMessage,
		Response:              rec.Response,
		SelfEvaluation:        rec.SelfEvaluation,
		SignalsJSON:           mustJSON(rec.QualitySignals),
		UpdatesJSON:           mustJSON(rec.ConstraintUpdates),
	})
	if s.Retired() {
		s.logger.Debug("session was reset, turn not broadcast", zap.String("turn_id", rec.TurnID))
		return
	}
	s.publish(ctx, broadcast.Event{Type: broadcast.TypeChatUpdate, Data: rec})
}

// abort journals and measures a turn that ended before commit, and returns err unchanged.
func (s *Session) abort(ctx context.Context, span trace.Span, start time.Time, turnID, userMessage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "turn aborted")

	outcome := "generation_failed"
	switch {
	case errors.Is(err, codec.ErrGenerationTimeout):
		outcome = "timeout"
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	}
	metrics.ObserveTurn(outcome, time.Since(start))

	s.mu.RLock()
	count := s.count
	s.mu.RUnlock()

	s.logger.Warn("turn aborted", zap.String("turn_id", turnID), zap.String("outcome", outcome), zap.Error(err))
	s.record(context.WithoutCancel(ctx), journal.Entry{
		TurnID:       turnID,
		SessionID:    s.id,
		MessageCount: count,
		Decision:     journal.DecisionAborted,
		Reason:       err.Error(),
		UserMessage:  userMessage,
	})
	return err
}

// #endregion

// #region feedback

// Feedback strengthens (helpful) or weakens the stored constraint most similar to rule, then prunes.
// It is serialized with turns.
func (s *Session) Feedback(ctx context.Context, rule string, helpful bool) (constraint.UpdateAction, error) {
	if err := s.acquire(ctx); err != nil {
		return constraint.UpdateAction{}, fmt.Errorf("wait for turn: %w", err)
	}
	defer s.release()

	s.mu.Lock()
	before := s.store.Len()
	action, err := s.store.Feedback(rule, helpful)
	s.trackConstraints(before)
	count := s.count
	retired := s.retired
	s.mu.Unlock()
	if err != nil {
		return constraint.UpdateAction{}, fmt.Errorf("feedback %q: %w", rule, err)
	}

	metrics.ConstraintUpdatesTotal.WithLabelValues(string(action.Action)).Inc()
	s.logger.Info("constraint feedback",
		zap.String("rule", action.Constraint),
		zap.Bool("helpful", helpful),
		zap.Float64("strength", action.Strength))

	ctx = context.WithoutCancel(ctx)
	s.record(ctx, journal.Entry{
		SessionID:    s.id,
		MessageCount: count,
		Decision:     journal.DecisionFeedback,
		Reason:       fmt.Sprintf("helpful=%t", helpful),
		UpdatesJSON:  mustJSON([]constraint.UpdateAction{action}),
	})
	if !retired {
		s.publish(ctx, broadcast.Event{Type: broadcast.TypeFeedback, Data: map[string]any{
			"session_id": s.id,
			"update":     action,
		}})
	}
	return action, nil
}

// #endregion

// #region retirement

// trackConstraints moves the live constraint gauge by the store's change since before.
// Callers hold mu.
func (s *Session) trackConstraints(before int) {
	if s.retired {
		return
	}
	metrics.Constraints.Add(float64(s.store.Len() - before))
}

// retire withdraws the session from the constraint gauge and from broadcasts. A turn
// still in flight commits into the retired session silently.
func (s *Session) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return
	}
	s.retired = true
	metrics.Constraints.Sub(float64(s.store.Len()))
}

// Retired reports whether a reset has replaced the session.
func (s *Session) Retired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retired
}

// #endregion

// #region snapshots

// Status returns a snapshot of the session. It does not wait for an in-flight turn.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		SessionID:       s.id,
		Model:           s.gen.Model(),
		MessageCount:    s.count,
		ConstraintCount: s.store.Len(),
		Personality:     s.traits,
		DominantTrait:   s.traits.Dominant().String(),
		LastQuality:     s.lastQuality,
		Phase:           s.phase.String(),
	}
}

// Constraints returns a copy of the stored constraints.
func (s *Session) Constraints() []constraint.Constraint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Snapshot()
}

// Traits returns the current trait vector.
func (s *Session) Traits() traits.Vector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traits
}

// Phase returns the current turn phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// MessageCount returns the number of committed turns.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// History returns a copy of the committed conversation.
func (s *Session) History() []codec.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]codec.Message, len(s.history))
	copy(out, s.history)
	return out
}

// #endregion

// #region side-effects

func (s *Session) record(ctx context.Context, entry journal.Entry) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Warn("journal write failed", zap.String("turn_id", entry.TurnID), zap.Error(err))
	}
}

func (s *Session) publish(ctx context.Context, ev broadcast.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("broadcast failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// #endregion
