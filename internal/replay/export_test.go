package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/butterfly/go-controller/internal/journal"
	"github.com/danielpatrickdp/butterfly/go-controller/internal/orchestrator"
)

func TestFromJournal_ReplaysCleanly(t *testing.T) {
	store, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	src, err := LoadFixture(filepath.Join("testdata", "basic_session.json"))
	require.NoError(t, err)
	_, session := Replay(context.Background(), src, orchestrator.WithJournal(store))

	entries, err := store.ListSession(context.Background(), session.ID())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	exported, err := FromJournal(entries, 3)
	require.NoError(t, err)
	require.Len(t, exported.Turns, 3)
	assert.Contains(t, exported.Description, session.ID())

	first := exported.Turns[0]
	assert.Equal(t, "hello there", first.Message)
	assert.Equal(t, "Sure.", first.Response)
	assert.Equal(t, src.Turns[0].SelfEvaluation, first.SelfEvaluation)
	assert.Equal(t, "extract", first.Expect.Decision)
	assert.Equal(t, []string{"added"}, first.Expect.Actions)
	assert.True(t, *exported.Turns[2].Expect.MirrorLoop)

	results, replayed := Replay(context.Background(), exported)
	for _, r := range results {
		assert.True(t, r.OK(), "turn %d: %v %v", r.Turn, r.Err, r.Mismatches)
	}
	assert.Equal(t, session.Constraints()[1].Rule, replayed.Constraints()[1].Rule)
}

func TestFromJournal_SkipsAbortedAndFeedback(t *testing.T) {
	entries := []journal.Entry{
		{TurnID: "a", SessionID: "s1", MessageCount: 0, Decision: journal.DecisionAborted, UserMessage: "lost"},
		{TurnID: "b", SessionID: "s1", MessageCount: 1, Decision: journal.DecisionNoOp, UserMessage: "hi",
			Response: "Sure.", SelfEvaluation: "ok", QualityScore: 0.25, UpdatesJSON: "[]"},
		{SessionID: "s1", MessageCount: 1, Decision: journal.DecisionFeedback,
			UpdatesJSON: `[{"action":"weakened","constraint":"x","strength":0.95}]`},
	}

	f, err := FromJournal(entries, 0)
	require.NoError(t, err)
	require.Len(t, f.Turns, 1)
	assert.Equal(t, "hi", f.Turns[0].Message)
	assert.Equal(t, []string{}, f.Turns[0].Expect.Actions)
	assert.Equal(t, 3, f.Config.MirrorLoopInterval)
}

func TestFromJournal_BadUpdates(t *testing.T) {
	_, err := FromJournal([]journal.Entry{{TurnID: "t1", Decision: journal.DecisionExtract, UserMessage: "x", UpdatesJSON: "{"}}, 3)
	assert.ErrorContains(t, err, "turn t1: decode updates")
}
