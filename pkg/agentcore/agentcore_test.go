package agentcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldocs/soldocs/pkg/docgen"
	"github.com/soldocs/soldocs/pkg/model"
	"github.com/soldocs/soldocs/pkg/store"
)

const testProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

type stubGenerator struct {
	doc      *model.Documentation
	err      error
	warnings []string
}

func (s *stubGenerator) Generate(_ context.Context, idl map[string]any, programID, idlHash string) (*model.Documentation, []string, []docgen.PassStatus, error) {
	if s.err != nil {
		return nil, nil, []docgen.PassStatus{{Name: "overview", Err: s.err}}, s.err
	}
	passes := []docgen.PassStatus{
		{Name: "overview"}, {Name: "instructions"}, {Name: "accounts"}, {Name: "security"},
	}
	if s.doc != nil {
		return s.doc, s.warnings, passes, nil
	}
	return &model.Documentation{
		ProgramID:    programID,
		Name:         "Demo",
		FullMarkdown: "# Demo\n---\ngenerated",
		IDLHash:      idlHash,
		GeneratedAt:  time.Now().UTC(),
	}, nil, passes, nil
}

func newTestAgent(t *testing.T, gen Generator) (*Agent, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	a := New(Config{
		Store: s,
		GetAccount: func(_ context.Context, _ string) (*Account, error) {
			return &Account{Executable: true}, nil
		},
		FetchIDL: func(_ context.Context, _ string) (map[string]any, error) {
			return map[string]any{"name": "demo", "instructions": []any{map[string]any{"name": "init"}}}, nil
		},
		Generator:         gen,
		DiscoveryInterval: time.Minute,
		Concurrency:       1,
	})
	return a, s
}

func TestProcessProgramDocumentsAndRemovesQueueItem(t *testing.T) {
	a, s := newTestAgent(t, &stubGenerator{})
	_, _, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)

	err = a.processProgram(context.Background(), testProgramID)
	require.NoError(t, err)

	queue, err := s.ListQueue()
	require.NoError(t, err)
	assert.Empty(t, queue)

	program, ok, err := s.GetProgram(testProgramID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusDocumented, program.Status)
}

func TestStateFoldsCountersFromStoreAcrossRestart(t *testing.T) {
	a, s := newTestAgent(t, &stubGenerator{})
	_, _, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)
	require.NoError(t, a.processProgram(context.Background(), testProgramID))

	// A fresh Agent over the same store has no in-memory history, but
	// State() must still report the persisted outcome.
	restarted := New(Config{
		Store:             s,
		GetAccount:        func(_ context.Context, _ string) (*Account, error) { return &Account{Executable: true}, nil },
		FetchIDL:          func(_ context.Context, _ string) (map[string]any, error) { return nil, nil },
		Generator:         &stubGenerator{},
		DiscoveryInterval: time.Minute,
		Concurrency:       1,
	})

	state, err := restarted.State()
	require.NoError(t, err)
	assert.Equal(t, 1, state.ProgramsDocumented)
	assert.Equal(t, 0, state.ProgramsFailed)
	assert.Equal(t, 1, state.TotalProcessed)
}

func TestProcessProgramSafeRecordsFailureWithoutPanicking(t *testing.T) {
	a, s := newTestAgent(t, &stubGenerator{err: errors.New("llm exploded")})
	_, _, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)

	a.processProgramSafe(context.Background(), testProgramID)

	queue, err := s.ListQueue()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, model.QueueFailed, queue[0].Status)
	assert.Equal(t, 1, queue[0].Attempts)

	program, ok, err := s.GetProgram(testProgramID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, program.Status)

	state, err := a.State()
	require.NoError(t, err)
	assert.Len(t, state.Errors, 1)
}

func TestProcessProgramPermanentlyFailsAtMaxAttempts(t *testing.T) {
	a, s := newTestAgent(t, &stubGenerator{})
	_, _, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateQueueItem(testProgramID, func(q *model.QueueItem) {
		q.Attempts = model.MaxAttempts
		q.LastError = "previous failure"
	}))

	err = a.processProgram(context.Background(), testProgramID)
	require.NoError(t, err)

	queue, err := s.ListQueue()
	require.NoError(t, err)
	assert.Empty(t, queue, "queue item must be removed on permanent failure")

	program, ok, err := s.GetProgram(testProgramID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, program.Status)
	assert.Contains(t, program.ErrorMessage, "Permanently failed after 10 attempts")
}

func TestProcessProgramSkipsRegenerationWhenHashUnchanged(t *testing.T) {
	gen := &stubGenerator{}
	a, s := newTestAgent(t, gen)
	idl := map[string]any{"name": "demo", "instructions": []any{map[string]any{"name": "init"}}}
	savedIDL, err := s.SaveIDL(testProgramID, idl)
	require.NoError(t, err)
	require.NoError(t, s.SaveDoc(model.Documentation{ProgramID: testProgramID, IDLHash: savedIDL.Hash}))
	_, _, err = s.AddToQueue(testProgramID)
	require.NoError(t, err)

	err = a.processProgram(context.Background(), testProgramID)
	require.NoError(t, err)

	queue, err := s.ListQueue()
	require.NoError(t, err)
	assert.Empty(t, queue)

	doc, ok, err := s.GetDoc(testProgramID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, doc.Name, "the stored doc must not be replaced by a regenerated one")
}

func TestSummarizeStripsMarkdownBoldAndHeadingOpeners(t *testing.T) {
	got := summarize("**Overview**\n\nThis program manages token vaults.")
	assert.True(t, strings.HasPrefix(got, "Overview"), "leading ** must not leak into the summary, got %q", got)

	got = summarize("## Overview\nThis program manages token vaults.")
	assert.True(t, strings.HasPrefix(got, "Overview"), "leading # must not leak into the summary, got %q", got)
}

func TestStartAndStopLifecycle(t *testing.T) {
	a, _ := newTestAgent(t, &stubGenerator{})
	done := make(chan error, 1)
	go func() { done <- a.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	a.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	state, err := a.State()
	require.NoError(t, err)
	assert.False(t, state.Running)
}
