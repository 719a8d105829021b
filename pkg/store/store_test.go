package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldocs/soldocs/pkg/model"
)

const testProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s
}

func TestHashIDLDeterministic(t *testing.T) {
	a := map[string]any{"name": "demo", "instructions": []any{"one", "two"}, "version": "0.1.0"}
	b := map[string]any{"version": "0.1.0", "instructions": []any{"one", "two"}, "name": "demo"}

	assert.Equal(t, HashIDL(a), HashIDL(b), "key order must not affect the hash")
	assert.NotEqual(t, HashIDL(a), HashIDL(map[string]any{"name": "other"}))
}

func TestUpsertProgramRejectsInvalidID(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertProgram(model.ProgramMetadata{ProgramID: "not-base58!!"})
	assert.Error(t, err)
}

func TestUpsertProgramRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := model.ProgramMetadata{
		ProgramID: testProgramID,
		Name:      "Token Program",
		Status:    model.StatusDocumented,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertProgram(p))

	got, ok, err := s.GetProgram(testProgramID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.Name, got.Name)

	p.Name = "Updated Name"
	require.NoError(t, s.UpsertProgram(p))
	list, err := s.ListPrograms()
	require.NoError(t, err)
	require.Len(t, list, 1, "upsert must replace, not duplicate")
	assert.Equal(t, "Updated Name", list[0].Name)
}

func TestAddToQueueIsIdempotentAndUnique(t *testing.T) {
	s := newTestStore(t)

	_, kind, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)
	assert.Equal(t, AddNew, kind)

	_, kind, err = s.AddToQueue(testProgramID)
	require.NoError(t, err)
	assert.Equal(t, AddExisting, kind)

	list, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, list, 1, "at most one queue item per program id")
}

func TestAddToQueueResetsRetryBudgetOnRequeue(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)

	require.NoError(t, s.UpdateQueueItem(testProgramID, func(q *model.QueueItem) {
		q.Status = model.QueueFailed
		q.Attempts = model.MaxAttempts
		q.LastError = "permanent failure"
	}))

	_, kind, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)
	assert.Equal(t, AddRequeued, kind)

	list, err := s.ListQueue()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.QueuePending, list[0].Status)
	assert.Equal(t, 0, list[0].Attempts)
	assert.Empty(t, list[0].LastError)
}

func TestRecoverStuckItems(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.AddToQueue(testProgramID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateQueueItem(testProgramID, func(q *model.QueueItem) {
		q.Status = model.QueueProcessing
	}))

	n, err := s.RecoverStuckItems()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.ListQueue()
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, list[0].Status)
}

func TestSaveIDLComputesHash(t *testing.T) {
	s := newTestStore(t)
	idl := map[string]any{"name": "demo", "instructions": []any{}}

	rec, err := s.SaveIDL(testProgramID, idl)
	require.NoError(t, err)
	assert.Equal(t, HashIDL(idl), rec.Hash)

	got, ok, err := s.GetIDL(testProgramID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Hash, got.Hash)
}

func TestSaveDocRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := model.Documentation{ProgramID: testProgramID, FullMarkdown: "# Demo\n---\n"}
	require.NoError(t, s.SaveDoc(doc))

	got, ok, err := s.GetDoc(testProgramID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc.FullMarkdown, got.FullMarkdown)
}

func TestReadOrFallbackQuarantinesCorruptFile(t *testing.T) {
	s := newTestStore(t)
	path := s.programsPath()
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	list, err := s.ListPrograms()
	require.NoError(t, err)
	assert.Empty(t, list, "corrupt file falls back to the zero value")

	matches, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1, "corrupt file must be quarantined alongside the original path")
}

func TestConcurrentAddToQueueSafeStaysUnique(t *testing.T) {
	s := newTestStore(t)
	const workers = 20

	done := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, _, err := s.AddToQueueSafe(testProgramID)
			done <- err
		}()
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-done)
	}

	list, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, list, 1, "concurrent AddToQueueSafe calls must not create duplicates or torn writes")
}

func TestStatsFoldsProgramIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertProgram(model.ProgramMetadata{ProgramID: testProgramID, Status: model.StatusDocumented}))
	require.NoError(t, s.UpsertProgram(model.ProgramMetadata{ProgramID: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Status: model.StatusFailed}))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Documented)
	assert.Equal(t, 1, stats.Failed)
}
