package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldocs/soldocs/pkg/model"
	"github.com/soldocs/soldocs/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSeedPopulatesQueueAndIDLCache(t *testing.T) {
	s := newTestStore(t)

	count, err := Seed(s)
	require.NoError(t, err)
	assert.Equal(t, 7, count, "all seven bundled programs should seed cleanly")

	queue, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, queue, 7)
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := Seed(s)
	require.NoError(t, err)

	_, err = Seed(s)
	require.NoError(t, err)

	queue, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, queue, 7, "re-running seed must not duplicate queue entries")
}

func TestUpgradeCandidatesFiltersByDocumentedStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertProgram(model.ProgramMetadata{ProgramID: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", Status: model.StatusDocumented}))
	require.NoError(t, s.UpsertProgram(model.ProgramMetadata{ProgramID: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Status: model.StatusFailed}))

	ids, err := UpgradeCandidates(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"}, ids)
}
