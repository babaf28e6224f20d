package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decisis/govledger/pkg/contracts"
	"github.com/decisis/govledger/pkg/store"
)

var testActor = contracts.Actor{ID: "user-1", Role: "owner"}

func commit(t *testing.T, st store.Store, staged Staged) {
	t.Helper()
	err := st.Apply(context.Background(), store.Change{
		Artifact:       &staged.Artifact,
		ExpectedLatest: staged.ExpectedLatest,
	})
	require.NoError(t, err)
}

func TestPrepare_FirstSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	w := NewWriter(st)

	staged, err := w.Prepare(context.Background(), "dec-1", map[string]any{"a": 1}, testActor)
	require.NoError(t, err)

	assert.True(t, staged.First)
	assert.Nil(t, staged.ExpectedLatest)
	assert.Nil(t, staged.Artifact.SupersedesVersionID)
	assert.NotEmpty(t, staged.Artifact.VersionID)
	assert.Equal(t, `{"a":1}`, staged.Artifact.CanonicalJSON)
	assert.Len(t, staged.Artifact.CanonicalHash, 64)
}

func TestPrepare_ChainIsLinear(t *testing.T) {
	st := store.NewMemoryStore()
	w := NewWriter(st)
	ctx := context.Background()

	var versions []string
	for i := 1; i <= 3; i++ {
		staged, err := w.Prepare(ctx, "dec-1", map[string]any{"rev": i}, testActor)
		require.NoError(t, err)
		commit(t, st, staged)
		versions = append(versions, staged.Artifact.VersionID)
	}

	chain, err := st.ListArtifacts(ctx, "dec-1")
	require.NoError(t, err)
	require.Len(t, chain, 3)

	assert.Nil(t, chain[0].SupersedesVersionID)
	for i := 1; i < len(chain); i++ {
		require.NotNil(t, chain[i].SupersedesVersionID)
		assert.Equal(t, versions[i-1], *chain[i].SupersedesVersionID)
		assert.Equal(t, chain[i-1].Seq+1, chain[i].Seq)
	}
}

func TestPrepare_SupersedesNeverFromCaller(t *testing.T) {
	st := store.NewMemoryStore()
	w := NewWriter(st)
	ctx := context.Background()

	first, err := w.Prepare(ctx, "dec-1", map[string]any{"v": 1}, testActor)
	require.NoError(t, err)
	commit(t, st, first)

	// The writer computes the pointer from the stored chain head; a
	// stale or hostile value in the document body has no effect on it.
	second, err := w.Prepare(ctx, "dec-1", map[string]any{
		"v":                     2,
		"supersedes_version_id": "forged",
	}, testActor)
	require.NoError(t, err)
	require.NotNil(t, second.Artifact.SupersedesVersionID)
	assert.Equal(t, first.Artifact.VersionID, *second.Artifact.SupersedesVersionID)
}

func TestPrepare_StaleStageLosesRace(t *testing.T) {
	st := store.NewMemoryStore()
	w := NewWriter(st)
	ctx := context.Background()

	base, err := w.Prepare(ctx, "dec-1", map[string]any{"v": 1}, testActor)
	require.NoError(t, err)
	commit(t, st, base)

	// Two writers stage against the same chain head.
	a, err := w.Prepare(ctx, "dec-1", map[string]any{"v": "a"}, testActor)
	require.NoError(t, err)
	b, err := w.Prepare(ctx, "dec-1", map[string]any{"v": "b"}, testActor)
	require.NoError(t, err)

	commit(t, st, a)
	err = st.Apply(ctx, store.Change{Artifact: &b.Artifact, ExpectedLatest: b.ExpectedLatest})
	assert.ErrorIs(t, err, store.ErrConcurrentModification)

	chain, err := st.ListArtifacts(ctx, "dec-1")
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestPrepare_InvalidDocument(t *testing.T) {
	st := store.NewMemoryStore()
	w := NewWriter(st)
	_, err := w.Prepare(context.Background(), "dec-1", map[string]any{"bad": func() {}}, testActor)
	require.Error(t, err)
}
