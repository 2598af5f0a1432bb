package postgres

import (
	"context"
	"testing"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/infra/storage"
)

func setupChoresTest(t *testing.T) (context.Context, *ChoreStore, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	return context.Background(), NewChoreStore(pool, storage.NoOpTracer()), cleanup
}

func TestPGChoreStore_CreateAndGetChore(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	chore := chores.NewChore(chores.ChoreKindReassembly, 4)
	require.NoError(t, store.CreateChore(ctx, chore))

	loaded, err := store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreKindReassembly, loaded.Kind())
	assert.Equal(t, 4, loaded.PaperNumber())
	assert.Equal(t, chores.ChoreStatusStarting, loaded.Status())
	assert.False(t, loaded.Obsolete())
	assert.Nil(t, loaded.JobHandle())
	assert.False(t, loaded.Timeline().IsCompleted())
}

func TestPGChoreStore_GetChoreNotFound(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	_, err := store.GetChore(ctx, uuid.New())
	assert.ErrorIs(t, err, chores.ErrChoreNotFound)

	_, err = store.LockChore(ctx, uuid.New())
	assert.ErrorIs(t, err, chores.ErrChoreNotFound)
}

func TestPGChoreStore_LiveConflict(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	first := chores.NewChore(chores.ChoreKindReassembly, 4)
	require.NoError(t, store.CreateChore(ctx, first))

	// A second live chore for the same key conflicts.
	err := store.CreateChore(ctx, chores.NewChore(chores.ChoreKindReassembly, 4))
	assert.ErrorIs(t, err, chores.ErrChoreConflict)

	// Other keys are unaffected.
	require.NoError(t, store.CreateChore(ctx, chores.NewChore(chores.ChoreKindReassembly, 5)))
	require.NoError(t, store.CreateChore(ctx, chores.NewChore(chores.ChoreKindSolution, 4)))

	// Marking the holder obsolete frees the key.
	first.MarkObsolete()
	require.NoError(t, store.UpdateChore(ctx, first))
	require.NoError(t, store.CreateChore(ctx, chores.NewChore(chores.ChoreKindReassembly, 4)))
}

func TestPGChoreStore_GetChoreByJob(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	chore := chores.NewChore(chores.ChoreKindSolution, 2)
	require.NoError(t, store.CreateChore(ctx, chore))

	jobID := uuid.New()
	require.NoError(t, chore.MarkSubmitted(jobID))
	require.NoError(t, store.UpdateChore(ctx, chore))

	loaded, err := store.GetChoreByJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, chore.ID(), loaded.ID())
	assert.Equal(t, chores.ChoreStatusQueued, loaded.Status())
	require.NotNil(t, loaded.JobHandle())
	assert.Equal(t, jobID, *loaded.JobHandle())

	_, err = store.GetChoreByJob(ctx, uuid.New())
	assert.ErrorIs(t, err, chores.ErrChoreNotFound)
}

func TestPGChoreStore_FindLiveChore(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	chore := chores.NewChore(chores.ChoreKindReassembly, 4)
	require.NoError(t, store.CreateChore(ctx, chore))

	live, err := store.FindLiveChore(ctx, chores.ChoreKindReassembly, 4)
	require.NoError(t, err)
	assert.Equal(t, chore.ID(), live.ID())

	_, err = store.FindLiveChore(ctx, chores.ChoreKindReassembly, 5)
	assert.ErrorIs(t, err, chores.ErrChoreNotFound)

	chore.MarkObsolete()
	require.NoError(t, store.UpdateChore(ctx, chore))

	_, err = store.FindLiveChore(ctx, chores.ChoreKindReassembly, 4)
	assert.ErrorIs(t, err, chores.ErrChoreNotFound, "obsolete chores are not live")
}

func TestPGChoreStore_ListLiveChores(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	pending := chores.NewChore(chores.ChoreKindReassembly, 1)
	finished := chores.NewChore(chores.ChoreKindReassembly, 2)
	obsolete := chores.NewChore(chores.ChoreKindReassembly, 3)
	require.NoError(t, store.CreateChore(ctx, pending))
	require.NoError(t, store.CreateChore(ctx, finished))
	require.NoError(t, store.CreateChore(ctx, obsolete))

	require.NoError(t, finished.MarkSubmitted(uuid.New()))
	require.NoError(t, finished.MarkRunning())
	require.NoError(t, finished.CompleteWith("/artifacts/paper2.pdf"))
	require.NoError(t, store.UpdateChore(ctx, finished))

	obsolete.MarkObsolete()
	require.NoError(t, store.UpdateChore(ctx, obsolete))

	live, err := store.ListLiveChores(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, pending.ID(), live[0].ID())
}

func TestPGChoreStore_UpdateChoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	chore := chores.NewChore(chores.ChoreKindReport, 0)
	require.NoError(t, store.CreateChore(ctx, chore))

	require.NoError(t, chore.MarkSubmitted(uuid.New()))
	require.NoError(t, chore.MarkRunning())
	require.NoError(t, chore.Fail("missing pages for paper 7"))
	require.NoError(t, store.UpdateChore(ctx, chore))

	loaded, err := store.GetChore(ctx, chore.ID())
	require.NoError(t, err)
	assert.Equal(t, chores.ChoreStatusError, loaded.Status())
	assert.Equal(t, "missing pages for paper 7", loaded.Message())
	assert.True(t, loaded.Timeline().IsCompleted())
}

func TestPGChoreStore_UpdateChoreNotFound(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupChoresTest(t)
	defer cleanup()

	err := store.UpdateChore(ctx, chores.NewChore(chores.ChoreKindReport, 0))
	assert.ErrorIs(t, err, chores.ErrChoreNotFound)
}
