package postgres

import (
	"context"
	"testing"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markflow/markflow/internal/domain/papers"
	"github.com/markflow/markflow/internal/infra/storage"
)

func setupPagesTest(t *testing.T) (context.Context, *pgxpool.Pool, *PageStore, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	ctx := context.Background()
	seedPaperSet(t, ctx, pool)
	return ctx, pool, NewPageStore(pool, storage.NoOpTracer()), cleanup
}

func TestPGPageStore_LockFixedPages(t *testing.T) {
	t.Parallel()

	ctx, _, store, cleanup := setupPagesTest(t)
	defer cleanup()

	refs := []papers.PageRef{
		{Paper: 2, Page: 1},
		{Paper: 1, Page: 2},
		{Paper: 1, Page: 2}, // duplicates collapse
	}
	pages, err := store.LockFixedPages(ctx, refs)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	// Deterministic (paper, page) order regardless of input order.
	assert.Equal(t, 1, pages[0].PaperNumber())
	assert.Equal(t, 2, pages[0].PageNumber())
	assert.Equal(t, 2, pages[1].PaperNumber())
	assert.Equal(t, 1, pages[1].PageNumber())
}

func TestPGPageStore_LockFixedPagesUnknownPosition(t *testing.T) {
	t.Parallel()

	ctx, _, store, cleanup := setupPagesTest(t)
	defer cleanup()

	_, err := store.LockFixedPages(ctx, []papers.PageRef{
		{Paper: 1, Page: 1},
		{Paper: 9, Page: 1},
	})
	assert.ErrorIs(t, err, papers.ErrPageNotFound)
}

func TestPGPageStore_AttachImages(t *testing.T) {
	t.Parallel()

	ctx, pool, store, cleanup := setupPagesTest(t)
	defer cleanup()

	imgA := seedImage(t, ctx, pool, "img-a")
	imgB := seedImage(t, ctx, pool, "img-b")

	err := store.AttachImages(ctx, []papers.ImageAttach{
		{Ref: papers.PageRef{Paper: 1, Page: 1}, Version: 1, ImageID: imgA},
		{Ref: papers.PageRef{Paper: 1, Page: 2}, Version: 1, ImageID: imgB},
	})
	require.NoError(t, err)

	page, err := store.GetFixedPage(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, page.HasImage())
	assert.Equal(t, imgA, *page.ImageID())
}

func TestPGPageStore_AttachImagesAlreadyImaged(t *testing.T) {
	t.Parallel()

	ctx, pool, store, cleanup := setupPagesTest(t)
	defer cleanup()

	first := seedImage(t, ctx, pool, "img-first")
	second := seedImage(t, ctx, pool, "img-second")

	attach := func(imageID uuid.UUID) error {
		return store.AttachImages(ctx, []papers.ImageAttach{
			{Ref: papers.PageRef{Paper: 1, Page: 1}, Version: 1, ImageID: imageID},
		})
	}
	require.NoError(t, attach(first))
	assert.ErrorIs(t, attach(second), papers.ErrAlreadyImaged)

	// The original attachment survives.
	page, err := store.GetFixedPage(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, page.HasImage())
	assert.Equal(t, first, *page.ImageID())
}

func TestPGPageStore_UpdateFixedPageImage(t *testing.T) {
	t.Parallel()

	ctx, pool, store, cleanup := setupPagesTest(t)
	defer cleanup()

	img := seedImage(t, ctx, pool, "img-a")
	require.NoError(t, store.AttachImages(ctx, []papers.ImageAttach{
		{Ref: papers.PageRef{Paper: 1, Page: 1}, Version: 1, ImageID: img},
	}))

	page, err := store.GetFixedPage(ctx, 1, 1)
	require.NoError(t, err)
	_, err = page.ClearImage()
	require.NoError(t, err)
	require.NoError(t, store.UpdateFixedPageImage(ctx, page))

	reloaded, err := store.GetFixedPage(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, reloaded.HasImage())
}

func TestPGPageStore_MobilePageLifecycle(t *testing.T) {
	t.Parallel()

	ctx, pool, store, cleanup := setupPagesTest(t)
	defer cleanup()

	img := seedImage(t, ctx, pool, "img-extra")
	first := papers.NewMobilePage(1, 1, 1, img)
	sentinel := papers.NewMobilePage(1, papers.SentinelQuestion, 1, img)
	require.NoError(t, store.CreateMobilePages(ctx, []*papers.MobilePage{first, sentinel}))

	loaded, err := store.GetMobilePage(ctx, first.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.PaperNumber())
	assert.Equal(t, 1, loaded.QuestionIndex())
	assert.Equal(t, img, loaded.ImageID())

	byImage, err := store.ListMobilePagesByImage(ctx, img)
	require.NoError(t, err)
	require.Len(t, byImage, 2)
	assert.True(t, byImage[0].IsSentinel(), "sentinel page sorts first by question index")

	require.NoError(t, store.DeleteMobilePages(ctx, []uuid.UUID{first.ID(), sentinel.ID()}))
	_, err = store.GetMobilePage(ctx, first.ID())
	assert.ErrorIs(t, err, papers.ErrMobilePageNotFound)
}

func TestPGPageStore_DiscardPageLifecycle(t *testing.T) {
	t.Parallel()

	ctx, pool, store, cleanup := setupPagesTest(t)
	defer cleanup()

	img := seedImage(t, ctx, pool, "img-discard")
	discard := papers.NewDiscardPage(img, "illegible scan")
	require.NoError(t, store.CreateDiscardPages(ctx, []*papers.DiscardPage{discard}))

	loaded, err := store.GetDiscardPage(ctx, discard.ID())
	require.NoError(t, err)
	assert.Equal(t, img, loaded.ImageID())
	assert.Equal(t, "illegible scan", loaded.Reason())

	require.NoError(t, store.DeleteDiscardPage(ctx, discard.ID()))
	assert.ErrorIs(t, store.DeleteDiscardPage(ctx, discard.ID()), papers.ErrDiscardNotFound)
	_, err = store.GetDiscardPage(ctx, discard.ID())
	assert.ErrorIs(t, err, papers.ErrDiscardNotFound)
}

func TestPGPageStore_SnapshotPapers(t *testing.T) {
	t.Parallel()

	ctx, pool, store, cleanup := setupPagesTest(t)
	defer cleanup()

	img := seedImage(t, ctx, pool, "img-snap")
	require.NoError(t, store.AttachImages(ctx, []papers.ImageAttach{
		{Ref: papers.PageRef{Paper: 2, Page: 2}, Version: 2, ImageID: img},
	}))
	require.NoError(t, store.CreateMobilePages(ctx, []*papers.MobilePage{
		papers.NewMobilePage(2, 1, 2, img),
	}))

	snapshots, err := store.SnapshotPapers(ctx, []int{2, 1})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	// Output follows input order.
	assert.Equal(t, 2, snapshots[0].PaperNumber)
	assert.Equal(t, 1, snapshots[1].PaperNumber)

	require.Len(t, snapshots[0].Fixed, 3)
	assert.True(t, snapshots[0].Fixed[1].HasImage, "page 2 of paper 2 holds an image")
	assert.False(t, snapshots[0].Fixed[0].HasImage)
	require.Len(t, snapshots[0].Mobile, 1)
	assert.Equal(t, 1, snapshots[0].Mobile[0].QuestionIndex)

	assert.Empty(t, snapshots[1].Mobile)
}

func TestPGPageStore_SnapshotPapersEmpty(t *testing.T) {
	t.Parallel()

	ctx, _, store, cleanup := setupPagesTest(t)
	defer cleanup()

	snapshots, err := store.SnapshotPapers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}
