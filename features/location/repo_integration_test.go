package location_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/location"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/testutils"
)

func TestPostgresRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.SkipWeaviate = true
	s.SkipNSQ = true
	s.Setup()
	defer s.Teardown()

	repo := location.NewPostgresRepo(s.DB)
	ctx := context.Background()

	done := source.Location{Origin: "gelderland", URL: "https://open.gelderland.nl/a.pdf"}
	broken := source.Location{Origin: "gelderland", URL: "https://open.gelderland.nl/b.pdf"}

	// 1. First claims win, second claims lose
	doneToken, err := repo.Claim(ctx, done, time.Hour, false)
	require.NoError(t, err)
	assert.NotEmpty(t, doneToken)
	token, err := repo.Claim(ctx, done, time.Hour, false)
	require.NoError(t, err)
	assert.Empty(t, token)

	brokenToken, err := repo.Claim(ctx, broken, time.Hour, false)
	require.NoError(t, err)
	require.NotEmpty(t, brokenToken)

	// 2. Record outcomes
	assert.ErrorIs(t, repo.Complete(ctx, done.ID(), "other", "doc-x", "hash-x", 1), location.ErrClaimLost)
	require.NoError(t, repo.Complete(ctx, done.ID(), doneToken, "doc-a", "hash-a", 12))
	require.NoError(t, repo.Fail(ctx, broken.ID(), brokenToken, "embedding failed"))
	assert.ErrorIs(t, repo.Fail(ctx, broken.ID(), brokenToken, "again"), location.ErrClaimLost)
	assert.ErrorIs(t, repo.Fail(ctx, "missing", doneToken, "x"), location.ErrClaimLost)

	st, err := repo.Get(ctx, done.ID())
	require.NoError(t, err)
	assert.Equal(t, location.StatusCompleted, st.Status)
	assert.Equal(t, "doc-a", st.DocumentID)
	assert.Equal(t, 12, st.ChunkCount)

	terminal, err := repo.Terminal(ctx, []string{done.ID(), broken.ID(), "unknown"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{done.ID(): true}, terminal)

	failed, err := repo.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, broken.ID(), failed[0].ID)
	assert.Equal(t, "embedding failed", failed[0].Reason)

	// 3. Failed locations are claimable again, completed ones only by force
	token, err = repo.Claim(ctx, broken, time.Hour, false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	token, err = repo.Claim(ctx, done, time.Hour, false)
	require.NoError(t, err)
	assert.Empty(t, token)
	token, err = repo.Claim(ctx, done, time.Hour, true)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// 4. Stale processing claims expire and the previous owner loses them
	staleToken, err := repo.Claim(ctx, broken, time.Hour, true)
	require.NoError(t, err)
	assert.Empty(t, staleToken, "force never steals a live claim")
	newToken, err := repo.Claim(ctx, broken, time.Nanosecond, false)
	require.NoError(t, err)
	require.NotEmpty(t, newToken)
	assert.ErrorIs(t, repo.Complete(ctx, broken.ID(), brokenToken, "doc-b", "hash-b", 3), location.ErrClaimLost)

	st, err = repo.Get(ctx, broken.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Attempts)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[location.StatusProcessing])
}
