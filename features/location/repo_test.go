package location

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

var testLoc = source.Location{Origin: "zh", URL: "https://example.org/besluit.pdf", Category: "Zuid-Holland"}

func TestPostgresRepo_Claim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepo(db)

	claim := regexp.QuoteMeta("INSERT INTO locations (id, origin, url, status, attempts, updated_at)")

	t.Run("Claimed", func(t *testing.T) {
		mock.ExpectQuery(claim).
			WithArgs(testLoc.ID(), "zh", testLoc.URL, float64(3600), false, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testLoc.ID()))

		token, err := repo.Claim(context.Background(), testLoc, time.Hour, false)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("AlreadyOwned", func(t *testing.T) {
		mock.ExpectQuery(claim).
			WithArgs(testLoc.ID(), "zh", testLoc.URL, float64(3600), true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		token, err := repo.Claim(context.Background(), testLoc, time.Hour, true)
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery(claim).WillReturnError(assert.AnError)

		_, err := repo.Claim(context.Background(), testLoc, time.Hour, false)
		assert.ErrorIs(t, err, assert.AnError)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Transitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepo(db)
	ctx := context.Background()

	owned := regexp.QuoteMeta("WHERE id = $1 AND claim_token = $2 AND status = 'processing'")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locations SET status = 'completed'")+".*"+owned).
		WithArgs("loc1", "tok1", "doc1", "hash1", 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locations SET status = 'skipped'")+".*"+owned).
		WithArgs("loc2", "tok2", "too_large", "payload exceeds limit").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locations SET status = 'failed', outcome = 'failed'")+".*"+owned).
		WithArgs("loc3", "tok3", "embedding failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locations SET status = 'failed', outcome = 'reset', reason = 'reset', claim_token = ''")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Complete(ctx, "loc1", "tok1", "doc1", "hash1", 12))
	require.NoError(t, repo.Skip(ctx, "loc2", "tok2", "too_large", "payload exceeds limit"))
	require.NoError(t, repo.Fail(ctx, "loc3", "tok3", "embedding failed"))
	assert.ErrorIs(t, repo.Reset(ctx, "missing"), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_StaleClaimCannotRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepo(db)
	ctx := context.Background()

	// A takeover rotated the token, so the old owner's updates match no row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locations SET status = 'completed'")).
		WithArgs("loc1", "stale", "doc1", "hash1", 12).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locations SET status = 'skipped'")).
		WithArgs("loc1", "stale", "unextractable", "no text").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE locations SET status = 'failed', outcome = 'failed'")).
		WithArgs("loc1", "stale", "timeout").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Complete(ctx, "loc1", "stale", "doc1", "hash1", 12), ErrClaimLost)
	assert.ErrorIs(t, repo.Skip(ctx, "loc1", "stale", "unextractable", "no text"), ErrClaimLost)
	assert.ErrorIs(t, repo.Fail(ctx, "loc1", "stale", "timeout"), ErrClaimLost)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Queries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepo(db)
	ctx := context.Background()

	cols := []string{"id", "origin", "url", "status", "outcome", "document_id", "content_hash", "chunk_count", "reason", "attempts", "updated_at"}
	now := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)

	t.Run("Terminal", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM locations WHERE id = ANY($1) AND status IN ('completed', 'skipped')")).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a"))

		done, err := repo.Terminal(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"a": true}, done)
	})

	t.Run("TerminalEmpty", func(t *testing.T) {
		done, err := repo.Terminal(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, done)
	})

	t.Run("ListFailed", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM locations WHERE status = 'failed'")).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("loc3", "zh", "https://example.org/c.pdf", "failed", "failed", "", "", 0, "embedding failed", 2, now))

		states, err := repo.ListFailed(ctx)
		require.NoError(t, err)
		require.Len(t, states, 1)
		assert.Equal(t, StatusFailed, states[0].Status)
		assert.Equal(t, "embedding failed", states[0].Reason)
		assert.Equal(t, 2, states[0].Attempts)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM locations WHERE id = $1")).
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(cols))

		_, err := repo.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CountByStatus", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM locations GROUP BY status")).
			WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
				AddRow("completed", 10).
				AddRow("failed", 1))

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[Status]int{StatusCompleted: 10, StatusFailed: 1}, counts)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
