package postgres

import (
	"testing"
	"time"

	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorClausesStableAcrossBookmarkRoundTrips(t *testing.T) {
	cursors := []resources.PostCursor{
		{Sort: models.SortCreatedAt, LastKey: "2026-08-01T10:30:00.000001Z", LastID: "post-7"},
		{Sort: models.SortServerOrder, LastKey: "42", LastID: "post-7"},
		{Sort: models.SortRandom, Seed: "cafe1234", LastKey: "0f1e2d3c", LastID: "post-7"},
	}

	for _, cursor := range cursors {
		t.Run(string(cursor.Sort), func(t *testing.T) {
			order, where, args := cursorClauses(cursor)
			require.NotEmpty(t, order)
			require.NotEmpty(t, where)

			// A device replaying the same bookmark must hit the same SQL,
			// which is what keeps the repeated cursor on the same page.
			bookmark, err := helpers.EncodeBookmark(cursor)
			require.NoError(t, err)

			var decoded resources.PostCursor
			require.NoError(t, helpers.DecodeBookmark(bookmark, &decoded))
			assert.Equal(t, cursor, decoded)

			againOrder, againWhere, againArgs := cursorClauses(decoded)
			assert.Equal(t, order, againOrder)
			assert.Equal(t, where, againWhere)
			assert.Equal(t, args, againArgs)
		})
	}
}

func TestCursorClausesFirstPageHasNoPredicate(t *testing.T) {
	order, where, args := cursorClauses(resources.PostCursor{Sort: models.SortCreatedAt})
	assert.Equal(t, "created_at DESC, id DESC", order)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestCursorSeedDrivesRandomOrdering(t *testing.T) {
	a, _, _ := cursorClauses(resources.PostCursor{Sort: models.SortRandom, Seed: "cafe1234"})
	b, _, _ := cursorClauses(resources.PostCursor{Sort: models.SortRandom, Seed: "cafe1234"})
	c, _, _ := cursorClauses(resources.PostCursor{Sort: models.SortRandom, Seed: "deadbeef"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Anything outside the server generated hex alphabet is stripped
	// before the seed is inlined into the ordering expression.
	d, _, _ := cursorClauses(resources.PostCursor{Sort: models.SortRandom, Seed: "cafe'); DROP TABLE posts;--1234"})
	assert.Equal(t, a, d)
}

func TestNextCursorPointsPastLastRow(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 10, 30, 0, 1000, time.UTC)
	last := models.Post{ID: "post-7", ServerOrder: 42, CreatedAt: createdAt}

	byCreated := nextCursor(resources.PostCursor{Sort: models.SortCreatedAt}, last)
	assert.Equal(t, models.SortCreatedAt, byCreated.Sort)
	assert.Equal(t, "post-7", byCreated.LastID)
	assert.Equal(t, "2026-08-01T10:30:00.000001Z", byCreated.LastKey)

	byOrder := nextCursor(resources.PostCursor{Sort: models.SortServerOrder}, last)
	assert.Equal(t, "42", byOrder.LastKey)

	byShuffle := nextCursor(resources.PostCursor{Sort: models.SortRandom, Seed: "cafe1234"}, last)
	assert.Equal(t, "cafe1234", byShuffle.Seed)
	assert.Equal(t, shuffleKey("post-7", "cafe1234"), byShuffle.LastKey)
}

func TestShuffleKeyIsDeterministic(t *testing.T) {
	key := shuffleKey("post-7", "cafe1234")

	// Hex md5 digest, same shape the SQL expression produces.
	assert.Len(t, key, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", key)

	assert.Equal(t, key, shuffleKey("post-7", "cafe1234"))
	assert.NotEqual(t, key, shuffleKey("post-7", "deadbeef"))
	assert.NotEqual(t, key, shuffleKey("post-8", "cafe1234"))
}
