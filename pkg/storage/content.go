package storage

import (
	"context"

	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/resources"
)

type PostReader interface {
	SelectExists(ctx context.Context, id string) (bool, *models.Post, error)
	// SelectPage returns one page ordered by the query's sort and a
	// cursor for the next page. Channel and viewer visibility narrowing
	// both happen before pagination so cursors stay stable.
	SelectPage(ctx context.Context, query resources.PostQuery) ([]models.Post, string, error)
}

type CommentReader interface {
	// SelectPage returns a flattened page of a post's comment tree with
	// parent ordering preserved.
	SelectPage(ctx context.Context, query resources.CommentQuery) ([]models.Comment, string, error)
}

type ReactionRepo interface {
	SelectByAccountAndPost(ctx context.Context, accountID, postID string) ([]models.Reaction, error)
	// Insert is a no-op when the (post, account, emoji) triple already
	// exists; set semantics make reaction submission idempotent.
	Insert(ctx context.Context, reaction *models.Reaction) error
	// Delete is a no-op when the triple does not exist.
	Delete(ctx context.Context, postID, accountID, emoji string) error
}
