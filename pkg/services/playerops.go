package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"slices"

	"github.com/cenkalti/backoff/v4"
	"github.com/fabkury/makapix-sub005/pkg/errs"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/resources"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// PlayerOpsService executes device operations with the owner account's
// permissions. Every input carries the already resolved account; the
// router owns the device-to-account resolution, so permission logic lives
// in exactly one place.
type PlayerOpsService interface {
	QueryPosts(ctx context.Context, input QueryPostsInput) (*models.QueryPostsResponse, error)
	SubmitReaction(ctx context.Context, input ReactionInput) (*models.ReactionResponse, error)
	RevokeReaction(ctx context.Context, input ReactionInput) (*models.ReactionResponse, error)
	GetComments(ctx context.Context, input GetCommentsInput) (*models.GetCommentsResponse, error)
	SubmitView(ctx context.Context, input SubmitViewInput) (*models.SubmitViewResponse, error)
}

type PlayerOpsServiceBackend struct {
	postsStorage     storage.PostReader
	commentsStorage  storage.CommentReader
	reactionsStorage storage.ReactionRepo
	accountsStorage  storage.AccountReader
	viewIngest       ViewIngestService
	clock            clockwork.Clock
	validate         *validator.Validate
	logger           *logrus.Entry
}

type PlayerOpsBuilder struct {
	Logger           *logrus.Entry
	PostsStorage     storage.PostReader
	CommentsStorage  storage.CommentReader
	ReactionsStorage storage.ReactionRepo
	AccountsStorage  storage.AccountReader
	ViewIngest       ViewIngestService
	Clock            clockwork.Clock
}

func NewPlayerOpsService(builder PlayerOpsBuilder) PlayerOpsService {
	clock := builder.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &PlayerOpsServiceBackend{
		postsStorage:     builder.PostsStorage,
		commentsStorage:  builder.CommentsStorage,
		reactionsStorage: builder.ReactionsStorage,
		accountsStorage:  builder.AccountsStorage,
		viewIngest:       builder.ViewIngest,
		clock:            clock,
		validate:         validator.New(),
		logger:           builder.Logger,
	}
}

// withStoreRetry retries transient datastore failures a bounded number of
// times before the caller falls back to an internal error response.
func withStoreRetry(op func() error) error {
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2))
}

type QueryPostsInput struct {
	Account *models.Account
	Request models.QueryPostsRequest
}

func (svc *PlayerOpsServiceBackend) QueryPosts(ctx context.Context, input QueryPostsInput) (*models.QueryPostsResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := svc.validate.Struct(input.Request); err != nil {
		return nil, errs.ErrValidateBadRequest
	}

	seed := input.Request.Seed
	if input.Request.Sort == models.SortRandom {
		if input.Request.Bookmark != "" {
			// Continuation pages shuffle with the seed embedded in the
			// cursor, so that is the seed to echo back.
			var cursor resources.PostCursor
			if err := helpers.DecodeBookmark(input.Request.Bookmark, &cursor); err != nil {
				return nil, errs.ErrValidateBadRequest
			}
			seed = cursor.Seed
		} else if seed == "" {
			// No seed means a fresh shuffle; echo it back so the device
			// can page through the same ordering.
			buf := make([]byte, 8)
			if _, err := rand.Read(buf); err != nil {
				return nil, err
			}
			seed = hex.EncodeToString(buf)
		}
	}

	query := resources.PostQuery{
		Channel:           input.Request.Channel,
		ViewerAccountID:   input.Account.ID,
		ViewerIsModerator: input.Account.Moderator,
		Sort:              input.Request.Sort,
		Seed:              seed,
		PageSize:          input.Request.Count,
		NextBookmark:      input.Request.Bookmark,
	}

	var posts []models.Post
	var nextBookmark string
	err := withStoreRetry(func() error {
		var err error
		posts, nextBookmark, err = svc.postsStorage.SelectPage(ctx, query)
		return err
	})
	if err != nil {
		lFunc.Errorf("could not select posts page: %s", err)
		return nil, err
	}

	summaries := make([]models.PostSummary, 0, len(posts))
	authors := map[string]string{}
	for _, post := range posts {
		author, ok := authors[post.OwnerAccountID]
		if !ok {
			exists, acct, err := svc.accountsStorage.SelectExists(ctx, post.OwnerAccountID)
			if err == nil && exists {
				author = acct.Username
			}
			authors[post.OwnerAccountID] = author
		}

		summaries = append(summaries, models.PostSummary{
			ID:       post.ID,
			Title:    post.Title,
			ImageURL: post.ImageURL,
			Author:   author,
		})
	}

	resp := &models.QueryPostsResponse{
		Posts:        summaries,
		NextBookmark: nextBookmark,
	}
	if input.Request.Sort == models.SortRandom {
		resp.Seed = seed
	}

	return resp, nil
}

type ReactionInput struct {
	Account *models.Account
	Request models.ReactionRequest
}

func (svc *PlayerOpsServiceBackend) SubmitReaction(ctx context.Context, input ReactionInput) (*models.ReactionResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := svc.validate.Struct(input.Request); err != nil {
		return nil, errs.ErrValidateBadRequest
	}

	if err := svc.checkPostVisible(ctx, input.Request.PostID, input.Account); err != nil {
		return nil, err
	}

	var reactions []models.Reaction
	err := withStoreRetry(func() error {
		var err error
		reactions, err = svc.reactionsStorage.SelectByAccountAndPost(ctx, input.Account.ID, input.Request.PostID)
		return err
	})
	if err != nil {
		lFunc.Errorf("could not select reactions: %s", err)
		return nil, err
	}

	active := activeEmojis(reactions)

	// Resubmitting a present emoji is a success no-op, which is what
	// makes the operation safe under redelivery.
	if slices.Contains(active, input.Request.Emoji) {
		return &models.ReactionResponse{
			PostID:          input.Request.PostID,
			ActiveReactions: active,
		}, nil
	}

	if len(active) >= models.MaxDistinctReactionsPerPost {
		return nil, errs.ErrReactionLimit
	}

	reaction := &models.Reaction{
		PostID:    input.Request.PostID,
		AccountID: input.Account.ID,
		Emoji:     input.Request.Emoji,
		CreatedAt: svc.clock.Now(),
	}
	err = withStoreRetry(func() error {
		return svc.reactionsStorage.Insert(ctx, reaction)
	})
	if err != nil {
		lFunc.Errorf("could not insert reaction: %s", err)
		return nil, err
	}

	return &models.ReactionResponse{
		PostID:          input.Request.PostID,
		ActiveReactions: append(active, input.Request.Emoji),
	}, nil
}

func (svc *PlayerOpsServiceBackend) RevokeReaction(ctx context.Context, input ReactionInput) (*models.ReactionResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := svc.validate.Struct(input.Request); err != nil {
		return nil, errs.ErrValidateBadRequest
	}

	if err := svc.checkPostVisible(ctx, input.Request.PostID, input.Account); err != nil {
		return nil, err
	}

	// Revoking an absent reaction is a success no-op.
	err := withStoreRetry(func() error {
		return svc.reactionsStorage.Delete(ctx, input.Request.PostID, input.Account.ID, input.Request.Emoji)
	})
	if err != nil {
		lFunc.Errorf("could not delete reaction: %s", err)
		return nil, err
	}

	reactions, err := svc.reactionsStorage.SelectByAccountAndPost(ctx, input.Account.ID, input.Request.PostID)
	if err != nil {
		lFunc.Errorf("could not select reactions: %s", err)
		return nil, err
	}

	return &models.ReactionResponse{
		PostID:          input.Request.PostID,
		ActiveReactions: activeEmojis(reactions),
	}, nil
}

type GetCommentsInput struct {
	Account *models.Account
	Request models.GetCommentsRequest
}

func (svc *PlayerOpsServiceBackend) GetComments(ctx context.Context, input GetCommentsInput) (*models.GetCommentsResponse, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := svc.validate.Struct(input.Request); err != nil {
		return nil, errs.ErrValidateBadRequest
	}

	if err := svc.checkPostVisible(ctx, input.Request.PostID, input.Account); err != nil {
		return nil, err
	}

	query := resources.CommentQuery{
		PostID:           input.Request.PostID,
		IncludeModerated: input.Account.Moderator,
		PageSize:         input.Request.Count,
		NextBookmark:     input.Request.Bookmark,
	}

	var comments []models.Comment
	var nextBookmark string
	err := withStoreRetry(func() error {
		var err error
		comments, nextBookmark, err = svc.commentsStorage.SelectPage(ctx, query)
		return err
	})
	if err != nil {
		lFunc.Errorf("could not select comments page: %s", err)
		return nil, err
	}

	entries := make([]models.CommentEntry, 0, len(comments))
	authors := map[string]string{}
	for _, comment := range comments {
		author, ok := authors[comment.AuthorAccountID]
		if !ok {
			exists, acct, err := svc.accountsStorage.SelectExists(ctx, comment.AuthorAccountID)
			if err == nil && exists {
				author = acct.Username
			}
			authors[comment.AuthorAccountID] = author
		}

		entries = append(entries, models.CommentEntry{
			ID:              comment.ID,
			ParentCommentID: comment.ParentCommentID,
			Author:          author,
			Body:            comment.Body,
			CreatedAt:       comment.CreatedAt,
		})
	}

	return &models.GetCommentsResponse{
		Comments:     entries,
		NextBookmark: nextBookmark,
	}, nil
}

type SubmitViewInput struct {
	Account   *models.Account
	DeviceKey string
	Request   models.SubmitViewRequest
}

func (svc *PlayerOpsServiceBackend) SubmitView(ctx context.Context, input SubmitViewInput) (*models.SubmitViewResponse, error) {
	if err := svc.validate.Struct(input.Request); err != nil {
		return nil, errs.ErrValidateBadRequest
	}

	out, err := svc.viewIngest.IngestView(ctx, IngestViewInput{
		DeviceKey: input.DeviceKey,
		Wire: models.ViewWireMessage{
			ContentID:      input.Request.ContentID,
			DeviceKey:      input.DeviceKey,
			LocalTimestamp: input.Request.LocalTimestamp,
			Timezone:       input.Request.Timezone,
			Intent:         input.Request.Intent,
			Ordinal:        input.Request.Ordinal,
			Channel:        input.Request.Channel,
		},
	})
	if err != nil {
		return nil, err
	}

	return &models.SubmitViewResponse{Recorded: out.Accepted}, nil
}

func (svc *PlayerOpsServiceBackend) checkPostVisible(ctx context.Context, postID string, account *models.Account) error {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	var exists bool
	var post *models.Post
	err := withStoreRetry(func() error {
		var err error
		exists, post, err = svc.postsStorage.SelectExists(ctx, postID)
		return err
	})
	if err != nil {
		lFunc.Errorf("could not look up post %s: %s", postID, err)
		return err
	}

	// Invisible and missing are indistinguishable to the caller.
	if !exists || !post.VisibleTo(account) {
		return errs.ErrPostNotFound
	}

	return nil
}

func activeEmojis(reactions []models.Reaction) []string {
	emojis := make([]string, 0, len(reactions))
	for _, r := range reactions {
		emojis = append(emojis, r.Emoji)
	}
	return emojis
}
