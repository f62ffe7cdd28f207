package postgres

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/resources"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PostgresPostStore struct {
	db *gorm.DB
}

func NewPostReader(logger *logrus.Entry, db *gorm.DB) (storage.PostReader, error) {
	return &PostgresPostStore{
		db: db,
	}, nil
}

func (s *PostgresPostStore) SelectExists(ctx context.Context, id string) (bool, *models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Table("posts").First(&post, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	return true, &post, nil
}

func (s *PostgresPostStore) SelectPage(ctx context.Context, query resources.PostQuery) ([]models.Post, string, error) {
	tx := s.db.WithContext(ctx).Table("posts")

	switch query.Channel {
	case models.ChannelPromoted:
		tx = tx.Where("promoted = ?", true)
	case models.ChannelUser:
		tx = tx.Where("owner_account_id = ?", query.ViewerAccountID)
	}

	// Owner visibility rules apply before pagination.
	if query.ViewerIsModerator {
		tx = tx.Where("visibility IN ? OR owner_account_id = ?",
			[]models.PostVisibility{models.PostVisible, models.PostModeratorOnly}, query.ViewerAccountID)
	} else {
		tx = tx.Where("visibility = ? OR owner_account_id = ?",
			models.PostVisible, query.ViewerAccountID)
	}

	cursor := resources.PostCursor{Sort: query.Sort, Seed: query.Seed}
	if query.NextBookmark != "" {
		if err := helpers.DecodeBookmark(query.NextBookmark, &cursor); err != nil {
			return nil, "", err
		}
	}

	order, where, args := cursorClauses(cursor)
	if where != "" {
		tx = tx.Where(where, args...)
	}
	tx = tx.Order(order)

	var posts []models.Post
	if err := tx.Limit(query.PageSize).Find(&posts).Error; err != nil {
		return nil, "", err
	}

	if len(posts) < query.PageSize {
		return posts, "", nil
	}

	bookmark, err := helpers.EncodeBookmark(nextCursor(cursor, posts[len(posts)-1]))
	if err != nil {
		return nil, "", err
	}

	return posts, bookmark, nil
}

// cursorClauses translates a cursor into its ORDER BY expression and,
// when the cursor points past a row, the WHERE predicate that resumes
// after it. The same cursor always produces the same clauses, which is
// what keeps a repeated bookmark on the same page.
func cursorClauses(cursor resources.PostCursor) (order string, where string, args []any) {
	switch cursor.Sort {
	case models.SortCreatedAt:
		order = "created_at DESC, id DESC"
		if cursor.LastKey != "" {
			where = "(created_at, id) < (?::timestamptz, ?)"
			args = []any{cursor.LastKey, cursor.LastID}
		}
	case models.SortRandom:
		shuffle := "md5(id || '" + sanitizeSeed(cursor.Seed) + "')"
		order = shuffle + " ASC, id ASC"
		if cursor.LastKey != "" {
			where = fmt.Sprintf("(%s, id) > (?, ?)", shuffle)
			args = []any{cursor.LastKey, cursor.LastID}
		}
	default:
		order = "server_order ASC, id ASC"
		if cursor.LastKey != "" {
			where = "(server_order, id) > (?::bigint, ?)"
			args = []any{cursor.LastKey, cursor.LastID}
		}
	}
	return order, where, args
}

// nextCursor derives the bookmark state pointing past the last row of a
// full page.
func nextCursor(cursor resources.PostCursor, last models.Post) resources.PostCursor {
	next := resources.PostCursor{
		Sort:   cursor.Sort,
		Seed:   cursor.Seed,
		LastID: last.ID,
	}
	switch cursor.Sort {
	case models.SortCreatedAt:
		next.LastKey = last.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999Z07:00")
	case models.SortRandom:
		next.LastKey = shuffleKey(last.ID, cursor.Seed)
	default:
		next.LastKey = fmt.Sprintf("%d", last.ServerOrder)
	}
	return next
}

// sanitizeSeed keeps the seed safe to inline in an ORDER BY expression.
// Seeds are server generated hex, so anything else is stripped.
func sanitizeSeed(seed string) string {
	out := make([]rune, 0, len(seed))
	for _, r := range seed {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			out = append(out, r)
		}
	}
	return string(out)
}

// shuffleKey mirrors the md5(id || seed) expression the random sort
// orders by, computed in process so deriving a cursor costs no round
// trip and cannot fail mid-pagination.
func shuffleKey(postID, seed string) string {
	sum := md5.Sum([]byte(postID + sanitizeSeed(seed)))
	return hex.EncodeToString(sum[:])
}
