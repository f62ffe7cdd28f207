package postgres

import (
	"context"

	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/resources"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PostgresCommentStore struct {
	db *gorm.DB
}

func NewCommentReader(logger *logrus.Entry, db *gorm.DB) (storage.CommentReader, error) {
	return &PostgresCommentStore{
		db: db,
	}, nil
}

type commentCursor struct {
	Offset int `json:"off"`
	Limit  int `json:"lim"`
}

func (s *PostgresCommentStore) SelectPage(ctx context.Context, query resources.CommentQuery) ([]models.Comment, string, error) {
	cursor := commentCursor{Offset: 0, Limit: query.PageSize}
	if query.NextBookmark != "" {
		if err := helpers.DecodeBookmark(query.NextBookmark, &cursor); err != nil {
			return nil, "", err
		}
	}

	tx := s.db.WithContext(ctx).Table("comments").
		Where("post_id = ?", query.PostID)

	if !query.IncludeModerated {
		tx = tx.Where("hidden = ?", false)
	}

	// Flatten the tree keeping replies grouped directly under their root
	// comment, oldest roots first.
	tx = tx.Order("COALESCE(parent_comment_id, id) ASC, created_at ASC, id ASC")

	var comments []models.Comment
	if err := tx.Offset(cursor.Offset).Limit(cursor.Limit).Find(&comments).Error; err != nil {
		return nil, "", err
	}

	if len(comments) < cursor.Limit {
		return comments, "", nil
	}

	bookmark, err := helpers.EncodeBookmark(commentCursor{
		Offset: cursor.Offset + cursor.Limit,
		Limit:  cursor.Limit,
	})
	if err != nil {
		return nil, "", err
	}

	return comments, bookmark, nil
}
