package postgres

import (
	"context"

	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresReactionStore struct {
	db *gorm.DB
}

func NewReactionRepository(logger *logrus.Entry, db *gorm.DB) (storage.ReactionRepo, error) {
	if err := db.Table("reactions").AutoMigrate(&models.Reaction{}); err != nil {
		return nil, err
	}

	return &PostgresReactionStore{
		db: db,
	}, nil
}

func (s *PostgresReactionStore) SelectByAccountAndPost(ctx context.Context, accountID, postID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := s.db.WithContext(ctx).Table("reactions").
		Where("account_id = ? AND post_id = ?", accountID, postID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}

	return reactions, nil
}

func (s *PostgresReactionStore) Insert(ctx context.Context, reaction *models.Reaction) error {
	// Set semantics: replaying a submit is a no-op.
	return s.db.WithContext(ctx).Table("reactions").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(reaction).Error
}

func (s *PostgresReactionStore) Delete(ctx context.Context, postID, accountID, emoji string) error {
	return s.db.WithContext(ctx).Table("reactions").
		Where("post_id = ? AND account_id = ? AND emoji = ?", postID, accountID, emoji).
		Delete(&models.Reaction{}).Error
}
