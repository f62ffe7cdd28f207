package postgres

import (
	"context"

	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresViewEventStore struct {
	db *gorm.DB
}

func NewViewEventRepository(logger *logrus.Entry, db *gorm.DB) (storage.ViewEventRepo, error) {
	if err := db.Table("view_events").AutoMigrate(&models.ViewEvent{}); err != nil {
		return nil, err
	}

	return &PostgresViewEventStore{
		db: db,
	}, nil
}

func (s *PostgresViewEventStore) Insert(ctx context.Context, event *models.ViewEvent) (*models.ViewEvent, error) {
	// The async writer retries on failure; replaying an already stored
	// event id must stay a no-op.
	err := s.db.WithContext(ctx).Table("view_events").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event).Error
	if err != nil {
		return nil, err
	}

	return event, nil
}
