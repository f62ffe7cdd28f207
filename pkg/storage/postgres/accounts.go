package postgres

import (
	"context"
	"errors"

	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PostgresAccountStore reads the platform's accounts table. The REST layer
// owns writes; this layer only resolves owner standing.
type PostgresAccountStore struct {
	db *gorm.DB
}

func NewAccountReader(logger *logrus.Entry, db *gorm.DB) (storage.AccountReader, error) {
	return &PostgresAccountStore{
		db: db,
	}, nil
}

func (s *PostgresAccountStore) SelectExists(ctx context.Context, id string) (bool, *models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Table("accounts").First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	return true, &account, nil
}
