package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PostgresDeviceStore struct {
	db *gorm.DB
}

func NewDeviceRepository(logger *logrus.Entry, db *gorm.DB) (storage.DeviceRepo, error) {
	if err := db.Table("devices").AutoMigrate(&models.Device{}); err != nil {
		return nil, err
	}

	return &PostgresDeviceStore{
		db: db,
	}, nil
}

func (s *PostgresDeviceStore) SelectExists(ctx context.Context, key string) (bool, *models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).Table("devices").First(&device, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	return true, &device, nil
}

func (s *PostgresDeviceStore) SelectByPairingCode(ctx context.Context, code string) (bool, *models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).Table("devices").
		Where("pairing_code::jsonb ->> 'code' = ?", code).
		First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	return true, &device, nil
}

func (s *PostgresDeviceStore) Insert(ctx context.Context, device *models.Device) (*models.Device, error) {
	if err := s.db.WithContext(ctx).Table("devices").Create(device).Error; err != nil {
		return nil, err
	}

	return device, nil
}

func (s *PostgresDeviceStore) Update(ctx context.Context, device *models.Device) (*models.Device, error) {
	if err := s.db.WithContext(ctx).Table("devices").Save(device).Error; err != nil {
		return nil, err
	}

	return device, nil
}

func (s *PostgresDeviceStore) UpdateLastSeen(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Table("devices").
		Where("key = ?", key).
		Update("last_seen", time.Now()).Error
}
