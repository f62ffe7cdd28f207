package storage

import (
	"context"

	"github.com/fabkury/makapix-sub005/pkg/models"
)

type DeviceRepo interface {
	SelectExists(ctx context.Context, key string) (bool, *models.Device, error)
	SelectByPairingCode(ctx context.Context, code string) (bool, *models.Device, error)
	Insert(ctx context.Context, device *models.Device) (*models.Device, error)
	Update(ctx context.Context, device *models.Device) (*models.Device, error)
	UpdateLastSeen(ctx context.Context, key string) error
}

type AccountReader interface {
	SelectExists(ctx context.Context, id string) (bool, *models.Account, error)
}
