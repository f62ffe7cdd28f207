package storage

import (
	"context"

	"github.com/fabkury/makapix-sub005/pkg/models"
)

type ViewEventRepo interface {
	Insert(ctx context.Context, event *models.ViewEvent) (*models.ViewEvent, error)
}
