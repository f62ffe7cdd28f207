package services

import (
	"context"
	"sync"
	"time"

	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// PresenceService tracks device liveness from heartbeats and broker
// last-will notices. State is in memory only; a restart comes back up
// knowing nothing until devices report in again.
type PresenceService interface {
	HandleHeartbeat(ctx context.Context, input HeartbeatInput) error
	HandleOffline(ctx context.Context, deviceKey string) error
	GetPresence(ctx context.Context, deviceKey string) (*models.DevicePresence, error)
	Stop()
}

type PresenceServiceBackend struct {
	mu        sync.Mutex
	presences map[string]*models.DevicePresence

	// Each online device carries one grace timer on the injected clock.
	// A heartbeat rearms it; silence past the grace period flips the
	// device to STALE without waiting for the broker's last will.
	timers map[string]clockwork.Timer

	gracePeriod   time.Duration
	deviceStorage storage.DeviceRepo
	clock         clockwork.Clock
	logger        *logrus.Entry
}

type PresenceBuilder struct {
	Logger        *logrus.Entry
	DeviceStorage storage.DeviceRepo
	GracePeriod   time.Duration
	Clock         clockwork.Clock
}

func NewPresenceService(builder PresenceBuilder) PresenceService {
	clock := builder.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &PresenceServiceBackend{
		presences:     map[string]*models.DevicePresence{},
		timers:        map[string]clockwork.Timer{},
		gracePeriod:   builder.GracePeriod,
		deviceStorage: builder.DeviceStorage,
		clock:         clock,
		logger:        builder.Logger,
	}
}

type HeartbeatInput struct {
	DeviceKey          string
	DisplayedContentID string
}

func (svc *PresenceServiceBackend) HandleHeartbeat(ctx context.Context, input HeartbeatInput) error {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)
	now := svc.clock.Now()

	svc.mu.Lock()
	presence, ok := svc.presences[input.DeviceKey]
	if !ok {
		presence = &models.DevicePresence{DeviceKey: input.DeviceKey}
		svc.presences[input.DeviceKey] = presence
	}
	presence.Status = models.PresenceOnline
	presence.LastSeen = now
	if input.DisplayedContentID != "" {
		presence.DisplayedContentID = input.DisplayedContentID
	}
	svc.rearmGraceTimer(input.DeviceKey)
	svc.mu.Unlock()

	// Persisted last-seen is informational; a write failure must not
	// disturb the in-memory tracker.
	if err := svc.deviceStorage.UpdateLastSeen(ctx, input.DeviceKey); err != nil {
		lFunc.Warnf("could not persist last-seen for device %s: %s", input.DeviceKey, err)
	}

	return nil
}

func (svc *PresenceServiceBackend) HandleOffline(ctx context.Context, deviceKey string) error {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	svc.mu.Lock()
	presence, ok := svc.presences[deviceKey]
	if ok {
		presence.Status = models.PresenceOffline
		presence.LastSeen = svc.clock.Now()
	}
	if timer, armed := svc.timers[deviceKey]; armed {
		timer.Stop()
		delete(svc.timers, deviceKey)
	}
	svc.mu.Unlock()

	if ok {
		lFunc.Debugf("device %s reported offline", deviceKey)
	}
	return nil
}

func (svc *PresenceServiceBackend) GetPresence(ctx context.Context, deviceKey string) (*models.DevicePresence, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	presence, ok := svc.presences[deviceKey]
	if !ok {
		return &models.DevicePresence{
			DeviceKey: deviceKey,
			Status:    models.PresenceOffline,
		}, nil
	}

	copied := *presence
	return &copied, nil
}

// rearmGraceTimer is called with the mutex held.
func (svc *PresenceServiceBackend) rearmGraceTimer(deviceKey string) {
	if timer, armed := svc.timers[deviceKey]; armed {
		timer.Stop()
	}
	svc.timers[deviceKey] = svc.clock.AfterFunc(svc.gracePeriod, func() {
		svc.markStale(deviceKey)
	})
}

func (svc *PresenceServiceBackend) markStale(deviceKey string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	presence, ok := svc.presences[deviceKey]
	if !ok || presence.Status != models.PresenceOnline {
		return
	}

	// A heartbeat can land between the timer firing and this callback
	// taking the lock; only flip when the silence spans the full grace.
	if svc.clock.Now().Sub(presence.LastSeen) < svc.gracePeriod {
		return
	}

	presence.Status = models.PresenceStale
}

func (svc *PresenceServiceBackend) Stop() {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	for key, timer := range svc.timers {
		timer.Stop()
		delete(svc.timers, key)
	}
}
