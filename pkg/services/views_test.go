package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fabkury/makapix-sub005/pkg/cache"
	"github.com/fabkury/makapix-sub005/pkg/config"
	"github.com/fabkury/makapix-sub005/pkg/errs"
	"github.com/fabkury/makapix-sub005/pkg/eventbus"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewFixture struct {
	svc       ViewIngestService
	devices   *fakeDeviceRepo
	posts     *fakePostReader
	publisher *fakePublisher
	clock     *clockwork.FakeClock
}

func setupViewIngest(t *testing.T, rateLimit int64, rateWindow time.Duration) *viewFixture {
	t.Helper()

	owner := "acct-viewer"
	devices := newFakeDeviceRepo()
	_, err := devices.Insert(context.Background(), &models.Device{
		Key:            "device-1",
		OwnerAccountID: &owner,
		Status:         models.DeviceRegistered,
	})
	require.NoError(t, err)

	posts := &fakePostReader{posts: map[string]*models.Post{
		"post-1": {ID: "post-1", OwnerAccountID: "acct-author", Visibility: models.PostVisible},
		"post-own": {ID: "post-own", OwnerAccountID: owner, Visibility: models.PostVisible},
	}}

	memCache := cache.NewInMemoryCache()
	t.Cleanup(memCache.Stop)

	publisher := newFakePublisher()
	clock := clockwork.NewFakeClock()

	svc := NewViewIngestService(ViewIngestBuilder{
		Logger:         helpers.SetupLogger(config.None, "test", "View Ingest"),
		DevicesStorage: devices,
		PostsStorage:   posts,
		Cache:          memCache,
		Publisher:      publisher,
		Clock:          clock,
		DedupWindow:    10 * time.Minute,
		RateWindow:     rateWindow,
		RateLimit:      rateLimit,
	})

	return &viewFixture{svc: svc, devices: devices, posts: posts, publisher: publisher, clock: clock}
}

func wireView(contentID string, localTS int64) models.ViewWireMessage {
	return models.ViewWireMessage{
		ContentID:      contentID,
		DeviceKey:      "device-1",
		LocalTimestamp: localTS,
		Timezone:       "America/Sao_Paulo",
		Intent:         models.ViewIntentIntentional,
		Ordinal:        1,
		Channel:        "all",
	}
}

func TestIngestViewPublishesValidatedEvent(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)

	out, err := fx.svc.IngestView(context.Background(), IngestViewInput{
		DeviceKey: "device-1",
		Wire:      wireView("post-1", 1700000000),
	})
	require.NoError(t, err)
	assert.True(t, out.Accepted)

	msgs := fx.publisher.published(eventbus.TopicViewValidated)
	require.Len(t, msgs, 1)

	var event models.ViewEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &event))
	assert.Equal(t, "post-1", event.ContentID)
	assert.Equal(t, "device-1", event.DeviceKey)
	require.NotNil(t, event.ViewerAccountID)
	assert.Equal(t, "acct-viewer", *event.ViewerAccountID)
	require.NotNil(t, event.LocalTimestamp)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *event.LocalTimestamp)
	assert.Equal(t, fx.clock.Now().UTC(), event.ReceivedAt)
}

func TestIngestViewDeduplicatesRetransmissions(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)
	ctx := context.Background()

	first, err := fx.svc.IngestView(ctx, IngestViewInput{DeviceKey: "device-1", Wire: wireView("post-1", 42)})
	require.NoError(t, err)
	assert.True(t, first.Accepted)

	second, err := fx.svc.IngestView(ctx, IngestViewInput{DeviceKey: "device-1", Wire: wireView("post-1", 42)})
	require.NoError(t, err)
	assert.False(t, second.Accepted)
	assert.Equal(t, "duplicate", second.DropReason)

	assert.Len(t, fx.publisher.published(eventbus.TopicViewValidated), 1)
}

func TestIngestViewRateLimitsSixthEvent(t *testing.T) {
	fx := setupViewIngest(t, 5, 5*time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out, err := fx.svc.IngestView(ctx, IngestViewInput{
			DeviceKey: "device-1",
			Wire:      wireView("post-1", int64(1000+i)),
		})
		require.NoError(t, err, "event %d", i)
		assert.True(t, out.Accepted, "event %d", i)
	}

	_, err := fx.svc.IngestView(ctx, IngestViewInput{
		DeviceKey: "device-1",
		Wire:      wireView("post-1", 2000),
	})
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	assert.Len(t, fx.publisher.published(eventbus.TopicViewValidated), 5)
}

func TestIngestViewRateLimitedEventCanRetryAfterWindow(t *testing.T) {
	fx := setupViewIngest(t, 1, 20*time.Millisecond)
	ctx := context.Background()

	first, err := fx.svc.IngestView(ctx, IngestViewInput{DeviceKey: "device-1", Wire: wireView("post-1", 100)})
	require.NoError(t, err)
	assert.True(t, first.Accepted)

	_, err = fx.svc.IngestView(ctx, IngestViewInput{DeviceKey: "device-1", Wire: wireView("post-1", 200)})
	require.ErrorIs(t, err, errs.ErrRateLimited)

	// The rejection must not leave a dedup trace behind: the device sees
	// rate_limited on the request/response path and resends the same
	// view once the quota window reopens.
	time.Sleep(60 * time.Millisecond)

	retry, err := fx.svc.IngestView(ctx, IngestViewInput{DeviceKey: "device-1", Wire: wireView("post-1", 200)})
	require.NoError(t, err)
	assert.True(t, retry.Accepted)
	assert.Len(t, fx.publisher.published(eventbus.TopicViewValidated), 2)
}

func TestIngestViewSentinelTimestampStoredAsNull(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)

	out, err := fx.svc.IngestView(context.Background(), IngestViewInput{
		DeviceKey: "device-1",
		Wire:      wireView("post-1", models.UnsyncedClockSentinel),
	})
	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.Nil(t, out.Event.LocalTimestamp)
	assert.Equal(t, fx.clock.Now().UTC(), out.Event.ReceivedAt)
}

func TestIngestViewSkipsSelfView(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)

	out, err := fx.svc.IngestView(context.Background(), IngestViewInput{
		DeviceKey: "device-1",
		Wire:      wireView("post-own", 1),
	})
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, "self_view", out.DropReason)
	assert.Empty(t, fx.publisher.published(eventbus.TopicViewValidated))
}

func TestIngestViewRejectsUnregisteredDevice(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)
	ctx := context.Background()

	_, err := fx.devices.Insert(ctx, &models.Device{
		Key:    "device-pending",
		Status: models.DevicePendingRegistration,
	})
	require.NoError(t, err)

	wire := wireView("post-1", 1)
	wire.DeviceKey = "device-pending"
	_, err = fx.svc.IngestView(ctx, IngestViewInput{DeviceKey: "device-pending", Wire: wire})
	assert.ErrorIs(t, err, errs.ErrDeviceNotRegistered)
}

func TestIngestViewRejectsDeviceKeyMismatch(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)

	wire := wireView("post-1", 1)
	wire.DeviceKey = "device-other"
	_, err := fx.svc.IngestView(context.Background(), IngestViewInput{DeviceKey: "device-1", Wire: wire})
	assert.ErrorIs(t, err, errs.ErrDeviceNotRegistered)
}

func TestIngestViewUnknownContent(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)

	_, err := fx.svc.IngestView(context.Background(), IngestViewInput{
		DeviceKey: "device-1",
		Wire:      wireView("post-missing", 1),
	})
	assert.ErrorIs(t, err, errs.ErrPostNotFound)
}

func TestIngestViewDedupKeysAreScoped(t *testing.T) {
	fx := setupViewIngest(t, 10, 5*time.Second)
	ctx := context.Background()

	owner := "acct-other"
	_, err := fx.devices.Insert(ctx, &models.Device{
		Key:            "device-2",
		OwnerAccountID: &owner,
		Status:         models.DeviceRegistered,
	})
	require.NoError(t, err)

	// Same content and local timestamp from two devices are two events.
	for _, deviceKey := range []string{"device-1", "device-2"} {
		wire := wireView("post-1", 42)
		wire.DeviceKey = deviceKey
		out, err := fx.svc.IngestView(ctx, IngestViewInput{DeviceKey: deviceKey, Wire: wire})
		require.NoError(t, err, fmt.Sprintf("device %s", deviceKey))
		assert.True(t, out.Accepted)
	}

	assert.Len(t, fx.publisher.published(eventbus.TopicViewValidated), 2)
}
