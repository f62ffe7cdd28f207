package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/fabkury/makapix-sub005/pkg/cache"
	"github.com/fabkury/makapix-sub005/pkg/errs"
	"github.com/fabkury/makapix-sub005/pkg/eventbus"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/go-playground/validator/v10"
	"github.com/jakehl/goid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ViewIngestService is the single validation pipeline behind both view
// paths: the fire-and-forget topic and the request/response operation.
// The transports decide which outcomes are surfaced and which are silent.
type ViewIngestService interface {
	IngestView(ctx context.Context, input IngestViewInput) (*IngestViewOutput, error)
}

type ViewIngestServiceBackend struct {
	devicesStorage storage.DeviceRepo
	postsStorage   storage.PostReader
	cache          cache.CheckAndSetCache
	publisher      message.Publisher
	clock          clockwork.Clock
	validate       *validator.Validate
	dedupWindow    time.Duration
	rateWindow     time.Duration
	rateLimit      int64
	logger         *logrus.Entry
}

type ViewIngestBuilder struct {
	Logger         *logrus.Entry
	DevicesStorage storage.DeviceRepo
	PostsStorage   storage.PostReader
	Cache          cache.CheckAndSetCache
	Publisher      message.Publisher
	Clock          clockwork.Clock
	DedupWindow    time.Duration
	RateWindow     time.Duration
	RateLimit      int64
}

func NewViewIngestService(builder ViewIngestBuilder) ViewIngestService {
	clock := builder.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &ViewIngestServiceBackend{
		devicesStorage: builder.DevicesStorage,
		postsStorage:   builder.PostsStorage,
		cache:          builder.Cache,
		publisher:      builder.Publisher,
		clock:          clock,
		validate:       validator.New(),
		dedupWindow:    builder.DedupWindow,
		rateWindow:     builder.RateWindow,
		rateLimit:      builder.RateLimit,
		logger:         builder.Logger,
	}
}

type IngestViewInput struct {
	// DeviceKey is the transport-authenticated identity (topic segment or
	// router resolution), never trusted from the payload.
	DeviceKey string
	Wire      models.ViewWireMessage
}

type IngestViewOutput struct {
	// Accepted is false for silent skips: duplicate redelivery and
	// self-views. Both report success on the request/response path.
	Accepted   bool
	DropReason string
	Event      *models.ViewEvent
}

func (svc *ViewIngestServiceBackend) IngestView(ctx context.Context, input IngestViewInput) (*IngestViewOutput, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := svc.validate.Struct(input.Wire); err != nil {
		lFunc.Warnf("invalid view payload from device %s: %s", input.DeviceKey, err)
		return nil, errs.ErrValidateBadRequest
	}

	// The payload claims a device key so offline tooling can replay
	// captures, but the transport identity always wins.
	if input.Wire.DeviceKey != input.DeviceKey {
		lFunc.Warnf("device %s claimed key %s in view payload", input.DeviceKey, input.Wire.DeviceKey)
		return nil, errs.ErrDeviceNotRegistered
	}

	exists, device, err := svc.devicesStorage.SelectExists(ctx, input.DeviceKey)
	if err != nil {
		lFunc.Errorf("could not look up device %s: %s", input.DeviceKey, err)
		return nil, err
	}
	if !exists || device.Status != models.DeviceRegistered {
		return nil, errs.ErrDeviceNotRegistered
	}

	// The dedup key is only recorded once the event reaches a terminal
	// outcome. A rate-limited or failed event must stay retryable after
	// the rejection, not be swallowed as a duplicate for the whole
	// dedup window.
	dedupKey := fmt.Sprintf("view:%s:%s:%d", input.DeviceKey, input.Wire.ContentID, input.Wire.LocalTimestamp)
	if svc.cache.Contains(dedupKey) {
		lFunc.Debugf("duplicate view from device %s for content %s", input.DeviceKey, input.Wire.ContentID)
		return &IngestViewOutput{Accepted: false, DropReason: "duplicate"}, nil
	}

	rateKey := fmt.Sprintf("rate:view:%s", input.DeviceKey)
	if !svc.cache.CheckAndIncrement(rateKey, svc.rateWindow, svc.rateLimit) {
		return nil, errs.ErrRateLimited
	}

	postExists, post, err := svc.postsStorage.SelectExists(ctx, input.Wire.ContentID)
	if err != nil {
		lFunc.Errorf("could not look up content %s: %s", input.Wire.ContentID, err)
		return nil, err
	}
	if !postExists {
		return nil, errs.ErrPostNotFound
	}

	// No self-view inflation: owner watching their own content does not
	// count.
	if device.OwnerAccountID != nil && post.OwnerAccountID == *device.OwnerAccountID {
		lFunc.Debugf("skipping self-view of content %s by device %s", post.ID, device.Key)
		svc.cache.Mark(dedupKey, svc.dedupWindow)
		return &IngestViewOutput{Accepted: false, DropReason: "self_view"}, nil
	}

	event := &models.ViewEvent{
		ID:              goid.NewV4UUID().String(),
		ContentID:       input.Wire.ContentID,
		DeviceKey:       input.DeviceKey,
		ViewerAccountID: device.OwnerAccountID,
		Timezone:        input.Wire.Timezone,
		Intent:          input.Wire.Intent,
		Ordinal:         input.Wire.Ordinal,
		Channel:         input.Wire.Channel,
		ReceivedAt:      svc.clock.Now().UTC(),
	}

	// Devices with an unsynchronized clock report the sentinel; those
	// events carry no local timestamp and order by receipt time.
	if input.Wire.LocalTimestamp != models.UnsyncedClockSentinel {
		localTS := time.Unix(input.Wire.LocalTimestamp, 0).UTC()
		event.LocalTimestamp = &localTS
	}

	payload, err := json.Marshal(event)
	if err != nil {
		lFunc.Errorf("could not serialize view event: %s", err)
		return nil, err
	}

	// Durable persistence happens in the async writer; publishing must
	// not block the subscriber's message loop on a slow datastore.
	msg := message.NewMessage(event.ID, payload)
	if err := svc.publisher.Publish(eventbus.TopicViewValidated, msg); err != nil {
		lFunc.Errorf("could not enqueue view event %s: %s", event.ID, err)
		return nil, err
	}

	svc.cache.Mark(dedupKey, svc.dedupWindow)
	return &IngestViewOutput{Accepted: true, Event: event}, nil
}
