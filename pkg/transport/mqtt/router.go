package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fabkury/makapix-sub005/pkg/cache"
	"github.com/fabkury/makapix-sub005/pkg/errs"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/services"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
)

// RPCRouter turns request-topic messages into operation calls and
// publishes exactly one response envelope per correlation id. Handlers
// run on a bounded worker pool so one slow device cannot stall the rest.
type RPCRouter struct {
	ops             services.PlayerOpsService
	deviceStorage   storage.DeviceRepo
	accountsStorage storage.AccountReader
	rateCache       cache.CheckAndSetCache
	publisher       Publisher
	pool            pond.Pool
	topicRoot       string
	rateWindow      time.Duration
	rateLimit       int64
	logger          *logrus.Entry
}

type RPCRouterBuilder struct {
	Logger          *logrus.Entry
	Ops             services.PlayerOpsService
	DeviceStorage   storage.DeviceRepo
	AccountsStorage storage.AccountReader
	RateCache       cache.CheckAndSetCache
	Publisher       Publisher
	TopicRoot       string
	Workers         int
	RateWindow      time.Duration
	RateLimit       int64
}

func NewRPCRouter(builder RPCRouterBuilder) *RPCRouter {
	return &RPCRouter{
		ops:             builder.Ops,
		deviceStorage:   builder.DeviceStorage,
		accountsStorage: builder.AccountsStorage,
		rateCache:       builder.RateCache,
		publisher:       builder.Publisher,
		pool:            pond.NewPool(builder.Workers),
		topicRoot:       builder.TopicRoot,
		rateWindow:      builder.RateWindow,
		rateLimit:       builder.RateLimit,
		logger:          builder.Logger,
	}
}

// Register subscribes the router on the given client. Called from the
// client's OnConnect handler so subscriptions survive reconnects.
func (r *RPCRouter) Register(client mqtt.Client) error {
	token := client.Subscribe(RequestsFilter(r.topicRoot), 1, func(_ mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		payload := append([]byte(nil), msg.Payload()...)
		r.pool.Submit(func() {
			r.HandleRequest(topic, payload)
		})
	})
	token.Wait()
	return token.Error()
}

func (r *RPCRouter) Stop() {
	r.pool.StopAndWait()
}

// HandleRequest processes one inbound request message. Every path,
// including every failure, ends in a single published response.
func (r *RPCRouter) HandleRequest(topic string, payload []byte) {
	deviceKey, correlationID, err := ParseRequestTopic(r.topicRoot, topic)
	if err != nil {
		// Without a parseable topic there is nowhere to respond.
		r.logger.Warnf("dropping message on unparseable topic %s: %s", topic, err)
		return
	}

	ctx := helpers.DeviceContext(deviceKey)
	lFunc := helpers.ConfigureLogger(ctx, r.logger)

	var envelope models.RequestEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		r.respondError(ctx, deviceKey, correlationID, models.PlayerErrMalformedRequest, "undecodable request envelope")
		return
	}
	if envelope.Operation == "" {
		r.respondError(ctx, deviceKey, correlationID, models.PlayerErrMalformedRequest, "missing operation")
		return
	}

	account, errCode := r.authenticate(ctx, deviceKey)
	if errCode != "" {
		r.respondError(ctx, deviceKey, correlationID, errCode, string(errCode))
		return
	}

	rateKey := fmt.Sprintf("rate:rpc:%s", deviceKey)
	if !r.rateCache.CheckAndIncrement(rateKey, r.rateWindow, r.rateLimit) {
		r.respondError(ctx, deviceKey, correlationID, models.PlayerErrRateLimited, "request quota exceeded")
		return
	}

	result, err := r.dispatch(ctx, deviceKey, account, envelope)
	if err != nil {
		code, msg := mapOperationError(err)
		if code == models.PlayerErrInternal {
			lFunc.Errorf("operation %s failed: %s", envelope.Operation, err)
		}
		r.respondError(ctx, deviceKey, correlationID, code, msg)
		return
	}

	r.respond(ctx, deviceKey, correlationID, models.ResponseEnvelope{
		CorrelationID: correlationID,
		Success:       true,
		Result:        result,
	})
}

// authenticate resolves the device's owner account and applies the trust
// chain: the device must be registered and its owner able to operate.
func (r *RPCRouter) authenticate(ctx context.Context, deviceKey string) (*models.Account, models.PlayerErrorCode) {
	lFunc := helpers.ConfigureLogger(ctx, r.logger)

	exists, device, err := r.deviceStorage.SelectExists(ctx, deviceKey)
	if err != nil {
		lFunc.Errorf("could not look up device %s: %s", deviceKey, err)
		return nil, models.PlayerErrInternal
	}
	if !exists || device.Status != models.DeviceRegistered || device.OwnerAccountID == nil {
		return nil, models.PlayerErrUnauthenticated
	}

	accountExists, account, err := r.accountsStorage.SelectExists(ctx, *device.OwnerAccountID)
	if err != nil {
		lFunc.Errorf("could not look up account %s: %s", *device.OwnerAccountID, err)
		return nil, models.PlayerErrInternal
	}
	if !accountExists {
		return nil, models.PlayerErrUnauthenticated
	}
	if !account.CanOperate() {
		return nil, models.PlayerErrForbidden
	}

	return account, ""
}

func (r *RPCRouter) dispatch(ctx context.Context, deviceKey string, account *models.Account, envelope models.RequestEnvelope) (json.RawMessage, error) {
	switch envelope.Operation {
	case models.OperationQueryPosts:
		var req models.QueryPostsRequest
		if err := json.Unmarshal(envelope.Payload, &req); err != nil {
			return nil, errs.ErrValidateBadRequest
		}
		resp, err := r.ops.QueryPosts(ctx, services.QueryPostsInput{Account: account, Request: req})
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case models.OperationSubmitReaction:
		var req models.ReactionRequest
		if err := json.Unmarshal(envelope.Payload, &req); err != nil {
			return nil, errs.ErrValidateBadRequest
		}
		resp, err := r.ops.SubmitReaction(ctx, services.ReactionInput{Account: account, Request: req})
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case models.OperationRevokeReaction:
		var req models.ReactionRequest
		if err := json.Unmarshal(envelope.Payload, &req); err != nil {
			return nil, errs.ErrValidateBadRequest
		}
		resp, err := r.ops.RevokeReaction(ctx, services.ReactionInput{Account: account, Request: req})
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case models.OperationGetComments:
		var req models.GetCommentsRequest
		if err := json.Unmarshal(envelope.Payload, &req); err != nil {
			return nil, errs.ErrValidateBadRequest
		}
		resp, err := r.ops.GetComments(ctx, services.GetCommentsInput{Account: account, Request: req})
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case models.OperationSubmitView:
		var req models.SubmitViewRequest
		if err := json.Unmarshal(envelope.Payload, &req); err != nil {
			return nil, errs.ErrValidateBadRequest
		}
		resp, err := r.ops.SubmitView(ctx, services.SubmitViewInput{Account: account, DeviceKey: deviceKey, Request: req})
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	default:
		return nil, errs.ErrValidateBadRequest
	}
}

func (r *RPCRouter) respondError(ctx context.Context, deviceKey, correlationID string, code models.PlayerErrorCode, message string) {
	r.respond(ctx, deviceKey, correlationID, models.ResponseEnvelope{
		CorrelationID: correlationID,
		Success:       false,
		Error: &models.PlayerError{
			Code:    code,
			Message: message,
		},
	})
}

func (r *RPCRouter) respond(ctx context.Context, deviceKey, correlationID string, envelope models.ResponseEnvelope) {
	lFunc := helpers.ConfigureLogger(ctx, r.logger)

	payload, err := json.Marshal(envelope)
	if err != nil {
		lFunc.Errorf("could not encode response for %s: %s", correlationID, err)
		return
	}

	topic := ResponseTopic(r.topicRoot, deviceKey, correlationID)
	if err := r.publisher.Publish(topic, 1, false, payload); err != nil {
		lFunc.Errorf("could not publish response to %s: %s", topic, err)
	}
}

func mapOperationError(err error) (models.PlayerErrorCode, string) {
	switch {
	case errors.Is(err, errs.ErrValidateBadRequest):
		return models.PlayerErrMalformedRequest, err.Error()
	case errors.Is(err, errs.ErrPostNotFound), errors.Is(err, errs.ErrCommentNotFound):
		return models.PlayerErrNotFound, err.Error()
	case errors.Is(err, errs.ErrReactionLimit):
		return models.PlayerErrForbidden, err.Error()
	case errors.Is(err, errs.ErrRateLimited):
		return models.PlayerErrRateLimited, err.Error()
	case errors.Is(err, errs.ErrDeviceNotRegistered):
		return models.PlayerErrUnauthenticated, err.Error()
	default:
		return models.PlayerErrInternal, "internal error"
	}
}
