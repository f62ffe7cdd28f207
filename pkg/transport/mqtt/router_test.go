package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fabkury/makapix-sub005/pkg/cache"
	"github.com/fabkury/makapix-sub005/pkg/config"
	"github.com/fabkury/makapix-sub005/pkg/errs"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMessage struct {
	topic   string
	payload []byte
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (p *recordingPublisher) Publish(topic string, _ byte, _ bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, recordedMessage{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *recordingPublisher) all() []recordedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedMessage(nil), p.messages...)
}

type deviceTable struct {
	devices map[string]*models.Device
}

func (r *deviceTable) SelectExists(_ context.Context, key string) (bool, *models.Device, error) {
	device, ok := r.devices[key]
	if !ok {
		return false, nil, nil
	}
	copied := *device
	return true, &copied, nil
}

func (r *deviceTable) SelectByPairingCode(context.Context, string) (bool, *models.Device, error) {
	return false, nil, nil
}

func (r *deviceTable) Insert(_ context.Context, device *models.Device) (*models.Device, error) {
	return device, nil
}

func (r *deviceTable) Update(_ context.Context, device *models.Device) (*models.Device, error) {
	return device, nil
}

func (r *deviceTable) UpdateLastSeen(context.Context, string) error {
	return nil
}

type accountTable struct {
	accounts map[string]*models.Account
}

func (r *accountTable) SelectExists(_ context.Context, id string) (bool, *models.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return false, nil, nil
	}
	copied := *account
	return true, &copied, nil
}

// opsStub answers every operation deterministically so redelivered
// requests produce identical responses.
type opsStub struct {
	queryErr error
}

func (s *opsStub) QueryPosts(context.Context, services.QueryPostsInput) (*models.QueryPostsResponse, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &models.QueryPostsResponse{
		Posts: []models.PostSummary{{ID: "post-1", Title: "sunset", Author: "author"}},
	}, nil
}

func (s *opsStub) SubmitReaction(context.Context, services.ReactionInput) (*models.ReactionResponse, error) {
	return &models.ReactionResponse{PostID: "post-1", ActiveReactions: []string{"🔥"}}, nil
}

func (s *opsStub) RevokeReaction(context.Context, services.ReactionInput) (*models.ReactionResponse, error) {
	return &models.ReactionResponse{PostID: "post-1"}, nil
}

func (s *opsStub) GetComments(context.Context, services.GetCommentsInput) (*models.GetCommentsResponse, error) {
	return &models.GetCommentsResponse{}, nil
}

func (s *opsStub) SubmitView(context.Context, services.SubmitViewInput) (*models.SubmitViewResponse, error) {
	return &models.SubmitViewResponse{Recorded: true}, nil
}

type routerFixture struct {
	router    *RPCRouter
	publisher *recordingPublisher
	ops       *opsStub
	devices   *deviceTable
	accounts  *accountTable
}

func setupRouter(t *testing.T, rateLimit int64) *routerFixture {
	t.Helper()

	owner := "acct-1"
	devices := &deviceTable{devices: map[string]*models.Device{
		"device-1": {Key: "device-1", OwnerAccountID: &owner, Status: models.DeviceRegistered},
		"device-pending": {Key: "device-pending", Status: models.DevicePendingRegistration},
	}}
	banned := "acct-banned"
	devices.devices["device-banned"] = &models.Device{Key: "device-banned", OwnerAccountID: &banned, Status: models.DeviceRegistered}

	accounts := &accountTable{accounts: map[string]*models.Account{
		"acct-1":      {ID: "acct-1", Username: "viewer", Status: models.AccountEnabled},
		"acct-banned": {ID: "acct-banned", Username: "banned", Status: models.AccountBanned},
	}}

	memCache := cache.NewInMemoryCache()
	t.Cleanup(memCache.Stop)

	publisher := &recordingPublisher{}
	ops := &opsStub{}

	router := NewRPCRouter(RPCRouterBuilder{
		Logger:          helpers.SetupLogger(config.None, "test", "MQTT"),
		Ops:             ops,
		DeviceStorage:   devices,
		AccountsStorage: accounts,
		RateCache:       memCache,
		Publisher:       publisher,
		TopicRoot:       "makapix",
		Workers:         4,
		RateWindow:      time.Minute,
		RateLimit:       rateLimit,
	})
	t.Cleanup(router.Stop)

	return &routerFixture{router: router, publisher: publisher, ops: ops, devices: devices, accounts: accounts}
}

func requestPayload(t *testing.T, operation models.PlayerOperation, correlationID string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	envelope, err := json.Marshal(models.RequestEnvelope{
		Operation:     operation,
		CorrelationID: correlationID,
		Payload:       raw,
		IssuedAt:      time.Now(),
	})
	require.NoError(t, err)
	return envelope
}

func decodeResponse(t *testing.T, payload []byte) models.ResponseEnvelope {
	t.Helper()
	var envelope models.ResponseEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	return envelope
}

func TestRouterPublishesExactlyOneResponse(t *testing.T) {
	fx := setupRouter(t, 100)

	payload := requestPayload(t, models.OperationQueryPosts, "corr-1", models.QueryPostsRequest{
		Channel: models.ChannelAll, Sort: models.SortServerOrder, Count: 10,
	})
	fx.router.HandleRequest("makapix/player/device-1/request/corr-1", payload)

	messages := fx.publisher.all()
	require.Len(t, messages, 1)
	assert.Equal(t, "makapix/player/device-1/response/corr-1", messages[0].topic)

	resp := decodeResponse(t, messages[0].payload)
	assert.True(t, resp.Success)
	assert.Equal(t, "corr-1", resp.CorrelationID)
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.Result)
}

func TestRouterRedeliveryYieldsIdenticalResponses(t *testing.T) {
	fx := setupRouter(t, 100)

	payload := requestPayload(t, models.OperationSubmitReaction, "corr-7", models.ReactionRequest{
		PostID: "post-1", Emoji: "🔥",
	})

	// At-least-once delivery: the same message handled twice answers the
	// same correlation id with the same body each time.
	fx.router.HandleRequest("makapix/player/device-1/request/corr-7", payload)
	fx.router.HandleRequest("makapix/player/device-1/request/corr-7", payload)

	messages := fx.publisher.all()
	require.Len(t, messages, 2)
	assert.Equal(t, messages[0].topic, messages[1].topic)
	assert.JSONEq(t, string(messages[0].payload), string(messages[1].payload))
}

func TestRouterMalformedEnvelope(t *testing.T) {
	fx := setupRouter(t, 100)

	fx.router.HandleRequest("makapix/player/device-1/request/corr-1", []byte("{not json"))

	messages := fx.publisher.all()
	require.Len(t, messages, 1)
	resp := decodeResponse(t, messages[0].payload)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.PlayerErrMalformedRequest, resp.Error.Code)
	assert.Equal(t, "corr-1", resp.CorrelationID)
}

func TestRouterAuthChain(t *testing.T) {
	cases := []struct {
		name      string
		deviceKey string
		wantCode  models.PlayerErrorCode
	}{
		{"unknown device", "device-ghost", models.PlayerErrUnauthenticated},
		{"pending device", "device-pending", models.PlayerErrUnauthenticated},
		{"banned owner", "device-banned", models.PlayerErrForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := setupRouter(t, 100)

			payload := requestPayload(t, models.OperationQueryPosts, "corr-1", models.QueryPostsRequest{
				Channel: models.ChannelAll, Sort: models.SortServerOrder, Count: 10,
			})
			topic := fmt.Sprintf("makapix/player/%s/request/corr-1", tc.deviceKey)
			fx.router.HandleRequest(topic, payload)

			messages := fx.publisher.all()
			require.Len(t, messages, 1)
			resp := decodeResponse(t, messages[0].payload)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestRouterRateLimitsDevice(t *testing.T) {
	fx := setupRouter(t, 1)

	payload := requestPayload(t, models.OperationQueryPosts, "corr-1", models.QueryPostsRequest{
		Channel: models.ChannelAll, Sort: models.SortServerOrder, Count: 10,
	})
	fx.router.HandleRequest("makapix/player/device-1/request/corr-1", payload)

	payload = requestPayload(t, models.OperationQueryPosts, "corr-2", models.QueryPostsRequest{
		Channel: models.ChannelAll, Sort: models.SortServerOrder, Count: 10,
	})
	fx.router.HandleRequest("makapix/player/device-1/request/corr-2", payload)

	messages := fx.publisher.all()
	require.Len(t, messages, 2)
	first := decodeResponse(t, messages[0].payload)
	assert.True(t, first.Success)
	second := decodeResponse(t, messages[1].payload)
	assert.False(t, second.Success)
	require.NotNil(t, second.Error)
	assert.Equal(t, models.PlayerErrRateLimited, second.Error.Code)
}

func TestRouterMapsOperationErrors(t *testing.T) {
	cases := []struct {
		name     string
		opErr    error
		wantCode models.PlayerErrorCode
	}{
		{"validation", errs.ErrValidateBadRequest, models.PlayerErrMalformedRequest},
		{"missing post", errs.ErrPostNotFound, models.PlayerErrNotFound},
		{"reaction ceiling", errs.ErrReactionLimit, models.PlayerErrForbidden},
		{"throttled", errs.ErrRateLimited, models.PlayerErrRateLimited},
		{"datastore down", fmt.Errorf("connection refused"), models.PlayerErrInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := setupRouter(t, 100)
			fx.ops.queryErr = tc.opErr

			payload := requestPayload(t, models.OperationQueryPosts, "corr-1", models.QueryPostsRequest{
				Channel: models.ChannelAll, Sort: models.SortServerOrder, Count: 10,
			})
			fx.router.HandleRequest("makapix/player/device-1/request/corr-1", payload)

			messages := fx.publisher.all()
			require.Len(t, messages, 1)
			resp := decodeResponse(t, messages[0].payload)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestRouterIgnoresUnparseableTopics(t *testing.T) {
	fx := setupRouter(t, 100)

	fx.router.HandleRequest("makapix/player/device-1/view", []byte("{}"))
	fx.router.HandleRequest("other/player/device-1/request/corr-1", []byte("{}"))

	assert.Empty(t, fx.publisher.all())
}

func TestRouterUnknownOperation(t *testing.T) {
	fx := setupRouter(t, 100)

	payload := requestPayload(t, "self_destruct", "corr-1", struct{}{})
	fx.router.HandleRequest("makapix/player/device-1/request/corr-1", payload)

	messages := fx.publisher.all()
	require.Len(t, messages, 1)
	resp := decodeResponse(t, messages[0].payload)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.PlayerErrMalformedRequest, resp.Error.Code)
}
