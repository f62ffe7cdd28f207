package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/fabkury/makapix-sub005/pkg/errs"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/jakehl/goid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// pairingAlphabet omits easily confused glyphs (0/O, 1/I/L) since codes
// are typed by hand off a 64-pixel screen.
const pairingAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
const pairingCodeLength = 6

type ProvisioningService interface {
	ProvisionDevice(ctx context.Context, input ProvisionDeviceInput) (*ProvisionDeviceOutput, error)
	FetchCredentials(ctx context.Context, input FetchCredentialsInput) (*FetchCredentialsOutput, error)
	RedeemPairingCode(ctx context.Context, input RedeemPairingCodeInput) (*models.Device, error)
	RevokeDevice(ctx context.Context, input RevokeDeviceInput) (*models.Device, error)
}

type ProvisioningServiceBackend struct {
	devicesStorage storage.DeviceRepo
	authority      CredentialAuthorityService
	clock          clockwork.Clock
	logger         *logrus.Entry
}

type ProvisioningBuilder struct {
	Logger         *logrus.Entry
	DevicesStorage storage.DeviceRepo
	Authority      CredentialAuthorityService
	Clock          clockwork.Clock
}

func NewProvisioningService(builder ProvisioningBuilder) ProvisioningService {
	clock := builder.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &ProvisioningServiceBackend{
		devicesStorage: builder.DevicesStorage,
		authority:      builder.Authority,
		clock:          clock,
		logger:         builder.Logger,
	}
}

type ProvisionDeviceInput struct {
	// DeviceKey is empty on a first call. A device that lost its pairing
	// window sends its previously issued key to get a fresh code without
	// changing identity.
	DeviceKey       string
	Model           string
	FirmwareVersion string
}

type ProvisionDeviceOutput struct {
	DeviceKey   string
	PairingCode string
	CodeExpiry  time.Time
}

func (svc *ProvisioningServiceBackend) ProvisionDevice(ctx context.Context, input ProvisionDeviceInput) (*ProvisionDeviceOutput, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	now := svc.clock.Now()
	code, err := generatePairingCode()
	if err != nil {
		lFunc.Errorf("could not generate pairing code: %s", err)
		return nil, err
	}

	pairing := &models.PairingCode{
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(models.PairingCodeTTL),
	}

	if input.DeviceKey != "" {
		exists, device, err := svc.devicesStorage.SelectExists(ctx, input.DeviceKey)
		if err != nil {
			lFunc.Errorf("could not look up device %s: %s", input.DeviceKey, err)
			return nil, err
		}

		if exists {
			switch device.Status {
			case models.DeviceRevoked:
				lFunc.Warnf("revoked device %s attempted re-provisioning", device.Key)
				return nil, errs.ErrDeviceRevoked
			case models.DeviceRegistered:
				lFunc.Warnf("registered device %s attempted re-provisioning", device.Key)
				return nil, errs.ErrDeviceAlreadyBound
			}

			// Reissue: the fresh code replaces and invalidates the old
			// one, device key stays stable.
			device.PairingCode = pairing
			device.Status = models.DevicePendingRegistration
			device.Events[now] = models.DeviceEvent{
				EventType:        models.DeviceEventTypeCodeReissued,
				EventDescription: fmt.Sprintf("pairing code reissued, expires %s", pairing.ExpiresAt.Format(time.RFC3339)),
			}

			if _, err := svc.devicesStorage.Update(ctx, device); err != nil {
				lFunc.Errorf("could not update device %s: %s", device.Key, err)
				return nil, err
			}

			return &ProvisionDeviceOutput{
				DeviceKey:   device.Key,
				PairingCode: pairing.Code,
				CodeExpiry:  pairing.ExpiresAt,
			}, nil
		}
	}

	device := &models.Device{
		Key:               goid.NewV4UUID().String(),
		Status:            models.DevicePendingRegistration,
		Model:             input.Model,
		FirmwareVersion:   input.FirmwareVersion,
		PairingCode:       pairing,
		CreationTimestamp: now,
		Events: map[time.Time]models.DeviceEvent{
			now: {
				EventType:        models.DeviceEventTypeCreated,
				EventDescription: fmt.Sprintf("provisioned, pairing code expires %s", pairing.ExpiresAt.Format(time.RFC3339)),
			},
		},
	}

	if _, err := svc.devicesStorage.Insert(ctx, device); err != nil {
		lFunc.Errorf("could not insert device: %s", err)
		return nil, err
	}

	lFunc.Infof("provisioned device %s, pairing code expires %s", device.Key, pairing.ExpiresAt.Format(time.RFC3339))

	return &ProvisionDeviceOutput{
		DeviceKey:   device.Key,
		PairingCode: pairing.Code,
		CodeExpiry:  pairing.ExpiresAt,
	}, nil
}

type FetchCredentialsInput struct {
	DeviceKey string
}

type FetchCredentialsOutput struct {
	// Ready is false while the pairing code has not been redeemed yet.
	// Polling devices treat that as "try again", not as a failure.
	Ready  bool
	Bundle *models.CredentialsBundle
}

func (svc *ProvisioningServiceBackend) FetchCredentials(ctx context.Context, input FetchCredentialsInput) (*FetchCredentialsOutput, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	exists, device, err := svc.devicesStorage.SelectExists(ctx, input.DeviceKey)
	if err != nil {
		lFunc.Errorf("could not look up device %s: %s", input.DeviceKey, err)
		return nil, err
	}
	if !exists {
		return nil, errs.ErrDeviceNotFound
	}

	switch device.Status {
	case models.DeviceRevoked:
		return nil, errs.ErrDeviceRevoked
	case models.DeviceRegistered:
		if device.Credentials == nil {
			lFunc.Errorf("device %s is registered but carries no credentials", device.Key)
			return nil, errs.ErrCredentialsNotReady
		}
		return &FetchCredentialsOutput{
			Ready:  true,
			Bundle: device.Credentials,
		}, nil
	default:
		return &FetchCredentialsOutput{Ready: false}, nil
	}
}

type RedeemPairingCodeInput struct {
	Code      string
	AccountID string
}

func (svc *ProvisioningServiceBackend) RedeemPairingCode(ctx context.Context, input RedeemPairingCodeInput) (*models.Device, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	exists, device, err := svc.devicesStorage.SelectByPairingCode(ctx, input.Code)
	if err != nil {
		lFunc.Errorf("could not look up pairing code: %s", err)
		return nil, err
	}
	if !exists {
		return nil, errs.ErrPairingCodeNotFound
	}

	if device.Status != models.DevicePendingRegistration || device.PairingCode == nil {
		return nil, errs.ErrPairingCodeNotFound
	}

	// Expiry is absolute, to the second: the code dies exactly at
	// ExpiresAt regardless of redemption attempts.
	if !svc.clock.Now().Before(device.PairingCode.ExpiresAt) {
		lFunc.Warnf("expired pairing code for device %s", device.Key)
		return nil, errs.ErrPairingCodeExpired
	}

	// The owner binding, once set, is never reassigned through the
	// device-facing flow.
	if device.OwnerAccountID != nil && *device.OwnerAccountID != input.AccountID {
		return nil, errs.ErrDeviceAlreadyBound
	}

	issued, err := svc.authority.IssueCredentials(ctx, IssueCredentialsInput{DeviceKey: device.Key})
	if err != nil {
		lFunc.Errorf("could not issue credentials for device %s: %s", device.Key, err)
		return nil, err
	}

	now := svc.clock.Now()
	device.OwnerAccountID = &input.AccountID
	device.Status = models.DeviceRegistered
	device.PairingCode = nil
	device.Credentials = &issued.Bundle
	device.CredentialsFprint = issued.Fingerprint
	device.IssuanceGen++
	device.Events[now] = models.DeviceEvent{
		EventType:        models.DeviceEventTypeRegistered,
		EventDescription: fmt.Sprintf("bound to account %s", input.AccountID),
	}
	device.Events[now.Add(time.Millisecond)] = models.DeviceEvent{
		EventType:        models.DeviceEventTypeCredentialsIssued,
		EventDescription: fmt.Sprintf("issuance generation %d, fingerprint %s", device.IssuanceGen, issued.Fingerprint),
	}

	device, err = svc.devicesStorage.Update(ctx, device)
	if err != nil {
		lFunc.Errorf("could not update device %s: %s", device.Key, err)
		return nil, err
	}

	lFunc.Infof("device %s registered to account %s", device.Key, input.AccountID)
	return device, nil
}

type RevokeDeviceInput struct {
	DeviceKey string
	Reason    string
}

func (svc *ProvisioningServiceBackend) RevokeDevice(ctx context.Context, input RevokeDeviceInput) (*models.Device, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	exists, device, err := svc.devicesStorage.SelectExists(ctx, input.DeviceKey)
	if err != nil {
		lFunc.Errorf("could not look up device %s: %s", input.DeviceKey, err)
		return nil, err
	}
	if !exists {
		return nil, errs.ErrDeviceNotFound
	}

	device.Status = models.DeviceRevoked
	device.Credentials = nil
	device.CredentialsFprint = ""
	device.PairingCode = nil
	device.Events[svc.clock.Now()] = models.DeviceEvent{
		EventType:        models.DeviceEventTypeRevoked,
		EventDescription: input.Reason,
	}

	device, err = svc.devicesStorage.Update(ctx, device)
	if err != nil {
		lFunc.Errorf("could not update device %s: %s", device.Key, err)
		return nil, err
	}

	lFunc.Infof("device %s revoked", device.Key)
	return device, nil
}

func generatePairingCode() (string, error) {
	code := make([]byte, pairingCodeLength)
	maxIdx := big.NewInt(int64(len(pairingAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, maxIdx)
		if err != nil {
			return "", err
		}
		code[i] = pairingAlphabet[n.Int64()]
	}
	return string(code), nil
}
