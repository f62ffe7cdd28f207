package services

import (
	"context"
	"crypto"
	"crypto/x509"
	"time"

	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/sirupsen/logrus"
)

// CredentialAuthorityService issues the per-device mutual-TLS transport
// identities. The binding of an identity to a device lives on the device
// row; this service only mints and fingerprints credential bundles.
type CredentialAuthorityService interface {
	CACertificatePEM() string
	IssueCredentials(ctx context.Context, input IssueCredentialsInput) (*IssueCredentialsOutput, error)
}

type CredentialAuthorityBackend struct {
	caCert     *x509.Certificate
	caKey      crypto.Signer
	caPEM      string
	validity   time.Duration
	connParams models.ConnectionParams
	logger     *logrus.Entry
}

type CredentialAuthorityBuilder struct {
	Logger             *logrus.Entry
	CACommonName       string
	CAValidity         time.Duration
	DeviceCertValidity time.Duration
	ConnectionParams   models.ConnectionParams
}

func NewCredentialAuthorityService(builder CredentialAuthorityBuilder) (CredentialAuthorityService, error) {
	caCert, caKey, err := helpers.GenerateSelfSignedCA(builder.CAValidity, builder.CACommonName)
	if err != nil {
		return nil, err
	}

	builder.Logger.Infof("device credential authority '%s' ready, expires %s", builder.CACommonName, caCert.NotAfter.Format(time.RFC3339))

	return &CredentialAuthorityBackend{
		caCert:     caCert,
		caKey:      caKey,
		caPEM:      helpers.CertificateToPEM(caCert),
		validity:   builder.DeviceCertValidity,
		connParams: builder.ConnectionParams,
		logger:     builder.Logger,
	}, nil
}

func (svc *CredentialAuthorityBackend) CACertificatePEM() string {
	return svc.caPEM
}

type IssueCredentialsInput struct {
	DeviceKey string
}

type IssueCredentialsOutput struct {
	Bundle      models.CredentialsBundle
	Fingerprint string
}

func (svc *CredentialAuthorityBackend) IssueCredentials(ctx context.Context, input IssueCredentialsInput) (*IssueCredentialsOutput, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	cert, key, err := helpers.SignDeviceCertificate(svc.caCert, svc.caKey, input.DeviceKey, svc.validity)
	if err != nil {
		lFunc.Errorf("could not sign certificate for device %s: %s", input.DeviceKey, err)
		return nil, err
	}

	keyPEM, err := helpers.PrivateKeyToPEM(key)
	if err != nil {
		lFunc.Errorf("could not encode private key for device %s: %s", input.DeviceKey, err)
		return nil, err
	}

	connParams := svc.connParams
	connParams.Username = input.DeviceKey

	lFunc.Infof("issued credentials for device %s, cert expires %s", input.DeviceKey, cert.NotAfter.Format(time.RFC3339))

	return &IssueCredentialsOutput{
		Bundle: models.CredentialsBundle{
			CACertificatePEM:     svc.caPEM,
			CertificatePEM:       helpers.CertificateToPEM(cert),
			PrivateKeyPEM:        keyPEM,
			ConnectionParameters: connParams,
		},
		Fingerprint: helpers.CertificateFingerprint(cert),
	}, nil
}
