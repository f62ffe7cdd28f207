package models

import (
	"time"
)

type DeviceStatus string

const (
	DevicePendingRegistration DeviceStatus = "PENDING_REGISTRATION"
	DeviceRegistered          DeviceStatus = "REGISTERED"
	DeviceRevoked             DeviceStatus = "REVOKED"
)

// PairingCodeTTL is absolute: a code is invalid exactly this long after
// issuance and cannot be renewed, only replaced.
const PairingCodeTTL = 15 * time.Minute

type Device struct {
	// Key is the opaque 128-bit device identity, used as the transport
	// username. Immutable once issued.
	Key               string                    `json:"key" gorm:"primaryKey;column:key"`
	OwnerAccountID    *string                   `json:"owner_account_id,omitempty"`
	Status            DeviceStatus              `json:"status"`
	Model             string                    `json:"model"`
	FirmwareVersion   string                    `json:"firmware_version"`
	CredentialsFprint string                    `json:"credentials_fingerprint"`
	IssuanceGen       int                       `json:"issuance_generation"`
	Credentials       *CredentialsBundle        `json:"-" gorm:"serializer:json"`
	PairingCode       *PairingCode              `json:"pairing_code,omitempty" gorm:"serializer:json"`
	CreationTimestamp time.Time                 `json:"creation_timestamp"`
	LastSeen          *time.Time                `json:"last_seen,omitempty"`
	Events            map[time.Time]DeviceEvent `json:"events" gorm:"serializer:json"`
}

// PairingCode is the short human-enterable secret binding a device to an
// account. At most one live code per device; it lives on the device row.
type PairingCode struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DeviceEventType string

const (
	DeviceEventTypeCreated           DeviceEventType = "CREATED"
	DeviceEventTypeCodeReissued      DeviceEventType = "CODE-REISSUED"
	DeviceEventTypeRegistered        DeviceEventType = "REGISTERED"
	DeviceEventTypeCredentialsIssued DeviceEventType = "CREDENTIALS-ISSUED"
	DeviceEventTypeRevoked           DeviceEventType = "REVOKED"
)

type DeviceEvent struct {
	EventType        DeviceEventType `json:"type"`
	EventDescription string          `json:"description"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceStale   PresenceStatus = "STALE"
	PresenceOffline PresenceStatus = "OFFLINE"
)

// DevicePresence is tracked in memory from heartbeats and last-will
// notices; it is not persisted.
type DevicePresence struct {
	DeviceKey          string         `json:"device_key"`
	Status             PresenceStatus `json:"status"`
	DisplayedContentID string         `json:"displayed_content_id,omitempty"`
	LastSeen           time.Time      `json:"last_seen"`
}

// CredentialsBundle is everything a device needs to open its mutual-TLS
// broker connection. Regenerated on each issuance generation.
type CredentialsBundle struct {
	CACertificatePEM     string           `json:"ca_certificate"`
	CertificatePEM       string           `json:"certificate"`
	PrivateKeyPEM        string           `json:"private_key"`
	ConnectionParameters ConnectionParams `json:"connection_parameters"`
}

type ConnectionParams struct {
	BrokerHostname string `json:"broker_hostname"`
	BrokerPort     int    `json:"broker_port"`
	Username       string `json:"username"`
}
