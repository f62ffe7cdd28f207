package config

import "time"

type Password string

func (p Password) MarshalText() ([]byte, error) {
	return []byte("*************"), nil
}

// PlayerGatewayConfig is the full configuration of the player messaging
// layer. Loaded from YAML via LoadConfig.
type PlayerGatewayConfig struct {
	Logs         Logging            `mapstructure:"logs"`
	Storage      PostgresConfig     `mapstructure:"storage"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	RPC          RPCConfig          `mapstructure:"rpc"`
	Presence     PresenceConfig     `mapstructure:"presence"`
}

type PostgresConfig struct {
	Hostname string   `mapstructure:"hostname"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password Password `mapstructure:"password"`
	Database string   `mapstructure:"database"`
}

type MQTTConfig struct {
	BrokerHostname string `mapstructure:"broker_hostname"`
	BrokerPort     int    `mapstructure:"broker_port"`
	ClientID       string `mapstructure:"client_id"`
	// TopicRoot prefixes every player topic, e.g. "makapix".
	TopicRoot          string `mapstructure:"topic_root"`
	CACertificateFile  string `mapstructure:"ca_cert_file"`
	CertificateFile    string `mapstructure:"cert_file"`
	PrivateKeyFile     string `mapstructure:"key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type ProvisioningConfig struct {
	// CACommonName names the self-generated device credential authority.
	CACommonName       string        `mapstructure:"ca_common_name"`
	CAValidity         time.Duration `mapstructure:"ca_validity"`
	DeviceCertValidity time.Duration `mapstructure:"device_cert_validity"`
	// DeviceBrokerHostname/Port are the connection parameters handed to
	// devices in credential bundles. They may differ from the gateway's
	// own broker endpoint when devices connect through a public listener.
	DeviceBrokerHostname string `mapstructure:"device_broker_hostname"`
	DeviceBrokerPort     int    `mapstructure:"device_broker_port"`
}

type IngestConfig struct {
	// Workers bounds concurrent telemetry handling.
	Workers int `mapstructure:"workers"`
	// DedupWindow suppresses retransmitted (device, content, local ts)
	// triples.
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	// RateWindow/RateLimit: accepted events per device per window.
	RateWindow time.Duration `mapstructure:"rate_window"`
	RateLimit  int64         `mapstructure:"rate_limit"`
}

type RPCConfig struct {
	Workers    int           `mapstructure:"workers"`
	RateWindow time.Duration `mapstructure:"rate_window"`
	RateLimit  int64         `mapstructure:"rate_limit"`
}

type PresenceConfig struct {
	// GracePeriod without heartbeats before presence flips to stale.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// Defaults returns the configuration skeleton with the documented default
// quotas and windows filled in.
func Defaults() *PlayerGatewayConfig {
	return &PlayerGatewayConfig{
		Logs: Logging{Level: Info},
		MQTT: MQTTConfig{
			TopicRoot: "makapix",
			ClientID:  "player-gateway",
		},
		Provisioning: ProvisioningConfig{
			CACommonName:       "Makapix Player CA",
			CAValidity:         10 * 365 * 24 * time.Hour,
			DeviceCertValidity: 365 * 24 * time.Hour,
		},
		Ingest: IngestConfig{
			Workers:     32,
			DedupWindow: 10 * time.Minute,
			RateWindow:  5 * time.Second,
			RateLimit:   1,
		},
		RPC: RPCConfig{
			Workers:    32,
			RateWindow: time.Second,
			RateLimit:  10,
		},
		Presence: PresenceConfig{
			GracePeriod: 90 * time.Second,
		},
	}
}
