package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fabkury/makapix-sub005/pkg/config"
	"github.com/sirupsen/logrus"
)

// Publisher is the narrow outbound surface handlers need. paho's Client
// satisfies it through pahoPublisher; tests substitute a recorder.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type pahoPublisher struct {
	client mqtt.Client
}

func (p pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func NewPublisher(client mqtt.Client) Publisher {
	return pahoPublisher{client: client}
}

// NewClient builds the gateway's paho client without connecting, so the
// caller can finish wiring handlers first. onConnect runs on every
// (re)connection, which is where subscriptions are registered so they
// survive broker restarts.
func NewClient(logger *logrus.Entry, cfg config.MQTTConfig, onConnect func(client mqtt.Client)) (mqtt.Client, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if tlsCfg != nil {
		scheme = "tls"
		opts.SetTLSConfig(tlsCfg)
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerHostname, cfg.BrokerPort))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Infof("connected to MQTT broker %s:%d", cfg.BrokerHostname, cfg.BrokerPort)
		if onConnect != nil {
			onConnect(client)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("MQTT connection lost: %s", err)
	})

	return mqtt.NewClient(opts), nil
}

// Connect opens the broker connection, firing the client's OnConnect
// handler once established.
func Connect(client mqtt.Client) error {
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	if cfg.CACertificateFile == "" && cfg.CertificateFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACertificateFile != "" {
		caPEM, err := os.ReadFile(cfg.CACertificateFile)
		if err != nil {
			return nil, fmt.Errorf("could not read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACertificateFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertificateFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertificateFile, cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("could not load client keypair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
