package mqtt

import (
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/services"
	"github.com/sirupsen/logrus"
)

// statusMessage is what devices publish on their status topic. The
// offline variant is normally the broker-delivered last will.
type statusMessage struct {
	Status             string `json:"status"`
	DisplayedContentID string `json:"displayed_content_id,omitempty"`
}

// PresenceSubscriber feeds heartbeat and last-will notices into the
// presence tracker.
type PresenceSubscriber struct {
	presence  services.PresenceService
	topicRoot string
	logger    *logrus.Entry
}

type PresenceSubscriberBuilder struct {
	Logger    *logrus.Entry
	Presence  services.PresenceService
	TopicRoot string
}

func NewPresenceSubscriber(builder PresenceSubscriberBuilder) *PresenceSubscriber {
	return &PresenceSubscriber{
		presence:  builder.Presence,
		topicRoot: builder.TopicRoot,
		logger:    builder.Logger,
	}
}

func (p *PresenceSubscriber) Register(client mqtt.Client) error {
	token := client.Subscribe(StatusFilter(p.topicRoot), 1, func(_ mqtt.Client, msg mqtt.Message) {
		p.HandleMessage(msg.Topic(), append([]byte(nil), msg.Payload()...))
	})
	token.Wait()
	return token.Error()
}

func (p *PresenceSubscriber) HandleMessage(topic string, payload []byte) {
	deviceKey, err := ParseDeviceTopic(p.topicRoot, topic, "status")
	if err != nil {
		p.logger.Warnf("dropping message on unparseable topic %s: %s", topic, err)
		return
	}

	ctx := helpers.DeviceContext(deviceKey)
	lFunc := helpers.ConfigureLogger(ctx, p.logger)

	var status statusMessage
	if err := json.Unmarshal(payload, &status); err != nil {
		lFunc.Warnf("dropping undecodable status payload from device %s: %s", deviceKey, err)
		return
	}

	switch status.Status {
	case "online":
		if err := p.presence.HandleHeartbeat(ctx, services.HeartbeatInput{
			DeviceKey:          deviceKey,
			DisplayedContentID: status.DisplayedContentID,
		}); err != nil {
			lFunc.Warnf("could not record heartbeat for device %s: %s", deviceKey, err)
		}
	case "offline":
		if err := p.presence.HandleOffline(ctx, deviceKey); err != nil {
			lFunc.Warnf("could not record offline notice for device %s: %s", deviceKey, err)
		}
	default:
		lFunc.Warnf("unknown status %q from device %s", status.Status, deviceKey)
	}
}
