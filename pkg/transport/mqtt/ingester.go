package mqtt

import (
	"encoding/json"

	"github.com/alitto/pond/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/services"
	"github.com/sirupsen/logrus"
)

// ViewIngester consumes fire-and-forget view telemetry. Nothing is ever
// published back; invalid or throttled messages are logged and dropped.
type ViewIngester struct {
	ingest    services.ViewIngestService
	pool      pond.Pool
	topicRoot string
	logger    *logrus.Entry
}

type ViewIngesterBuilder struct {
	Logger    *logrus.Entry
	Ingest    services.ViewIngestService
	TopicRoot string
	Workers   int
}

func NewViewIngester(builder ViewIngesterBuilder) *ViewIngester {
	return &ViewIngester{
		ingest:    builder.Ingest,
		pool:      pond.NewPool(builder.Workers),
		topicRoot: builder.TopicRoot,
		logger:    builder.Logger,
	}
}

func (i *ViewIngester) Register(client mqtt.Client) error {
	token := client.Subscribe(ViewsFilter(i.topicRoot), 1, func(_ mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		payload := append([]byte(nil), msg.Payload()...)
		i.pool.Submit(func() {
			i.HandleMessage(topic, payload)
		})
	})
	token.Wait()
	return token.Error()
}

func (i *ViewIngester) Stop() {
	i.pool.StopAndWait()
}

func (i *ViewIngester) HandleMessage(topic string, payload []byte) {
	deviceKey, err := ParseDeviceTopic(i.topicRoot, topic, "view")
	if err != nil {
		i.logger.Warnf("dropping message on unparseable topic %s: %s", topic, err)
		return
	}

	ctx := helpers.DeviceContext(deviceKey)
	lFunc := helpers.ConfigureLogger(ctx, i.logger)

	var wire models.ViewWireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		lFunc.Warnf("dropping undecodable view payload from device %s: %s", deviceKey, err)
		return
	}

	out, err := i.ingest.IngestView(ctx, services.IngestViewInput{
		DeviceKey: deviceKey,
		Wire:      wire,
	})
	if err != nil {
		lFunc.Warnf("dropping view from device %s: %s", deviceKey, err)
		return
	}
	if !out.Accepted {
		lFunc.Debugf("skipped view from device %s: %s", deviceKey, out.DropReason)
	}
}
