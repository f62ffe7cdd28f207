package assemblers

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fabkury/makapix-sub005/pkg/cache"
	"github.com/fabkury/makapix-sub005/pkg/config"
	"github.com/fabkury/makapix-sub005/pkg/eventbus"
	"github.com/fabkury/makapix-sub005/pkg/helpers"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/services"
	"github.com/fabkury/makapix-sub005/pkg/storage/postgres"
	transportmqtt "github.com/fabkury/makapix-sub005/pkg/transport/mqtt"
)

// PlayerGateway is the fully wired messaging layer: provisioning surface,
// MQTT request router, view ingester, async view writer and presence
// tracker, all sharing one datastore and one in-process cache.
type PlayerGateway struct {
	Provisioning services.ProvisioningService
	Ops          services.PlayerOpsService
	Presence     services.PresenceService

	mqttClient pahomqtt.Client
	router     *transportmqtt.RPCRouter
	ingester   *transportmqtt.ViewIngester
	viewWriter *eventbus.ViewEventWriter
	opsCache   *cache.InMemoryCache
}

func AssemblePlayerGateway(conf config.PlayerGatewayConfig) (*PlayerGateway, error) {
	serviceID := "player-gateway"

	lSvc := helpers.SetupLogger(conf.Logs.Level, serviceID, "Service")
	lStorage := helpers.SetupLogger(conf.Logs.Level, serviceID, "Storage")
	lMessaging := helpers.SetupLogger(conf.Logs.Level, serviceID, "Event Bus")
	lTransport := helpers.SetupLogger(conf.Logs.Level, serviceID, "MQTT")

	db, err := postgres.CreatePostgresDBConnection(lStorage, conf.Storage)
	if err != nil {
		return nil, fmt.Errorf("could not connect to postgres: %s", err)
	}

	deviceStorage, err := postgres.NewDeviceRepository(lStorage, db)
	if err != nil {
		return nil, fmt.Errorf("could not create device storage: %s", err)
	}
	accountStorage, err := postgres.NewAccountReader(lStorage, db)
	if err != nil {
		return nil, fmt.Errorf("could not create account storage: %s", err)
	}
	postStorage, err := postgres.NewPostReader(lStorage, db)
	if err != nil {
		return nil, fmt.Errorf("could not create post storage: %s", err)
	}
	commentStorage, err := postgres.NewCommentReader(lStorage, db)
	if err != nil {
		return nil, fmt.Errorf("could not create comment storage: %s", err)
	}
	reactionStorage, err := postgres.NewReactionRepository(lStorage, db)
	if err != nil {
		return nil, fmt.Errorf("could not create reaction storage: %s", err)
	}
	viewStorage, err := postgres.NewViewEventRepository(lStorage, db)
	if err != nil {
		return nil, fmt.Errorf("could not create view event storage: %s", err)
	}

	opsCache := cache.NewInMemoryCache()

	busPub, busSub := eventbus.NewGoChannelPubSub(lMessaging)
	viewWriter, err := eventbus.NewViewEventWriter(lMessaging, busSub, busPub, viewStorage)
	if err != nil {
		return nil, fmt.Errorf("could not create view event writer: %s", err)
	}
	if err := viewWriter.RunAsync(); err != nil {
		return nil, fmt.Errorf("could not run view event writer: %s", err)
	}

	authority, err := services.NewCredentialAuthorityService(services.CredentialAuthorityBuilder{
		Logger:             lSvc,
		CACommonName:       conf.Provisioning.CACommonName,
		CAValidity:         conf.Provisioning.CAValidity,
		DeviceCertValidity: conf.Provisioning.DeviceCertValidity,
		ConnectionParams: models.ConnectionParams{
			BrokerHostname: conf.Provisioning.DeviceBrokerHostname,
			BrokerPort:     conf.Provisioning.DeviceBrokerPort,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not create credential authority: %s", err)
	}

	provisioning := services.NewProvisioningService(services.ProvisioningBuilder{
		Logger:         lSvc,
		DevicesStorage: deviceStorage,
		Authority:      authority,
	})

	viewIngest := services.NewViewIngestService(services.ViewIngestBuilder{
		Logger:         lSvc,
		DevicesStorage: deviceStorage,
		PostsStorage:   postStorage,
		Cache:          opsCache,
		Publisher:      busPub,
		DedupWindow:    conf.Ingest.DedupWindow,
		RateWindow:     conf.Ingest.RateWindow,
		RateLimit:      conf.Ingest.RateLimit,
	})

	ops := services.NewPlayerOpsService(services.PlayerOpsBuilder{
		Logger:           lSvc,
		PostsStorage:     postStorage,
		CommentsStorage:  commentStorage,
		ReactionsStorage: reactionStorage,
		AccountsStorage:  accountStorage,
		ViewIngest:       viewIngest,
	})

	presence := services.NewPresenceService(services.PresenceBuilder{
		Logger:        lSvc,
		DeviceStorage: deviceStorage,
		GracePeriod:   conf.Presence.GracePeriod,
	})

	gateway := &PlayerGateway{
		Provisioning: provisioning,
		Ops:          ops,
		Presence:     presence,
		viewWriter:   viewWriter,
		opsCache:     opsCache,
	}

	ingester := transportmqtt.NewViewIngester(transportmqtt.ViewIngesterBuilder{
		Logger:    lTransport,
		Ingest:    viewIngest,
		TopicRoot: conf.MQTT.TopicRoot,
		Workers:   conf.Ingest.Workers,
	})
	presenceSub := transportmqtt.NewPresenceSubscriber(transportmqtt.PresenceSubscriberBuilder{
		Logger:    lTransport,
		Presence:  presence,
		TopicRoot: conf.MQTT.TopicRoot,
	})

	mqttClient, err := transportmqtt.NewClient(lTransport, conf.MQTT, func(client pahomqtt.Client) {
		if err := gateway.router.Register(client); err != nil {
			lTransport.Errorf("could not subscribe request topics: %s", err)
		}
		if err := ingester.Register(client); err != nil {
			lTransport.Errorf("could not subscribe view topics: %s", err)
		}
		if err := presenceSub.Register(client); err != nil {
			lTransport.Errorf("could not subscribe status topics: %s", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("could not create MQTT client: %s", err)
	}

	gateway.router = transportmqtt.NewRPCRouter(transportmqtt.RPCRouterBuilder{
		Logger:          lTransport,
		Ops:             ops,
		DeviceStorage:   deviceStorage,
		AccountsStorage: accountStorage,
		RateCache:       opsCache,
		Publisher:       transportmqtt.NewPublisher(mqttClient),
		TopicRoot:       conf.MQTT.TopicRoot,
		Workers:         conf.RPC.Workers,
		RateWindow:      conf.RPC.RateWindow,
		RateLimit:       conf.RPC.RateLimit,
	})
	gateway.ingester = ingester
	gateway.mqttClient = mqttClient

	if err := transportmqtt.Connect(mqttClient); err != nil {
		return nil, fmt.Errorf("could not connect MQTT client: %s", err)
	}

	return gateway, nil
}

// Stop drains the worker pools and closes the broker connection.
func (g *PlayerGateway) Stop() {
	if g.mqttClient != nil {
		g.mqttClient.Disconnect(250)
	}
	if g.router != nil {
		g.router.Stop()
	}
	if g.ingester != nil {
		g.ingester.Stop()
	}
	if g.viewWriter != nil {
		g.viewWriter.Stop()
	}
	g.Presence.Stop()
	g.opsCache.Stop()
}
