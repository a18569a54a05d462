package main

import (
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/gameonhq/sync-gateway/go/internal/api"
	"github.com/gameonhq/sync-gateway/go/internal/auth"
	"github.com/gameonhq/sync-gateway/go/internal/gateway"
	"github.com/gameonhq/sync-gateway/go/internal/ingest"
	"github.com/gameonhq/sync-gateway/go/internal/push"
	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

type Services struct {
	Gateway  *gateway.ConnectionManager
	Sync     *realtime.Service
	Tokens   *push.TokenStore
	Push     *push.Dispatcher
	WS       *gateway.WebSocketHandler
	API      *api.Handler
	Consumer *ingest.Consumer // nil when NATS is disabled
	Nats     *nats.Conn       // nil when NATS is disabled
}

func setupServices(fileConfig *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	// Transport layer
	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	// Session/sync registry over the transport
	syncService := realtime.NewService(syncConfig(fileConfig), manager, clock)
	manager.SetHooks(syncService)

	tokens := push.NewTokenStore()

	var nc *nats.Conn
	var provider push.Provider = push.NewLogProvider()

	consumerConfig := ingest.DefaultConsumerConfig()
	consumerConfig.URL = getEnv("NATS_URL", consumerConfig.URL)
	if fileConfig != nil {
		if fileConfig.Nats.StreamName != "" {
			consumerConfig.StreamName = fileConfig.Nats.StreamName
		}
		if fileConfig.Nats.ConsumerName != "" {
			consumerConfig.ConsumerName = fileConfig.Nats.ConsumerName
		}
		if fileConfig.Nats.SubjectFilter != "" {
			consumerConfig.SubjectFilter = fileConfig.Nats.SubjectFilter
		}
	}

	if getEnvAsBool("NATS_ENABLED", false) {
		conn, err := ingest.Connect(consumerConfig)
		if err != nil {
			return nil, err
		}
		nc = conn

		pushSubject := getEnv("PUSH_SUBJECT", "gameon.push.requests")
		if fileConfig != nil && fileConfig.Nats.PushSubject != "" {
			pushSubject = fileConfig.Nats.PushSubject
		}
		provider = push.NewNATSProvider(nc, pushSubject)
	} else {
		log.Info().Msg("NATS disabled, using log push provider")
	}

	pushDispatcher := push.NewDispatcher(tokens, provider)

	var consumer *ingest.Consumer
	if nc != nil {
		c, err := ingest.NewConsumer(syncService, pushDispatcher, nc, consumerConfig)
		if err != nil {
			nc.Close()
			return nil, err
		}
		consumer = c
	}

	// Handshake auth; anonymous fallback for development
	var verifier *auth.Verifier
	if secret := getEnv("SYNC_JWT_SECRET", ""); secret != "" {
		verifier = auth.New(secret)
	}
	allowAnonymous := getEnvAsBool("SYNC_ALLOW_ANONYMOUS", verifier == nil)

	wsHandler := gateway.NewWebSocketHandler(manager, verifier, allowAnonymous)
	apiHandler := api.NewHandler(syncService, tokens, pushDispatcher)

	return &Services{
		Gateway:  manager,
		Sync:     syncService,
		Tokens:   tokens,
		Push:     pushDispatcher,
		WS:       wsHandler,
		API:      apiHandler,
		Consumer: consumer,
		Nats:     nc,
	}, nil
}
