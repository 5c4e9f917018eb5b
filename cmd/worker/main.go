// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/dispatch"
	"github.com/unclebandit/wacampaign-backend/internal/pacing"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/service"
	"github.com/unclebandit/wacampaign-backend/internal/tracker"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// rely on OS environment variables
	}
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot connect to database")
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}
	deliveryRepo := &repository.DeliveryRepository{DB: conn}
	stateRepo := &repository.QueueStateRepository{DB: conn}

	var tr transport.Transport
	if cfg.Gateway.Mock {
		tr = transport.NewMockGateway(0.9, time.Now().UnixNano())
		log.Warn().Msg("using mock gateway transport")
	} else {
		tr = transport.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Dispatch.SendTimeout, log)
	}

	tk := tracker.New(deliveryRepo, campaignRepo, log)

	// Worker-side completion checks reuse the campaign service; the worker
	// never serves HTTP but owns the terminal campaign transitions its
	// sends trigger.
	lifecycle := &service.CampaignService{
		Campaigns:         campaignRepo,
		Contacts:          contactRepo,
		Messages:          messageRepo,
		Deliveries:        deliveryRepo,
		Tracker:           tk,
		MessagesPerMinute: cfg.Dispatch.MessagesPerMinute,
		Log:               log,
	}
	tk.Completion = lifecycle

	// Unlike the API server, the worker has no degraded mode: without the
	// broker there is nothing to drain.
	amqpConn, err := amqp.Dial(cfg.Broker.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot connect to broker")
	}
	defer amqpConn.Close()

	ch, err := amqpConn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open broker channel")
	}
	defer ch.Close()

	governor := pacing.NewGovernor(cfg.Dispatch.MessagesPerMinute)

	pool := dispatch.NewWorkerPool(ch, dispatch.WorkerConfig{
		QueueName:   cfg.Broker.Queue,
		Workers:     cfg.Dispatch.Workers,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		SendTimeout: cfg.Dispatch.SendTimeout,
	}, tr, governor, tk, stateRepo, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pool.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("worker pool stopped")
	}
	log.Info().Msg("worker shut down")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
