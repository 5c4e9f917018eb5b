// cmd/server/main.go
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/controller"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/dispatch"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/scheduler"
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

	// The dispatcher is chosen once at startup: the durable queue when the
	// broker answers, the direct degraded-mode sender when it does not.
	dispatcher := selectDispatcher(cfg, deliveryRepo, stateRepo, tr, tk, log)

	campaignService := &service.CampaignService{
		Campaigns:         campaignRepo,
		Contacts:          contactRepo,
		Messages:          messageRepo,
		Deliveries:        deliveryRepo,
		Dispatcher:        dispatcher,
		Tracker:           tk,
		MessagesPerMinute: cfg.Dispatch.MessagesPerMinute,
		Log:               log,
	}
	tk.Completion = campaignService

	sched := scheduler.New(campaignRepo, campaignService, cfg.SchedulerInterval, log)
	sched.Start()
	defer sched.Stop()

	campaignController := &controller.CampaignController{CampaignService: campaignService}
	queueController := &controller.QueueController{Dispatcher: dispatcher}
	webhookController := &controller.WebhookController{Tracker: tk}
	contactController := &controller.ContactController{ContactRepo: contactRepo}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Get("/campaigns/{id}/statistics", campaignController.GetCampaignStatistics)
	r.Post("/campaigns/{id}/start", campaignController.StartCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	r.Get("/contacts", contactController.ListContacts)

	r.Get("/queue/stats", queueController.GetQueueStats)
	r.Post("/queue/pause", queueController.PauseQueue)
	r.Post("/queue/resume", queueController.ResumeQueue)
	r.Post("/queue/clear", queueController.ClearQueue)

	r.Post("/webhooks/status", webhookController.ReceiveAck)

	log.Info().Str("addr", cfg.HTTPAddr).Bool("fallback_mode", dispatcher.FallbackMode()).Msg("🚀 server running")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func selectDispatcher(
	cfg config.Config,
	deliveries *repository.DeliveryRepository,
	state *repository.QueueStateRepository,
	tr transport.Transport,
	tk *tracker.Tracker,
	log zerolog.Logger,
) dispatch.Dispatcher {
	conn, err := amqp.Dial(cfg.Broker.URL)
	if err != nil {
		log.Error().Err(err).Msg("broker unreachable, switching to direct-send fallback: no pacing, no retry-with-delay")
		return dispatch.NewDirectDispatcher(tr, tk, cfg.Dispatch.SecondsPerJob(), log)
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("broker channel failed, switching to direct-send fallback")
		conn.Close()
		return dispatch.NewDirectDispatcher(tr, tk, cfg.Dispatch.SecondsPerJob(), log)
	}

	qd, err := dispatch.NewQueuedDispatcher(ch, dispatch.QueuedConfig{
		QueueName:     cfg.Broker.Queue,
		SecondsPerJob: cfg.Dispatch.SecondsPerJob(),
		Concurrency:   cfg.Dispatch.Workers,
	}, deliveries, state, log)
	if err != nil {
		log.Error().Err(err).Msg("queue declare failed, switching to direct-send fallback")
		ch.Close()
		conn.Close()
		return dispatch.NewDirectDispatcher(tr, tk, cfg.Dispatch.SecondsPerJob(), log)
	}
	return qd
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
