// cmd/server/main.go
package main

import (
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unclebandit/prospectpilot-backend/internal/cadence"
	"github.com/unclebandit/prospectpilot-backend/internal/config"
	"github.com/unclebandit/prospectpilot-backend/internal/controller"
	"github.com/unclebandit/prospectpilot-backend/internal/db"
	"github.com/unclebandit/prospectpilot-backend/internal/handler"
	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/metrics"
	"github.com/unclebandit/prospectpilot-backend/internal/reconcile"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to init logger:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	metrics.Init()

	campaignRepo := &repository.CampaignRepository{DB: database}
	prospectRepo := &repository.ProspectRepository{DB: database}
	queueRepo := &repository.QueueRepository{DB: database}

	machine := lifecycle.NewMachine(prospectRepo, campaignRepo, queueRepo, cadence.NewResolver(nil), logger)
	machine.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))

	campaignController := &controller.CampaignController{
		Campaigns: campaignRepo,
		Machine:   machine,
		Log:       logger,
	}
	prospectController := &controller.ProspectController{
		Prospects: prospectRepo,
		Campaigns: campaignRepo,
		Machine:   machine,
		Log:       logger,
	}
	webhookHandler := handler.NewWebhookHandler(
		cfg.ProviderWebhookSecret,
		&reconcile.Listener{Prospects: prospectRepo, Machine: machine, Log: logger},
		logger,
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Post("/campaigns/{id}/activate", campaignController.ActivateCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)

	// Prospect routes
	r.Post("/campaigns/{id}/prospects", prospectController.ImportProspects)
	r.Get("/campaigns/{id}/prospects", prospectController.ListProspects)
	r.Get("/prospects/{prospectID}", prospectController.GetProspect)
	r.Post("/prospects/{prospectID}/approve", prospectController.ApproveProspect)
	r.Post("/prospects/{prospectID}/reset", prospectController.ResetProspect)

	// Provider callbacks
	r.Post("/webhooks/provider", webhookHandler.ProviderEventHandler)

	go func() {
		logger.Info("metrics server running", zap.String("port", cfg.MetricsPort))
		if err := http.ListenAndServe(":"+cfg.MetricsPort, metrics.Handler()); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("api server running", zap.String("port", cfg.APIPort))
	if err := http.ListenAndServe(":"+cfg.APIPort, r); err != nil {
		logger.Fatal("api server stopped", zap.Error(err))
	}
}
