// cmd/dispatcher/main.go
package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/prospectpilot-backend/internal/cadence"
	"github.com/unclebandit/prospectpilot-backend/internal/config"
	"github.com/unclebandit/prospectpilot-backend/internal/db"
	"github.com/unclebandit/prospectpilot-backend/internal/dispatch"
	"github.com/unclebandit/prospectpilot-backend/internal/gateway"
	"github.com/unclebandit/prospectpilot-backend/internal/lifecycle"
	"github.com/unclebandit/prospectpilot-backend/internal/metrics"
	"github.com/unclebandit/prospectpilot-backend/internal/repository"
	"github.com/unclebandit/prospectpilot-backend/internal/runner"
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunnerMode {
		runRunnerMode(ctx, cfg, logger, machine, prospectRepo, campaignRepo, queueRepo)
		return
	}

	executor := &dispatch.Executor{
		Prospects: prospectRepo,
		Campaigns: campaignRepo,
		Queue:     queueRepo,
		Machine:   machine,
		Gateway: gateway.NewClient(
			cfg.ProviderBaseURL,
			cfg.ProviderAPIKey,
			time.Duration(cfg.ProviderTimeoutSecs)*time.Second,
		),
		Email: &gateway.EmailSender{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		},
		Log:         logger,
		MaxAttempts: uint64(cfg.MaxAttempts),
	}

	poller := &dispatch.Poller{
		Queue:      queueRepo,
		Executor:   executor,
		Log:        logger,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		Interval:   time.Duration(cfg.PollIntervalMins) * time.Minute,
		BatchSize:  cfg.ClaimBatchSize,
		Workers:    cfg.WorkerCount,
		StaleAfter: time.Duration(cfg.StaleClaimMins) * time.Minute,
	}

	logger.Info("dispatcher started",
		zap.Int("workers", cfg.WorkerCount),
		zap.Int("batch_size", cfg.ClaimBatchSize),
		zap.Int("poll_interval_mins", cfg.PollIntervalMins),
	)
	poller.Run(ctx)
	logger.Info("dispatcher stopped")
}

// runRunnerMode hands dispatch batches to an external workflow runner over
// AMQP instead of calling the provider directly, and applies the completion
// reports the runner publishes back.
func runRunnerMode(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	machine *lifecycle.Machine,
	prospectRepo repository.ProspectRepositoryInterface,
	campaignRepo repository.CampaignRepositoryInterface,
	queueRepo repository.QueueRepositoryInterface,
) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("failed to open broker channel", zap.Error(err))
	}
	defer ch.Close()

	if err := runner.Setup(ch); err != nil {
		logger.Fatal("failed to declare queues", zap.Error(err))
	}

	trigger := &runner.Trigger{
		Ch:        ch,
		Prospects: prospectRepo,
		Campaigns: campaignRepo,
		Queue:     queueRepo,
		Log:       logger,
	}
	poller := &runner.Poller{
		Queue:      queueRepo,
		Trigger:    trigger,
		Log:        logger,
		Interval:   time.Duration(cfg.PollIntervalMins) * time.Minute,
		BatchSize:  cfg.ClaimBatchSize,
		StaleAfter: time.Duration(cfg.StaleClaimMins) * time.Minute,
	}
	consumer := &runner.CompletionConsumer{
		Ch:        ch,
		Machine:   machine,
		Prospects: prospectRepo,
		Campaigns: campaignRepo,
		Queue:     queueRepo,
		Log:       logger,
	}

	go poller.Run(ctx)

	logger.Info("dispatcher started in runner mode")
	if err := consumer.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("completion consumer stopped", zap.Error(err))
	}
	logger.Info("dispatcher stopped")
}
