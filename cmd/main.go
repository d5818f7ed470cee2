package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpapi "github.com/dtroode/membergate/internal/api/http"
	"github.com/dtroode/membergate/internal/api/telegram"
	"github.com/dtroode/membergate/internal/config"
	"github.com/dtroode/membergate/internal/logger"
	"github.com/dtroode/membergate/internal/model"
	"github.com/dtroode/membergate/internal/oracle"
	"github.com/dtroode/membergate/internal/repository/postgres"
	"github.com/dtroode/membergate/internal/service"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found")
	}

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}
	defer db.Close()

	accountRepo := postgres.NewAccountRepository(db)
	identifierRepo := postgres.NewIdentifierRepository(db)

	commandsPlaceholder := &handlerRef{}

	bot, err := telegram.NewBot(telegram.Config{
		Token:       cfg.Telegram.Token,
		Channel:     cfg.Telegram.Channel,
		PollTimeout: cfg.Telegram.PollTimeout,
	}, commandsPlaceholder, logger)
	if err != nil {
		logger.Fatal("failed to initialize bot", "error", err)
	}

	memberClient := telegram.NewClient(bot.API(), bot.Channel())
	notifier := telegram.NewNotifier(bot.API(), logger)

	membershipOracle := oracle.New(memberClient, oracle.Config{
		Attempts:       cfg.Oracle.Attempts,
		AttemptTimeout: cfg.Oracle.AttemptTimeout,
		CacheTTL:       cfg.Oracle.CacheTTL,
	}, logger)

	commands := service.NewCommands(accountRepo, identifierRepo, membershipOracle, notifier, logger, service.CommandsConfig{
		RestoreThreshold: cfg.Monitor.RestoreThreshold,
		RestoreGrace:     cfg.Monitor.RestoreGrace,
	})
	commandsPlaceholder.set(commands)

	reconciler := service.NewReconciler(accountRepo, identifierRepo, membershipOracle, notifier, logger, service.ReconcilerConfig{
		MaxStrikes:      cfg.Monitor.MaxStrikes,
		SuspendDuration: cfg.Monitor.SuspendDuration,
		BatchSize:       cfg.Monitor.BatchSize,
		ScanInterval:    cfg.Monitor.ScanInterval,
		CheckTimeout:    cfg.Monitor.CheckTimeout,
		Workers:         cfg.Monitor.Workers,
		MaxErrors:       cfg.Monitor.MaxErrors,
		BlockThreshold:  cfg.Monitor.BlockThreshold,
	})

	httpServer := httpapi.NewServer(db, reconciler, identifierRepo, logger, httpapi.Config{
		Port:        cfg.HTTP.Port,
		ExportLimit: cfg.HTTP.ExportLimit,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		bot.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Run(); err != nil {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during http server shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}

// handlerRef breaks the construction cycle between the bot, which needs a
// handler, and the command service, which needs the bot's API for membership
// checks and notifications.
type handlerRef struct {
	mu      sync.RWMutex
	handler telegram.Handler
}

func (h *handlerRef) set(handler telegram.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *handlerRef) Handle(ctx context.Context, event model.Event) (model.Reply, error) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler == nil {
		return model.Reply{Outcome: model.ReplyTryAgain}, fmt.Errorf("handler not ready")
	}
	return handler.Handle(ctx, event)
}
