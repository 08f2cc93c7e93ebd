package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vipul43/mailsync/internal/api"
	"github.com/vipul43/mailsync/internal/config"
	"github.com/vipul43/mailsync/internal/database"
	"github.com/vipul43/mailsync/internal/events"
	"github.com/vipul43/mailsync/internal/gmail"
	"github.com/vipul43/mailsync/internal/notification"
	"github.com/vipul43/mailsync/internal/repository"
	"github.com/vipul43/mailsync/internal/service"
	"github.com/vipul43/mailsync/internal/tokencrypt"
	"github.com/vipul43/mailsync/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	log.Info().Msg("database connected")

	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Info().Msg("migrations completed")

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	syncLogRepo := repository.NewSyncLogRepository(db)
	syncJobRepo := repository.NewSyncJobRepository(sqlDB)
	actionRepo := repository.NewScheduledActionRepository(db)
	draftRepo := repository.NewDraftRepository(db)
	stateRepo := repository.NewOAuthStateRepository(db)

	var cipher service.TokenCipher
	if cfg.TokenEncryptionKey != "" {
		c, err := tokencrypt.New(cfg.TokenEncryptionKey)
		if err != nil {
			return err
		}
		cipher = c
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Initialize services
	gmailClient := gmail.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	refresher := service.NewTokenRefresher(accountRepo, gmailClient, cipher)
	engine := service.NewSyncEngine(accountRepo, messageRepo, syncLogRepo, gmailClient, refresher, publisher)
	processor := service.NewActionProcessor(actionRepo, accountRepo, draftRepo, messageRepo, gmailClient, refresher, publisher)
	linker := service.NewAccountLinker(accountRepo, syncJobRepo, cipher)
	if cfg.PushEnabled() {
		linker = linker.WithPushWatch(gmailClient, cfg.PushTopicName())
	}

	w := watcher.New(cfg, syncJobRepo, accountRepo, engine, processor, syncLogRepo, stateRepo)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(cfg, api.Deps{
			Accounts: accountRepo,
			Jobs:     syncJobRepo,
			SyncLogs: syncLogRepo,
			Actions:  actionRepo,
			Runner:   processor,
			States:   stateRepo,
			OAuth:    gmailClient,
			Linker:   linker,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.PushEnabled() {
		subscriber, err := notification.NewSubscriber(gctx, cfg.GoogleProjectID, cfg.PubSubTopic, cfg.PubSubSubscription,
			cfg.GoogleCredentialsFile, accountRepo, syncJobRepo)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer subscriber.Close()

		g.Go(func() error {
			err := subscriber.Start(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		// Workers get ShutdownTimeout to drain after the signal.
		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-time.After(cfg.ShutdownTimeout):
			log.Warn().Msg("shutdown timeout exceeded")
		}
	}

	log.Info().Msg("application stopped")
	return nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		return events.NopPublisher{}, nil
	}

	publisher, err := events.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.EnsureStream(ctx); err != nil {
		publisher.Close()
		return nil, err
	}
	return publisher, nil
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
