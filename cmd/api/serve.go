package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankops/internal/api"
	"github.com/punchamoorthee/bankops/internal/auth"
	"github.com/punchamoorthee/bankops/internal/challenge"
	"github.com/punchamoorthee/bankops/internal/config"
	"github.com/punchamoorthee/bankops/internal/notify"
	"github.com/punchamoorthee/bankops/internal/seed"
	"github.com/punchamoorthee/bankops/internal/service"
	"github.com/punchamoorthee/bankops/internal/store"
)

type serveOptions struct {
	migrate   bool
	seedUsers int
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply database migrations before serving")
	cmd.Flags().IntVar(&opts.seedUsers, "seed-users", 10, "demo users created by the memory storage driver")
	return cmd
}

// backend is what the transfer service needs from storage. Both the
// Postgres store and the in-memory store provide it.
type backend interface {
	service.Directory
	service.Ledger
	service.History
}

func runServe(opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Bank transfer service starting",
		zap.String("environment", cfg.Env),
		zap.String("storage_driver", cfg.StorageDriver),
		zap.String("challenge_store", cfg.ChallengeStore))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		data       backend
		challenges challenge.Store
		pg         *store.Store
	)
	switch cfg.StorageDriver {
	case "memory":
		mem, err := seedMemory(opts.seedUsers)
		if err != nil {
			return err
		}
		logger.Info("Seeded in-memory store", zap.Int("users", opts.seedUsers), zap.String("demo_email", seed.DemoEmail))
		data = mem
	default:
		if opts.migrate {
			if err := store.MigrateUp(cfg.DBSource, logger); err != nil {
				return err
			}
		}
		pg, err = store.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return err
		}
		defer pg.Close()
		logger.Info("Connected to PostgreSQL")
		data = pg
	}

	if cfg.ChallengeStore == "postgres" {
		challenges = store.NewChallengeStore(pg, cfg.ChallengeClaimLease)
	} else {
		challenges = challenge.NewMemoryStore()
	}

	var (
		otpSender notify.OTPSender
		notifier  notify.Notifier
	)
	if len(cfg.KafkaBrokers) > 0 {
		topicCtx, topicCancel := context.WithTimeout(ctx, 10*time.Second)
		err := ensureKafkaTopics(topicCtx, cfg.KafkaBrokers, []string{cfg.KafkaOTPTopic, cfg.KafkaNotificationTopic}, logger)
		topicCancel()
		if err != nil {
			logger.Warn("Could not ensure Kafka topics", zap.Error(err))
		}
		publisher := notify.NewKafkaPublisher(
			notify.NewKafkaWriter(cfg.KafkaBrokers),
			cfg.KafkaOTPTopic,
			cfg.KafkaNotificationTopic,
			logger.With(zap.String("component", "KafkaPublisher")),
		)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("Error closing Kafka publisher", zap.Error(err))
			}
		}()
		otpSender, notifier = publisher, publisher
	} else {
		sink := notify.NewLogSink(logger.With(zap.String("component", "LogSink")))
		otpSender, notifier = sink, sink
	}

	dispatcher := notify.NewDispatcher(notifier, cfg.NotifyWorkers, cfg.NotifyQueueSize, cfg.NotifyTimeout,
		logger.With(zap.String("component", "NotificationDispatcher")))
	dispatcher.Start()

	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}

	transfers := service.NewTransferService(service.Deps{
		Directory:  data,
		Ledger:     data,
		History:    data,
		Challenges: challenges,
		Verifier:   auth.BcryptVerifier{},
		OTPSender:  otpSender,
		Notices:    dispatcher,
	}, service.Options{
		ChallengeTTL:   cfg.ChallengeTTL,
		OTPLength:      cfg.OTPLength,
		MaxOTPAttempts: cfg.OTPMaxAttempts,
		MaxAmount:      cfg.MaxTransferAmount,
	}, logger.With(zap.String("component", "TransferService")))

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	api.NewHandler(transfers, authenticator, logger.With(zap.String("component", "HTTPHandler"))).Register(r)

	go challenge.RunSweeper(ctx, challenges, cfg.ChallengeSweepInterval, logger.With(zap.String("component", "ChallengeSweeper")))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
	dispatcher.Close()
	logger.Info("Server stopped")
	return nil
}

func newAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.AuthMode {
	case "header":
		return auth.HeaderAuthenticator{}, nil
	case "jwt":
		return auth.NewJWTAuthenticator([]byte(cfg.JWTSecret)), nil
	}
	return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
}

func seedMemory(users int) (*store.Memory, error) {
	hash, err := auth.HashPassword(seed.DemoPassword)
	if err != nil {
		return nil, err
	}
	mem := store.NewMemory()
	ds := seed.Generate(users, decimal.NewFromInt(10000), hash, time.Now().UTC())
	if err := seed.LoadMemory(mem, ds); err != nil {
		return nil, err
	}
	return mem, nil
}
