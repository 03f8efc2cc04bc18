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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/authz-be/internal/auth"
	"github.com/hongminglow/authz-be/internal/config"
	"github.com/hongminglow/authz-be/internal/jobs"
	"github.com/hongminglow/authz-be/internal/logging"
	"github.com/hongminglow/authz-be/internal/mail"
	"github.com/hongminglow/authz-be/internal/metrics"
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/server"
	"github.com/hongminglow/authz-be/internal/storage"
	"github.com/hongminglow/authz-be/internal/storage/memory"
	"github.com/hongminglow/authz-be/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile     string
		addr        string
		migrateOnly bool
	)
	flagSet := pflag.NewFlagSet("authz-server", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides PORT")
	flagSet.BoolVar(&migrateOnly, "migrate-only", false, "apply migrations and seed roles, then exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	loadLocalEnv(envFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Addr = addr
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer store.Close()

	if err := storage.Seed(ctx, store, models.DefaultRoles); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	if err := bootstrapAdmin(ctx, store, hasher, cfg, log); err != nil {
		return err
	}
	if migrateOnly {
		log.Info("migrations and seed applied")
		return nil
	}

	m := metrics.New()
	sender, err := newMailSender(cfg.Mail, logging.Component(logger, "mail"))
	if err != nil {
		return fmt.Errorf("init mail: %w", err)
	}
	dispatcher := mail.NewDispatcher(sender, 0, logging.Component(logger, "mail"), m)
	defer dispatcher.Wait()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	resets := auth.NewResetManager(store, hasher, dispatcher, cfg.ResetPINTTL, logging.Component(logger, "reset"), m)

	sweeper, err := jobs.NewPINSweeper(store, cfg.PINSweepSchedule, logging.Component(logger, "pinsweep"))
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		Store:   store,
		Tokens:  tokens,
		Hasher:  hasher,
		Resets:  resets,
		Metrics: m,
		Log:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr()).Info("authz backend listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if cfg.UsesMemoryStore() {
		return memory.NewStore(), nil
	}
	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func bootstrapAdmin(ctx context.Context, store storage.Store, hasher auth.PasswordHasher, cfg config.Config, log *logrus.Entry) error {
	if cfg.BootstrapAdminEmail == "" {
		return nil
	}
	hash, err := hasher.Hash(cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	created, err := storage.BootstrapAdmin(ctx, store, cfg.BootstrapAdminEmail, hash)
	if err != nil {
		return err
	}
	if created {
		log.WithField("email", cfg.BootstrapAdminEmail).Info("bootstrap admin created")
	}
	return nil
}

func newMailSender(cfg config.MailConfig, log *logrus.Entry) (mail.Sender, error) {
	if cfg.Host == "" {
		log.Warn("MAIL_HOST not set; reset PINs will be logged instead of mailed")
		return mail.NewLogSender(log), nil
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func loadLocalEnv(path string) {
	if err := godotenv.Load(path); err != nil {
		logrus.WithField("path", path).Debug("no .env file found; relying on existing environment")
	}
}
