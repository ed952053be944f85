package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/avelain/credential-service/internal/core/port"
	"github.com/avelain/credential-service/internal/infra/config"
	"github.com/avelain/credential-service/internal/infra/database"
	kafkainfra "github.com/avelain/credential-service/internal/infra/kafka"
	"github.com/avelain/credential-service/internal/infra/logger"
	redisinfra "github.com/avelain/credential-service/internal/infra/redis"
	"github.com/avelain/credential-service/internal/infra/security"
	postgresrepo "github.com/avelain/credential-service/internal/repository/postgres"
	redisrepo "github.com/avelain/credential-service/internal/repository/redis"
	"github.com/avelain/credential-service/internal/transport/http/routes"
	"github.com/avelain/credential-service/internal/usecase"
)

type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	kafka  *kafkainfra.Producer
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if strength, err := security.AlgorithmStrength(cfg.Auth.Algorithm); err == nil && strength < 256 {
		log.Warn("configured digest algorithm is below the recommended strength",
			zap.String("algorithm", cfg.Auth.Algorithm),
			zap.Int("bits", strength),
		)
	}

	cipher, err := security.NewPasswordCipher(cfg.Auth.Descriptor())
	if err != nil {
		return nil, fmt.Errorf("init password cipher: %w", err)
	}

	policies, err := cfg.Auth.Policies()
	if err != nil {
		return nil, err
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	store := postgresrepo.NewCredentialRepository(pool)
	settings := postgresrepo.NewSettingsRepository(pool)

	var directory port.IdentityDirectory = postgresrepo.NewDirectoryRepository(pool)

	// The directory cache is an optimization; the service runs without it.
	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		log.Warn("redis unavailable, identity directory cache disabled", zap.Error(err))
	} else {
		directory = redisrepo.NewDirectoryCache(
			directory,
			redisClient.Client(),
			cfg.Redis.DirectoryPrefix,
			cfg.Redis.DirectoryCacheTTL,
		)
	}

	var (
		eventPublisher port.EventPublisher
		kafkaProducer  *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	resetSecret, err := settings.ResetTokenSecret(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap reset token secret: %w", err)
	}
	resetExpiry, err := cfg.Auth.ResetPasswordExpiry()
	if err != nil {
		return nil, err
	}
	resetTokens, err := security.NewResetTokenIssuer(resetSecret, cfg.App.Name, resetExpiry)
	if err != nil {
		return nil, fmt.Errorf("init reset token issuer: %w", err)
	}

	credentialService := usecase.NewCredentialService(
		usecase.LifecycleSettings{RequirePassword: cfg.Auth.RequirePassword},
		store,
		usecase.NewPolicyService(directory, cipher, policies),
		cipher,
		resetTokens,
		eventPublisher,
		log,
	)

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Credentials: credentialService,
		Database:    pool,
	}
	if redisClient != nil {
		deps.Cache = redisClient
	}
	engine := routes.Register(deps)

	return &Application{
		cfg:    cfg,
		engine: engine,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		kafka:  kafkaProducer,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.kafka != nil {
			_ = a.kafka.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting credential API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	return nil
}
