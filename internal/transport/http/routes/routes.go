package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/avelain/credential-service/internal/infra/config"
	"github.com/avelain/credential-service/internal/transport/http/handlers"
	"github.com/avelain/credential-service/internal/transport/http/middleware"
	"github.com/avelain/credential-service/internal/usecase"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Credentials *usecase.CredentialService
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))

	if metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{
		Namespace: deps.Config.Telemetry.MetricsNamespace,
	}); err == nil {
		r.Use(metrics.Handler())
	} else if deps.Logger != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	credentialHandler := handlers.NewCredentialHandler(deps.Credentials)

	api := r.Group("/api/v1")
	{
		api.POST("/login", credentialHandler.Login)

		password := api.Group("/password")
		{
			password.POST("/reset", credentialHandler.ResetPassword)
		}

		credentials := api.Group("/credentials")
		{
			credentials.GET("/login/:username", credentialHandler.GetByLogin)

			credentials.POST("/:kuid", credentialHandler.Create)
			credentials.GET("/:kuid", credentialHandler.GetInfo)
			credentials.PUT("/:kuid", credentialHandler.Update)
			credentials.DELETE("/:kuid", credentialHandler.Delete)
			credentials.GET("/:kuid/exists", credentialHandler.Exists)
			credentials.POST("/:kuid/validate", credentialHandler.Validate)
			credentials.POST("/:kuid/reset-token", credentialHandler.IssueResetToken)
		}
	}

	return r
}
