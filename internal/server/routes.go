package server

import (
	"github.com/gin-contrib/cors"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/server/api"
	"github.com/looplj/agentpay/internal/server/biz"
	"github.com/looplj/agentpay/internal/server/middleware"
)

type Handlers struct {
	fx.In

	Grants     *api.GrantHandlers
	Executions *api.ExecutionHandlers
	Fees       *api.FeeHandlers
	Shards     *api.ShardHandlers
	System     *api.SystemHandlers
}

func SetupRoutes(server *Server, handlers Handlers, auth *biz.AuthService) {
	server.Use(middleware.AccessLog())
	server.Use(middleware.WithLoggingTracing(server.Config.Trace))

	if server.Config.CORS.Enabled {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = server.Config.CORS.AllowedOrigins
		corsConfig.AllowMethods = server.Config.CORS.AllowedMethods
		corsConfig.AllowHeaders = append(server.Config.CORS.AllowedHeaders, "Authorization")
		corsConfig.ExposeHeaders = server.Config.CORS.ExposedHeaders
		corsConfig.AllowCredentials = server.Config.CORS.AllowCredentials
		corsConfig.MaxAge = server.Config.CORS.MaxAge

		corsHandler := cors.New(corsConfig)
		server.Use(corsHandler)
		server.OPTIONS("*any", corsHandler)
	}

	// Health check - no authentication required.
	server.GET("/health", middleware.WithTimeout(server.Config.RequestTimeout), handlers.System.Health)

	v1 := server.Group("/v1", middleware.WithJWTAuth(auth))

	{
		manage := v1.Group("", middleware.WithTimeout(server.Config.RequestTimeout))
		manage.POST("/grants", handlers.Grants.CreateGrant)
		manage.GET("/grants", handlers.Grants.ListGrants)
		manage.GET("/grants/active", handlers.Grants.GetActiveGrant)
		manage.POST("/grants/:id/revoke", handlers.Grants.RevokeGrant)
		manage.PUT("/grants/:id/strategies/:strategy", handlers.Grants.UpsertStrategy)
		manage.GET("/grants/:id/strategies", handlers.Grants.ListStrategies)
		manage.GET("/grants/:id/executions", handlers.Grants.ListExecutions)
		manage.POST("/fees/estimate", handlers.Fees.EstimateFee)
		manage.PUT("/shards", handlers.Shards.ProvisionShard)
	}

	v1.POST("/grants/:id/execute", middleware.WithTimeout(server.Config.ExecuteTimeout), handlers.Executions.Execute)
}
