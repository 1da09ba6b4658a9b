package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chart-gateway/internal/controller"
	"chart-gateway/internal/middleware"
	"chart-gateway/internal/security"
)

// newRouter registers every HTTP route. The returned func stops the rate
// limiter cleanup loops.
func newRouter(gw *gateway) (*gin.Engine, func()) {
	cfg := gw.cfg

	chartController := controller.NewChartController(gw.charts, gw.logger)
	databaseController := controller.NewDatabaseController(gw.checker, gw.pool, gw.logger)
	healthController := controller.NewHealthController(gw.db, gw.pool, version)

	jwtManager := security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
	authMiddleware := security.NewAuthMiddleware(jwtManager, cfg.Security.EnableAuth)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(gw.logger))
	router.Use(middleware.PrometheusMiddleware())

	stop := func() {}
	if cfg.Security.EnableRateLimit {
		limits := middleware.RateLimiterConfig{
			RPM:             cfg.Security.RateLimitPerMinute,
			Burst:           cfg.Security.RateLimitBurst,
			CleanupInterval: 5 * time.Minute,
		}
		limiter := middleware.NewEndpointRateLimiter(limits)
		// connection tests open real connections
		limiter.AddEndpoint("/api/v1/database/test-connection", middleware.RateLimiterConfig{
			RPM:             30,
			Burst:           5,
			CleanupInterval: 5 * time.Minute,
		})
		router.Use(limiter.RateLimitByPath())
		stop = limiter.Stop
	}

	// Health check and metrics endpoints (always available)
	router.GET("/health", healthController.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	public := api.Group("")
	{
		public.GET("/health", healthController.HealthCheck)
		public.GET("/database/types", databaseController.GetDatabaseTypes)
	}

	auth := api.Group("")
	auth.Use(authMiddleware.RequireAuth())
	{
		charts := auth.Group("/charts")
		{
			charts.POST("/data", chartController.GetChartData)
			charts.POST("/compile", chartController.CompileChart)
			charts.GET("/stats", chartController.GetChartStats)
		}

		auth.GET("/tables/:table/columns", chartController.GetTableColumns)

		datasources := auth.Group("/datasources")
		{
			datasources.POST("/:name/charts/data", chartController.GetChartDataForSource)
			datasources.GET("/:name/tables/:table/columns", chartController.GetTableColumns)
			datasources.DELETE("/:name/tables/:table/schema-cache", chartController.InvalidateTableSchema)
			datasources.DELETE("/:name/schema-cache", chartController.InvalidateSourceSchema)
		}

		// registry endpoints exist only with a metadata database
		if gw.dataSources != nil {
			datasourceController := controller.NewDataSourceController(gw.dataSources, gw.logger)

			datasources.GET("", datasourceController.ListDataSources)
			datasources.GET("/stats", datasourceController.GetDataSourceStats)
			datasources.GET("/:name", datasourceController.GetDataSource)

			admin := datasources.Group("")
			admin.Use(authMiddleware.RequireRole("admin"))
			{
				admin.POST("", datasourceController.CreateDataSource)
				admin.PUT("/:name", datasourceController.UpdateDataSource)
				admin.DELETE("/:name", datasourceController.DeleteDataSource)
				admin.POST("/:name/activate", datasourceController.ActivateDataSource)
				admin.POST("/:name/deactivate", datasourceController.DeactivateDataSource)
				admin.POST("/:name/test", datasourceController.TestDataSource)
			}
		}

		database := auth.Group("/database")
		{
			database.POST("/test-connection", databaseController.TestDataSourceConnection)
			database.POST("/validate-config", databaseController.ValidateDataSourceConfig)
			database.GET("/connections/stats", databaseController.GetConnectionStats)
			database.GET("/health", databaseController.GetDatabaseHealth)
		}
	}

	return router, stop
}
