package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/guildgraph/guildgraph-backend/internal/handlers"
)

type RouterConfig struct {
	NetworkHandler *handlers.NetworkHandler
	SyncHandler    *handlers.SyncHandler
	AllowOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/guilds/:guild_id/members/:user_id/network", cfg.NetworkHandler.GetNetwork)
		api.GET("/guilds/:guild_id/segments", cfg.NetworkHandler.GetSegments)
		api.GET("/guilds/:guild_id/dyads/:user_a/:user_b", cfg.NetworkHandler.GetDyad)
		api.POST("/guilds/:guild_id/sync", cfg.SyncHandler.TriggerGuildSync)
	}

	return router
}
