package app

import (
	"github.com/gin-gonic/gin"

	"github.com/guildgraph/guildgraph-backend/internal/server"
)

func wireRouter(cfg Config, handlers Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		NetworkHandler: handlers.Network,
		SyncHandler:    handlers.Sync,
		AllowOrigins:   cfg.AllowOrigins,
	})
}
