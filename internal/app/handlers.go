package app

import (
	"github.com/guildgraph/guildgraph-backend/internal/handlers"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
)

type Handlers struct {
	Network *handlers.NetworkHandler
	Sync    *handlers.SyncHandler
}

func wireHandlers(log *logger.Logger, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Network: handlers.NewNetworkHandler(log, services.Network),
		Sync:    handlers.NewSyncHandler(log, services.Backfill),
	}
}
