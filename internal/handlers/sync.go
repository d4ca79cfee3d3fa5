package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/services"
)

type SyncHandler struct {
	log      *logger.Logger
	backfill services.BackfillService
}

func NewSyncHandler(log *logger.Logger, backfill services.BackfillService) *SyncHandler {
	return &SyncHandler{
		log:      log.With("handler", "SyncHandler"),
		backfill: backfill,
	}
}

// TriggerGuildSync kicks off a watermark-driven sync pass in the
// background. The pass is idempotent, so overlapping triggers only cost
// duplicate fetches.
// POST /guilds/:guild_id/sync
func (h *SyncHandler) TriggerGuildSync(c *gin.Context) {
	guildID := c.Param("guild_id")
	if guildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id required"})
		return
	}
	go func() {
		stats, err := h.backfill.SyncGuild(context.Background(), guildID)
		if err != nil {
			h.log.Error("Triggered guild sync failed", "guild_id", guildID, "error", err)
			return
		}
		h.log.Info("Triggered guild sync finished",
			"guild_id", guildID,
			"channels_synced", stats.ChannelsSynced,
			"messages_stored", stats.MessagesStored,
		)
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "sync started", "guild_id": guildID})
}
