package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/services"
)

type NetworkHandler struct {
	log     *logger.Logger
	network services.NetworkService
}

func NewNetworkHandler(log *logger.Logger, network services.NetworkService) *NetworkHandler {
	return &NetworkHandler{
		log:     log.With("handler", "NetworkHandler"),
		network: network,
	}
}

// GetNetwork returns the ranked relationship network for one member.
// GET /guilds/:guild_id/members/:user_id/network?limit=50
func (h *NetworkHandler) GetNetwork(c *gin.Context) {
	guildID := c.Param("guild_id")
	userID := c.Param("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.network.GetMemberRelationshipNetwork(c.Request.Context(), guildID, userID, limit)
	if err != nil {
		h.log.Error("Failed to load relationship network",
			"guild_id", guildID, "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load network"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GetSegments returns conversation segments shared by all given
// participants.
// GET /guilds/:guild_id/segments?participants=a,b&limit=20&since=RFC3339
func (h *NetworkHandler) GetSegments(c *gin.Context) {
	guildID := c.Param("guild_id")
	raw := strings.TrimSpace(c.Query("participants"))
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participants required"})
		return
	}
	var participants []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			participants = append(participants, p)
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var since *time.Time
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = &t
	}

	segments, err := h.network.GetSegmentsForParticipants(c.Request.Context(), guildID, participants, limit, since)
	if err != nil {
		h.log.Error("Failed to load segments", "guild_id", guildID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load segments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

// GetDyad returns both directed views of one user pair.
// GET /guilds/:guild_id/dyads/:user_a/:user_b
func (h *NetworkHandler) GetDyad(c *gin.Context) {
	guildID := c.Param("guild_id")
	userA := c.Param("user_a")
	userB := c.Param("user_b")

	summary, err := h.network.GetDyadSummary(c.Request.Context(), guildID, userA, userB)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
