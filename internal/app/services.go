package app

import (
	"context"

	"github.com/guildgraph/guildgraph-backend/internal/feed"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/services"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type Services struct {
	Backfill    services.BackfillService
	Capture     services.CaptureService
	Segmenter   services.SegmenterService
	Affinity    services.AffinityService
	Rollup      services.RollupService
	Maintenance services.MaintenanceService
	Network     services.NetworkService
}

func wireServices(log *logger.Logger, cfg Config, r Repos, c Clients, source feed.Feed) Services {
	log.Info("Wiring services...")

	affinity := services.NewAffinityService(cfg.Tuning.Scoring, r.Segment, r.Edge, r.Member, r.Relationship, log)
	rollup := services.NewRollupService(cfg.Tuning.Rollup, affinity, r.Edge, c.RollupQueue, c.GraphDB, log)

	// Every finalized segment re-queues its participants so their
	// relationship networks rebuild on the next rollup pass.
	onSegment := func(ctx context.Context, seg *types.ConversationSegment) {
		rollup.Enqueue(ctx, seg.GuildID, seg.ParticipantList()...)
	}
	segmenter := services.NewSegmenterService(cfg.Tuning.Segmenter, r.Message, r.Segment, r.Edge, r.Member, source, log, onSegment)

	return Services{
		Backfill:    services.NewBackfillService(cfg.Tuning.Backfill, source, r.Message, r.Channel, r.Member, log),
		Capture:     services.NewCaptureService(cfg.Tuning.Capture, r.Message, r.Channel, r.Member, r.Edge, segmenter, rollup, log),
		Segmenter:   segmenter,
		Affinity:    affinity,
		Rollup:      rollup,
		Maintenance: services.NewMaintenanceService(cfg.Tuning.Maintenance, r.Segment, r.Edge, r.Channel, log),
		Network:     services.NewNetworkService(r.Relationship, r.Segment, r.Edge, log),
	}
}
