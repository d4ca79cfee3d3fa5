package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
)

type MaintenanceConfig struct {
	Interval         time.Duration `yaml:"interval"`
	SegmentRetention time.Duration `yaml:"segment_retention"`
	ShortWindow      time.Duration `yaml:"short_window"`
	LongWindow       time.Duration `yaml:"long_window"`
}

func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Interval:         1 * time.Hour,
		SegmentRetention: 90 * 24 * time.Hour,
		ShortWindow:      7 * 24 * time.Hour,
		LongWindow:       30 * 24 * time.Hour,
	}
}

// MaintenanceService keeps derived aggregates fresh as data grows:
// compaction of segments past the retention horizon and periodic
// recomputation of the edges' rolling 7d/30d counters, which are
// intentionally not maintained per-write.
type MaintenanceService interface {
	Start(ctx context.Context)
	RunOnce(ctx context.Context) error
}

type maintenanceService struct {
	cfg      MaintenanceConfig
	segments repos.SegmentRepo
	edges    repos.EdgeRepo
	channels repos.ChannelRepo
	log      *logger.Logger
	now      func() time.Time
}

func NewMaintenanceService(
	cfg MaintenanceConfig,
	segments repos.SegmentRepo,
	edges repos.EdgeRepo,
	channels repos.ChannelRepo,
	log *logger.Logger,
) MaintenanceService {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = 7 * 24 * time.Hour
	}
	if cfg.LongWindow <= 0 {
		cfg.LongWindow = 30 * 24 * time.Hour
	}
	return &maintenanceService{
		cfg:      cfg,
		segments: segments,
		edges:    edges,
		channels: channels,
		log:      log.With("service", "MaintenanceService"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *maintenanceService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.RunOnce(ctx); err != nil {
					s.log.Warn("Maintenance pass failed", "error", err)
				}
			}
		}
	}()
}

func (s *maintenanceService) RunOnce(ctx context.Context) error {
	if err := s.compactSegments(ctx); err != nil {
		return err
	}
	return s.refreshRollingWindows(ctx)
}

func (s *maintenanceService) compactSegments(ctx context.Context) error {
	if s.cfg.SegmentRetention <= 0 {
		return nil
	}
	dbc := dbctx.From(ctx)
	cutoff := s.now().Add(-s.cfg.SegmentRetention)
	deleted := int64(0)
	for {
		old, err := s.segments.ListOlderThan(dbc, cutoff, 1000)
		if err != nil {
			return err
		}
		if len(old) == 0 {
			break
		}
		ids := make([]uuid.UUID, 0, len(old))
		for _, seg := range old {
			ids = append(ids, seg.ID)
		}
		n, err := s.segments.DeleteByIDs(dbc, ids)
		if err != nil {
			return err
		}
		deleted += n
		if len(old) < 1000 {
			break
		}
	}
	if deleted > 0 {
		s.log.Info("Compacted old segments", "deleted", deleted, "cutoff", cutoff)
	}
	return nil
}

func (s *maintenanceService) refreshRollingWindows(ctx context.Context) error {
	dbc := dbctx.From(ctx)
	guilds, err := s.channels.ListGuilds(dbc)
	if err != nil {
		return err
	}
	nowTime := s.now()
	shortSince := nowTime.Add(-s.cfg.ShortWindow)
	longSince := nowTime.Add(-s.cfg.LongWindow)

	for _, guildID := range guilds {
		offset := 0
		for {
			page, err := s.edges.ListByGuild(dbc, guildID, offset, 1000)
			if err != nil {
				return err
			}
			if len(page) == 0 {
				break
			}
			for _, edge := range page {
				pair := []string{edge.UserA, edge.UserB}
				short, err := s.segments.ListForParticipants(dbc, guildID, pair, &shortSince, 500)
				if err != nil {
					continue
				}
				long, err := s.segments.ListForParticipants(dbc, guildID, pair, &longSince, 500)
				if err != nil {
					continue
				}
				if len(short) == edge.Rolling7d && len(long) == edge.Rolling30d {
					continue
				}
				if err := s.edges.UpdateRollingWindows(dbc, edge.ID, len(short), len(long)); err != nil {
					s.log.Warn("Failed to update rolling windows",
						"guild_id", guildID, "edge_id", edge.ID, "error", err)
				}
			}
			if len(page) < 1000 {
				break
			}
			offset += len(page)
		}
	}
	return nil
}
