package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guildgraph/guildgraph-backend/internal/clients/neo4jdb"
	redisclient "github.com/guildgraph/guildgraph-backend/internal/clients/redis"
	"github.com/guildgraph/guildgraph-backend/internal/graph"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
)

type RollupConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func DefaultRollupConfig() RollupConfig {
	return RollupConfig{Interval: 2 * time.Minute}
}

// RollupService decouples expensive network renormalization from the hot
// per-message path. Edge updates enqueue both endpoints into an idempotent
// pending set; a fixed-interval timer drains the set and rebuilds each
// affected user's network. Drains are serialized, never reentrant.
type RollupService interface {
	RollupEnqueuer
	Start(ctx context.Context)
	Drain(ctx context.Context) error
}

type rollupService struct {
	cfg      RollupConfig
	affinity AffinityService
	edges    repos.EdgeRepo
	queue    redisclient.RollupQueue
	graphDB  *neo4jdb.Client
	log      *logger.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	drainMu sync.Mutex
}

func NewRollupService(
	cfg RollupConfig,
	affinity AffinityService,
	edges repos.EdgeRepo,
	queue redisclient.RollupQueue,
	graphDB *neo4jdb.Client,
	log *logger.Logger,
) RollupService {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	return &rollupService{
		cfg:      cfg,
		affinity: affinity,
		edges:    edges,
		queue:    queue,
		graphDB:  graphDB,
		log:      log.With("service", "RollupService"),
		pending:  map[string]struct{}{},
	}
}

func rollupKey(guildID, userID string) string {
	return guildID + "|" + userID
}

func (s *rollupService) Enqueue(ctx context.Context, guildID string, userIDs ...string) {
	if guildID == "" {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, rollupKey(guildID, id))
		}
	}
	if len(keys) == 0 {
		return
	}
	if s.queue != nil {
		if err := s.queue.Add(ctx, keys...); err == nil {
			return
		}
		// Redis down: fall through to the in-process set so the signal is
		// not lost for this process lifetime.
	}
	s.mu.Lock()
	for _, k := range keys {
		s.pending[k] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *rollupService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Drain(ctx); err != nil {
					s.log.Warn("Rollup drain failed", "error", err)
				}
			}
		}
	}()
}

func (s *rollupService) Drain(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	keys := s.takePending(ctx)
	if len(keys) == 0 {
		return nil
	}
	s.log.Debug("Draining rollup queue", "pending", len(keys))

	byGuild := map[string][]string{}
	for _, key := range keys {
		guildID, userID, ok := splitRollupKey(key)
		if !ok {
			continue
		}
		byGuild[guildID] = append(byGuild[guildID], userID)
	}

	for guildID, users := range byGuild {
		sort.Strings(users)
		for _, userID := range users {
			if _, err := s.affinity.RebuildNetwork(ctx, guildID, userID); err != nil {
				s.log.Warn("Network rebuild failed",
					"guild_id", guildID, "user_id", userID, "error", err)
			}
		}
		s.mirrorGuildEdges(ctx, guildID, users)
	}
	return nil
}

func (s *rollupService) takePending(ctx context.Context) []string {
	merged := map[string]struct{}{}

	s.mu.Lock()
	for k := range s.pending {
		merged[k] = struct{}{}
	}
	s.pending = map[string]struct{}{}
	s.mu.Unlock()

	if s.queue != nil {
		popped, err := s.queue.PopAll(ctx)
		if err != nil {
			s.log.Warn("Failed to pop redis rollup set", "error", err)
		}
		for _, k := range popped {
			merged[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(merged))
	for k := range merged {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func splitRollupKey(key string) (guildID, userID string, ok bool) {
	i := strings.IndexByte(key, '|')
	if i <= 0 || i >= len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// mirrorGuildEdges projects the drained users' edges into neo4j.
// Best effort: the relational store stays the source of truth.
func (s *rollupService) mirrorGuildEdges(ctx context.Context, guildID string, users []string) {
	if s.graphDB == nil {
		return
	}
	dbc := dbctx.From(ctx)
	for _, userID := range users {
		rows, err := s.edges.ListForUser(dbc, guildID, userID)
		if err != nil {
			continue
		}
		if err := graph.UpsertRelationshipEdges(ctx, s.graphDB, s.log, guildID, rows); err != nil {
			s.log.Warn("Graph projection failed",
				"guild_id", guildID, "user_id", userID, "error", err)
		}
	}
}
