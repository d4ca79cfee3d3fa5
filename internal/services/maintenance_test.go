package services

import (
	"context"
	"testing"
	"time"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type maintenanceFixture struct {
	svc      MaintenanceService
	segments *fakeSegmentRepo
	edges    *fakeEdgeRepo
	channels *fakeChannelRepo
}

func newMaintenanceFixture(t *testing.T, cfg MaintenanceConfig) *maintenanceFixture {
	t.Helper()
	fx := &maintenanceFixture{
		segments: newFakeSegmentRepo(),
		edges:    newFakeEdgeRepo(),
		channels: newFakeChannelRepo(),
	}
	fx.svc = NewMaintenanceService(cfg, fx.segments, fx.edges, fx.channels, logger.NewNop())
	return fx
}

func (fx *maintenanceFixture) addPairSegment(t *testing.T, a, b string, end time.Time) {
	t.Helper()
	seg := &types.ConversationSegment{
		GuildID:      "g1",
		ChannelID:    "c1",
		StartTime:    end.Add(-5 * time.Minute),
		EndTime:      end,
		MessageCount: 4,
	}
	seg.SetParticipants([]string{a, b})
	if err := fx.segments.Create(dbctx.Background(), seg); err != nil {
		t.Fatalf("seed segment: %v", err)
	}
}

func TestRunOnceCompactsExpiredSegments(t *testing.T) {
	fx := newMaintenanceFixture(t, DefaultMaintenanceConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	fx.addPairSegment(t, "alice", "bob", now.Add(-120*24*time.Hour))
	fx.addPairSegment(t, "alice", "bob", now.Add(-2*24*time.Hour))

	if err := fx.svc.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := fx.segments.count(); n != 1 {
		t.Fatalf("segments after compaction: want=1 got=%d", n)
	}
}

func TestRunOnceRefreshesRollingWindows(t *testing.T) {
	fx := newMaintenanceFixture(t, DefaultMaintenanceConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	err := fx.channels.Upsert(dbctx.Background(), &types.Channel{ID: "c1", GuildID: "g1", Active: true})
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if _, err := fx.edges.Touch(dbctx.Background(), "g1", "alice", "bob", types.InteractionReply, now); err != nil {
		t.Fatalf("seed edge: %v", err)
	}

	// One shared conversation inside the short window, one only inside
	// the long window, one beyond both.
	fx.addPairSegment(t, "alice", "bob", now.Add(-2*24*time.Hour))
	fx.addPairSegment(t, "alice", "bob", now.Add(-20*24*time.Hour))
	fx.addPairSegment(t, "alice", "bob", now.Add(-45*24*time.Hour))

	if err := fx.svc.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	edge, err := fx.edges.GetPair(dbctx.Background(), "g1", "alice", "bob")
	if err != nil || edge == nil {
		t.Fatalf("missing edge, err=%v", err)
	}
	if edge.Rolling7d != 1 {
		t.Fatalf("rolling 7d: want=1 got=%d", edge.Rolling7d)
	}
	if edge.Rolling30d != 2 {
		t.Fatalf("rolling 30d: want=2 got=%d", edge.Rolling30d)
	}
}

func TestRunOnceSkipsRetentionWhenDisabled(t *testing.T) {
	cfg := DefaultMaintenanceConfig()
	cfg.SegmentRetention = -1
	fx := newMaintenanceFixture(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	fx.addPairSegment(t, "alice", "bob", now.Add(-365*24*time.Hour))

	if err := fx.svc.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := fx.segments.count(); n != 1 {
		t.Fatalf("retention disabled must keep everything, got %d", n)
	}
}
