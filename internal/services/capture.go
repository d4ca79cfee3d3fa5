package services

import (
	"context"
	"time"

	"github.com/guildgraph/guildgraph-backend/internal/feed"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type CaptureConfig struct {
	ProximityLookback int           `yaml:"proximity_lookback"`
	ProximityWindow   time.Duration `yaml:"proximity_window"`
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		ProximityLookback: 10,
		ProximityWindow:   30 * time.Second,
	}
}

// RollupEnqueuer receives the users whose networks need renormalization.
// Implemented by RollupService; narrow here so capture stays testable.
type RollupEnqueuer interface {
	Enqueue(ctx context.Context, guildID string, userIDs ...string)
}

// CaptureService mirrors live feed events into the store and derives
// interaction edges from creates. Mirroring is synchronous: if the write
// fails the event is dropped with a logged error, never retried inline.
type CaptureService interface {
	HandleMessageCreate(ctx context.Context, ev feed.MessageEvent) error
	HandleMessageUpdate(ctx context.Context, ev feed.MessageEvent) error
	HandleMessageDelete(ctx context.Context, ev feed.MessageDeleteEvent) error
	HandleReactionAdd(ctx context.Context, ev feed.ReactionEvent) error
	HandleMemberEvent(ctx context.Context, ev feed.MemberEvent) error
}

type captureService struct {
	cfg       CaptureConfig
	messages  repos.MessageRepo
	channels  repos.ChannelRepo
	members   repos.MemberRepo
	edges     repos.EdgeRepo
	segmenter SegmenterService
	rollup    RollupEnqueuer
	log       *logger.Logger
	now       func() time.Time
}

func NewCaptureService(
	cfg CaptureConfig,
	messages repos.MessageRepo,
	channels repos.ChannelRepo,
	members repos.MemberRepo,
	edges repos.EdgeRepo,
	segmenter SegmenterService,
	rollup RollupEnqueuer,
	log *logger.Logger,
) CaptureService {
	if cfg.ProximityLookback <= 0 {
		cfg.ProximityLookback = 10
	}
	if cfg.ProximityWindow <= 0 {
		cfg.ProximityWindow = 30 * time.Second
	}
	return &captureService{
		cfg:       cfg,
		messages:  messages,
		channels:  channels,
		members:   members,
		edges:     edges,
		segmenter: segmenter,
		rollup:    rollup,
		log:       log.With("service", "CaptureService"),
	}
}

func (s *captureService) HandleMessageCreate(ctx context.Context, ev feed.MessageEvent) error {
	dbc := dbctx.From(ctx)
	log := s.log.With("guild_id", ev.GuildID, "channel_id", ev.ChannelID, "message_id", ev.ID)

	row := eventToMessage(ev.GuildID, ev.ChannelID, ev)
	if err := s.messages.Upsert(dbc, []*types.Message{row}); err != nil {
		log.Error("Failed to mirror message create, event dropped", "error", err)
		return err
	}

	if err := s.ensureChannel(dbc, ev.GuildID, ev.ChannelID); err != nil {
		log.Warn("Failed to ensure channel row", "error", err)
	} else if err := s.advanceWatermark(dbc, ev.ChannelID); err != nil {
		log.Warn("Failed to advance watermark", "error", err)
	}

	if ev.Author.Bot {
		return nil
	}

	s.segmenter.Ingest(ctx, ev)
	s.recordMentionEdges(ctx, ev)
	s.recordReplyEdge(ctx, ev)
	s.recordProximityEdges(ctx, ev)
	return nil
}

func (s *captureService) HandleMessageUpdate(ctx context.Context, ev feed.MessageEvent) error {
	editedAt := ev.EditedAt
	if editedAt == nil {
		t := s.timeNow()
		editedAt = &t
	}
	if err := s.messages.UpdateContent(dbctx.From(ctx), ev.ID, ev.Content, editedAt); err != nil {
		s.log.Error("Failed to mirror message update, event dropped",
			"message_id", ev.ID, "error", err)
		return err
	}
	return nil
}

func (s *captureService) HandleMessageDelete(ctx context.Context, ev feed.MessageDeleteEvent) error {
	// Soft delete only: finalized segments keep their history, future
	// range scans exclude the row.
	if err := s.messages.SoftDelete(dbctx.From(ctx), ev.MessageID); err != nil {
		s.log.Error("Failed to mirror message delete, event dropped",
			"message_id", ev.MessageID, "error", err)
		return err
	}
	return nil
}

func (s *captureService) HandleReactionAdd(ctx context.Context, ev feed.ReactionEvent) error {
	dbc := dbctx.From(ctx)
	target, err := s.messages.GetByID(dbc, ev.MessageID)
	if err != nil || target == nil {
		return nil
	}
	if target.AuthorIsBot || target.AuthorID == ev.UserID {
		return nil
	}
	if member, err := s.members.Get(dbc, ev.GuildID, ev.UserID); err == nil && member != nil && member.Bot {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = s.timeNow()
	}
	s.touchAndEnqueue(ctx, ev.GuildID, ev.UserID, target.AuthorID, types.InteractionReaction, at)
	return nil
}

func (s *captureService) HandleMemberEvent(ctx context.Context, ev feed.MemberEvent) error {
	dbc := dbctx.From(ctx)
	if ev.Removed {
		return s.members.MarkInactive(dbc, ev.GuildID, ev.Member.ID)
	}
	return s.members.Upsert(dbc, []*types.GuildMember{{
		GuildID:     ev.GuildID,
		UserID:      ev.Member.ID,
		Username:    ev.Member.Username,
		DisplayName: ev.Member.DisplayName,
		GlobalName:  ev.Member.GlobalName,
		Bot:         ev.Member.Bot,
		Active:      true,
		JoinedAt:    ev.JoinedAt,
		UpdatedAt:   s.timeNow(),
	}})
}

func (s *captureService) recordMentionEdges(ctx context.Context, ev feed.MessageEvent) {
	knownBots := map[string]bool{}
	for _, u := range ev.Mentions {
		if u.Bot {
			knownBots[u.ID] = true
		}
	}
	for _, id := range mentionIDs(ev) {
		if knownBots[id] {
			continue
		}
		s.touchAndEnqueue(ctx, ev.GuildID, ev.Author.ID, id, types.InteractionMention, ev.CreatedAt)
	}
}

func (s *captureService) recordReplyEdge(ctx context.Context, ev feed.MessageEvent) {
	if ev.ReferencedMessageID == "" {
		return
	}
	// Best effort: an unresolvable referenced author is swallowed.
	ref, err := s.messages.GetByID(dbctx.From(ctx), ev.ReferencedMessageID)
	if err != nil || ref == nil {
		return
	}
	if ref.AuthorIsBot || ref.AuthorID == ev.Author.ID {
		return
	}
	s.touchAndEnqueue(ctx, ev.GuildID, ev.Author.ID, ref.AuthorID, types.InteractionReply, ev.CreatedAt)
}

// recordProximityEdges captures ambient conversation signal: recent
// messages by different authors inside a short window count as interaction
// even without explicit replies or mentions.
func (s *captureService) recordProximityEdges(ctx context.Context, ev feed.MessageEvent) {
	recent, err := s.messages.ListRecentInChannel(dbctx.From(ctx), ev.ChannelID, s.cfg.ProximityLookback)
	if err != nil {
		return
	}
	seen := map[string]bool{ev.Author.ID: true}
	for _, m := range recent {
		if m.ID == ev.ID || m.AuthorIsBot || seen[m.AuthorID] {
			continue
		}
		gap := ev.CreatedAt.Sub(m.CreatedAt)
		if gap < 0 || gap > s.cfg.ProximityWindow {
			continue
		}
		seen[m.AuthorID] = true
		s.touchAndEnqueue(ctx, ev.GuildID, ev.Author.ID, m.AuthorID, types.InteractionProximity, ev.CreatedAt)
	}
}

func (s *captureService) touchAndEnqueue(ctx context.Context, guildID, userA, userB, kind string, at time.Time) {
	if userA == "" || userB == "" || userA == userB {
		return
	}
	if _, err := s.edges.Touch(dbctx.From(ctx), guildID, userA, userB, kind, at.UTC()); err != nil {
		s.log.Warn("Failed to record interaction edge",
			"guild_id", guildID, "kind", kind, "error", err)
		return
	}
	if s.rollup != nil {
		s.rollup.Enqueue(ctx, guildID, userA, userB)
	}
}

// advanceWatermark derives the watermark from storage rather than the
// event itself. Redelivered or out-of-order creates, and live events
// racing the sync loop, must never move it backward past what a
// committed batch already recorded; the newest stored row only ever
// grows.
func (s *captureService) advanceWatermark(dbc dbctx.Context, channelID string) error {
	newest, err := s.messages.NewestInChannel(dbc, channelID)
	if err != nil || newest == nil {
		return err
	}
	return s.channels.SetWatermark(dbc, channelID, newest.ID, s.timeNow())
}

func (s *captureService) ensureChannel(dbc dbctx.Context, guildID, channelID string) error {
	row, err := s.channels.GetByID(dbc, channelID)
	if err != nil {
		return err
	}
	if row != nil {
		return nil
	}
	return s.channels.Upsert(dbc, &types.Channel{
		ID:      channelID,
		GuildID: guildID,
		Active:  true,
	})
}

func (s *captureService) timeNow() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
