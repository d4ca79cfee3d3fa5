package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guildgraph/guildgraph-backend/internal/feed"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type BackfillConfig struct {
	BatchSize      int `yaml:"batch_size"`
	ChannelWorkers int `yaml:"channel_workers"`
}

func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		BatchSize:      100,
		ChannelWorkers: 8,
	}
}

type GuildSyncStats struct {
	ChannelsSynced  int
	ChannelsSkipped int
	MessagesStored  int
	MembersSynced   int
}

type ChannelSyncStats struct {
	MessagesStored int
	FullBackfill   bool
}

// BackfillService drives watermark-based synchronization against the
// upstream feed. After SyncGuild every reachable channel's watermark equals
// the newest observed message id and everything between the old watermark
// and that point is persisted exactly once logically: every write is a
// replay-safe upsert, so a crash mid-pass just re-covers ground on the next
// run.
type BackfillService interface {
	SyncGuild(ctx context.Context, guildID string) (*GuildSyncStats, error)
	SyncChannel(ctx context.Context, guildID string, ch feed.ChannelInfo) (*ChannelSyncStats, error)
	SyncMembers(ctx context.Context, guildID string) (int, error)
}

type backfillService struct {
	cfg      BackfillConfig
	source   feed.Feed
	messages repos.MessageRepo
	channels repos.ChannelRepo
	members  repos.MemberRepo
	log      *logger.Logger
	now      func() time.Time
}

func NewBackfillService(
	cfg BackfillConfig,
	source feed.Feed,
	messages repos.MessageRepo,
	channels repos.ChannelRepo,
	members repos.MemberRepo,
	log *logger.Logger,
) BackfillService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ChannelWorkers < 1 {
		cfg.ChannelWorkers = 8
	}
	if cfg.ChannelWorkers > 20 {
		cfg.ChannelWorkers = 20
	}
	return &backfillService{
		cfg:      cfg,
		source:   source,
		messages: messages,
		channels: channels,
		members:  members,
		log:      log.With("service", "BackfillService"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *backfillService) SyncGuild(ctx context.Context, guildID string) (*GuildSyncStats, error) {
	log := s.log.With("guild_id", guildID)
	stats := &GuildSyncStats{}

	members, err := s.SyncMembers(ctx, guildID)
	if err != nil {
		// Member directory is supporting data; a failed sync degrades
		// name-usage scoring but never blocks the message pass.
		log.Warn("Member sync failed", "error", err)
	}
	stats.MembersSynced = members

	channels, err := s.source.ListChannels(ctx, guildID)
	if err != nil {
		return stats, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ChannelWorkers)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			chStats, err := s.SyncChannel(gctx, guildID, ch)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, feed.ErrPermissionDenied):
				log.Debug("Channel skipped, no access", "channel_id", ch.ID)
				stats.ChannelsSkipped++
			case err != nil:
				// Unexpected errors are isolated the same way: the next
				// scheduled pass retries from the unchanged watermark.
				log.Error("Channel sync failed", "channel_id", ch.ID, "error", err)
				stats.ChannelsSkipped++
			default:
				stats.ChannelsSynced++
				stats.MessagesStored += chStats.MessagesStored
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("Guild sync complete",
		"channels_synced", stats.ChannelsSynced,
		"channels_skipped", stats.ChannelsSkipped,
		"messages_stored", stats.MessagesStored,
	)
	return stats, nil
}

func (s *backfillService) SyncMembers(ctx context.Context, guildID string) (int, error) {
	users, err := s.source.ListMembers(ctx, guildID)
	if err != nil {
		return 0, err
	}
	rows := make([]*types.GuildMember, 0, len(users))
	nowTime := s.now()
	for _, u := range users {
		rows = append(rows, &types.GuildMember{
			GuildID:     guildID,
			UserID:      u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			GlobalName:  u.GlobalName,
			Bot:         u.Bot,
			Active:      true,
			UpdatedAt:   nowTime,
		})
	}
	if err := s.members.Upsert(dbctx.From(ctx), rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *backfillService) SyncChannel(ctx context.Context, guildID string, ch feed.ChannelInfo) (*ChannelSyncStats, error) {
	dbc := dbctx.From(ctx)
	if err := s.channels.Upsert(dbc, &types.Channel{
		ID:      ch.ID,
		GuildID: guildID,
		Name:    ch.Name,
		Active:  true,
	}); err != nil {
		return nil, err
	}

	row, err := s.channels.GetByID(dbc, ch.ID)
	if err != nil {
		return nil, err
	}

	if row == nil || row.LastMessageID == nil || *row.LastMessageID == "" {
		return s.fullBackfill(ctx, guildID, ch.ID)
	}
	return s.catchUp(ctx, guildID, ch.ID, *row.LastMessageID)
}

// fullBackfill pages backward from now until history is exhausted or an
// already-stored row shows up.
func (s *backfillService) fullBackfill(ctx context.Context, guildID, channelID string) (*ChannelSyncStats, error) {
	stats := &ChannelSyncStats{FullBackfill: true}
	pending := map[string]string{}
	cursor := ""
	for {
		// Pages arrive newest-first.
		page, err := s.source.MessagesBefore(ctx, channelID, cursor, s.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			break
		}

		stored, sawExisting, err := s.storeBatch(ctx, guildID, channelID, page, pending)
		if err != nil {
			return stats, err
		}
		stats.MessagesStored += stored

		if sawExisting || len(page) < s.cfg.BatchSize {
			break
		}
		cursor = page[len(page)-1].ID
	}
	return stats, nil
}

// catchUp pages forward after the watermark until the feed runs short or
// the page's newest qualifying message is already stored.
func (s *backfillService) catchUp(ctx context.Context, guildID, channelID, watermark string) (*ChannelSyncStats, error) {
	stats := &ChannelSyncStats{}
	pending := map[string]string{}
	cursor := watermark
	for {
		// Pages arrive oldest-first.
		page, err := s.source.MessagesAfter(ctx, channelID, cursor, s.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			break
		}

		caughtUp := false
		if newest := newestQualifying(page); newest != "" {
			exists, err := s.messages.Exists(dbctx.From(ctx), newest)
			if err != nil {
				return stats, err
			}
			caughtUp = exists
		}

		stored, _, err := s.storeBatch(ctx, guildID, channelID, page, pending)
		if err != nil {
			return stats, err
		}
		stats.MessagesStored += stored

		if caughtUp || len(page) < s.cfg.BatchSize {
			break
		}
		cursor = page[len(page)-1].ID
	}
	return stats, nil
}

// newestQualifying returns the id of the newest non-bot message in an
// oldest-first page. Bot rows are still persisted so joins never dangle,
// but only human authors drive sync progress decisions.
func newestQualifying(page []feed.MessageEvent) string {
	for i := len(page) - 1; i >= 0; i-- {
		if !page[i].Author.Bot {
			return page[i].ID
		}
	}
	return ""
}

// storeBatch upserts one fetched page, leaving reply references unset when
// the target is not yet stored, and repairs outstanding references after
// the commit. Returns the logically-new row count and whether the page
// contained an already-stored row.
func (s *backfillService) storeBatch(ctx context.Context, guildID, channelID string, page []feed.MessageEvent, pending map[string]string) (int, bool, error) {
	dbc := dbctx.From(ctx)

	ids := make([]string, 0, len(page))
	inBatch := make(map[string]bool, len(page))
	for _, ev := range page {
		ids = append(ids, ev.ID)
		inBatch[ev.ID] = true
	}
	existing, err := s.messages.ExistingIDs(dbc, ids)
	if err != nil {
		return 0, false, err
	}

	var refCheck []string
	for _, ev := range page {
		if ev.ReferencedMessageID != "" && !inBatch[ev.ReferencedMessageID] {
			refCheck = append(refCheck, ev.ReferencedMessageID)
		}
	}
	storedRefs := map[string]bool{}
	if len(refCheck) > 0 {
		storedRefs, err = s.messages.ExistingIDs(dbc, refCheck)
		if err != nil {
			return 0, false, err
		}
	}

	rows := make([]*types.Message, 0, len(page))
	newly := 0
	for _, ev := range page {
		row := eventToMessage(guildID, channelID, ev)
		if ev.ReferencedMessageID != "" && !inBatch[ev.ReferencedMessageID] && !storedRefs[ev.ReferencedMessageID] {
			// Target not seen yet: leave the reference unset and queue a
			// repair for after the target's batch commits.
			row.ReferencedMessageID = nil
			pending[ev.ID] = ev.ReferencedMessageID
		}
		rows = append(rows, row)
		if !existing[ev.ID] {
			newly++
		}
	}

	if err := s.messages.Upsert(dbc, rows); err != nil {
		// Watermark untouched: this unit of work is revisited next pass.
		return 0, false, err
	}

	if newly > 0 {
		if err := s.advanceWatermark(ctx, channelID); err != nil {
			return newly, len(existing) > 0, err
		}
	}

	if len(pending) > 0 {
		repaired, err := s.messages.RepairReferences(dbc, pending)
		if err != nil {
			s.log.Warn("Reference repair failed", "channel_id", channelID, "error", err)
		} else if repaired > 0 {
			s.log.Debug("Repaired reply references", "channel_id", channelID, "count", repaired)
		}
	}

	return newly, len(existing) > 0, nil
}

// advanceWatermark sets the watermark to the most recent message now
// present in storage for the channel, which stays correct even when fetch
// order and storage order diverge.
func (s *backfillService) advanceWatermark(ctx context.Context, channelID string) error {
	dbc := dbctx.From(ctx)
	newest, err := s.messages.NewestInChannel(dbc, channelID)
	if err != nil {
		return err
	}
	if newest == nil {
		return nil
	}
	return s.channels.SetWatermark(dbc, channelID, newest.ID, s.now())
}

func eventToMessage(guildID, channelID string, ev feed.MessageEvent) *types.Message {
	var ref *string
	if ev.ReferencedMessageID != "" {
		r := ev.ReferencedMessageID
		ref = &r
	}
	row := &types.Message{
		ID:                  ev.ID,
		GuildID:             guildID,
		ChannelID:           channelID,
		AuthorID:            ev.Author.ID,
		Content:             ev.Content,
		CreatedAt:           ev.CreatedAt.UTC(),
		EditedAt:            ev.EditedAt,
		ReferencedMessageID: ref,
		AuthorIsBot:         ev.Author.Bot,
		Active:              true,
	}
	row.Attachments = marshalJSON(ev.Attachments)
	row.Embeds = marshalJSON(ev.Embeds)
	return row
}
