package services

import (
	"context"
	"sort"
	"time"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type ScoringConfig struct {
	ConversationPoints float64 `yaml:"conversation_points"`
	MessagePoints      float64 `yaml:"message_points"`
	ReplyMentionBonus  float64 `yaml:"reply_mention_bonus"`
	NameUsageBonus     float64 `yaml:"name_usage_bonus"`
	MaxEntries         int     `yaml:"max_entries"`
	SegmentScanLimit   int     `yaml:"segment_scan_limit"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		ConversationPoints: 1,
		MessagePoints:      0.05,
		ReplyMentionBonus:  1,
		NameUsageBonus:     1,
		MaxEntries:         50,
		SegmentScanLimit:   2000,
	}
}

// AffinityService turns segment and edge evidence into each user's ranked
// relationship network. Percentages are a distribution over the owner's
// own interaction mass, so any input change requires a full rebuild; the
// stored set is always replaced wholesale.
type AffinityService interface {
	RebuildNetwork(ctx context.Context, guildID, userID string) ([]*types.RelationshipEntry, error)
}

type affinityService struct {
	cfg           ScoringConfig
	segments      repos.SegmentRepo
	edges         repos.EdgeRepo
	members       repos.MemberRepo
	relationships repos.RelationshipRepo
	log           *logger.Logger
	now           func() time.Time
}

func NewAffinityService(
	cfg ScoringConfig,
	segments repos.SegmentRepo,
	edges repos.EdgeRepo,
	members repos.MemberRepo,
	relationships repos.RelationshipRepo,
	log *logger.Logger,
) AffinityService {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 50
	}
	if cfg.SegmentScanLimit <= 0 {
		cfg.SegmentScanLimit = 2000
	}
	return &affinityService{
		cfg:           cfg,
		segments:      segments,
		edges:         edges,
		members:       members,
		relationships: relationships,
		log:           log.With("service", "AffinityService"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type counterpartStats struct {
	conversations   int
	messages        int
	replyMentionSeg int
	nameUsageSeg    int
	conversationIDs []string
}

func (s *affinityService) RebuildNetwork(ctx context.Context, guildID, userID string) ([]*types.RelationshipEntry, error) {
	dbc := dbctx.From(ctx)

	// Non-human accounts score zero and own no network.
	subject, err := s.members.Get(dbc, guildID, userID)
	if err != nil {
		return nil, err
	}
	if subject != nil && subject.Bot {
		return nil, s.relationships.ReplaceForUser(dbc, guildID, userID, nil)
	}

	segs, err := s.segments.ListByParticipant(dbc, guildID, userID, nil, s.cfg.SegmentScanLimit)
	if err != nil {
		return nil, err
	}

	stats := map[string]*counterpartStats{}
	for _, seg := range segs {
		f := seg.FeatureCounts()
		named := map[string]bool{}
		for _, id := range f.NameUsage {
			named[id] = true
		}
		for _, other := range seg.ParticipantList() {
			if other == userID {
				continue
			}
			cs := stats[other]
			if cs == nil {
				cs = &counterpartStats{}
				stats[other] = cs
			}
			cs.conversations++
			cs.messages += seg.MessageCount
			if f.ReplyCount > 0 || f.MentionCount > 0 {
				cs.replyMentionSeg++
			}
			if named[other] || named[userID] {
				cs.nameUsageSeg++
			}
			cs.conversationIDs = append(cs.conversationIDs, seg.ID.String())
		}
	}

	if len(stats) == 0 {
		return nil, s.relationships.ReplaceForUser(dbc, guildID, userID, nil)
	}

	counterpartIDs := make([]string, 0, len(stats))
	for id := range stats {
		counterpartIDs = append(counterpartIDs, id)
	}
	counterparts, err := s.members.ListByIDs(dbc, guildID, counterpartIDs)
	if err != nil {
		return nil, err
	}
	for _, m := range counterparts {
		if m.Bot {
			delete(stats, m.UserID)
		}
	}

	edgeRows, err := s.edges.ListForUser(dbc, guildID, userID)
	if err != nil {
		return nil, err
	}
	edgeByCounterpart := map[string]*types.RelationshipEdge{}
	for _, e := range edgeRows {
		other := e.UserA
		if other == userID {
			other = e.UserB
		}
		edgeByCounterpart[other] = e
	}

	total := 0.0
	raw := map[string]float64{}
	for id, cs := range stats {
		points := float64(cs.conversations)*s.cfg.ConversationPoints +
			float64(cs.messages)*s.cfg.MessagePoints +
			float64(cs.replyMentionSeg)*s.cfg.ReplyMentionBonus +
			float64(cs.nameUsageSeg)*s.cfg.NameUsageBonus
		raw[id] = points
		total += points
	}
	if total <= 0 {
		return nil, s.relationships.ReplaceForUser(dbc, guildID, userID, nil)
	}

	nowTime := s.now()
	entries := make([]*types.RelationshipEntry, 0, len(stats))
	for id, cs := range stats {
		entry := &types.RelationshipEntry{
			GuildID:            guildID,
			UserID:             userID,
			TargetUserID:       id,
			AffinityPercentage: raw[id] / total * 100,
			RawPoints:          raw[id],
			UpdatedAt:          nowTime,
		}
		if e := edgeByCounterpart[id]; e != nil {
			entry.InteractionCount = e.TotalCount()
			last := e.LastInteraction
			entry.LastInteraction = &last
		} else {
			entry.InteractionCount = cs.conversations
		}
		entry.SetConversationIDs(cs.conversationIDs)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AffinityPercentage == entries[j].AffinityPercentage {
			return entries[i].TargetUserID < entries[j].TargetUserID
		}
		return entries[i].AffinityPercentage > entries[j].AffinityPercentage
	})
	if len(entries) > s.cfg.MaxEntries {
		entries = entries[:s.cfg.MaxEntries]
	}

	if err := s.relationships.ReplaceForUser(dbc, guildID, userID, entries); err != nil {
		return nil, err
	}
	return entries, nil
}
