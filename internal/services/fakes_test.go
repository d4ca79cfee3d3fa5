package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guildgraph/guildgraph-backend/internal/feed"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

// In-memory doubles for the repo interfaces. They implement just enough
// semantics for the service tests: canonical pair edges, watermark rows,
// participant containment scans.

type fakeMessageRepo struct {
	mu   sync.Mutex
	rows map[string]*types.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{rows: map[string]*types.Message{}}
}

func (f *fakeMessageRepo) Upsert(_ dbctx.Context, rows []*types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		cp := *r
		if existing, ok := f.rows[r.ID]; ok {
			cp.ReferencedMessageID = existing.ReferencedMessageID
			if r.ReferencedMessageID != nil {
				cp.ReferencedMessageID = r.ReferencedMessageID
			}
		}
		f.rows[r.ID] = &cp
	}
	return nil
}

func (f *fakeMessageRepo) GetByID(_ dbctx.Context, id string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeMessageRepo) Exists(_ dbctx.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[id]
	return ok, nil
}

func (f *fakeMessageRepo) ExistingIDs(_ dbctx.Context, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := f.rows[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) NewestInChannel(_ dbctx.Context, channelID string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *types.Message
	for _, r := range f.rows {
		if r.ChannelID != channelID {
			continue
		}
		if newest == nil ||
			r.CreatedAt.After(newest.CreatedAt) ||
			(r.CreatedAt.Equal(newest.CreatedAt) && r.ID > newest.ID) {
			newest = r
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (f *fakeMessageRepo) ListRecentInChannel(_ dbctx.Context, channelID string, limit int) ([]*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Message
	for _, r := range f.rows {
		if r.ChannelID == channelID && r.Active {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageRepo) UpdateContent(_ dbctx.Context, id, content string, editedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.Content = content
		r.EditedAt = editedAt
	}
	return nil
}

func (f *fakeMessageRepo) SoftDelete(_ dbctx.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[id]; ok {
		r.Active = false
	}
	return nil
}

func (f *fakeMessageRepo) CountByChannel(_ dbctx.Context, channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.ChannelID == channelID {
			n++
		}
	}
	return n, nil
}

func (f *fakeMessageRepo) RepairReferences(_ dbctx.Context, pairs map[string]string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var repaired int64
	for id, refID := range pairs {
		row, ok := f.rows[id]
		if !ok || row.ReferencedMessageID != nil {
			continue
		}
		if _, ok := f.rows[refID]; !ok {
			continue
		}
		ref := refID
		row.ReferencedMessageID = &ref
		repaired++
	}
	return repaired, nil
}

type fakeChannelRepo struct {
	mu   sync.Mutex
	rows map[string]*types.Channel
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{rows: map[string]*types.Channel{}}
}

func (f *fakeChannelRepo) Upsert(_ dbctx.Context, row *types.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rows[row.ID]; ok {
		existing.Name = row.Name
		existing.Active = row.Active
		return nil
	}
	cp := *row
	f.rows[row.ID] = &cp
	return nil
}

func (f *fakeChannelRepo) GetByID(_ dbctx.Context, id string) (*types.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeChannelRepo) ListByGuild(_ dbctx.Context, guildID string) ([]*types.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Channel
	for _, r := range f.rows {
		if r.GuildID == guildID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeChannelRepo) ListGuilds(_ dbctx.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range f.rows {
		if !seen[r.GuildID] {
			seen[r.GuildID] = true
			out = append(out, r.GuildID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeChannelRepo) SetWatermark(_ dbctx.Context, channelID, messageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[channelID]
	if !ok {
		r = &types.Channel{ID: channelID, Active: true}
		f.rows[channelID] = r
	}
	id := messageID
	t := at
	r.LastMessageID = &id
	r.LastSyncedAt = &t
	return nil
}

type fakeMemberRepo struct {
	mu   sync.Mutex
	rows map[string]*types.GuildMember
}

func newFakeMemberRepo() *fakeMemberRepo {
	return &fakeMemberRepo{rows: map[string]*types.GuildMember{}}
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

func (f *fakeMemberRepo) Upsert(_ dbctx.Context, rows []*types.GuildMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		cp := *r
		f.rows[memberKey(r.GuildID, r.UserID)] = &cp
	}
	return nil
}

func (f *fakeMemberRepo) Get(_ dbctx.Context, guildID, userID string) (*types.GuildMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[memberKey(guildID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeMemberRepo) ListByGuild(_ dbctx.Context, guildID string) ([]*types.GuildMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.GuildMember
	for _, r := range f.rows {
		if r.GuildID == guildID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMemberRepo) ListByIDs(_ dbctx.Context, guildID string, userIDs []string) ([]*types.GuildMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.GuildMember
	for _, id := range userIDs {
		if r, ok := f.rows[memberKey(guildID, id)]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeMemberRepo) MarkInactive(_ dbctx.Context, guildID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[memberKey(guildID, userID)]; ok {
		r.Active = false
	}
	return nil
}

type fakeSegmentRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.ConversationSegment
}

func newFakeSegmentRepo() *fakeSegmentRepo {
	return &fakeSegmentRepo{rows: map[uuid.UUID]*types.ConversationSegment{}}
}

func (f *fakeSegmentRepo) Create(_ dbctx.Context, row *types.ConversationSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	cp := *row
	f.rows[row.ID] = &cp
	return nil
}

func (f *fakeSegmentRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.ConversationSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeSegmentRepo) Update(_ dbctx.Context, row *types.ConversationSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *row
	f.rows[row.ID] = &cp
	return nil
}

func (f *fakeSegmentRepo) Delete(_ dbctx.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeSegmentRepo) ListByParticipant(_ dbctx.Context, guildID, userID string, since *time.Time, limit int) ([]*types.ConversationSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ConversationSegment
	for _, r := range f.rows {
		if r.GuildID != guildID {
			continue
		}
		if since != nil && r.EndTime.Before(*since) {
			continue
		}
		if !containsString(r.ParticipantList(), userID) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSegmentRepo) ListForParticipants(_ dbctx.Context, guildID string, userIDs []string, since *time.Time, limit int) ([]*types.ConversationSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ConversationSegment
	for _, r := range f.rows {
		if r.GuildID != guildID {
			continue
		}
		if since != nil && r.EndTime.Before(*since) {
			continue
		}
		all := true
		for _, id := range userIDs {
			if !containsString(r.ParticipantList(), id) {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSegmentRepo) ListNearby(_ dbctx.Context, guildID, channelID string, start, end time.Time, window time.Duration, exclude uuid.UUID) ([]*types.ConversationSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lo, hi := start.Add(-window), end.Add(window)
	var out []*types.ConversationSegment
	for _, r := range f.rows {
		if r.GuildID != guildID || r.ChannelID != channelID || r.ID == exclude {
			continue
		}
		if r.EndTime.Before(lo) || r.StartTime.After(hi) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeSegmentRepo) ListOlderThan(_ dbctx.Context, cutoff time.Time, limit int) ([]*types.ConversationSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ConversationSegment
	for _, r := range f.rows {
		if r.EndTime.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSegmentRepo) DeleteByIDs(_ dbctx.Context, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.rows[id]; ok {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeSegmentRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSegmentRepo) all() []*types.ConversationSegment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.ConversationSegment, 0, len(f.rows))
	for _, r := range f.rows {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

type fakeEdgeRepo struct {
	mu     sync.Mutex
	nextID uint
	rows   map[string]*types.RelationshipEdge
}

func newFakeEdgeRepo() *fakeEdgeRepo {
	return &fakeEdgeRepo{rows: map[string]*types.RelationshipEdge{}}
}

func edgeKey(guildID, userA, userB string) string {
	a, b := types.CanonicalPair(userA, userB)
	return guildID + "/" + a + "/" + b
}

func (f *fakeEdgeRepo) Touch(_ dbctx.Context, guildID, userA, userB, kind string, at time.Time) (*types.RelationshipEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := types.CanonicalPair(userA, userB)
	key := guildID + "/" + a + "/" + b
	e, ok := f.rows[key]
	if !ok {
		f.nextID++
		e = &types.RelationshipEdge{ID: f.nextID, GuildID: guildID, UserA: a, UserB: b}
		f.rows[key] = e
	}
	counts := e.CountMap()
	counts[kind]++
	e.SetCountMap(counts)
	if at.After(e.LastInteraction) {
		e.LastInteraction = at
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEdgeRepo) GetPair(_ dbctx.Context, guildID, userA, userB string) (*types.RelationshipEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[edgeKey(guildID, userA, userB)]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEdgeRepo) ListForUser(_ dbctx.Context, guildID, userID string) ([]*types.RelationshipEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.RelationshipEdge
	for _, e := range f.rows {
		if e.GuildID == guildID && (e.UserA == userID || e.UserB == userID) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEdgeRepo) ListByGuild(_ dbctx.Context, guildID string, offset, limit int) ([]*types.RelationshipEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.RelationshipEdge
	for _, e := range f.rows {
		if e.GuildID == guildID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEdgeRepo) UpdateRollingWindows(_ dbctx.Context, id uint, rolling7d, rolling30d int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.rows {
		if e.ID == id {
			e.Rolling7d = rolling7d
			e.Rolling30d = rolling30d
		}
	}
	return nil
}

type fakeRelationshipRepo struct {
	mu   sync.Mutex
	rows map[string][]*types.RelationshipEntry
}

func newFakeRelationshipRepo() *fakeRelationshipRepo {
	return &fakeRelationshipRepo{rows: map[string][]*types.RelationshipEntry{}}
}

func (f *fakeRelationshipRepo) ReplaceForUser(_ dbctx.Context, guildID, userID string, entries []*types.RelationshipEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := memberKey(guildID, userID)
	cp := make([]*types.RelationshipEntry, 0, len(entries))
	for _, e := range entries {
		dup := *e
		cp = append(cp, &dup)
	}
	f.rows[key] = cp
	return nil
}

func (f *fakeRelationshipRepo) ListForUser(_ dbctx.Context, guildID, userID string, limit int) ([]*types.RelationshipEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.rows[memberKey(guildID, userID)]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRelationshipRepo) GetPairEntry(_ dbctx.Context, guildID, userID, targetUserID string) (*types.RelationshipEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.rows[memberKey(guildID, userID)] {
		if e.TargetUserID == targetUserID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// scriptedFeed serves canned history for the sync tests. Message pages are
// stored oldest-first per channel and sliced per cursor call.
type scriptedFeed struct {
	channels    []feed.ChannelInfo
	members     []feed.UserRef
	history     map[string][]feed.MessageEvent
	channelErrs map[string]error
	listErr     error
	memberErr   error
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{
		history:     map[string][]feed.MessageEvent{},
		channelErrs: map[string]error{},
	}
}

func (f *scriptedFeed) ListChannels(ctx context.Context, guildID string) ([]feed.ChannelInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.channels, nil
}

func (f *scriptedFeed) ListMembers(ctx context.Context, guildID string) ([]feed.UserRef, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return f.members, nil
}

func (f *scriptedFeed) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]feed.MessageEvent, error) {
	if err := f.channelErrs[channelID]; err != nil {
		return nil, err
	}
	hist := f.history[channelID]
	end := len(hist)
	if beforeID != "" {
		end = 0
		for i, ev := range hist {
			if ev.ID == beforeID {
				end = i
				break
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]feed.MessageEvent, 0, end-start)
	for i := end - 1; i >= start; i-- { // newest first
		page = append(page, hist[i])
	}
	return page, nil
}

func (f *scriptedFeed) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]feed.MessageEvent, error) {
	if err := f.channelErrs[channelID]; err != nil {
		return nil, err
	}
	hist := f.history[channelID]
	start := 0
	if afterID != "" {
		start = len(hist)
		for i, ev := range hist {
			if ev.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(hist) {
		end = len(hist)
	}
	return append([]feed.MessageEvent(nil), hist[start:end]...), nil
}

func (f *scriptedFeed) Message(ctx context.Context, channelID, messageID string) (*feed.MessageEvent, error) {
	for _, ev := range f.history[channelID] {
		if ev.ID == messageID {
			cp := ev
			return &cp, nil
		}
	}
	return nil, feed.ErrNotFound
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, guildID string, userIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range userIDs {
		r.calls = append(r.calls, guildID+"|"+id)
	}
}

func (r *recordingEnqueuer) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.calls...)
	sort.Strings(out)
	return out
}
