package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guildgraph/guildgraph-backend/internal/feed"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type SegmenterConfig struct {
	// InactivityTimeout closes a quiet buffer; LinkedTimeout applies while
	// the buffer holds an explicit reply or mention between two
	// participants, giving slow-moving threaded conversations more room.
	InactivityTimeout   time.Duration `yaml:"inactivity_timeout"`
	LinkedTimeout       time.Duration `yaml:"linked_timeout"`
	MinMessages         int           `yaml:"min_messages"`
	MinRichLength       int           `yaml:"min_rich_length"`
	MinWordChars        int           `yaml:"min_word_chars"`
	MaxSummaryMessages  int           `yaml:"max_summary_messages"`
	SummaryTruncateAt   int           `yaml:"summary_truncate_at"`
	MergeWindow         time.Duration `yaml:"merge_window"`
	ExternalFetchMaxAge time.Duration `yaml:"external_fetch_max_age"`
	MaxChainDepth       int           `yaml:"max_chain_depth"`
	CommandPrefixes     []string      `yaml:"command_prefixes"`
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		InactivityTimeout:   5 * time.Minute,
		LinkedTimeout:       30 * time.Minute,
		MinMessages:         3,
		MinRichLength:       10,
		MinWordChars:        3,
		MaxSummaryMessages:  5,
		SummaryTruncateAt:   120,
		MergeWindow:         30 * time.Minute,
		ExternalFetchMaxAge: 24 * time.Hour,
		MaxChainDepth:       20,
		CommandPrefixes:     []string{"!", "?", "."},
	}
}

type bufferedMessage struct {
	ID                  string
	AuthorID            string
	Content             string
	CreatedAt           time.Time
	ReferencedMessageID string
	Mentions            []string
	HasAttachment       bool
}

type channelBuffer struct {
	guildID   string
	channelID string
	startTime time.Time
	messages  []bufferedMessage
	timer     *time.Timer
}

// SegmenterService buffers the per-channel live message stream and emits
// finalized conversation segments when a buffer goes inactive. Buffers are
// intentionally non-durable: a restart flushes nothing and simply starts
// fresh, so shutdown must call FlushAll to keep in-flight evidence.
type SegmenterService interface {
	Ingest(ctx context.Context, ev feed.MessageEvent)
	FlushChannel(ctx context.Context, guildID, channelID string)
	FlushAll(ctx context.Context)
	BufferedChannels() int
}

type segmenterService struct {
	cfg      SegmenterConfig
	messages repos.MessageRepo
	segments repos.SegmentRepo
	edges    repos.EdgeRepo
	members  repos.MemberRepo
	source   feed.Feed
	log      *logger.Logger

	// onSegment runs after a segment persists, outside the buffer lock.
	onSegment func(ctx context.Context, seg *types.ConversationSegment)

	mu      sync.Mutex
	buffers map[string]*channelBuffer
	now     func() time.Time
}

func NewSegmenterService(
	cfg SegmenterConfig,
	messages repos.MessageRepo,
	segments repos.SegmentRepo,
	edges repos.EdgeRepo,
	members repos.MemberRepo,
	source feed.Feed,
	log *logger.Logger,
	onSegment func(ctx context.Context, seg *types.ConversationSegment),
) SegmenterService {
	return &segmenterService{
		cfg:       cfg,
		messages:  messages,
		segments:  segments,
		edges:     edges,
		members:   members,
		source:    source,
		log:       log.With("service", "SegmenterService"),
		onSegment: onSegment,
		buffers:   map[string]*channelBuffer{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func bufferKey(guildID, channelID string) string {
	return guildID + "/" + channelID
}

func (s *segmenterService) Ingest(ctx context.Context, ev feed.MessageEvent) {
	if ev.Author.Bot {
		return
	}
	if !QualifiesForBuffer(ev.Content, s.cfg.CommandPrefixes, s.cfg.MinWordChars) {
		return
	}

	msg := bufferedMessage{
		ID:                  ev.ID,
		AuthorID:            ev.Author.ID,
		Content:             ev.Content,
		CreatedAt:           ev.CreatedAt.UTC(),
		ReferencedMessageID: ev.ReferencedMessageID,
		Mentions:            mentionIDs(ev),
		HasAttachment:       len(ev.Attachments) > 0,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bufferKey(ev.GuildID, ev.ChannelID)
	buf, ok := s.buffers[key]
	if !ok {
		buf = &channelBuffer{
			guildID:   ev.GuildID,
			channelID: ev.ChannelID,
			startTime: msg.CreatedAt,
		}
		s.buffers[key] = buf
	}
	buf.messages = append(buf.messages, msg)

	timeout := s.cfg.InactivityTimeout
	if bufferLinked(buf.messages) {
		timeout = s.cfg.LinkedTimeout
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	guildID, channelID := ev.GuildID, ev.ChannelID
	buf.timer = time.AfterFunc(timeout, func() {
		s.FlushChannel(context.Background(), guildID, channelID)
	})
}

// mentionIDs merges the event's mention list with ids parsed from raw
// content, excluding self-mentions.
func mentionIDs(ev feed.MessageEvent) []string {
	seen := map[string]bool{ev.Author.ID: true}
	var out []string
	for _, u := range ev.Mentions {
		if u.ID != "" && !seen[u.ID] {
			seen[u.ID] = true
			out = append(out, u.ID)
		}
	}
	for _, id := range ExtractMentions(ev.Content) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// bufferLinked reports whether the buffer holds an explicit reply or
// mention connecting two distinct participants.
func bufferLinked(msgs []bufferedMessage) bool {
	byID := make(map[string]string, len(msgs)) // message id -> author
	for _, m := range msgs {
		byID[m.ID] = m.AuthorID
	}
	authors := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		authors[m.AuthorID] = true
	}
	for _, m := range msgs {
		if m.ReferencedMessageID != "" {
			if author, ok := byID[m.ReferencedMessageID]; ok && author != m.AuthorID {
				return true
			}
		}
		for _, u := range m.Mentions {
			if u != m.AuthorID && authors[u] {
				return true
			}
		}
	}
	return false
}

func (s *segmenterService) FlushChannel(ctx context.Context, guildID, channelID string) {
	s.mu.Lock()
	key := bufferKey(guildID, channelID)
	buf, ok := s.buffers[key]
	if ok {
		delete(s.buffers, key)
		if buf.timer != nil {
			buf.timer.Stop()
		}
	}
	s.mu.Unlock()
	if !ok || len(buf.messages) == 0 {
		return
	}
	s.finalize(ctx, buf)
}

func (s *segmenterService) FlushAll(ctx context.Context) {
	s.mu.Lock()
	bufs := make([]*channelBuffer, 0, len(s.buffers))
	for key, buf := range s.buffers {
		delete(s.buffers, key)
		if buf.timer != nil {
			buf.timer.Stop()
		}
		bufs = append(bufs, buf)
	}
	s.mu.Unlock()

	for _, buf := range bufs {
		if len(buf.messages) > 0 {
			s.finalize(ctx, buf)
		}
	}
}

func (s *segmenterService) BufferedChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

func (s *segmenterService) finalize(ctx context.Context, buf *channelBuffer) {
	log := s.log.With("guild_id", buf.guildID, "channel_id", buf.channelID)

	// Re-filter: edits may have landed since buffering.
	msgs := make([]bufferedMessage, 0, len(buf.messages))
	for _, m := range buf.messages {
		if QualifiesForBuffer(m.Content, s.cfg.CommandPrefixes, s.cfg.MinWordChars) {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) < s.cfg.MinMessages {
		return
	}
	rich := false
	for _, m := range msgs {
		if len(strings.TrimSpace(m.Content)) >= s.cfg.MinRichLength {
			rich = true
			break
		}
	}
	if !rich {
		return
	}

	chosen := s.largestComponent(msgs)
	if len(chosen) == 0 {
		return
	}

	chosen = s.resolveExternalAncestry(ctx, buf.channelID, buf.startTime, chosen)

	participants := map[string]bool{}
	for _, m := range chosen {
		participants[m.AuthorID] = true
	}
	if len(participants) < 2 {
		return
	}

	seg := s.buildSegment(ctx, buf, chosen, participants)
	if seg == nil {
		return
	}

	dbc := dbctx.From(ctx)
	if err := s.segments.Create(dbc, seg); err != nil {
		log.Error("Failed to persist segment", "error", err)
		return
	}
	log.Debug("Segment finalized",
		"segment_id", seg.ID,
		"participants", len(participants),
		"messages", seg.MessageCount,
	)

	s.touchParticipantEdges(ctx, seg)
	s.mergeAdjacent(ctx, seg)

	if s.onSegment != nil {
		s.onSegment(ctx, seg)
	}
}

// largestComponent groups messages into connected components over reply
// chains and the mention graph, discards components without a structural
// link or below the minimum size, and returns the largest survivor.
func (s *segmenterService) largestComponent(msgs []bufferedMessage) []bufferedMessage {
	n := len(msgs)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	byID := make(map[string]int, n)
	for i, m := range msgs {
		byID[m.ID] = i
	}

	structural := make([]bool, n)
	for i, m := range msgs {
		// Reply chains: union-find walks the full connected tree in both
		// directions as later messages link back.
		if m.ReferencedMessageID != "" {
			if j, ok := byID[m.ReferencedMessageID]; ok {
				union(i, j)
				structural[i] = true
				structural[j] = true
			}
		}
		// Mention graph: a message mentioning U connects to messages
		// authored by U or also mentioning U.
		for _, u := range m.Mentions {
			for j, other := range msgs {
				if j == i {
					continue
				}
				if other.AuthorID == u || containsString(other.Mentions, u) {
					union(i, j)
					structural[i] = true
					structural[j] = true
				}
			}
		}
	}

	size := map[int]int{}
	hasLink := map[int]bool{}
	for i := range msgs {
		root := find(i)
		size[root]++
		if structural[i] {
			hasLink[root] = true
		}
	}

	bestRoot, bestSize := -1, 0
	for root, sz := range size {
		// Pure time adjacency is insufficient: the component must carry at
		// least one reply or mention link.
		if !hasLink[root] || sz < s.cfg.MinMessages {
			continue
		}
		if sz > bestSize || (sz == bestSize && (bestRoot < 0 || root < bestRoot)) {
			bestRoot, bestSize = root, sz
		}
	}
	if bestRoot < 0 {
		return nil
	}

	out := make([]bufferedMessage, 0, bestSize)
	for i, m := range msgs {
		if find(i) == bestRoot {
			out = append(out, m)
		}
	}
	return out
}

// resolveExternalAncestry follows reply references that point outside the
// buffer so the segment includes pre-buffer context. The walk is iterative
// with a visited set and depth bound since chains are user-controlled, and
// ancestors must pass the same qualification filter within a recency
// ceiling.
func (s *segmenterService) resolveExternalAncestry(ctx context.Context, channelID string, bufferStart time.Time, chosen []bufferedMessage) []bufferedMessage {
	inSet := make(map[string]bool, len(chosen))
	for _, m := range chosen {
		inSet[m.ID] = true
	}

	var stack []string
	for _, m := range chosen {
		if m.ReferencedMessageID != "" && !inSet[m.ReferencedMessageID] {
			stack = append(stack, m.ReferencedMessageID)
		}
	}

	oldest := bufferStart.Add(-s.cfg.ExternalFetchMaxAge)
	visited := map[string]bool{}
	depth := 0
	for len(stack) > 0 && depth < s.cfg.MaxChainDepth {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] || inSet[id] {
			continue
		}
		visited[id] = true
		depth++

		anc := s.lookupAncestor(ctx, channelID, id)
		if anc == nil {
			continue
		}
		if anc.CreatedAt.Before(oldest) {
			continue
		}
		if !QualifiesForBuffer(anc.Content, s.cfg.CommandPrefixes, s.cfg.MinWordChars) {
			continue
		}
		inSet[anc.ID] = true
		chosen = append(chosen, *anc)
		if anc.ReferencedMessageID != "" && !inSet[anc.ReferencedMessageID] {
			stack = append(stack, anc.ReferencedMessageID)
		}
	}
	return chosen
}

func (s *segmenterService) lookupAncestor(ctx context.Context, channelID, id string) *bufferedMessage {
	dbc := dbctx.From(ctx)
	if row, err := s.messages.GetByID(dbc, id); err == nil && row != nil && row.Active && !row.AuthorIsBot {
		ref := ""
		if row.ReferencedMessageID != nil {
			ref = *row.ReferencedMessageID
		}
		return &bufferedMessage{
			ID:                  row.ID,
			AuthorID:            row.AuthorID,
			Content:             row.Content,
			CreatedAt:           row.CreatedAt,
			ReferencedMessageID: ref,
			Mentions:            ExtractMentions(row.Content),
		}
	}
	if s.source == nil {
		return nil
	}
	ev, err := s.source.Message(ctx, channelID, id)
	if err != nil || ev == nil || ev.Author.Bot {
		// Best effort: an unresolvable ancestor is an accepted gap.
		return nil
	}
	return &bufferedMessage{
		ID:                  ev.ID,
		AuthorID:            ev.Author.ID,
		Content:             ev.Content,
		CreatedAt:           ev.CreatedAt.UTC(),
		ReferencedMessageID: ev.ReferencedMessageID,
		Mentions:            mentionIDs(*ev),
		HasAttachment:       len(ev.Attachments) > 0,
	}
}

func (s *segmenterService) buildSegment(ctx context.Context, buf *channelBuffer, chosen []bufferedMessage, participants map[string]bool) *types.ConversationSegment {
	sort.Slice(chosen, func(i, j int) bool {
		if chosen[i].CreatedAt.Equal(chosen[j].CreatedAt) {
			return chosen[i].ID < chosen[j].ID
		}
		return chosen[i].CreatedAt.Before(chosen[j].CreatedAt)
	})

	ids := make([]string, 0, len(chosen))
	features := types.SegmentFeatures{}
	for _, m := range chosen {
		ids = append(ids, m.ID)
		if m.ReferencedMessageID != "" {
			features.ReplyCount++
		}
		features.MentionCount += len(m.Mentions)
		if m.HasAttachment {
			features.AttachmentCount++
		}
	}

	participantIDs := make([]string, 0, len(participants))
	for id := range participants {
		participantIDs = append(participantIDs, id)
	}
	sort.Strings(participantIDs)

	features.NameUsage = s.nameUsage(ctx, buf.guildID, participantIDs, chosen)

	var summaryParts []string
	for _, m := range chosen {
		if len(summaryParts) >= s.cfg.MaxSummaryMessages {
			break
		}
		summaryParts = append(summaryParts, truncate(strings.TrimSpace(m.Content), s.cfg.SummaryTruncateAt))
	}

	seg := &types.ConversationSegment{
		ID:           uuid.New(),
		GuildID:      buf.guildID,
		ChannelID:    buf.channelID,
		StartTime:    chosen[0].CreatedAt,
		EndTime:      chosen[len(chosen)-1].CreatedAt,
		MessageCount: len(chosen),
		Summary:      strings.Join(summaryParts, " | "),
		CreatedAt:    s.now(),
	}
	seg.SetParticipants(participantIDs)
	seg.SetMessageIDs(ids)
	seg.SetFeatureCounts(features)
	return seg
}

// nameUsage returns the participants whose display/user/global name shows
// up as plain text in another participant's message.
func (s *segmenterService) nameUsage(ctx context.Context, guildID string, participantIDs []string, msgs []bufferedMessage) []string {
	rows, err := s.members.ListByIDs(dbctx.From(ctx), guildID, participantIDs)
	if err != nil || len(rows) == 0 {
		return nil
	}
	var used []string
	for _, member := range rows {
		names := member.Names()
		if len(names) == 0 {
			continue
		}
		for _, m := range msgs {
			if m.AuthorID == member.UserID {
				continue
			}
			if ContainsName(m.Content, names) {
				used = append(used, member.UserID)
				break
			}
		}
	}
	sort.Strings(used)
	return used
}

func (s *segmenterService) touchParticipantEdges(ctx context.Context, seg *types.ConversationSegment) {
	dbc := dbctx.From(ctx)
	ids := seg.ParticipantList()
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if _, err := s.edges.Touch(dbc, seg.GuildID, ids[i], ids[j], types.InteractionSegment, seg.EndTime); err != nil {
				s.log.Warn("Failed to touch participant edge",
					"guild_id", seg.GuildID,
					"user_a", ids[i],
					"user_b", ids[j],
					"error", err,
				)
			}
		}
	}
}

// mergeAdjacent absorbs temporally adjacent segments in the same channel
// that share a participant. Best effort: merge failures leave the new
// segment standing alone.
func (s *segmenterService) mergeAdjacent(ctx context.Context, seg *types.ConversationSegment) {
	dbc := dbctx.From(ctx)
	nearby, err := s.segments.ListNearby(dbc, seg.GuildID, seg.ChannelID, seg.StartTime, seg.EndTime, s.cfg.MergeWindow, seg.ID)
	if err != nil {
		s.log.Warn("Merge scan failed", "segment_id", seg.ID, "error", err)
		return
	}
	if len(nearby) == 0 {
		return
	}

	participants := map[string]bool{}
	for _, id := range seg.ParticipantList() {
		participants[id] = true
	}
	messageIDs := map[string]bool{}
	for _, id := range seg.MessageIDList() {
		messageIDs[id] = true
	}
	features := seg.FeatureCounts()
	nameUsage := map[string]bool{}
	for _, id := range features.NameUsage {
		nameUsage[id] = true
	}

	var absorbed []uuid.UUID
	for _, other := range nearby {
		overlap := false
		for _, id := range other.ParticipantList() {
			if participants[id] {
				overlap = true
				break
			}
		}
		if !overlap {
			continue
		}
		for _, id := range other.ParticipantList() {
			participants[id] = true
		}
		for _, id := range other.MessageIDList() {
			messageIDs[id] = true
		}
		of := other.FeatureCounts()
		features.ReplyCount += of.ReplyCount
		features.MentionCount += of.MentionCount
		features.AttachmentCount += of.AttachmentCount
		for _, id := range of.NameUsage {
			nameUsage[id] = true
		}
		if other.StartTime.Before(seg.StartTime) {
			seg.StartTime = other.StartTime
		}
		if other.EndTime.After(seg.EndTime) {
			seg.EndTime = other.EndTime
		}
		absorbed = append(absorbed, other.ID)
	}
	if len(absorbed) == 0 {
		return
	}

	pids := make([]string, 0, len(participants))
	for id := range participants {
		pids = append(pids, id)
	}
	sort.Strings(pids)
	mids := make([]string, 0, len(messageIDs))
	for id := range messageIDs {
		mids = append(mids, id)
	}
	sort.Strings(mids)
	features.NameUsage = features.NameUsage[:0]
	for id := range nameUsage {
		features.NameUsage = append(features.NameUsage, id)
	}
	sort.Strings(features.NameUsage)

	seg.SetParticipants(pids)
	seg.SetMessageIDs(mids)
	seg.SetFeatureCounts(features)
	seg.MessageCount = len(mids)

	if err := s.segments.Update(dbc, seg); err != nil {
		s.log.Warn("Merge update failed", "segment_id", seg.ID, "error", err)
		return
	}
	if _, err := s.segments.DeleteByIDs(dbc, absorbed); err != nil {
		s.log.Warn("Failed to delete absorbed segments", "segment_id", seg.ID, "error", err)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
