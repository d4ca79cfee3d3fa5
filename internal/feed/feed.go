package feed

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors implementations map upstream failures onto. The sync
// engine branches on these with errors.Is; anything else is treated like
// ErrTransient (skip the unit of work, retry on the next pass).
var (
	ErrPermissionDenied = errors.New("feed: permission denied")
	ErrNotFound         = errors.New("feed: not found")
	ErrTransient        = errors.New("feed: transient failure")
)

// UserRef is the author/member shape delivered by the upstream feed.
type UserRef struct {
	ID          string
	Username    string
	DisplayName string
	GlobalName  string
	Bot         bool
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

type Embed struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// MessageEvent is one message as delivered by the feed, for both historical
// pages and live create/update events.
type MessageEvent struct {
	ID                  string
	GuildID             string
	ChannelID           string
	Author              UserRef
	Content             string
	CreatedAt           time.Time
	EditedAt            *time.Time
	ReferencedMessageID string
	Mentions            []UserRef
	Attachments         []Attachment
	Embeds              []Embed
}

type MessageDeleteEvent struct {
	GuildID   string
	ChannelID string
	MessageID string
}

type ReactionEvent struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
	At        time.Time
}

type MemberEvent struct {
	GuildID  string
	Member   UserRef
	JoinedAt *time.Time
	Removed  bool
}

type ChannelInfo struct {
	ID      string
	GuildID string
	Name    string
}

// Feed is the paginated historical fetch surface of the upstream
// collaborator. Pages are cursor-ordered: MessagesBefore returns
// newest-first walking back in time, MessagesAfter oldest-first walking
// forward. A short page means the cursor direction is exhausted.
type Feed interface {
	ListChannels(ctx context.Context, guildID string) ([]ChannelInfo, error)
	ListMembers(ctx context.Context, guildID string) ([]UserRef, error)
	MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]MessageEvent, error)
	MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]MessageEvent, error)
	Message(ctx context.Context, channelID, messageID string) (*MessageEvent, error)
}
