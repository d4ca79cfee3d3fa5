package feed

import "context"

// Offline returns a Feed with no upstream connection. Every call fails
// with ErrTransient, which the sync and segmenter paths already treat as
// a skippable condition. Useful when the service runs read-API-only.
func Offline() Feed {
	return offlineFeed{}
}

type offlineFeed struct{}

func (offlineFeed) ListChannels(ctx context.Context, guildID string) ([]ChannelInfo, error) {
	return nil, ErrTransient
}

func (offlineFeed) ListMembers(ctx context.Context, guildID string) ([]UserRef, error) {
	return nil, ErrTransient
}

func (offlineFeed) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]MessageEvent, error) {
	return nil, ErrTransient
}

func (offlineFeed) MessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]MessageEvent, error) {
	return nil, ErrTransient
}

func (offlineFeed) Message(ctx context.Context, channelID, messageID string) (*MessageEvent, error) {
	return nil, ErrTransient
}
