package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SegmentFeatures are the interaction counts observed inside one finalized
// conversation. NameUsage lists the user ids whose display/user/global name
// appeared as plain text in somebody else's message.
type SegmentFeatures struct {
	ReplyCount      int      `json:"reply_count"`
	MentionCount    int      `json:"mention_count"`
	AttachmentCount int      `json:"attachment_count"`
	NameUsage       []string `json:"name_usage,omitempty"`
}

// ConversationSegment is an immutable record of one detected conversation:
// a reply/mention-connected message set with at least two participants.
// The only post-finalization mutation is the merge pass absorbing adjacent
// overlapping segments.
type ConversationSegment struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GuildID      string         `gorm:"type:varchar(32);not null;index:idx_segments_guild_channel,priority:1" json:"guild_id"`
	ChannelID    string         `gorm:"type:varchar(32);not null;index:idx_segments_guild_channel,priority:2" json:"channel_id"`
	Participants datatypes.JSON `json:"participants"`
	StartTime    time.Time      `gorm:"not null;index" json:"start_time"`
	EndTime      time.Time      `gorm:"not null" json:"end_time"`
	MessageIDs   datatypes.JSON `json:"message_ids"`
	MessageCount int            `gorm:"not null" json:"message_count"`
	Features     datatypes.JSON `json:"features"`
	Summary      string         `gorm:"type:text" json:"summary"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ConversationSegment) TableName() string {
	return "conversation_segments"
}

func (s *ConversationSegment) ParticipantList() []string {
	var out []string
	_ = json.Unmarshal(s.Participants, &out)
	return out
}

func (s *ConversationSegment) SetParticipants(ids []string) {
	raw, _ := json.Marshal(ids)
	s.Participants = datatypes.JSON(raw)
}

func (s *ConversationSegment) MessageIDList() []string {
	var out []string
	_ = json.Unmarshal(s.MessageIDs, &out)
	return out
}

func (s *ConversationSegment) SetMessageIDs(ids []string) {
	raw, _ := json.Marshal(ids)
	s.MessageIDs = datatypes.JSON(raw)
}

func (s *ConversationSegment) FeatureCounts() SegmentFeatures {
	var out SegmentFeatures
	_ = json.Unmarshal(s.Features, &out)
	return out
}

func (s *ConversationSegment) SetFeatureCounts(f SegmentFeatures) {
	raw, _ := json.Marshal(f)
	s.Features = datatypes.JSON(raw)
}
