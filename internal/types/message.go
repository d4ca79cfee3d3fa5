package types

import (
	"time"

	"gorm.io/datatypes"
)

// Message mirrors one upstream channel message. Rows are never physically
// removed; deletes flip Active so finalized segments keep their history.
type Message struct {
	ID                  string         `gorm:"type:varchar(32);primaryKey" json:"id"`
	GuildID             string         `gorm:"type:varchar(32);not null;index:idx_messages_guild" json:"guild_id"`
	ChannelID           string         `gorm:"type:varchar(32);not null;index:idx_messages_channel_created,priority:1" json:"channel_id"`
	AuthorID            string         `gorm:"type:varchar(32);not null;index" json:"author_id"`
	Content             string         `gorm:"type:text" json:"content"`
	CreatedAt           time.Time      `gorm:"not null;index:idx_messages_channel_created,priority:2" json:"created_at"`
	EditedAt            *time.Time     `json:"edited_at,omitempty"`
	ReferencedMessageID *string        `gorm:"type:varchar(32);index" json:"referenced_message_id,omitempty"`
	Attachments         datatypes.JSON `json:"attachments"`
	Embeds              datatypes.JSON `json:"embeds"`
	AuthorIsBot         bool           `gorm:"not null;default:false" json:"author_is_bot"`
	Active              bool           `gorm:"not null;default:true;index" json:"active"`
}

func (Message) TableName() string {
	return "messages"
}
