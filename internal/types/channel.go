package types

import "time"

// Channel carries the per-channel sync watermark. LastMessageID is the
// newest durably synchronized message id and only ever moves forward.
type Channel struct {
	ID            string     `gorm:"type:varchar(32);primaryKey" json:"id"`
	GuildID       string     `gorm:"type:varchar(32);not null;index" json:"guild_id"`
	Name          string     `gorm:"type:varchar(128)" json:"name"`
	LastMessageID *string    `gorm:"type:varchar(32)" json:"last_message_id,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	Active        bool       `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Channel) TableName() string {
	return "channels"
}
