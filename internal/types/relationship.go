package types

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// RelationshipEntry is one ranked row of a user's derived network: the share
// of the owner's total interaction mass attributed to TargetUserID. Entries
// are replaced wholesale per (guild,user) on every rebuild, never patched.
type RelationshipEntry struct {
	ID                 uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID            string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_entries_owner_target,priority:1" json:"guild_id"`
	UserID             string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_entries_owner_target,priority:2;index" json:"user_id"`
	TargetUserID       string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_entries_owner_target,priority:3" json:"target_user_id"`
	AffinityPercentage float64        `gorm:"not null" json:"affinity_percentage"`
	InteractionCount   int            `gorm:"not null" json:"interaction_count"`
	LastInteraction    *time.Time     `json:"last_interaction,omitempty"`
	Conversations      datatypes.JSON `json:"conversations"`
	RawPoints          float64        `gorm:"not null" json:"raw_points"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (RelationshipEntry) TableName() string {
	return "relationship_entries"
}

func (r *RelationshipEntry) ConversationIDs() []string {
	var out []string
	_ = json.Unmarshal(r.Conversations, &out)
	return out
}

func (r *RelationshipEntry) SetConversationIDs(ids []string) {
	raw, _ := json.Marshal(ids)
	r.Conversations = datatypes.JSON(raw)
}
