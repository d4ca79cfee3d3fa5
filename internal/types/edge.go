package types

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Interaction kinds tracked on a relationship edge.
const (
	InteractionMention   = "mention"
	InteractionReply     = "reply"
	InteractionProximity = "proximity"
	InteractionReaction  = "reaction"
	InteractionSegment   = "segment"
)

// RelationshipEdge accumulates interaction evidence between one unordered
// user pair. UserA/UserB are stored in canonical (lexicographic) order so
// each pair has exactly one row per guild.
type RelationshipEdge struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	GuildID         string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_edges_pair,priority:1" json:"guild_id"`
	UserA           string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_edges_pair,priority:2;index" json:"user_a"`
	UserB           string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_edges_pair,priority:3;index" json:"user_b"`
	Counts          datatypes.JSON `json:"counts"`
	Rolling7d       int            `gorm:"column:rolling_7d;not null;default:0" json:"rolling_7d"`
	Rolling30d      int            `gorm:"column:rolling_30d;not null;default:0" json:"rolling_30d"`
	LastInteraction time.Time      `gorm:"not null;index" json:"last_interaction"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (RelationshipEdge) TableName() string {
	return "relationship_edges"
}

func (e *RelationshipEdge) CountMap() map[string]int {
	out := map[string]int{}
	_ = json.Unmarshal(e.Counts, &out)
	return out
}

func (e *RelationshipEdge) SetCountMap(m map[string]int) {
	raw, _ := json.Marshal(m)
	e.Counts = datatypes.JSON(raw)
}

func (e *RelationshipEdge) TotalCount() int {
	total := 0
	for _, v := range e.CountMap() {
		total += v
	}
	return total
}

// CanonicalPair orders two user ids so (a,b) and (b,a) address the same edge.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
