package types

import "time"

// GuildMember is the per-guild member directory row. Names feed the
// plain-text name-usage bonus in affinity scoring; Bot gates every graph
// effect in both directions.
type GuildMember struct {
	GuildID     string     `gorm:"type:varchar(32);primaryKey" json:"guild_id"`
	UserID      string     `gorm:"type:varchar(32);primaryKey" json:"user_id"`
	Username    string     `gorm:"type:varchar(128)" json:"username"`
	DisplayName string     `gorm:"type:varchar(128)" json:"display_name"`
	GlobalName  string     `gorm:"type:varchar(128)" json:"global_name"`
	Bot         bool       `gorm:"not null;default:false" json:"bot"`
	Active      bool       `gorm:"not null;default:true" json:"active"`
	JoinedAt    *time.Time `json:"joined_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (GuildMember) TableName() string {
	return "guild_members"
}

// Names returns the non-empty display names for plain-text matching.
func (m *GuildMember) Names() []string {
	out := make([]string, 0, 3)
	for _, n := range []string{m.DisplayName, m.Username, m.GlobalName} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
