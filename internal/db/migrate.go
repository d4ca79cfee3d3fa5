package db

import (
	"gorm.io/gorm"

	"github.com/guildgraph/guildgraph-backend/internal/types"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Raw sync state
		&types.Channel{},
		&types.GuildMember{},
		&types.Message{},

		// Derived data products
		&types.ConversationSegment{},
		&types.RelationshipEdge{},
		&types.RelationshipEntry{},
	)
}
