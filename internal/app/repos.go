package app

import (
	"gorm.io/gorm"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
)

type Repos struct {
	Message      repos.MessageRepo
	Channel      repos.ChannelRepo
	Member       repos.MemberRepo
	Segment      repos.SegmentRepo
	Edge         repos.EdgeRepo
	Relationship repos.RelationshipRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Message:      repos.NewMessageRepo(db, log),
		Channel:      repos.NewChannelRepo(db, log),
		Member:       repos.NewMemberRepo(db, log),
		Segment:      repos.NewSegmentRepo(db, log),
		Edge:         repos.NewEdgeRepo(db, log),
		Relationship: repos.NewRelationshipRepo(db, log),
	}
}
