package services

import (
	"context"
	"fmt"
	"time"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/repos"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

// DyadSummary is the two directed views of one pair: each side's entry is
// normalized against that side's own interaction mass, so the percentages
// are not symmetric.
type DyadSummary struct {
	AToB *types.RelationshipEntry `json:"a_to_b"`
	BToA *types.RelationshipEntry `json:"b_to_a"`
	Edge *types.RelationshipEdge  `json:"edge,omitempty"`
}

// NetworkService is the read-only contract for downstream consumers.
type NetworkService interface {
	GetMemberRelationshipNetwork(ctx context.Context, guildID, userID string, limit int) ([]*types.RelationshipEntry, error)
	GetSegmentsForParticipants(ctx context.Context, guildID string, userIDs []string, limit int, since *time.Time) ([]*types.ConversationSegment, error)
	GetDyadSummary(ctx context.Context, guildID, userA, userB string) (*DyadSummary, error)
}

type networkService struct {
	relationships repos.RelationshipRepo
	segments      repos.SegmentRepo
	edges         repos.EdgeRepo
	log           *logger.Logger
}

func NewNetworkService(
	relationships repos.RelationshipRepo,
	segments repos.SegmentRepo,
	edges repos.EdgeRepo,
	log *logger.Logger,
) NetworkService {
	return &networkService{
		relationships: relationships,
		segments:      segments,
		edges:         edges,
		log:           log.With("service", "NetworkService"),
	}
}

func (s *networkService) GetMemberRelationshipNetwork(ctx context.Context, guildID, userID string, limit int) ([]*types.RelationshipEntry, error) {
	return s.relationships.ListForUser(dbctx.From(ctx), guildID, userID, limit)
}

func (s *networkService) GetSegmentsForParticipants(ctx context.Context, guildID string, userIDs []string, limit int, since *time.Time) ([]*types.ConversationSegment, error) {
	return s.segments.ListForParticipants(dbctx.From(ctx), guildID, userIDs, since, limit)
}

func (s *networkService) GetDyadSummary(ctx context.Context, guildID, userA, userB string) (*DyadSummary, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("two distinct user ids required")
	}
	dbc := dbctx.From(ctx)
	aToB, err := s.relationships.GetPairEntry(dbc, guildID, userA, userB)
	if err != nil {
		return nil, err
	}
	bToA, err := s.relationships.GetPairEntry(dbc, guildID, userB, userA)
	if err != nil {
		return nil, err
	}
	edge, err := s.edges.GetPair(dbc, guildID, userA, userB)
	if err != nil {
		return nil, err
	}
	return &DyadSummary{AToB: aToB, BToA: bToA, Edge: edge}, nil
}
