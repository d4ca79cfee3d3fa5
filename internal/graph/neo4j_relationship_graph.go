package graph

import (
	"context"

	"github.com/guildgraph/guildgraph-backend/internal/clients/neo4jdb"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

// UpsertRelationshipEdges mirrors relationship edges into neo4j as
// (:Member)-[:INTERACTS]->(:Member) rows keyed by guild + pair. Best-effort:
// a nil client disables the projection and callers swallow errors after
// logging, the relational store stays the source of truth.
func UpsertRelationshipEdges(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, guildID string, edges []*types.RelationshipEdge) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if len(edges) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		if e == nil || e.UserA == "" || e.UserB == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"guild_id":         guildID,
			"user_a":           e.UserA,
			"user_b":           e.UserB,
			"total":            e.TotalCount(),
			"rolling_7d":       e.Rolling7d,
			"rolling_30d":      e.Rolling30d,
			"last_interaction": e.LastInteraction.UTC(),
		})
	}
	if len(rows) == 0 {
		return nil
	}

	const cypher = `
UNWIND $rows AS row
MERGE (a:Member {guild_id: row.guild_id, user_id: row.user_a})
MERGE (b:Member {guild_id: row.guild_id, user_id: row.user_b})
MERGE (a)-[r:INTERACTS]->(b)
SET r.total = row.total,
    r.rolling_7d = row.rolling_7d,
    r.rolling_30d = row.rolling_30d,
    r.last_interaction = row.last_interaction`

	return client.Write(ctx, cypher, map[string]any{"rows": rows})
}
