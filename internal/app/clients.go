package app

import (
	"context"

	"github.com/guildgraph/guildgraph-backend/internal/clients/neo4jdb"
	redisclient "github.com/guildgraph/guildgraph-backend/internal/clients/redis"
	"github.com/guildgraph/guildgraph-backend/internal/logger"
)

// Clients holds optional external dependencies. Both are nil when their
// env configuration is absent; the services fall back to in-process
// behavior in that case.
type Clients struct {
	RollupQueue redisclient.RollupQueue
	GraphDB     *neo4jdb.Client
}

func wireClients(log *logger.Logger) Clients {
	log.Info("Wiring clients...")

	queue, err := redisclient.NewRollupQueue(log)
	if err != nil {
		log.Warn("Redis rollup queue unavailable, using in-memory pending set", "error", err)
		queue = nil
	}

	graphDB, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j unavailable, skipping relationship graph mirroring", "error", err)
		graphDB = nil
	}

	return Clients{
		RollupQueue: queue,
		GraphDB:     graphDB,
	}
}

func (c Clients) Close(ctx context.Context) {
	if c.RollupQueue != nil {
		c.RollupQueue.Close()
	}
	if c.GraphDB != nil {
		c.GraphDB.Close(ctx)
	}
}
