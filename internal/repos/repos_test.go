package repos

import (
	"os"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

// openTestDB opens a throwaway database for repo tests. With
// TEST_POSTGRES_DSN set the tests run against real postgres; otherwise
// they fall back to an in-memory sqlite database, which covers the
// portable SQL the repos emit.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	var (
		db  *gorm.DB
		err error
	)
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		db, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), cfg)
	}
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	err = db.AutoMigrate(
		&types.Channel{},
		&types.GuildMember{},
		&types.Message{},
		&types.ConversationSegment{},
		&types.RelationshipEdge{},
		&types.RelationshipEntry{},
	)
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	t.Cleanup(func() {
		for _, model := range []interface{}{
			&types.RelationshipEntry{},
			&types.RelationshipEdge{},
			&types.ConversationSegment{},
			&types.Message{},
			&types.GuildMember{},
			&types.Channel{},
		} {
			db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model)
		}
	})
	return db
}

func testLogger() *logger.Logger {
	return logger.NewNop()
}
