package repos

import (
	"testing"

	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

func TestMemberUpsertUpdatesNames(t *testing.T) {
	repo := NewMemberRepo(openTestDB(t), testLogger())
	dbc := dbctx.Background()

	err := repo.Upsert(dbc, []*types.GuildMember{
		{GuildID: "g1", UserID: "u1", Username: "alice", DisplayName: "Alice", Active: true},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = repo.Upsert(dbc, []*types.GuildMember{
		{GuildID: "g1", UserID: "u1", Username: "alice", DisplayName: "Allie", Active: true},
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	row, err := repo.Get(dbc, "g1", "u1")
	if err != nil || row == nil {
		t.Fatalf("Get: %+v err=%v", row, err)
	}
	if row.DisplayName != "Allie" {
		t.Fatalf("display name: want=Allie got=%s", row.DisplayName)
	}
}

func TestMemberScopedPerGuild(t *testing.T) {
	repo := NewMemberRepo(openTestDB(t), testLogger())
	dbc := dbctx.Background()

	err := repo.Upsert(dbc, []*types.GuildMember{
		{GuildID: "g1", UserID: "u1", Username: "alice", Active: true},
		{GuildID: "g2", UserID: "u1", Username: "alice-elsewhere", Active: true},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	row, err := repo.Get(dbc, "g2", "u1")
	if err != nil || row == nil || row.Username != "alice-elsewhere" {
		t.Fatalf("guild scoping broken: %+v err=%v", row, err)
	}
}

func TestMemberMarkInactive(t *testing.T) {
	repo := NewMemberRepo(openTestDB(t), testLogger())
	dbc := dbctx.Background()

	err := repo.Upsert(dbc, []*types.GuildMember{
		{GuildID: "g1", UserID: "u1", Username: "alice", Active: true},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.MarkInactive(dbc, "g1", "u1"); err != nil {
		t.Fatalf("MarkInactive: %v", err)
	}
	row, err := repo.Get(dbc, "g1", "u1")
	if err != nil || row == nil || row.Active {
		t.Fatalf("member still active: %+v err=%v", row, err)
	}
}

func TestMemberListByIDs(t *testing.T) {
	repo := NewMemberRepo(openTestDB(t), testLogger())
	dbc := dbctx.Background()

	err := repo.Upsert(dbc, []*types.GuildMember{
		{GuildID: "g1", UserID: "u1", Username: "alice", Active: true},
		{GuildID: "g1", UserID: "u2", Username: "bob", Active: true},
		{GuildID: "g1", UserID: "u3", Username: "carol", Active: true},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rows, err := repo.ListByIDs(dbc, "g1", []string{"u1", "u3", "ghost"})
	if err != nil {
		t.Fatalf("ListByIDs: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: want=2 got=%d", len(rows))
	}
}
