package repos

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type MemberRepo interface {
	Upsert(dbc dbctx.Context, rows []*types.GuildMember) error
	Get(dbc dbctx.Context, guildID, userID string) (*types.GuildMember, error)
	ListByGuild(dbc dbctx.Context, guildID string) ([]*types.GuildMember, error)
	ListByIDs(dbc dbctx.Context, guildID string, userIDs []string) ([]*types.GuildMember, error)
	MarkInactive(dbc dbctx.Context, guildID, userID string) error
}

type memberRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMemberRepo(db *gorm.DB, log *logger.Logger) MemberRepo {
	return &memberRepo{db: db, log: log.With("repo", "MemberRepo")}
}

func (r *memberRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *memberRepo) Upsert(dbc dbctx.Context, rows []*types.GuildMember) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "display_name", "global_name", "bot", "active", "updated_at",
			}),
		}).
		Create(&rows).Error
}

func (r *memberRepo) Get(dbc dbctx.Context, guildID, userID string) (*types.GuildMember, error) {
	if guildID == "" || userID == "" {
		return nil, fmt.Errorf("missing guild_id or user_id")
	}
	var out types.GuildMember
	err := r.tx(dbc).
		First(&out, "guild_id = ? AND user_id = ?", guildID, userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *memberRepo) ListByGuild(dbc dbctx.Context, guildID string) ([]*types.GuildMember, error) {
	if guildID == "" {
		return nil, fmt.Errorf("missing guild_id")
	}
	var out []*types.GuildMember
	if err := r.tx(dbc).
		Where("guild_id = ? AND active = ?", guildID, true).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *memberRepo) ListByIDs(dbc dbctx.Context, guildID string, userIDs []string) ([]*types.GuildMember, error) {
	if guildID == "" {
		return nil, fmt.Errorf("missing guild_id")
	}
	if len(userIDs) == 0 {
		return []*types.GuildMember{}, nil
	}
	var out []*types.GuildMember
	if err := r.tx(dbc).
		Where("guild_id = ? AND user_id IN ?", guildID, userIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *memberRepo) MarkInactive(dbc dbctx.Context, guildID, userID string) error {
	if guildID == "" || userID == "" {
		return fmt.Errorf("missing guild_id or user_id")
	}
	return r.tx(dbc).
		Model(&types.GuildMember{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Update("active", false).Error
}
