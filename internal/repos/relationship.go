package repos

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type RelationshipRepo interface {
	// ReplaceForUser swaps the owner's entire stored network in one
	// transaction. Percentages are a distribution over the owner's total
	// mass, so partial patches would leave the set unnormalized.
	ReplaceForUser(dbc dbctx.Context, guildID, userID string, entries []*types.RelationshipEntry) error
	ListForUser(dbc dbctx.Context, guildID, userID string, limit int) ([]*types.RelationshipEntry, error)
	GetPairEntry(dbc dbctx.Context, guildID, userID, targetUserID string) (*types.RelationshipEntry, error)
}

type relationshipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRelationshipRepo(db *gorm.DB, log *logger.Logger) RelationshipRepo {
	return &relationshipRepo{db: db, log: log.With("repo", "RelationshipRepo")}
}

func (r *relationshipRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *relationshipRepo) ReplaceForUser(dbc dbctx.Context, guildID, userID string, entries []*types.RelationshipEntry) error {
	if guildID == "" || userID == "" {
		return fmt.Errorf("missing guild_id or user_id")
	}
	return r.tx(dbc).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Delete(&types.RelationshipEntry{}, "guild_id = ? AND user_id = ?", guildID, userID).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			e.GuildID = guildID
			e.UserID = userID
			e.ID = 0
		}
		return tx.Create(&entries).Error
	})
}

func (r *relationshipRepo) ListForUser(dbc dbctx.Context, guildID, userID string, limit int) ([]*types.RelationshipEntry, error) {
	if guildID == "" || userID == "" {
		return nil, fmt.Errorf("missing guild_id or user_id")
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	var out []*types.RelationshipEntry
	if err := r.tx(dbc).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Order("affinity_percentage DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *relationshipRepo) GetPairEntry(dbc dbctx.Context, guildID, userID, targetUserID string) (*types.RelationshipEntry, error) {
	if guildID == "" || userID == "" || targetUserID == "" {
		return nil, fmt.Errorf("missing guild_id or user ids")
	}
	var out types.RelationshipEntry
	err := r.tx(dbc).
		First(&out, "guild_id = ? AND user_id = ? AND target_user_id = ?", guildID, userID, targetUserID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
