package repos

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type EdgeRepo interface {
	// Touch bumps the per-kind counter on the canonical edge for the pair,
	// creating the row on first contact. Replay-safe: re-recording the same
	// interaction is a harmless double count on an already-coarse signal.
	Touch(dbc dbctx.Context, guildID, userA, userB, kind string, at time.Time) (*types.RelationshipEdge, error)
	GetPair(dbc dbctx.Context, guildID, userA, userB string) (*types.RelationshipEdge, error)
	ListForUser(dbc dbctx.Context, guildID, userID string) ([]*types.RelationshipEdge, error)
	ListByGuild(dbc dbctx.Context, guildID string, offset, limit int) ([]*types.RelationshipEdge, error)
	UpdateRollingWindows(dbc dbctx.Context, id uint, rolling7d, rolling30d int) error
}

type edgeRepo struct {
	db  *gorm.DB
	log *logger.Logger

	// touchMu serializes Touch's read-modify-write of the JSON counts.
	// This process is the store's only writer, so an in-process lock is
	// enough to keep concurrent capture and segment flushes from losing
	// an increment.
	touchMu sync.Mutex
}

func NewEdgeRepo(db *gorm.DB, log *logger.Logger) EdgeRepo {
	return &edgeRepo{db: db, log: log.With("repo", "EdgeRepo")}
}

func (r *edgeRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *edgeRepo) Touch(dbc dbctx.Context, guildID, userA, userB, kind string, at time.Time) (*types.RelationshipEdge, error) {
	if guildID == "" || userA == "" || userB == "" {
		return nil, fmt.Errorf("missing guild_id or user ids")
	}
	if userA == userB {
		return nil, fmt.Errorf("self edge rejected")
	}
	a, b := types.CanonicalPair(userA, userB)

	r.touchMu.Lock()
	defer r.touchMu.Unlock()

	var edge types.RelationshipEdge
	err := r.tx(dbc).
		First(&edge, "guild_id = ? AND user_a = ? AND user_b = ?", guildID, a, b).Error
	if err == gorm.ErrRecordNotFound {
		edge = types.RelationshipEdge{
			GuildID:         guildID,
			UserA:           a,
			UserB:           b,
			LastInteraction: at,
		}
		edge.SetCountMap(map[string]int{kind: 1})
		if err := r.tx(dbc).Create(&edge).Error; err != nil {
			return nil, err
		}
		return &edge, nil
	}
	if err != nil {
		return nil, err
	}

	counts := edge.CountMap()
	counts[kind]++
	edge.SetCountMap(counts)
	if at.After(edge.LastInteraction) {
		edge.LastInteraction = at
	}
	edge.UpdatedAt = time.Now().UTC()
	// Write only the columns Touch owns: the rolling window counters
	// belong to the maintenance recompute and must not be pushed back
	// from this row's loaded copy.
	if err := r.tx(dbc).
		Model(&types.RelationshipEdge{}).
		Where("id = ?", edge.ID).
		Updates(map[string]interface{}{
			"counts":           edge.Counts,
			"last_interaction": edge.LastInteraction,
			"updated_at":       edge.UpdatedAt,
		}).Error; err != nil {
		return nil, err
	}
	return &edge, nil
}

func (r *edgeRepo) GetPair(dbc dbctx.Context, guildID, userA, userB string) (*types.RelationshipEdge, error) {
	if guildID == "" || userA == "" || userB == "" {
		return nil, fmt.Errorf("missing guild_id or user ids")
	}
	a, b := types.CanonicalPair(userA, userB)
	var out types.RelationshipEdge
	err := r.tx(dbc).
		First(&out, "guild_id = ? AND user_a = ? AND user_b = ?", guildID, a, b).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *edgeRepo) ListForUser(dbc dbctx.Context, guildID, userID string) ([]*types.RelationshipEdge, error) {
	if guildID == "" || userID == "" {
		return nil, fmt.Errorf("missing guild_id or user_id")
	}
	var out []*types.RelationshipEdge
	if err := r.tx(dbc).
		Where("guild_id = ? AND (user_a = ? OR user_b = ?)", guildID, userID, userID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *edgeRepo) ListByGuild(dbc dbctx.Context, guildID string, offset, limit int) ([]*types.RelationshipEdge, error) {
	if guildID == "" {
		return nil, fmt.Errorf("missing guild_id")
	}
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var out []*types.RelationshipEdge
	if err := r.tx(dbc).
		Where("guild_id = ?", guildID).
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *edgeRepo) UpdateRollingWindows(dbc dbctx.Context, id uint, rolling7d, rolling30d int) error {
	if id == 0 {
		return fmt.Errorf("missing edge id")
	}
	return r.tx(dbc).
		Model(&types.RelationshipEdge{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rolling_7d":  rolling7d,
			"rolling_30d": rolling30d,
		}).Error
}
