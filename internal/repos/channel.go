package repos

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type ChannelRepo interface {
	Upsert(dbc dbctx.Context, row *types.Channel) error
	GetByID(dbc dbctx.Context, id string) (*types.Channel, error)
	ListByGuild(dbc dbctx.Context, guildID string) ([]*types.Channel, error)
	ListGuilds(dbc dbctx.Context) ([]string, error)
	// SetWatermark records the newest durably synchronized message id.
	// The caller derives it from storage after a committed batch, so the
	// value only ever moves forward.
	SetWatermark(dbc dbctx.Context, channelID, messageID string, at time.Time) error
}

type channelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChannelRepo(db *gorm.DB, log *logger.Logger) ChannelRepo {
	return &channelRepo{db: db, log: log.With("repo", "ChannelRepo")}
}

func (r *channelRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *channelRepo) Upsert(dbc dbctx.Context, row *types.Channel) error {
	if row == nil || row.ID == "" {
		return fmt.Errorf("missing channel id")
	}
	// The watermark is intentionally excluded: it advances only through
	// SetWatermark after a successful batch commit.
	return r.tx(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "active", "updated_at"}),
		}).
		Create(row).Error
}

func (r *channelRepo) GetByID(dbc dbctx.Context, id string) (*types.Channel, error) {
	if id == "" {
		return nil, fmt.Errorf("missing channel id")
	}
	var out types.Channel
	err := r.tx(dbc).First(&out, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *channelRepo) ListByGuild(dbc dbctx.Context, guildID string) ([]*types.Channel, error) {
	if guildID == "" {
		return nil, fmt.Errorf("missing guild_id")
	}
	var out []*types.Channel
	if err := r.tx(dbc).
		Where("guild_id = ? AND active = ?", guildID, true).
		Order("id").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *channelRepo) ListGuilds(dbc dbctx.Context) ([]string, error) {
	var out []string
	if err := r.tx(dbc).
		Model(&types.Channel{}).
		Distinct("guild_id").
		Order("guild_id").
		Pluck("guild_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *channelRepo) SetWatermark(dbc dbctx.Context, channelID, messageID string, at time.Time) error {
	if channelID == "" || messageID == "" {
		return fmt.Errorf("missing channel or message id")
	}
	return r.tx(dbc).
		Model(&types.Channel{}).
		Where("id = ?", channelID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_synced_at":  at,
			"updated_at":      at,
		}).Error
}
