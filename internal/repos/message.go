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

type MessageRepo interface {
	Upsert(dbc dbctx.Context, rows []*types.Message) error
	GetByID(dbc dbctx.Context, id string) (*types.Message, error)
	Exists(dbc dbctx.Context, id string) (bool, error)
	ExistingIDs(dbc dbctx.Context, ids []string) (map[string]bool, error)
	NewestInChannel(dbc dbctx.Context, channelID string) (*types.Message, error)
	ListRecentInChannel(dbc dbctx.Context, channelID string, limit int) ([]*types.Message, error)
	UpdateContent(dbc dbctx.Context, id, content string, editedAt *time.Time) error
	SoftDelete(dbc dbctx.Context, id string) error
	CountByChannel(dbc dbctx.Context, channelID string) (int64, error)
	// RepairReferences fills referenced_message_id for the given
	// (message id -> referenced id) pairs, scoped to rows whose reference
	// is still NULL and whose target row now exists.
	RepairReferences(dbc dbctx.Context, pairs map[string]string) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *messageRepo) Upsert(dbc dbctx.Context, rows []*types.Message) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content", "edited_at", "attachments", "embeds", "active",
			}),
		}).
		Create(&rows).Error
}

func (r *messageRepo) GetByID(dbc dbctx.Context, id string) (*types.Message, error) {
	if id == "" {
		return nil, fmt.Errorf("missing message id")
	}
	var out types.Message
	if err := r.tx(dbc).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) Exists(dbc dbctx.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var count int64
	if err := r.tx(dbc).
		Model(&types.Message{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *messageRepo) ExistingIDs(dbc dbctx.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []string
	if err := r.tx(dbc).
		Model(&types.Message{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *messageRepo) NewestInChannel(dbc dbctx.Context, channelID string) (*types.Message, error) {
	if channelID == "" {
		return nil, fmt.Errorf("missing channel_id")
	}
	var out types.Message
	err := r.tx(dbc).
		Where("channel_id = ?", channelID).
		Order("created_at DESC, id DESC").
		First(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) ListRecentInChannel(dbc dbctx.Context, channelID string, limit int) ([]*types.Message, error) {
	if channelID == "" {
		return nil, fmt.Errorf("missing channel_id")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var out []*types.Message
	if err := r.tx(dbc).
		Where("channel_id = ? AND active = ?", channelID, true).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) UpdateContent(dbc dbctx.Context, id, content string, editedAt *time.Time) error {
	if id == "" {
		return fmt.Errorf("missing message id")
	}
	return r.tx(dbc).
		Model(&types.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"content":   content,
			"edited_at": editedAt,
		}).Error
}

func (r *messageRepo) SoftDelete(dbc dbctx.Context, id string) error {
	if id == "" {
		return fmt.Errorf("missing message id")
	}
	return r.tx(dbc).
		Model(&types.Message{}).
		Where("id = ?", id).
		Update("active", false).Error
}

func (r *messageRepo) CountByChannel(dbc dbctx.Context, channelID string) (int64, error) {
	var count int64
	err := r.tx(dbc).
		Model(&types.Message{}).
		Where("channel_id = ?", channelID).
		Count(&count).Error
	return count, err
}

func (r *messageRepo) RepairReferences(dbc dbctx.Context, pairs map[string]string) (int64, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	var repaired int64
	for id, ref := range pairs {
		res := r.tx(dbc).
			Model(&types.Message{}).
			Where("id = ? AND referenced_message_id IS NULL", id).
			Where("EXISTS (SELECT 1 FROM messages ref WHERE ref.id = ?)", ref).
			Update("referenced_message_id", ref)
		if res.Error != nil {
			return repaired, res.Error
		}
		repaired += res.RowsAffected
	}
	return repaired, nil
}
