package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/guildgraph/guildgraph-backend/internal/logger"
	"github.com/guildgraph/guildgraph-backend/internal/pkg/dbctx"
	"github.com/guildgraph/guildgraph-backend/internal/types"
)

type SegmentRepo interface {
	Create(dbc dbctx.Context, row *types.ConversationSegment) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ConversationSegment, error)
	Update(dbc dbctx.Context, row *types.ConversationSegment) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
	ListByParticipant(dbc dbctx.Context, guildID, userID string, since *time.Time, limit int) ([]*types.ConversationSegment, error)
	ListForParticipants(dbc dbctx.Context, guildID string, userIDs []string, since *time.Time, limit int) ([]*types.ConversationSegment, error)
	// ListNearby returns other segments in the same channel whose time range
	// falls within the window around [start,end], for the merge pass.
	ListNearby(dbc dbctx.Context, guildID, channelID string, start, end time.Time, window time.Duration, exclude uuid.UUID) ([]*types.ConversationSegment, error)
	ListOlderThan(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.ConversationSegment, error)
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error)
}

type segmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSegmentRepo(db *gorm.DB, log *logger.Logger) SegmentRepo {
	return &segmentRepo{db: db, log: log.With("repo", "SegmentRepo")}
}

func (r *segmentRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *segmentRepo) Create(dbc dbctx.Context, row *types.ConversationSegment) error {
	if row == nil {
		return fmt.Errorf("missing segment")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.tx(dbc).Create(row).Error
}

func (r *segmentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ConversationSegment, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing segment id")
	}
	var out types.ConversationSegment
	err := r.tx(dbc).First(&out, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *segmentRepo) Update(dbc dbctx.Context, row *types.ConversationSegment) error {
	if row == nil || row.ID == uuid.Nil {
		return fmt.Errorf("missing segment id")
	}
	return r.tx(dbc).Save(row).Error
}

func (r *segmentRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing segment id")
	}
	return r.tx(dbc).Delete(&types.ConversationSegment{}, "id = ?", id).Error
}

// participantPattern matches the quoted user id inside the participants
// JSON array regardless of position.
func participantPattern(userID string) string {
	return `%"` + userID + `"%`
}

func (r *segmentRepo) ListByParticipant(dbc dbctx.Context, guildID, userID string, since *time.Time, limit int) ([]*types.ConversationSegment, error) {
	if guildID == "" || userID == "" {
		return nil, fmt.Errorf("missing guild_id or user_id")
	}
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	q := r.tx(dbc).
		Where("guild_id = ?", guildID).
		Where("CAST(participants AS TEXT) LIKE ?", participantPattern(userID))
	if since != nil {
		q = q.Where("end_time >= ?", *since)
	}
	var out []*types.ConversationSegment
	if err := q.Order("start_time DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *segmentRepo) ListForParticipants(dbc dbctx.Context, guildID string, userIDs []string, since *time.Time, limit int) ([]*types.ConversationSegment, error) {
	if guildID == "" {
		return nil, fmt.Errorf("missing guild_id")
	}
	if len(userIDs) == 0 {
		return []*types.ConversationSegment{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := r.tx(dbc).Where("guild_id = ?", guildID)
	for _, id := range userIDs {
		q = q.Where("CAST(participants AS TEXT) LIKE ?", participantPattern(id))
	}
	if since != nil {
		q = q.Where("end_time >= ?", *since)
	}
	var out []*types.ConversationSegment
	if err := q.Order("start_time DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *segmentRepo) ListNearby(dbc dbctx.Context, guildID, channelID string, start, end time.Time, window time.Duration, exclude uuid.UUID) ([]*types.ConversationSegment, error) {
	if guildID == "" || channelID == "" {
		return nil, fmt.Errorf("missing guild_id or channel_id")
	}
	var out []*types.ConversationSegment
	if err := r.tx(dbc).
		Where("guild_id = ? AND channel_id = ?", guildID, channelID).
		Where("id <> ?", exclude).
		Where("start_time <= ? AND end_time >= ?", end.Add(window), start.Add(-window)).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *segmentRepo) ListOlderThan(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.ConversationSegment, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var out []*types.ConversationSegment
	if err := r.tx(dbc).
		Where("end_time < ?", cutoff).
		Order("end_time").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *segmentRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.tx(dbc).Delete(&types.ConversationSegment{}, "id IN ?", ids)
	return res.RowsAffected, res.Error
}
