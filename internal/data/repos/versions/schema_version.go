package versions

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type SchemaVersionRepo interface {
	Create(dbc dbctx.Context, version *types.SchemaVersion) error
	GetByID(dbc dbctx.Context, targetID, id uuid.UUID) (*types.SchemaVersion, error)
	Latest(dbc dbctx.Context, targetID uuid.UUID) (*types.SchemaVersion, error)
	LatestComposable(dbc dbctx.Context, targetID uuid.UUID) (*types.SchemaVersion, error)
	ListByTarget(dbc dbctx.Context, targetID uuid.UUID, limit int) ([]*types.SchemaVersion, error)
}

type schemaVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSchemaVersionRepo(db *gorm.DB, baseLog *logger.Logger) SchemaVersionRepo {
	return &schemaVersionRepo{
		db:  db,
		log: baseLog.With("repo", "SchemaVersionRepo"),
	}
}

func (r *schemaVersionRepo) Create(dbc dbctx.Context, version *types.SchemaVersion) error {
	if version == nil {
		return nil
	}
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(version).Error
}

func (r *schemaVersionRepo) GetByID(dbc dbctx.Context, targetID, id uuid.UUID) (*types.SchemaVersion, error) {
	if targetID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var v types.SchemaVersion
	if err := dbc.DB(r.db).
		Where("target_id = ? AND id = ?", targetID, id).
		Limit(1).
		Find(&v).Error; err != nil {
		return nil, err
	}
	if v.ID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}

func (r *schemaVersionRepo) Latest(dbc dbctx.Context, targetID uuid.UUID) (*types.SchemaVersion, error) {
	return r.latest(dbc, targetID, false)
}

func (r *schemaVersionRepo) LatestComposable(dbc dbctx.Context, targetID uuid.UUID) (*types.SchemaVersion, error) {
	return r.latest(dbc, targetID, true)
}

func (r *schemaVersionRepo) latest(dbc dbctx.Context, targetID uuid.UUID, composableOnly bool) (*types.SchemaVersion, error) {
	if targetID == uuid.Nil {
		return nil, nil
	}
	q := dbc.DB(r.db).Where("target_id = ?", targetID)
	if composableOnly {
		q = q.Where("is_composable = ?", true)
	}
	var v types.SchemaVersion
	if err := q.Order("created_at DESC").Limit(1).Find(&v).Error; err != nil {
		return nil, err
	}
	if v.ID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}

func (r *schemaVersionRepo) ListByTarget(dbc dbctx.Context, targetID uuid.UUID, limit int) ([]*types.SchemaVersion, error) {
	var out []*types.SchemaVersion
	if targetID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if err := dbc.DB(r.db).
		Where("target_id = ?", targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
