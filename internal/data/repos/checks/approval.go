package checks

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type SchemaChangeApprovalRepo interface {
	// Upsert keeps the first approval of a fingerprint within a context.
	Upsert(dbc dbctx.Context, rows []*types.SchemaChangeApproval) error
	ListByContext(dbc dbctx.Context, targetID uuid.UUID, contextID string) ([]*types.SchemaChangeApproval, error)
}

type schemaChangeApprovalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSchemaChangeApprovalRepo(db *gorm.DB, baseLog *logger.Logger) SchemaChangeApprovalRepo {
	return &schemaChangeApprovalRepo{
		db:  db,
		log: baseLog.With("repo", "SchemaChangeApprovalRepo"),
	}
}

func (r *schemaChangeApprovalRepo) Upsert(dbc dbctx.Context, rows []*types.SchemaChangeApproval) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "target_id"},
				{Name: "context_id"},
				{Name: "contract_key"},
				{Name: "fingerprint"},
			},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *schemaChangeApprovalRepo) ListByContext(dbc dbctx.Context, targetID uuid.UUID, contextID string) ([]*types.SchemaChangeApproval, error) {
	var out []*types.SchemaChangeApproval
	if targetID == uuid.Nil || contextID == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("target_id = ? AND context_id = ?", targetID, contextID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
