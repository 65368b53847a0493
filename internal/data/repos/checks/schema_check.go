package checks

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type SchemaCheckRepo interface {
	Create(dbc dbctx.Context, check *types.SchemaCheck) error
	GetByID(dbc dbctx.Context, targetID, id uuid.UUID) (*types.SchemaCheck, error)
	// MarkManuallyApproved flips a failed, unapproved check to successful. It reports false when the
	// guard did not match.
	MarkManuallyApproved(dbc dbctx.Context, id uuid.UUID, userID, comment string, breaking datatypes.JSON) (bool, error)
}

type schemaCheckRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSchemaCheckRepo(db *gorm.DB, baseLog *logger.Logger) SchemaCheckRepo {
	return &schemaCheckRepo{
		db:  db,
		log: baseLog.With("repo", "SchemaCheckRepo"),
	}
}

func (r *schemaCheckRepo) Create(dbc dbctx.Context, check *types.SchemaCheck) error {
	if check == nil {
		return nil
	}
	if check.ID == uuid.Nil {
		check.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(check).Error
}

func (r *schemaCheckRepo) GetByID(dbc dbctx.Context, targetID, id uuid.UUID) (*types.SchemaCheck, error) {
	if targetID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var c types.SchemaCheck
	if err := dbc.DB(r.db).
		Where("target_id = ? AND id = ?", targetID, id).
		Limit(1).
		Find(&c).Error; err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		return nil, nil
	}
	return &c, nil
}

func (r *schemaCheckRepo) MarkManuallyApproved(dbc dbctx.Context, id uuid.UUID, userID, comment string, breaking datatypes.JSON) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	updates := map[string]interface{}{
		"is_success":              true,
		"is_manually_approved":    true,
		"manual_approval_user_id": userID,
		"updated_at":              time.Now().UTC(),
	}
	if len(breaking) > 0 {
		updates["breaking_changes"] = breaking
	}
	if comment != "" {
		updates["manual_approval_comment"] = comment
	}
	res := dbc.DB(r.db).
		Model(&types.SchemaCheck{}).
		Where("id = ? AND is_success = ? AND is_manually_approved = ?", id, false, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type ContractCheckRepo interface {
	Create(dbc dbctx.Context, rows []*types.ContractCheck) error
	ListBySchemaCheck(dbc dbctx.Context, schemaCheckID uuid.UUID) ([]*types.ContractCheck, error)
	MarkApproved(dbc dbctx.Context, id uuid.UUID, breaking datatypes.JSON) error
}

type contractCheckRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContractCheckRepo(db *gorm.DB, baseLog *logger.Logger) ContractCheckRepo {
	return &contractCheckRepo{
		db:  db,
		log: baseLog.With("repo", "ContractCheckRepo"),
	}
}

func (r *contractCheckRepo) Create(dbc dbctx.Context, rows []*types.ContractCheck) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *contractCheckRepo) ListBySchemaCheck(dbc dbctx.Context, schemaCheckID uuid.UUID) ([]*types.ContractCheck, error) {
	var out []*types.ContractCheck
	if schemaCheckID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("schema_check_id = ?", schemaCheckID).
		Order("contract_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contractCheckRepo) MarkApproved(dbc dbctx.Context, id uuid.UUID, breaking datatypes.JSON) error {
	if id == uuid.Nil {
		return nil
	}
	updates := map[string]interface{}{"is_success": true}
	if len(breaking) > 0 {
		updates["breaking_changes"] = breaking
	}
	return dbc.DB(r.db).Model(&types.ContractCheck{}).Where("id = ?", id).Updates(updates).Error
}
