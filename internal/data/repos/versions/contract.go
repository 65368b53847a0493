package versions

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type ContractRepo interface {
	Create(dbc dbctx.Context, contract *types.Contract) error
	ListActive(dbc dbctx.Context, targetID uuid.UUID) ([]*types.Contract, error)
	Disable(dbc dbctx.Context, id uuid.UUID) error
}

type contractRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContractRepo(db *gorm.DB, baseLog *logger.Logger) ContractRepo {
	return &contractRepo{
		db:  db,
		log: baseLog.With("repo", "ContractRepo"),
	}
}

func (r *contractRepo) Create(dbc dbctx.Context, contract *types.Contract) error {
	if contract == nil {
		return nil
	}
	if contract.ID == uuid.Nil {
		contract.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(contract).Error
}

// ListActive returns enabled contracts in creation order so evaluation output is stable.
func (r *contractRepo) ListActive(dbc dbctx.Context, targetID uuid.UUID) ([]*types.Contract, error) {
	var out []*types.Contract
	if targetID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("target_id = ? AND is_disabled = ?", targetID, false).
		Order("created_at ASC, contract_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contractRepo) Disable(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Model(&types.Contract{}).Where("id = ?", id).Update("is_disabled", true).Error
}

type ContractVersionRepo interface {
	Create(dbc dbctx.Context, rows []*types.ContractVersion) error
	ListBySchemaVersion(dbc dbctx.Context, schemaVersionID uuid.UUID) ([]*types.ContractVersion, error)
	LatestForContract(dbc dbctx.Context, contractID uuid.UUID, composableOnly bool) (*types.ContractVersion, error)
}

type contractVersionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContractVersionRepo(db *gorm.DB, baseLog *logger.Logger) ContractVersionRepo {
	return &contractVersionRepo{
		db:  db,
		log: baseLog.With("repo", "ContractVersionRepo"),
	}
}

func (r *contractVersionRepo) Create(dbc dbctx.Context, rows []*types.ContractVersion) error {
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

func (r *contractVersionRepo) ListBySchemaVersion(dbc dbctx.Context, schemaVersionID uuid.UUID) ([]*types.ContractVersion, error) {
	var out []*types.ContractVersion
	if schemaVersionID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("schema_version_id = ?", schemaVersionID).
		Order("contract_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contractVersionRepo) LatestForContract(dbc dbctx.Context, contractID uuid.UUID, composableOnly bool) (*types.ContractVersion, error) {
	if contractID == uuid.Nil {
		return nil, nil
	}
	q := dbc.DB(r.db).Where("contract_id = ?", contractID)
	if composableOnly {
		q = q.Where("is_composable = ?", true)
	}
	var v types.ContractVersion
	if err := q.Order("created_at DESC").Limit(1).Find(&v).Error; err != nil {
		return nil, err
	}
	if v.ID == uuid.Nil {
		return nil, nil
	}
	return &v, nil
}
