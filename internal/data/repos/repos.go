package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/data/repos/checks"
	"github.com/yungbote/schema-registry/internal/data/repos/targets"
	"github.com/yungbote/schema-registry/internal/data/repos/versions"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type TargetRepo = targets.TargetRepo

type SchemaVersionRepo = versions.SchemaVersionRepo
type ContractRepo = versions.ContractRepo
type ContractVersionRepo = versions.ContractVersionRepo

type SchemaCheckRepo = checks.SchemaCheckRepo
type ContractCheckRepo = checks.ContractCheckRepo
type SchemaChangeApprovalRepo = checks.SchemaChangeApprovalRepo

func NewTargetRepo(db *gorm.DB, baseLog *logger.Logger) TargetRepo {
	return targets.NewTargetRepo(db, baseLog)
}

func NewSchemaVersionRepo(db *gorm.DB, baseLog *logger.Logger) SchemaVersionRepo {
	return versions.NewSchemaVersionRepo(db, baseLog)
}
func NewContractRepo(db *gorm.DB, baseLog *logger.Logger) ContractRepo {
	return versions.NewContractRepo(db, baseLog)
}
func NewContractVersionRepo(db *gorm.DB, baseLog *logger.Logger) ContractVersionRepo {
	return versions.NewContractVersionRepo(db, baseLog)
}

func NewSchemaCheckRepo(db *gorm.DB, baseLog *logger.Logger) SchemaCheckRepo {
	return checks.NewSchemaCheckRepo(db, baseLog)
}
func NewContractCheckRepo(db *gorm.DB, baseLog *logger.Logger) ContractCheckRepo {
	return checks.NewContractCheckRepo(db, baseLog)
}
func NewSchemaChangeApprovalRepo(db *gorm.DB, baseLog *logger.Logger) SchemaChangeApprovalRepo {
	return checks.NewSchemaChangeApprovalRepo(db, baseLog)
}

// Set bundles every registry repo for wiring.
type Set struct {
	Targets          TargetRepo
	Versions         SchemaVersionRepo
	Contracts        ContractRepo
	ContractVersions ContractVersionRepo
	Checks           SchemaCheckRepo
	ContractChecks   ContractCheckRepo
	Approvals        SchemaChangeApprovalRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Targets:          NewTargetRepo(db, baseLog),
		Versions:         NewSchemaVersionRepo(db, baseLog),
		Contracts:        NewContractRepo(db, baseLog),
		ContractVersions: NewContractVersionRepo(db, baseLog),
		Checks:           NewSchemaCheckRepo(db, baseLog),
		ContractChecks:   NewContractCheckRepo(db, baseLog),
		Approvals:        NewSchemaChangeApprovalRepo(db, baseLog),
	}
}
