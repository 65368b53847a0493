package targets

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type TargetRepo interface {
	CreateOrganization(dbc dbctx.Context, org *types.Organization) error
	CreateProject(dbc dbctx.Context, project *types.Project) error
	CreateTarget(dbc dbctx.Context, target *types.Target) error
	Resolve(dbc dbctx.Context, ref types.TargetRef) (*types.ResolvedTarget, error)
	GetTarget(dbc dbctx.Context, id uuid.UUID) (*types.Target, error)
	UpdateValidationSettings(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type targetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTargetRepo(db *gorm.DB, baseLog *logger.Logger) TargetRepo {
	return &targetRepo{
		db:  db,
		log: baseLog.With("repo", "TargetRepo"),
	}
}

func (r *targetRepo) CreateOrganization(dbc dbctx.Context, org *types.Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(org).Error
}

func (r *targetRepo) CreateProject(dbc dbctx.Context, project *types.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(project).Error
}

func (r *targetRepo) CreateTarget(dbc dbctx.Context, target *types.Target) error {
	if target.ID == uuid.Nil {
		target.ID = uuid.New()
	}
	return dbc.DB(r.db).Create(target).Error
}

// Resolve returns nil (no error) when any link of the reference is missing.
func (r *targetRepo) Resolve(dbc dbctx.Context, ref types.TargetRef) (*types.ResolvedTarget, error) {
	var target *types.Target
	if id := strings.TrimSpace(ref.TargetID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, nil
		}
		target, err = r.GetTarget(dbc, parsed)
		if err != nil || target == nil {
			return nil, err
		}
	} else {
		orgSlug := strings.TrimSpace(ref.Organization)
		projectSlug := strings.TrimSpace(ref.Project)
		targetSlug := strings.TrimSpace(ref.Target)
		if orgSlug == "" || projectSlug == "" || targetSlug == "" {
			return nil, nil
		}
		var found types.Target
		err := dbc.DB(r.db).
			Table("target").
			Select("target.*").
			Joins("JOIN project ON project.id = target.project_id").
			Joins("JOIN organization ON organization.id = project.organization_id").
			Where("organization.slug = ? AND project.slug = ? AND target.slug = ?", orgSlug, projectSlug, targetSlug).
			Limit(1).
			Find(&found).Error
		if err != nil {
			return nil, err
		}
		if found.ID == uuid.Nil {
			return nil, nil
		}
		target = &found
	}

	var project types.Project
	if err := dbc.DB(r.db).Where("id = ?", target.ProjectID).Limit(1).Find(&project).Error; err != nil {
		return nil, err
	}
	if project.ID == uuid.Nil {
		return nil, nil
	}
	var org types.Organization
	if err := dbc.DB(r.db).Where("id = ?", project.OrganizationID).Limit(1).Find(&org).Error; err != nil {
		return nil, err
	}
	if org.ID == uuid.Nil {
		return nil, nil
	}
	return &types.ResolvedTarget{Organization: &org, Project: &project, Target: target}, nil
}

func (r *targetRepo) GetTarget(dbc dbctx.Context, id uuid.UUID) (*types.Target, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var target types.Target
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&target).Error; err != nil {
		return nil, err
	}
	if target.ID == uuid.Nil {
		return nil, nil
	}
	return &target, nil
}

func (r *targetRepo) UpdateValidationSettings(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&types.Target{}).Where("id = ?", id).Updates(updates).Error
}
