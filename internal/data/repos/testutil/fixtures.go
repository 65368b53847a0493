package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
)

// SeedTarget creates an organization, a project of the given type and one target.
func SeedTarget(tb testing.TB, ctx context.Context, db *gorm.DB, projectType types.ProjectType) *types.ResolvedTarget {
	tb.Helper()
	now := time.Now().UTC()
	suffix := uuid.NewString()[:8]

	org := &types.Organization{
		ID:        uuid.New(),
		Slug:      "org-" + suffix,
		Name:      "Org " + suffix,
		CreatedAt: now,
	}
	if err := db.WithContext(ctx).Create(org).Error; err != nil {
		tb.Fatalf("seed organization: %v", err)
	}
	project := &types.Project{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		Slug:           "project-" + suffix,
		Name:           "Project " + suffix,
		Type:           projectType,
		CreatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(project).Error; err != nil {
		tb.Fatalf("seed project: %v", err)
	}
	target := &types.Target{
		ID:                    uuid.New(),
		ProjectID:             project.ID,
		OrganizationID:        org.ID,
		Slug:                  "production",
		Name:                  "production",
		ValidationPeriodDays:  7,
		BreakingChangeFormula: types.FormulaPercentage,
		CreatedAt:             now,
	}
	if err := db.WithContext(ctx).Create(target).Error; err != nil {
		tb.Fatalf("seed target: %v", err)
	}
	return &types.ResolvedTarget{Organization: org, Project: project, Target: target}
}

func SeedContract(tb testing.TB, ctx context.Context, db *gorm.DB, targetID uuid.UUID, name string, includeTags, excludeTags []string) *types.Contract {
	tb.Helper()
	c := &types.Contract{
		ID:          uuid.New(),
		TargetID:    targetID,
		Name:        name,
		IncludeTags: types.MustEncodeJSON(includeTags),
		ExcludeTags: types.MustEncodeJSON(excludeTags),
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed contract: %v", err)
	}
	return c
}

func SeedVersion(tb testing.TB, ctx context.Context, db *gorm.DB, targetID uuid.UUID, schemas []types.ServiceSchema, composable bool, createdAt time.Time) *types.SchemaVersion {
	tb.Helper()
	if schemas == nil {
		schemas = []types.ServiceSchema{}
	}
	v := &types.SchemaVersion{
		ID:           uuid.New(),
		TargetID:     targetID,
		Action:       types.ActionPush,
		IsComposable: composable,
		Schemas:      types.MustEncodeJSON(schemas),
		CreatedAt:    createdAt.UTC(),
	}
	if composable && len(schemas) > 0 {
		v.CompositeSDL = types.StringPtr(schemas[0].SDL)
	}
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed schema version: %v", err)
	}
	return v
}
