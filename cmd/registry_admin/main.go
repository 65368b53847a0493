package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/app"
	"github.com/yungbote/schema-registry/internal/data/repos"
	"github.com/yungbote/schema-registry/internal/data/usage"
	types "github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/dbctx"
)

const usageText = `usage: registry_admin <command> [flags]

commands:
  create-target   create an organization/project/target triple
  import-usage    record daily usage from a JSON lines file`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usageText)
		os.Exit(2)
	}
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "create-target":
		err = createTarget(ctx, os.Args[2:])
	case "import-usage":
		err = importUsage(ctx, os.Args[2:])
	default:
		fmt.Println(usageText)
		os.Exit(2)
	}
	if err != nil {
		fmt.Printf("%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func openApp(ctx context.Context) (*app.App, error) {
	application, err := app.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	return application, nil
}

func createTarget(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-target", flag.ExitOnError)
	org := fs.String("org", "", "organization slug")
	project := fs.String("project", "", "project slug")
	target := fs.String("target", "", "target slug")
	projectType := fs.String("type", string(types.ProjectTypeFederation), "project type (SINGLE, FEDERATION, STITCHING)")
	native := fs.Bool("native-federation", true, "compose federation projects natively")
	compareComposable := fs.Bool("compare-to-composable", false, "diff against the latest composable version")
	_ = fs.Parse(args)

	pt := types.ProjectType(strings.ToUpper(strings.TrimSpace(*projectType)))
	if !pt.Valid() {
		return fmt.Errorf("invalid project type %q", *projectType)
	}
	if strings.TrimSpace(*org) == "" || strings.TrimSpace(*project) == "" || strings.TrimSpace(*target) == "" {
		return fmt.Errorf("-org, -project and -target are required")
	}

	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()
	targets := application.Services.Repos.Targets

	var created *types.ResolvedTarget
	err = application.Clients.DB.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		existing, err := targets.Resolve(dbc, types.TargetRef{Organization: *org, Project: *project, Target: *target})
		if err != nil {
			return err
		}
		if existing != nil {
			created = existing
			return nil
		}
		created, err = ensureTriple(dbc, targets, *org, *project, *target, pt, *native, *compareComposable)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("target %s/%s/%s id=%s type=%s\n", created.Organization.Slug, created.Project.Slug, created.Target.Slug, created.Target.ID, created.Project.Type)
	return nil
}

func ensureTriple(dbc dbctx.Context, targets repos.TargetRepo, orgSlug, projectSlug, targetSlug string, pt types.ProjectType, native, compareComposable bool) (*types.ResolvedTarget, error) {
	var org types.Organization
	err := dbc.DB(nil).Where("slug = ?", orgSlug).Limit(1).Find(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == uuid.Nil {
		org = types.Organization{Slug: orgSlug, Name: orgSlug, CompareToPreviousComposableVersion: compareComposable}
		if err := targets.CreateOrganization(dbc, &org); err != nil {
			return nil, fmt.Errorf("create organization: %w", err)
		}
	}
	var project types.Project
	err = dbc.DB(nil).Where("organization_id = ? AND slug = ?", org.ID, projectSlug).Limit(1).Find(&project).Error
	if err != nil {
		return nil, err
	}
	if project.ID == uuid.Nil {
		project = types.Project{OrganizationID: org.ID, Slug: projectSlug, Name: projectSlug, Type: pt, NativeFederation: native}
		if err := targets.CreateProject(dbc, &project); err != nil {
			return nil, fmt.Errorf("create project: %w", err)
		}
	}
	target := types.Target{
		ProjectID:             project.ID,
		OrganizationID:        org.ID,
		Slug:                  targetSlug,
		Name:                  targetSlug,
		ValidationPeriodDays:  7,
		ValidationPercentage:  0,
		BreakingChangeFormula: types.FormulaPercentage,
	}
	if err := targets.CreateTarget(dbc, &target); err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	return &types.ResolvedTarget{Organization: &org, Project: &project, Target: &target}, nil
}

type usageLine struct {
	TargetID    string           `json:"target_id"`
	ClientName  string           `json:"client_name"`
	Day         string           `json:"day"`
	Total       int64            `json:"total"`
	Coordinates map[string]int64 `json:"coordinates"`
}

func importUsage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import-usage", flag.ExitOnError)
	path := fs.String("file", "", "JSON lines file of daily usage reports")
	dryRun := fs.Bool("dry-run", false, "print parsed reports without recording them")
	limit := fs.Int("limit", 0, "limit number of reports processed")
	_ = fs.Parse(args)
	if strings.TrimSpace(*path) == "" {
		return fmt.Errorf("-file is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer f.Close()

	var store *usage.Store
	if !*dryRun {
		application, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()
		store = usage.NewStore(application.Clients.DB.DB(), application.Log)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	recorded, skipped, lineNo := 0, 0, 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if *limit > 0 && recorded+skipped >= *limit {
			break
		}
		var line usageLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			fmt.Printf("line %d: %v\n", lineNo, err)
			skipped++
			continue
		}
		targetID, err := uuid.Parse(strings.TrimSpace(line.TargetID))
		if err != nil {
			fmt.Printf("line %d: invalid target_id %q\n", lineNo, line.TargetID)
			skipped++
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSpace(line.Day))
		if err != nil {
			fmt.Printf("line %d: invalid day %q\n", lineNo, line.Day)
			skipped++
			continue
		}
		if *dryRun {
			fmt.Printf("[dry-run] target=%s client=%q day=%s total=%d coordinates=%d\n", targetID, line.ClientName, day.Format("2006-01-02"), line.Total, len(line.Coordinates))
			recorded++
			continue
		}
		if err := store.Record(ctx, targetID, line.ClientName, day, line.Total, line.Coordinates); err != nil {
			fmt.Printf("line %d: record failed: %v\n", lineNo, err)
			skipped++
			continue
		}
		recorded++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	fmt.Printf("done; recorded=%d skipped=%d\n", recorded, skipped)
	return nil
}
