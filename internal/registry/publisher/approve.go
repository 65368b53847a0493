package publisher

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/observability"
)

type ApproveInput struct {
	Target  registry.TargetRef `json:"target"`
	CheckID string             `json:"check_id"`
	Comment string             `json:"comment,omitempty"`
	Actor   Actor              `json:"actor"`
}

// ApproveFailedSchemaCheck accepts the breaking changes of a failed check. Checks that failed to
// compose, on the main schema or any contract, stay failed.
func (p *Publisher) ApproveFailedSchemaCheck(ctx context.Context, in ApproveInput) (res registry.ApproveCheckResult, err error) {
	const op = "approve"
	start := time.Now()
	var projectType registry.ProjectType
	status := StatusAccepted
	ctx, span := observability.StartSpan(ctx, "registry.approve")
	defer func() {
		observability.EndSpan(span, err)
		p.finish(op, projectType, status, start, err)
	}()

	checkID, perr := uuid.Parse(strings.TrimSpace(in.CheckID))
	if perr != nil {
		return res, registry.NewError(registry.CodeValidation, "Publisher.ApproveFailedSchemaCheck", "Invalid check id.", perr)
	}
	if strings.TrimSpace(in.Actor.ID) == "" {
		return res, registry.NewError(registry.CodeValidation, "Publisher.ApproveFailedSchemaCheck", "Approving user is required.", nil)
	}
	rt, err := p.resolve(ctx, "Publisher.ApproveFailedSchemaCheck", in.Target)
	if err != nil {
		return res, err
	}
	projectType = rt.Project.Type
	res, err = p.deps.Ledger.ApproveFailedSchemaCheck(ctx, registry.ApproveCheckInput{
		TargetID: rt.Target.ID,
		CheckID:  checkID,
		UserID:   in.Actor.ID,
		Comment:  strings.TrimSpace(in.Comment),
	})
	if err != nil {
		return res, err
	}
	p.log.Info("schema check approved", "target_id", rt.Target.ID.String(), "check_id", checkID.String())
	return res, nil
}

// GetVersion returns a version with its diff baseline so its changes can be re-derived.
func (p *Publisher) GetVersion(ctx context.Context, ref registry.TargetRef, versionID string) (*registry.VersionDetails, error) {
	id, err := uuid.Parse(strings.TrimSpace(versionID))
	if err != nil {
		return nil, registry.NewError(registry.CodeValidation, "Publisher.GetVersion", "Invalid version id.", err)
	}
	rt, err := p.resolve(ctx, "Publisher.GetVersion", ref)
	if err != nil {
		return nil, err
	}
	return p.deps.Ledger.VersionWithBaseline(ctx, rt.Target.ID, id)
}
