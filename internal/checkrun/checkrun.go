package checkrun

import (
	"context"
	"strings"

	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type Conclusion string

const (
	ConclusionSuccess Conclusion = "success"
	ConclusionFailure Conclusion = "failure"
	ConclusionNeutral Conclusion = "neutral"
)

// Run describes the CI status a check or publish reports for one commit.
type Run struct {
	Repository string
	Sha        string
	Name       string
	Conclusion Conclusion
	Title      string
	Summary    string
}

// Owner and Name split an owner/name repository string.
func (r Run) Owner() string {
	owner, _, _ := strings.Cut(r.Repository, "/")
	return owner
}

func (r Run) Repo() string {
	_, name, _ := strings.Cut(r.Repository, "/")
	return name
}

type Reporter interface {
	CreateCheckRun(ctx context.Context, run Run) (id string, err error)
	UpdateCheckRun(ctx context.Context, id string, run Run) error
}

type logReporter struct {
	log *logger.Logger
}

// NewLogReporter only logs runs. Used when no CI integration is configured.
func NewLogReporter(log *logger.Logger) Reporter {
	return &logReporter{log: log.With("service", "CheckRunLog")}
}

func (r *logReporter) CreateCheckRun(ctx context.Context, run Run) (string, error) {
	r.log.Info("check run", "repository", run.Repository, "sha", run.Sha, "conclusion", run.Conclusion, "title", run.Title)
	return "", nil
}

func (r *logReporter) UpdateCheckRun(ctx context.Context, id string, run Run) error {
	r.log.Info("check run updated", "id", id, "repository", run.Repository, "conclusion", run.Conclusion)
	return nil
}
