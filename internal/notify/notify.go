package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSchemaPublished Kind = "schema.published"
	KindSchemaDeleted   Kind = "schema.deleted"
)

// Event tells subscribers (alert channels, webhooks) that a target got a new version.
type Event struct {
	Kind            Kind      `json:"kind"`
	OrganizationID  uuid.UUID `json:"organization_id"`
	ProjectID       uuid.UUID `json:"project_id"`
	TargetID        uuid.UUID `json:"target_id"`
	VersionID       uuid.UUID `json:"version_id"`
	ServiceName     string    `json:"service_name,omitempty"`
	IsComposable    bool      `json:"is_composable"`
	Initial         bool      `json:"initial"`
	BreakingChanges int       `json:"breaking_changes"`
	SafeChanges     int       `json:"safe_changes"`
	Messages        []string  `json:"messages,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type noop struct{}

// Noop drops every event.
func Noop() Notifier { return noop{} }

func (noop) Notify(context.Context, Event) error { return nil }
