package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ServiceSchema is one named schema document. Single projects carry exactly one with an empty name.
type ServiceSchema struct {
	Name     string `json:"name"`
	SDL      string `json:"sdl"`
	URL      string `json:"url,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

type Criticality string

const (
	CriticalityBreaking  Criticality = "BREAKING"
	CriticalityDangerous Criticality = "DANGEROUS"
	CriticalitySafe      Criticality = "SAFE"
)

type ChangeType string

// SchemaChange is one classified difference between two composed schemas.
type SchemaChange struct {
	ID          string              `json:"id"`
	Type        ChangeType          `json:"type"`
	Path        string              `json:"path,omitempty"`
	Message     string              `json:"message"`
	Criticality Criticality         `json:"criticality"`
	Reason      string              `json:"reason,omitempty"`
	Approval    *ChangeApproval     `json:"approval,omitempty"`
	Usage       *UsageJustification `json:"usage,omitempty"`
}

// ChangeApproval records who accepted a breaking change and in which check.
type ChangeApproval struct {
	ApprovedBy    string    `json:"approved_by"`
	ApprovedAt    time.Time `json:"approved_at"`
	SchemaCheckID string    `json:"schema_check_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// UsageJustification replaces approval for changes whose coordinate is (nearly) unused.
type UsageJustification struct {
	PeriodFrom             time.Time             `json:"period_from"`
	PeriodTo               time.Time             `json:"period_to"`
	Formula                BreakingChangeFormula `json:"formula"`
	Threshold              int64                 `json:"threshold"`
	TotalRequestCount      int64                 `json:"total_request_count"`
	CoordinateRequestCount int64                 `json:"coordinate_request_count"`
}

func (c SchemaChange) IsBreaking() bool { return c.Criticality == CriticalityBreaking }

// IsBlocking reports a breaking change nobody has accepted.
func (c SchemaChange) IsBlocking() bool { return c.IsBreaking() && c.Approval == nil }

// ChangeFingerprint is the stable identity used to match approvals across checks.
func ChangeFingerprint(changeType ChangeType, path, message string) string {
	h := sha256.New()
	h.Write([]byte(changeType))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// BlockingChanges filters changes down to the unapproved breaking ones.
func BlockingChanges(changes []SchemaChange) []SchemaChange {
	var out []SchemaChange
	for _, c := range changes {
		if c.IsBlocking() {
			out = append(out, c)
		}
	}
	return out
}

// ApproveChanges stamps every unapproved breaking change with approval.
func ApproveChanges(changes []SchemaChange, approval ChangeApproval) []SchemaChange {
	out := make([]SchemaChange, len(changes))
	for i, c := range changes {
		if c.IsBlocking() {
			a := approval
			c.Approval = &a
		}
		out[i] = c
	}
	return out
}

type CompositionErrorSource string

const (
	ErrorSourceComposition CompositionErrorSource = "composition"
	ErrorSourceGraphQL     CompositionErrorSource = "graphql"
	ErrorSourceTimeout     CompositionErrorSource = "timeout"
	ErrorSourceContract    CompositionErrorSource = "contract"
)

type CompositionError struct {
	Message string                 `json:"message"`
	Source  CompositionErrorSource `json:"source,omitempty"`
}

// CompositionResult is the normalized engine output. It is never persisted directly.
type CompositionResult struct {
	SDL        *string                     `json:"sdl,omitempty"`
	Supergraph *string                     `json:"supergraph,omitempty"`
	Errors     []CompositionError          `json:"errors"`
	Tags       []string                    `json:"tags,omitempty"`
	Contracts  []ContractCompositionResult `json:"contracts,omitempty"`
}

// Composable reports a result with output and zero errors.
func (r CompositionResult) Composable() bool {
	return len(r.Errors) == 0 && r.SDL != nil
}

func (r CompositionResult) ContractResult(contractID string) (ContractCompositionResult, bool) {
	for _, c := range r.Contracts {
		if c.ContractID == contractID {
			return c, true
		}
	}
	return ContractCompositionResult{}, false
}

type ContractCompositionResult struct {
	ContractID string             `json:"contract_id"`
	SDL        *string            `json:"sdl,omitempty"`
	Supergraph *string            `json:"supergraph,omitempty"`
	Errors     []CompositionError `json:"errors"`
}

func (r ContractCompositionResult) Composable() bool {
	return len(r.Errors) == 0 && r.SDL != nil
}

// ConditionalBreakingChangeMetadata captures the usage settings a diff was evaluated with.
type ConditionalBreakingChangeMetadata struct {
	PeriodFrom        time.Time             `json:"period_from"`
	PeriodTo          time.Time             `json:"period_to"`
	Formula           BreakingChangeFormula `json:"formula"`
	Percentage        float64               `json:"percentage"`
	RequestCount      int64                 `json:"request_count"`
	ExcludedClients   []string              `json:"excluded_clients,omitempty"`
	TargetIDs         []string              `json:"target_ids"`
	TotalRequestCount int64                 `json:"total_request_count"`
}

// SameSchemas compares two service sets by name, SDL, URL and metadata, ignoring order.
func SameSchemas(a, b []ServiceSchema) bool {
	if len(a) != len(b) {
		return false
	}
	idx := make(map[string]ServiceSchema, len(a))
	for _, s := range a {
		idx[strings.ToLower(s.Name)] = s
	}
	for _, s := range b {
		other, ok := idx[strings.ToLower(s.Name)]
		if !ok || other.SDL != s.SDL || other.URL != s.URL || other.Metadata != s.Metadata {
			return false
		}
	}
	return true
}

func StringPtr(s string) *string { return &s }
