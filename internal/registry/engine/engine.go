// Package engine turns named schema documents into a composed schema, a supergraph and
// per-contract filtered schemas.
package engine

import (
	"context"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

// ContractSpec is the tag filter of one contract.
type ContractSpec struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	IncludeTags            []string `json:"includeTags,omitempty"`
	ExcludeTags            []string `json:"excludeTags,omitempty"`
	RemoveUnreachableTypes bool     `json:"removeUnreachableTypes"`
}

// External points a federation project at a customer-hosted composition service.
type External struct {
	Endpoint string `json:"endpoint"`
	Secret   string `json:"-"`
}

type Request struct {
	ProjectType registry.ProjectType
	Schemas     []registry.ServiceSchema
	BaseSchema  string
	// Native selects native federation composition over the legacy path.
	Native    bool
	External  *External
	Contracts []ContractSpec
}

type Engine interface {
	Compose(ctx context.Context, req Request) (registry.CompositionResult, error)
}

// ContractSpecs converts persisted contracts into engine filters.
func ContractSpecs(contracts []*registry.Contract) []ContractSpec {
	out := make([]ContractSpec, 0, len(contracts))
	for _, c := range contracts {
		if c == nil || c.IsDisabled {
			continue
		}
		out = append(out, ContractSpec{
			ID:                     c.ID.String(),
			Name:                   c.Name,
			IncludeTags:            c.IncludeTagList(),
			ExcludeTags:            c.ExcludeTagList(),
			RemoveUnreachableTypes: c.RemoveUnreachableTypes,
		})
	}
	return out
}
