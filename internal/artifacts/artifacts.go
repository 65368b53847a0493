package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/schema-registry/internal/domain/registry"
)

type Type string

const (
	TypeSDL        Type = "sdl"
	TypeSupergraph Type = "supergraph"
	TypeServices   Type = "services"
	TypeMetadata   Type = "metadata"
)

// Artifact is one CDN object derived from a composable version.
type Artifact struct {
	TargetID     uuid.UUID
	Type         Type
	ContractName string
	Payload      []byte
}

// Key is the object path the CDN serves the artifact from.
func (a Artifact) Key() string {
	var b strings.Builder
	b.WriteString("artifact/")
	b.WriteString(a.TargetID.String())
	if name := strings.TrimSpace(a.ContractName); name != "" {
		b.WriteString("/contracts/")
		b.WriteString(name)
	}
	b.WriteString("/")
	b.WriteString(string(a.Type))
	return b.String()
}

func (a Artifact) ContentType() string {
	switch a.Type {
	case TypeServices, TypeMetadata:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

type Writer interface {
	WriteArtifact(ctx context.Context, a Artifact) error
}

type servicePayload struct {
	Name string `json:"name"`
	SDL  string `json:"sdl"`
	URL  string `json:"url,omitempty"`
}

// ForVersion lists the artifacts a composable version publishes. Non-composable versions publish nothing.
func ForVersion(projectType types.ProjectType, v *types.SchemaVersion, contracts []*types.ContractVersion) ([]Artifact, error) {
	if v == nil || !v.IsComposable || v.CompositeSDL == nil {
		return nil, nil
	}
	out := []Artifact{{TargetID: v.TargetID, Type: TypeSDL, Payload: []byte(*v.CompositeSDL)}}
	if v.Supergraph != nil {
		out = append(out, Artifact{TargetID: v.TargetID, Type: TypeSupergraph, Payload: []byte(*v.Supergraph)})
	}

	schemas, err := v.DecodeServiceSchemas()
	if err != nil {
		return nil, err
	}
	if projectType.IsComposite() {
		services := make([]servicePayload, 0, len(schemas))
		for _, s := range schemas {
			services = append(services, servicePayload{Name: s.Name, SDL: s.SDL, URL: s.URL})
		}
		raw, err := json.Marshal(services)
		if err != nil {
			return nil, fmt.Errorf("encode services artifact: %w", err)
		}
		out = append(out, Artifact{TargetID: v.TargetID, Type: TypeServices, Payload: raw})
	}

	var metadata []json.RawMessage
	for _, s := range schemas {
		if strings.TrimSpace(s.Metadata) != "" {
			metadata = append(metadata, json.RawMessage(s.Metadata))
		}
	}
	if len(metadata) > 0 {
		var raw []byte
		if len(metadata) == 1 && !projectType.IsComposite() {
			raw = metadata[0]
		} else {
			raw, err = json.Marshal(metadata)
		}
		if err != nil {
			return nil, fmt.Errorf("encode metadata artifact: %w", err)
		}
		out = append(out, Artifact{TargetID: v.TargetID, Type: TypeMetadata, Payload: raw})
	}

	for _, cv := range contracts {
		if cv == nil || !cv.IsComposable || cv.CompositeSDL == nil {
			continue
		}
		out = append(out, Artifact{TargetID: v.TargetID, Type: TypeSDL, ContractName: cv.ContractName, Payload: []byte(*cv.CompositeSDL)})
		if cv.Supergraph != nil {
			out = append(out, Artifact{TargetID: v.TargetID, Type: TypeSupergraph, ContractName: cv.ContractName, Payload: []byte(*cv.Supergraph)})
		}
	}
	return out, nil
}

// WriteAll writes artifacts in parallel and returns the first failure.
func WriteAll(ctx context.Context, w Writer, items []Artifact) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, a := range items {
		a := a
		g.Go(func() error {
			if err := w.WriteArtifact(ctx, a); err != nil {
				return fmt.Errorf("write %s: %w", a.Key(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
