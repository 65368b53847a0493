package model

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/diff"
	"github.com/yungbote/schema-registry/internal/registry/engine"
	"github.com/yungbote/schema-registry/internal/registry/orchestrator"
)

func newModel(t *testing.T, pt registry.ProjectType) Model {
	t.Helper()
	orch, err := orchestrator.ForProjectType(pt, engine.NewLocal(logger.Nop()), time.Second)
	require.NoError(t, err)
	m, err := ForProject(&registry.Project{Type: pt}, Deps{
		Orchestrator: orch,
		Differ:       diff.NewInspector(nil, logger.Nop()),
		Log:          logger.Nop(),
		Now:          func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return m
}

// versionOf mimics the record a publisher persists for an accepted state.
func versionOf(st *State) *registry.SchemaVersion {
	v := &registry.SchemaVersion{
		ID:           uuid.New(),
		IsComposable: st.Composable(),
		Schemas:      registry.MustEncodeJSON(st.Schemas),
	}
	if v.IsComposable {
		v.CompositeSDL = st.Composition.SDL
	}
	return v
}

func envAfter(v *registry.SchemaVersion) Env {
	env := Env{Target: &registry.Target{}}
	env.Latest.Latest = v
	if v.IsComposable {
		env.Latest.LatestComposable = v
	}
	return env
}

func TestSinglePublishScenario(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeSingle)

	first, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: String }"}}, Env{Target: &registry.Target{}})
	require.NoError(t, err)
	require.Equal(t, Accept, first.Conclusion)
	require.True(t, first.State.Initial)
	require.True(t, first.State.Diff.Skipped)
	require.Nil(t, first.State.Baseline)

	v1 := versionOf(first.State)
	second, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: String b: String }"}}, envAfter(v1))
	require.NoError(t, err)
	require.Equal(t, Accept, second.Conclusion)
	require.False(t, second.State.Initial)
	require.Len(t, second.State.Diff.All, 1)
	require.Equal(t, diff.FieldAdded, second.State.Diff.All[0].Type)
	require.Equal(t, "Query.b", second.State.Diff.All[0].Path)
	require.Equal(t, registry.CriticalitySafe, second.State.Diff.All[0].Criticality)

	v2 := versionOf(second.State)
	third, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: String }"}}, envAfter(v2))
	require.NoError(t, err)
	require.Equal(t, Reject, third.Conclusion)
	require.Equal(t, ReasonBreakingChanges, third.Reasons[0].Code)
	removed := third.Reasons[0].Changes[0]
	require.Equal(t, diff.FieldRemoved, removed.Type)
	require.Equal(t, "Query.b", removed.Path)

	env := envAfter(v2)
	env.Approved = registry.ApprovedChanges{registry.MainApprovalScope: {
		removed.ID: {ID: removed.ID, Approval: &registry.ChangeApproval{ApprovedBy: "reviewer"}},
	}}
	approved, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: String }"}}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, approved.Conclusion)
	require.Equal(t, "reviewer", approved.State.Diff.Breaking[0].Approval.ApprovedBy)
}

func TestSingleRepublishIsIgnored(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeSingle)
	svc := registry.ServiceSchema{SDL: "type Query { a: String }"}
	first, err := m.Publish(ctx, PublishInput{Service: svc}, Env{Target: &registry.Target{}})
	require.NoError(t, err)

	env := envAfter(versionOf(first.State))
	again, err := m.Publish(ctx, PublishInput{Service: svc}, env)
	require.NoError(t, err)
	require.Equal(t, Ignore, again.Conclusion)
	require.Equal(t, IgnoreMessage, again.Message)

	check, err := m.Check(ctx, CheckInput{Service: svc}, env)
	require.NoError(t, err)
	require.Equal(t, Skip, check.Conclusion)

	env.Target = &registry.Target{BaseSchema: "scalar DateTime"}
	changedBase, err := m.Publish(ctx, PublishInput{Service: svc}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, changedBase.Conclusion)
}

func TestSingleRejections(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeSingle)

	out, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: Missing }"}}, Env{})
	require.NoError(t, err)
	require.Equal(t, Reject, out.Conclusion)
	require.Equal(t, ReasonCompositionFailure, out.Reasons[0].Code)
	require.NotEmpty(t, out.Reasons[0].Errors)

	out, err = m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: String }", Metadata: "{nope"}}, Env{})
	require.NoError(t, err)
	require.Equal(t, ReasonMetadataParsingFailure, out.Reasons[0].Code)

	del, err := m.Delete(ctx, DeleteInput{ServiceName: "x"}, Env{})
	require.NoError(t, err)
	require.Equal(t, Reject, del.Conclusion)
	require.Equal(t, ReasonDeleteNotSupported, del.Reasons[0].Code)
}

func TestSingleForcedPublishApprovesBreakingChanges(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeSingle)
	first, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: String b: String }"}}, Env{})
	require.NoError(t, err)

	out, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{SDL: "type Query { a: String }"}, Force: true, Actor: "u1"}, envAfter(versionOf(first.State)))
	require.NoError(t, err)
	require.Equal(t, Accept, out.Conclusion)
	require.Empty(t, out.State.Diff.Blocking())
	require.Equal(t, "u1", out.State.Diff.Breaking[0].Approval.ApprovedBy)
}

const (
	usersSDL   = "type Query { me: User } type User { id: ID! name: String }"
	reviewsSDL = "type Query { reviews: [String] }"
)

func federatedEnv(t *testing.T, m Model) Env {
	t.Helper()
	ctx := context.Background()
	env := Env{Target: &registry.Target{}}
	out, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{Name: "users", SDL: usersSDL, URL: "http://users"}}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, out.Conclusion)
	env = envAfter(versionOf(out.State))
	out, err = m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{Name: "reviews", SDL: reviewsSDL, URL: "http://reviews"}}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, out.Conclusion)
	require.Equal(t, []string{"reviews", "users"}, []string{out.State.Schemas[0].Name, out.State.Schemas[1].Name})
	return envAfter(versionOf(out.State))
}

func TestCompositeValidation(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeFederation)
	env := federatedEnv(t, m)

	cases := []struct {
		name string
		svc  registry.ServiceSchema
		want ReasonCode
	}{
		{"missing name", registry.ServiceSchema{SDL: reviewsSDL, URL: "http://x"}, ReasonMissingServiceName},
		{"invalid name", registry.ServiceSchema{Name: "1bad", SDL: reviewsSDL, URL: "http://x"}, ReasonInvalidServiceName},
		{"missing url", registry.ServiceSchema{Name: "products", SDL: reviewsSDL}, ReasonMissingServiceURL},
		{"bad metadata", registry.ServiceSchema{Name: "users", SDL: usersSDL, Metadata: "[1,"}, ReasonMetadataParsingFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := m.Publish(ctx, PublishInput{Service: tc.svc}, env)
			require.NoError(t, err)
			require.Equal(t, Reject, out.Conclusion)
			require.Equal(t, tc.want, out.Reasons[0].Code)
		})
	}
}

func TestCompositeCheckDoesNotRequireURL(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeFederation)
	env := federatedEnv(t, m)
	svc := registry.ServiceSchema{Name: "products", SDL: "type Query { products: [String] }"}

	check, err := m.Check(ctx, CheckInput{Service: svc}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, check.Conclusion)
	for _, r := range check.Reasons {
		require.NotEqual(t, ReasonMissingServiceURL, r.Code)
	}

	pub, err := m.Publish(ctx, PublishInput{Service: svc}, env)
	require.NoError(t, err)
	require.Equal(t, Reject, pub.Conclusion)
	require.Equal(t, ReasonMissingServiceURL, pub.Reasons[0].Code)
}

func TestCompositeFailsOnUnreadableLatestVersion(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeFederation)
	env := federatedEnv(t, m)
	env.Latest.Latest.Schemas = []byte(`{"name":"users"`)
	svc := registry.ServiceSchema{Name: "reviews", SDL: "type Query { reviews: [String] top: String }", URL: "http://reviews"}

	_, err := m.Publish(ctx, PublishInput{Service: svc}, env)
	require.True(t, registry.IsCode(err, registry.CodeInternal))
	_, err = m.Check(ctx, CheckInput{Service: svc}, env)
	require.True(t, registry.IsCode(err, registry.CodeInternal))
	_, err = m.Delete(ctx, DeleteInput{ServiceName: "users"}, env)
	require.True(t, registry.IsCode(err, registry.CodeInternal))
}

func TestCompositeRecomposesFullServiceSet(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeFederation)
	env := federatedEnv(t, m)

	out, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{
		Name: "reviews", SDL: "type Query { reviews: [String] top: String }", URL: "http://reviews-v2",
	}}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, out.Conclusion)
	require.Len(t, out.State.Schemas, 2)
	require.Contains(t, *out.State.Composition.SDL, "me: User")
	require.Contains(t, out.State.Messages, "New service url: http://reviews-v2 (previously: http://reviews)")
	require.Len(t, out.State.Diff.All, 1)
	require.Equal(t, "Query.top", out.State.Diff.All[0].Path)

	same, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{Name: "reviews", SDL: reviewsSDL}}, env)
	require.NoError(t, err)
	require.Equal(t, Ignore, same.Conclusion, "url defaults to the existing one")
}

func TestCompositeCompositionFailurePolicy(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeFederation)
	env := federatedEnv(t, m)
	broken := registry.ServiceSchema{Name: "reviews", SDL: "type Query { reviews: [Review] }", URL: "http://reviews"}

	out, err := m.Publish(ctx, PublishInput{Service: broken}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, out.Conclusion)
	require.False(t, out.State.Composable())

	env.UseLatestComposable = true
	out, err = m.Publish(ctx, PublishInput{Service: broken}, env)
	require.NoError(t, err)
	require.Equal(t, Reject, out.Conclusion)
	require.Equal(t, ReasonCompositionFailure, out.Reasons[0].Code)

	check, err := m.Check(ctx, CheckInput{Service: broken}, env)
	require.NoError(t, err)
	require.Equal(t, Reject, check.Conclusion)
}

func TestCompositeDelete(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeFederation)
	env := federatedEnv(t, m)

	missing, err := m.Delete(ctx, DeleteInput{ServiceName: "X"}, env)
	require.NoError(t, err)
	require.Equal(t, Reject, missing.Conclusion)
	require.Equal(t, ReasonServiceNotFound, missing.Reasons[0].Code)
	require.Equal(t, `Service "X" not found`, missing.Reasons[0].Message)
	require.Nil(t, missing.State)

	out, err := m.Delete(ctx, DeleteInput{ServiceName: "reviews", Actor: "u1"}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, out.Conclusion)
	require.Len(t, out.State.Schemas, 1)
	require.NotEmpty(t, out.State.Diff.Breaking)
	require.Empty(t, out.State.Diff.Blocking())
	require.Equal(t, "u1", out.State.Diff.Breaking[0].Approval.ApprovedBy)
}

func TestCompositeContractsDoNotBlockPublish(t *testing.T) {
	ctx := context.Background()
	m := newModel(t, registry.ProjectTypeFederation)
	env := federatedEnv(t, m)
	env.Latest.Contracts = []*registry.Contract{{
		ID:          uuid.New(),
		Name:        "empty",
		IncludeTags: registry.MustEncodeJSON([]string{"nothing-tagged"}),
	}}

	out, err := m.Publish(ctx, PublishInput{Service: registry.ServiceSchema{
		Name: "reviews", SDL: "type Query { reviews: [String] top: String }", URL: "http://reviews",
	}}, env)
	require.NoError(t, err)
	require.Equal(t, Accept, out.Conclusion)
	require.Len(t, out.State.Contracts, 1)
	require.False(t, out.State.Contracts[0].Composable())
	require.Contains(t, out.State.Messages, "1 contract(s) failed")

	check, err := m.Check(ctx, CheckInput{Service: registry.ServiceSchema{
		Name: "reviews", SDL: "type Query { reviews: [String] top: String }", URL: "http://reviews",
	}}, env)
	require.NoError(t, err)
	require.Equal(t, Reject, check.Conclusion)
	require.Equal(t, ReasonContractFailure, check.Reasons[0].Code)
}
