package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/artifacts"
	"github.com/yungbote/schema-registry/internal/data/aggregates"
	"github.com/yungbote/schema-registry/internal/data/repos"
	"github.com/yungbote/schema-registry/internal/data/repos/testutil"
	"github.com/yungbote/schema-registry/internal/data/usage"
	"github.com/yungbote/schema-registry/internal/domain/registry"
	"github.com/yungbote/schema-registry/internal/notify"
	"github.com/yungbote/schema-registry/internal/platform/cache"
	"github.com/yungbote/schema-registry/internal/platform/lock"
	"github.com/yungbote/schema-registry/internal/registry/diff"
	"github.com/yungbote/schema-registry/internal/registry/engine"
	"github.com/yungbote/schema-registry/internal/registry/model"
)

type countingEngine struct {
	inner engine.Engine
	calls atomic.Int32
	// gate, when set, holds every composition until it is closed.
	gate chan struct{}
}

func (e *countingEngine) Compose(ctx context.Context, req engine.Request) (registry.CompositionResult, error) {
	e.calls.Add(1)
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return registry.CompositionResult{}, ctx.Err()
		}
	}
	return e.inner.Compose(ctx, req)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

// countingLedger opens gate once LatestVersions has been called threshold times.
type countingLedger struct {
	registry.Ledger
	mu        sync.Mutex
	calls     int
	threshold int
	gate      chan struct{}
}

func (l *countingLedger) LatestVersions(ctx context.Context, targetID uuid.UUID) (registry.LatestVersions, error) {
	l.mu.Lock()
	l.calls++
	if l.calls == l.threshold {
		close(l.gate)
	}
	l.mu.Unlock()
	return l.Ledger.LatestVersions(ctx, targetID)
}

type fixture struct {
	db        *gorm.DB
	publisher *Publisher
	engine    *countingEngine
	locker    *lock.MemoryLocker
	writer    *artifacts.MemoryWriter
	notifier  *recordingNotifier
	target    *registry.ResolvedTarget
	ref       registry.TargetRef
	ledger    registry.Ledger
}

type fixtureOption func(*fixture, *Deps)

func newFixture(t *testing.T, pt registry.ProjectType, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	f := &fixture{
		db:       db,
		engine:   &countingEngine{inner: engine.NewLocal(log)},
		locker:   lock.NewMemoryLocker(),
		writer:   artifacts.NewMemoryWriter(),
		notifier: &recordingNotifier{},
		target:   testutil.SeedTarget(t, ctx, db, pt),
		ledger:   aggregates.NewLedgerFromSet(aggregates.BaseDeps{DB: db, Log: log}, set),
	}
	f.ref = registry.TargetRef{TargetID: f.target.Target.ID.String()}
	deps := Deps{
		Targets:     set.Targets,
		Ledger:      f.ledger,
		Engine:      f.engine,
		Locker:      f.locker,
		Cache:       cache.NewMemory(),
		Artifacts:   f.writer,
		Notifier:    f.notifier,
		Log:         log,
		LockOptions: lock.Options{Retries: 200, RetryDelay: 10 * time.Millisecond, TTL: 5 * time.Second},
	}
	for _, o := range opts {
		o(f, &deps)
	}
	p, err := New(deps)
	require.NoError(t, err)
	f.publisher = p
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Wait(ctx)
	})
	return f
}

func (f *fixture) publish(t *testing.T, svc registry.ServiceSchema, mutate ...func(*PublishInput)) PublishResult {
	t.Helper()
	in := PublishInput{Target: f.ref, Service: svc, Actor: Actor{ID: "user-1", SessionID: "session-1"}}
	for _, m := range mutate {
		m(&in)
	}
	res, err := f.publisher.Publish(context.Background(), in)
	require.NoError(t, err)
	return res
}

func (f *fixture) latestID(t *testing.T) string {
	t.Helper()
	latest, err := f.ledger.LatestVersions(context.Background(), f.target.Target.ID)
	require.NoError(t, err)
	if latest.Latest == nil {
		return ""
	}
	return latest.Latest.ID.String()
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.publisher.Wait(ctx))
}

func sdl(s string) registry.ServiceSchema { return registry.ServiceSchema{SDL: s} }

func TestPublishSingleScenario(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle)

	first := f.publish(t, sdl("type Query { a: String }"))
	require.Equal(t, StatusAccepted, first.Status)
	require.True(t, first.Initial)
	require.True(t, first.Valid)
	require.Nil(t, first.Version.DiffSchemaVersionID)
	_, ok := f.writer.Get("artifact/" + f.target.Target.ID.String() + "/sdl")
	require.True(t, ok, "composable versions publish their sdl")

	second := f.publish(t, sdl("type Query { a: String b: String }"))
	require.Equal(t, StatusAccepted, second.Status)
	require.False(t, second.Initial)
	require.Len(t, second.Changes, 1)
	require.Equal(t, "Query.b", second.Changes[0].Path)
	require.Equal(t, registry.CriticalitySafe, second.Changes[0].Criticality)
	require.Equal(t, first.Version.ID, *second.Version.PreviousSchemaVersionID)
	require.Equal(t, first.Version.ID, *second.Version.DiffSchemaVersionID)

	third := f.publish(t, sdl("type Query { a: String }"))
	require.Equal(t, StatusRejected, third.Status)
	require.Equal(t, model.ReasonBreakingChanges, third.Reasons[0].Code)
	require.Equal(t, diff.FieldRemoved, third.Reasons[0].Changes[0].Type)
	require.Equal(t, second.Version.ID.String(), f.latestID(t), "rejections write nothing")

	check, err := f.publisher.Check(context.Background(), CheckInput{Target: f.ref, Service: sdl("type Query { a: String }"), ContextID: "pr-1"})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, check.Status)
	require.NotNil(t, check.Check)

	_, err = f.publisher.ApproveFailedSchemaCheck(context.Background(), ApproveInput{
		Target: f.ref, CheckID: check.Check.ID.String(), Actor: Actor{ID: "reviewer"},
	})
	require.NoError(t, err)

	approved := f.publish(t, sdl("type Query { a: String }"), func(in *PublishInput) { in.ContextID = "pr-1" })
	require.Equal(t, StatusAccepted, approved.Status)
	persisted := approved.Version.ChangeList()
	require.Len(t, persisted, 1)
	require.NotNil(t, persisted[0].Approval)
	require.Equal(t, "reviewer", persisted[0].Approval.ApprovedBy)
}

func TestPublishIdenticalSchemaIsIgnored(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle)
	first := f.publish(t, sdl("type Query { a: String }"))
	require.Equal(t, StatusAccepted, first.Status)

	again := f.publish(t, sdl("type Query { a: String }"))
	require.Equal(t, StatusIgnored, again.Status)
	require.Nil(t, again.Version)
	require.Equal(t, first.Version.ID.String(), f.latestID(t))

	check, err := f.publisher.Check(context.Background(), CheckInput{Target: f.ref, Service: sdl("type Query { a: String }")})
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, check.Status)
}

func TestConcurrentIdenticalPublishesComposeOnce(t *testing.T) {
	const callers = 5
	gate := make(chan struct{})
	var spy *countingLedger
	f := newFixture(t, registry.ProjectTypeSingle, func(_ *fixture, d *Deps) {
		// Every caller reads the head before locking, plus one read by the lock holder.
		spy = &countingLedger{Ledger: d.Ledger, threshold: callers + 1, gate: gate}
		d.Ledger = spy
	})
	f.engine.gate = gate

	results := make([]PublishResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.publisher.Publish(context.Background(), PublishInput{
				Target:  f.ref,
				Service: sdl("type Query { a: String }"),
				Actor:   Actor{ID: "user-1", SessionID: "session-1"},
			})
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
	}
	require.EqualValues(t, 1, f.engine.calls.Load())
	require.Equal(t, StatusAccepted, results[0].Status)
	for _, r := range results[1:] {
		require.Equal(t, StatusAccepted, r.Status)
		require.Equal(t, results[0].Version.ID, r.Version.ID)
	}
	require.Equal(t, callers+1, spy.calls)
}

func TestConcurrentPublishesAreSerialized(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeFederation)
	services := []registry.ServiceSchema{
		{Name: "users", SDL: "type Query { me: String }", URL: "http://users"},
		{Name: "reviews", SDL: "type Query { reviews: [String] }", URL: "http://reviews"},
		{Name: "products", SDL: "type Query { products: [String] }", URL: "http://products"},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(services))
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc registry.ServiceSchema) {
			defer wg.Done()
			res, err := f.publisher.Publish(context.Background(), PublishInput{Target: f.ref, Service: svc, Actor: Actor{ID: "u"}})
			if err == nil && res.Status != StatusAccepted {
				err = fmt.Errorf("%s: status %s", svc.Name, res.Status)
			}
			errs[i] = err
		}(i, svc)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var history []registry.SchemaVersion
	require.NoError(t, f.db.Where("target_id = ?", f.target.Target.ID).Order("created_at ASC").Find(&history).Error)
	require.Len(t, history, 3)
	require.Nil(t, history[0].PreviousSchemaVersionID)
	for i := 1; i < len(history); i++ {
		require.Equal(t, history[i-1].ID, *history[i].PreviousSchemaVersionID)
	}
	require.Len(t, history[2].ServiceSchemas(), 3, "no publish lost a sibling service")
}

func TestPublishLockContention(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle, func(_ *fixture, d *Deps) {
		d.LockOptions = lock.Options{Retries: 2, RetryDelay: 5 * time.Millisecond, TTL: time.Second}
	})
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.locker.Perform(context.Background(), publishLockKey(f.target.Target.ID.String()), lock.DefaultOptions(), func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	res := f.publish(t, sdl("type Query { a: String }"), func(in *PublishInput) { in.SupportsRetry = true })
	require.Equal(t, StatusRetryRequested, res.Status)
	require.Equal(t, RetryMessage, res.Message)

	_, err := f.publisher.Publish(context.Background(), PublishInput{Target: f.ref, Service: sdl("type Query { a: String }")})
	require.Error(t, err)
	require.True(t, registry.IsCode(err, registry.CodeResourceLocked))
	require.EqualValues(t, 0, f.engine.calls.Load())
}

func TestDeleteUnknownServiceWritesNothing(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeFederation)
	pub := f.publish(t, registry.ServiceSchema{Name: "users", SDL: "type Query { me: String }", URL: "http://users"})
	require.Equal(t, StatusAccepted, pub.Status)
	f.drain(t)
	before := len(f.notifier.Events())

	res, err := f.publisher.Delete(context.Background(), DeleteInput{Target: f.ref, ServiceName: "X", Actor: Actor{ID: "u"}})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Status)
	require.Equal(t, model.ReasonServiceNotFound, res.Reasons[0].Code)
	require.Equal(t, `Service "X" not found`, res.Reasons[0].Message)
	require.Equal(t, pub.Version.ID.String(), f.latestID(t))
	f.drain(t)
	require.Len(t, f.notifier.Events(), before)
}

func TestDeleteServiceRecordsVersion(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeFederation)
	f.publish(t, registry.ServiceSchema{Name: "users", SDL: "type Query { me: String }", URL: "http://users"})
	f.publish(t, registry.ServiceSchema{Name: "reviews", SDL: "type Query { reviews: [String] }", URL: "http://reviews"})

	res, err := f.publisher.Delete(context.Background(), DeleteInput{Target: f.ref, ServiceName: "reviews", Actor: Actor{ID: "u"}})
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)
	require.Equal(t, registry.ActionDelete, res.Version.Action)
	require.Len(t, res.Version.ServiceSchemas(), 1)
	for _, c := range res.Version.ChangeList() {
		if c.IsBreaking() {
			require.NotNil(t, c.Approval, "persisted breaking changes carry approval")
		}
	}
	f.drain(t)
	events := f.notifier.Events()
	require.Equal(t, notify.KindSchemaDeleted, events[len(events)-1].Kind)
}

func TestUsageDowngradeIsPersisted(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle, func(f *fixture, d *Deps) {
		d.Usage = usage.NewStore(f.db, d.Log)
	})

	require.NoError(t, f.db.Model(&registry.Target{}).Where("id = ?", f.target.Target.ID).Updates(map[string]interface{}{
		"validation_enabled":       true,
		"breaking_change_formula":  string(registry.FormulaRequestCount),
		"validation_request_count": 0,
	}).Error)

	f.publish(t, sdl("type Query { a: String b: String }"))
	res := f.publish(t, sdl("type Query { a: String }"))
	require.Equal(t, StatusAccepted, res.Status)

	persisted := res.Version.ChangeList()
	require.Len(t, persisted, 1)
	require.Equal(t, diff.FieldRemoved, persisted[0].Type)
	require.Equal(t, registry.CriticalitySafe, persisted[0].Criticality)
	require.NotNil(t, persisted[0].Usage)
	require.Nil(t, persisted[0].Approval)
	require.NotEmpty(t, res.Version.ConditionalBreakingChangeMetadata)
}

func TestCompositionErrorsAreNeverApprovable(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle)
	f.publish(t, sdl("type Query { a: String }"))

	check, err := f.publisher.Check(context.Background(), CheckInput{Target: f.ref, Service: sdl("type Query { a: Missing }")})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, check.Status)
	require.NotEmpty(t, check.Errors)

	_, err = f.publisher.ApproveFailedSchemaCheck(context.Background(), ApproveInput{
		Target: f.ref, CheckID: check.Check.ID.String(), Actor: Actor{ID: "reviewer"},
	})
	require.Error(t, err)
	require.True(t, registry.IsCode(err, registry.CodePreconditionFailed))
}

func TestArtifactFailureKeepsVersion(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle)
	f.writer.Err = errors.New("bucket unavailable")

	res := f.publish(t, sdl("type Query { a: String }"))
	require.Equal(t, StatusAccepted, res.Status)
	require.Equal(t, res.Version.ID.String(), f.latestID(t))
	require.Zero(t, f.writer.Len())

	f.drain(t)
	events := f.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, res.Version.ID, events[0].VersionID)
	require.True(t, events[0].Initial)
}

func TestInputValidation(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle)
	ctx := context.Background()

	_, err := f.publisher.Publish(ctx, PublishInput{Target: f.ref, Service: sdl("type Query { a: String }"), ContextID: strings.Repeat("x", 201)})
	require.True(t, registry.IsCode(err, registry.CodeValidation))

	_, err = f.publisher.Check(ctx, CheckInput{Target: f.ref, Service: sdl("type Query { a: String }"), ContextID: strings.Repeat("変", 201)})
	require.True(t, registry.IsCode(err, registry.CodeValidation))

	_, err = f.publisher.Check(ctx, CheckInput{Target: f.ref, Service: sdl("type Query { a: String }"), GitHub: &GitHub{Repository: "no-slash", Commit: "abc"}})
	require.True(t, registry.IsCode(err, registry.CodeValidation))

	_, err = f.publisher.Publish(ctx, PublishInput{Target: registry.TargetRef{Organization: "nope", Project: "nope", Target: "nope"}, Service: sdl("type Query { a: String }")})
	require.True(t, registry.IsCode(err, registry.CodeNotFound))
	require.EqualValues(t, 0, f.engine.calls.Load())
}

func TestContextIDLengthCountsCharacters(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle)
	// 200 characters, 600 bytes.
	id := strings.Repeat("変", 200)

	res := f.publish(t, sdl("type Query { a: String }"), func(in *PublishInput) { in.ContextID = id })
	require.Equal(t, StatusAccepted, res.Status)

	check, err := f.publisher.Check(context.Background(), CheckInput{Target: f.ref, Service: sdl("type Query { a: String b: String }"), ContextID: id})
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, check.Status)
}

func TestGetVersionReturnsBaseline(t *testing.T) {
	f := newFixture(t, registry.ProjectTypeSingle)
	first := f.publish(t, sdl("type Query { a: String }"))
	second := f.publish(t, sdl("type Query { a: String b: String }"))

	details, err := f.publisher.GetVersion(context.Background(), f.ref, second.Version.ID.String())
	require.NoError(t, err)
	require.Equal(t, second.Version.ID, details.Version.ID)
	require.NotNil(t, details.Baseline)
	require.Equal(t, first.Version.ID, details.Baseline.ID)
}
