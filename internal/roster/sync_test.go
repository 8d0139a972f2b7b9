package roster

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/virtual-ldap/internal/cache"
	"github.com/isometry/virtual-ldap/internal/ldap"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "fake" }

func (m *mockProvider) Setup(ctx context.Context, opts Options) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *mockProvider) FetchDepartments(ctx context.Context) ([]Department, error) {
	args := m.Called(ctx)
	deps, _ := args.Get(0).([]Department)
	return deps, args.Error(1)
}

func (m *mockProvider) FetchUsers(ctx context.Context, departmentID string) ([]User, error) {
	args := m.Called(ctx, departmentID)
	users, _ := args.Get(0).([]User)
	return users, args.Error(1)
}

func (m *mockProvider) Reload(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type recordedSync struct {
	provider string
	err      error
}

type fakeRecorder struct {
	mu        sync.Mutex
	syncs     []recordedSync
	published []ldap.SnapshotStats
}

func (r *fakeRecorder) SyncCompleted(provider string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs = append(r.syncs, recordedSync{provider: provider, err: err})
}

func (r *fakeRecorder) SnapshotPublished(stats ldap.SnapshotStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, stats)
}

func testDepartments() []Department {
	return []Department{
		{ID: "1", Name: "Staff"},
		{ID: "2", Name: "Engineering", ParentID: "1"},
		{ID: "3", Name: "Engineering", ParentID: "1"},
	}
}

func expectUsers(p *mockProvider) {
	p.On("FetchUsers", mock.Anything, "1").Return([]User{}, nil)
	p.On("FetchUsers", mock.Anything, "2").Return([]User{
		{ID: "alice", Name: "Alice Liddell", Email: "alice@example.com", Active: true, DepartmentIDs: []string{"2"}},
	}, nil)
	p.On("FetchUsers", mock.Anything, "3").Return([]User{
		{ID: "bob", Name: "Bob Builder", Email: "bob@example.com", Active: true, DepartmentIDs: []string{"3"}},
	}, nil)
}

func newTestOrchestrator(t *testing.T, p Provider, c cache.Cache, ttl time.Duration) (*Orchestrator, *ldap.Snapshots, *fakeRecorder) {
	t.Helper()
	snapshots := ldap.NewSnapshots()
	recorder := &fakeRecorder{}
	o := NewOrchestrator(OrchestratorConfig{
		Provider:  p,
		Layout:    newTestLayout(t),
		Snapshots: snapshots,
		Cache:     c,
		Options:   Options{CacheTTL: ttl, Concurrency: 2},
		Logger:    ldap.NewNullLogger(),
		Recorder:  recorder,
	})
	return o, snapshots, recorder
}

func TestOrchestrator_SyncPublishes(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).Return(testDepartments(), nil)
	expectUsers(p)

	o, snapshots, recorder := newTestOrchestrator(t, p, nil, 0)
	require.False(t, snapshots.Ready())

	require.NoError(t, o.Sync(context.Background()))
	require.True(t, snapshots.Ready())

	current := snapshots.Load()
	stats := current.Stats()
	assert.Equal(t, 3, stats.Groups)
	assert.Equal(t, 2, stats.Persons)

	// Deduplicated department names shape the DNs; users land below the
	// department that listed them.
	_, ok := current.FindPerson(ldap.MustParseDN("mail=bob@example.com,ou=Engineering2,ou=Staff,ou=People,o=Example,dc=example,dc=com"))
	assert.True(t, ok)
	_, ok = current.FindPerson(ldap.MustParseDN("mail=alice@example.com,ou=Engineering,ou=Staff,ou=People,o=Example,dc=example,dc=com"))
	assert.True(t, ok)

	require.Len(t, recorder.syncs, 1)
	assert.NoError(t, recorder.syncs[0].err)
	assert.Equal(t, "fake", recorder.syncs[0].provider)
	require.Len(t, recorder.published, 1)
	assert.Equal(t, current.Generation(), recorder.published[0].Generation)

	p.AssertNotCalled(t, "Reload", mock.Anything)
}

func TestOrchestrator_LogsPassDuration(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).Return(testDepartments(), nil)
	expectUsers(p)

	var buf bytes.Buffer
	o := NewOrchestrator(OrchestratorConfig{
		Provider:  p,
		Layout:    newTestLayout(t),
		Snapshots: ldap.NewSnapshots(),
		Options:   Options{Concurrency: 1},
		Logger:    ldap.NewLogger("test", ldap.LoggerOptions{Level: "debug", JSON: true, Output: &buf}),
	})

	require.NoError(t, o.Sync(context.Background()))
	assert.Contains(t, buf.String(), `"@message":"Operation performance"`)
	assert.Contains(t, buf.String(), `"provider":"fake"`)
}

func TestOrchestrator_FailureKeepsPreviousSnapshot(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).Return(testDepartments(), nil).Once()
	p.On("FetchDepartments", mock.Anything).Return(nil, errors.New("platform down")).Once()
	expectUsers(p)

	o, snapshots, recorder := newTestOrchestrator(t, p, nil, 0)

	require.NoError(t, o.Sync(context.Background()))
	first := snapshots.Load()

	err := o.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform down")
	assert.Same(t, first, snapshots.Load())

	require.Len(t, recorder.syncs, 2)
	assert.Error(t, recorder.syncs[1].err)
	assert.Len(t, recorder.published, 1)
}

func TestOrchestrator_UserFetchFailureAbortsPass(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).Return(testDepartments(), nil)
	p.On("FetchUsers", mock.Anything, "1").Return([]User{}, nil)
	p.On("FetchUsers", mock.Anything, "2").Return([]User{}, nil)
	p.On("FetchUsers", mock.Anything, "3").Return(nil, &ProviderFetchError{Provider: "fake", Operation: "users", Target: "3", Cause: errors.New("timeout")})

	o, snapshots, _ := newTestOrchestrator(t, p, nil, 0)

	err := o.Sync(context.Background())
	var fetchErr *ProviderFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "3", fetchErr.Target)
	assert.False(t, snapshots.Ready())
}

func TestOrchestrator_MalformedRosterAbortsPass(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).Return([]Department{
		{ID: "1", Name: "Staff"},
		{ID: "2", Name: "Orphan", ParentID: "42"},
	}, nil)

	o, snapshots, _ := newTestOrchestrator(t, p, nil, 0)

	var malformed *MalformedRosterError
	require.ErrorAs(t, o.Sync(context.Background()), &malformed)
	assert.False(t, snapshots.Ready())
	p.AssertNotCalled(t, "FetchUsers", mock.Anything, mock.Anything)
}

func TestOrchestrator_CacheAndReload(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).Return(testDepartments(), nil)
	p.On("Reload", mock.Anything).Return(nil)
	expectUsers(p)

	fc, err := cache.NewFileCache(t.TempDir(), ldap.NewNullLogger())
	require.NoError(t, err)

	o, snapshots, _ := newTestOrchestrator(t, p, fc, time.Hour)
	ctx := context.Background()

	require.NoError(t, o.Sync(ctx))
	first := snapshots.Load()
	p.AssertNumberOfCalls(t, "FetchDepartments", 1)
	p.AssertNumberOfCalls(t, "FetchUsers", 3)

	// A fresh cache serves the second pass.
	require.NoError(t, o.Sync(ctx))
	second := snapshots.Load()
	p.AssertNumberOfCalls(t, "FetchDepartments", 1)
	p.AssertNumberOfCalls(t, "FetchUsers", 3)
	assert.NotEqual(t, first.Generation(), second.Generation())
	assert.Equal(t, first.Stats().Persons, second.Stats().Persons)

	_, ok := second.FindPerson(ldap.MustParseDN("mail=bob@example.com,ou=Engineering2,ou=Staff,ou=People,o=Example,dc=example,dc=com"))
	assert.True(t, ok, "cached users keep their placement")

	// Reload bypasses the cache and resets the provider session.
	require.NoError(t, o.Reload(ctx))
	p.AssertNumberOfCalls(t, "Reload", 1)
	p.AssertNumberOfCalls(t, "FetchDepartments", 2)
	p.AssertNumberOfCalls(t, "FetchUsers", 6)
}

func TestOrchestrator_ReloadFailure(t *testing.T) {
	p := &mockProvider{}
	p.On("Reload", mock.Anything).Return(errors.New("token endpoint unavailable"))

	o, snapshots, _ := newTestOrchestrator(t, p, nil, 0)

	require.Error(t, o.Reload(context.Background()))
	assert.False(t, snapshots.Ready())
	p.AssertNotCalled(t, "FetchDepartments", mock.Anything)
}

func TestOrchestrator_OverlappingPassIsSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(testDepartments(), nil).Once()
	expectUsers(p)

	o, snapshots, _ := newTestOrchestrator(t, p, nil, 0)

	done := make(chan error, 1)
	go func() {
		done <- o.Sync(context.Background())
	}()

	<-started
	assert.ErrorIs(t, o.Sync(context.Background()), ErrSyncInProgress)
	assert.ErrorIs(t, o.Reload(context.Background()), ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, snapshots.Ready())
	p.AssertNumberOfCalls(t, "FetchDepartments", 1)
	p.AssertNotCalled(t, "Reload", mock.Anything)
}

func TestOrchestrator_Scheduler(t *testing.T) {
	p := &mockProvider{}
	p.On("FetchDepartments", mock.Anything).Return(testDepartments(), nil)
	expectUsers(p)

	snapshots := ldap.NewSnapshots()
	o := NewOrchestrator(OrchestratorConfig{
		Provider:  p,
		Layout:    newTestLayout(t),
		Snapshots: snapshots,
		Options:   Options{RefreshInterval: 10 * time.Millisecond},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.Start(ctx)
	o.Start(ctx)

	require.Eventually(t, snapshots.Ready, 2*time.Second, 5*time.Millisecond)
	first := snapshots.Load().Generation()
	require.Eventually(t, func() bool {
		return snapshots.Load().Generation() != first
	}, 2*time.Second, 5*time.Millisecond)

	o.Stop()
	stopped := snapshots.Load().Generation()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, snapshots.Load().Generation())

	// Stopping twice is harmless.
	o.Stop()
}

func TestOrchestrator_SchedulerDisabled(t *testing.T) {
	p := &mockProvider{}
	o := NewOrchestrator(OrchestratorConfig{
		Provider:  p,
		Layout:    newTestLayout(t),
		Snapshots: ldap.NewSnapshots(),
	})

	o.Start(context.Background())
	o.Stop()
	p.AssertNotCalled(t, "FetchDepartments", mock.Anything)
}
