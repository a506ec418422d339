package aitask

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/pkg/errutil"
	"wecodesec-tools/services/aigateway"
	"wecodesec-tools/services/aigateway/mocks"
	"wecodesec-tools/services/testutil"
)

type fakeArchiver struct {
	mu      sync.Mutex
	keys    []string
	payload [][]byte
	err     error
}

func (f *fakeArchiver) Archive(_ context.Context, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.payload = append(f.payload, payload)
	return f.err
}

// claimingRepository hands out a snapshot whose tasks were already claimed
// by someone else.
type claimingRepository struct {
	Repository
}

func (r claimingRepository) ListPendingAsyncTasks(ctx context.Context) ([]*AsyncTask, error) {
	tasks, err := r.Repository.ListPendingAsyncTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if _, err := r.Repository.ClaimAsyncTask(ctx, task.TaskID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// panickingRepository blows up on the first artifact insert, inside the
// completion transaction.
type panickingRepository struct {
	Repository
	fired *atomic.Bool
}

func (r panickingRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.Repository.Transaction(ctx, func(tx Repository) error {
		return fn(panickingRepository{Repository: tx, fired: r.fired})
	})
}

func (r panickingRepository) InsertArtifact(ctx context.Context, activityID uint, data json.RawMessage) (*Artifact, error) {
	if r.fired.CompareAndSwap(false, true) {
		panic("driver exploded")
	}
	return r.Repository.InsertArtifact(ctx, activityID, data)
}

func newTestService(t *testing.T, gw aigateway.Gateway, opts ...func(*ServiceParams)) (*Service, Repository) {
	t.Helper()
	repo := newTestRepository(t)
	p := ServiceParams{Repository: repo, Gateway: gw}
	for _, opt := range opts {
		opt(&p)
	}
	return NewService(p), p.Repository
}

func withMaxAttempts(n int) func(*ServiceParams) {
	return func(p *ServiceParams) {
		cfg := &config.Config{}
		cfg.Scheduler.MaxAttempts = n
		p.Config = cfg
	}
}

func failingGateway(t *testing.T, err error) *mocks.MockGateway {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()
	gw.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, err).AnyTimes()
	return gw
}

func TestCreateTaskValidation(t *testing.T) {
	svc, repo := newTestService(t, aigateway.NewEcho())
	ctx := context.Background()

	cases := []struct {
		name    string
		appID   string
		content string
	}{
		{"missing app id", "", "scan"},
		{"missing content", "app1", ""},
		{"blank content", "app1", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTask(ctx, "T1", tc.appID, tc.content)
			require.Error(t, err)
			require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
		})
	}

	activities, err := repo.ListActivitiesByTicket(ctx, "T1")
	require.NoError(t, err)
	require.Empty(t, activities)
}

func TestSweepCompletesTask(t *testing.T) {
	archive := &fakeArchiver{}
	svc, repo := newTestService(t, aigateway.NewEcho(), func(p *ServiceParams) { p.Archive = archive })
	ctx := context.Background()

	view, err := svc.CreateTask(ctx, "T1", "app1", "scan repo X")
	require.NoError(t, err)
	require.Equal(t, StatusInit, view.Status)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Equal(t, 1, report.Pending)
	require.Equal(t, 1, report.Completed)

	activities, err := svc.ListActivities(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, activities, 1)
	got := activities[0]
	require.Equal(t, StatusComplete, got.Status)
	require.NotNil(t, got.Title)
	require.Equal(t, "AI分析结果: scan repo X...", *got.Title)
	require.NotNil(t, got.Description)
	require.NotNil(t, got.Result)
	require.Contains(t, *got.Result, "scan repo X")

	artifacts, err := svc.ListArtifacts(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, got.ID, artifacts[0].ActivityID)
	require.Contains(t, string(artifacts[0].ArtifactData), "AI分析结果")

	task, err := repo.FindAsyncTaskByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, task.Status)
	require.NotNil(t, task.Result)
	require.JSONEq(t, string(artifacts[0].ArtifactData), *task.Result)

	require.Equal(t, []string{"artifacts/T1/" + view.TaskID + ".json"}, archive.keys)

	// A second sweep has nothing left to do.
	report, err = svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Pending)

	artifacts, err = svc.ListArtifacts(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
}

func TestSweepEmptyIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	svc, _ := newTestService(t, gw)

	report, err := svc.SweepPendingTasks(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepReport{Duration: report.Duration}, report)
}

func TestSweepGatewayFailureRevertsTask(t *testing.T) {
	svc, repo := newTestService(t, failingGateway(t, &aigateway.Error{Provider: "mock", Err: errors.New("boom")}))
	ctx := context.Background()

	view, err := svc.CreateTask(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retried)

	task, err := repo.FindAsyncTaskByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, task.Status)
	require.Nil(t, task.Result)
	require.Equal(t, 1, task.Attempts)

	activity, err := repo.FindActivityByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, activity.Status)
	require.Nil(t, activity.Title)

	artifacts, err := svc.ListArtifacts(ctx, "T1")
	require.NoError(t, err)
	require.Empty(t, artifacts)

	// Unbounded retry: the next sweep picks it up again.
	report, err = svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Pending)
	require.Equal(t, 1, report.Retried)
}

func TestSweepEmptyResultRevertsTask(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()
	gw.EXPECT().Process(gomock.Any(), "scan").Return(nil, nil)

	svc, repo := newTestService(t, gw)
	ctx := context.Background()

	view, err := svc.CreateTask(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retried)

	task, err := repo.FindAsyncTaskByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, task.Status)
}

func TestSweepRecoversGatewayPanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()
	gw.EXPECT().Process(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, string) (*aigateway.Result, error) {
		panic("provider exploded")
	})

	svc, repo := newTestService(t, gw)
	ctx := context.Background()

	first, err := svc.CreateTask(ctx, "T1", "app1", "first")
	require.NoError(t, err)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retried)

	task, err := repo.FindAsyncTaskByTaskID(ctx, first.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, task.Status)
}

func TestSweepRecoversStorePanic(t *testing.T) {
	svc, repo := newTestService(t, aigateway.NewEcho(), func(p *ServiceParams) {
		p.Repository = panickingRepository{Repository: p.Repository, fired: &atomic.Bool{}}
	})
	ctx := context.Background()

	first, err := svc.CreateTask(ctx, "T1", "app1", "first")
	require.NoError(t, err)
	second, err := svc.CreateTask(ctx, "T1", "app1", "second")
	require.NoError(t, err)

	var report SweepReport
	require.NotPanics(t, func() {
		report, err = svc.SweepPendingTasks(ctx)
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Pending)
	require.Equal(t, 1, report.Retried)
	require.Equal(t, 1, report.Completed)

	task, err := repo.FindAsyncTaskByTaskID(ctx, first.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, task.Status)
	require.Nil(t, task.Result)
	require.Equal(t, 1, task.Attempts)

	activity, err := repo.FindActivityByTaskID(ctx, first.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, activity.Status)
	require.Nil(t, activity.Title)

	task, err = repo.FindAsyncTaskByTaskID(ctx, second.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, task.Status)

	artifacts, err := svc.ListArtifacts(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	// The reverted task completes on the next sweep.
	report, err = svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)
}

func TestSweepIsolatesTasks(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()
	gw.EXPECT().Process(gomock.Any(), "bad").Return(nil, errors.New("unreachable"))
	gw.EXPECT().Process(gomock.Any(), "good").Return(&aigateway.Result{Title: "t", Description: "d", Result: "r"}, nil)

	svc, repo := newTestService(t, gw)
	ctx := context.Background()

	bad, err := svc.CreateTask(ctx, "T1", "app1", "bad")
	require.NoError(t, err)
	good, err := svc.CreateTask(ctx, "T1", "app1", "good")
	require.NoError(t, err)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Pending)
	require.Equal(t, 1, report.Completed)
	require.Equal(t, 1, report.Retried)

	task, err := repo.FindAsyncTaskByTaskID(ctx, bad.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, task.Status)

	task, err = repo.FindAsyncTaskByTaskID(ctx, good.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, task.Status)
	require.JSONEq(t, `{"title":"t","description":"d","result":"r"}`, *task.Result)
}

func TestSweepMaxAttemptsMarksFailed(t *testing.T) {
	svc, repo := newTestService(t, failingGateway(t, errors.New("boom")), withMaxAttempts(2))
	ctx := context.Background()

	view, err := svc.CreateTask(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Retried)

	report, err = svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	task, err := repo.FindAsyncTaskByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, task.Status)
	require.Equal(t, 2, task.Attempts)
	require.NotNil(t, task.Result)
	require.Contains(t, *task.Result, "boom")

	report, err = svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Pending)
}

func TestSweepSkipsClaimedTasks(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	svc, repo := newTestService(t, gw, func(p *ServiceParams) {
		p.Repository = claimingRepository{Repository: p.Repository}
	})
	ctx := context.Background()

	view, err := svc.CreateTask(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Conflicts)

	task, err := repo.FindAsyncTaskByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, task.Status)
}

func TestSweepIsNotReentrant(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().Name().Return("mock").AnyTimes()
	gw.EXPECT().Process(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, content string) (*aigateway.Result, error) {
		close(entered)
		<-release
		return &aigateway.Result{Title: "t", Description: "d", Result: "r"}, nil
	})

	svc, _ := newTestService(t, gw)
	ctx := context.Background()
	_, err := svc.CreateTask(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	done := make(chan SweepReport, 1)
	go func() {
		report, _ := svc.SweepPendingTasks(ctx)
		done <- report
	}()

	<-entered
	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.True(t, report.Skipped)

	close(release)
	first := <-done
	require.False(t, first.Skipped)
	require.Equal(t, 1, first.Completed)
}

func TestSweepActivityAlreadyComplete(t *testing.T) {
	svc, repo := newTestService(t, aigateway.NewEcho())
	ctx := context.Background()

	view, err := svc.CreateTask(ctx, "T1", "app1", "scan")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateActivity(ctx, view.TaskID, StatusComplete, ActivityFields{}))

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)

	activity, err := repo.FindActivityByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, activity.Status)
	require.Nil(t, activity.Title)

	artifacts, err := svc.ListArtifacts(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
}

func TestSweepArchiveFailureKeepsTaskComplete(t *testing.T) {
	archive := &fakeArchiver{err: errors.New("bucket gone")}
	svc, repo := newTestService(t, aigateway.NewEcho(), func(p *ServiceParams) { p.Archive = archive })
	ctx := context.Background()

	view, err := svc.CreateTask(ctx, "T1", "app1", strings.Repeat("x", 80))
	require.NoError(t, err)

	report, err := svc.SweepPendingTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Completed)
	require.Len(t, archive.keys, 1)

	task, err := repo.FindAsyncTaskByTaskID(ctx, view.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, task.Status)
}

func TestSweepListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	svc, _ := newTestService(t, gw, func(p *ServiceParams) {
		p.Repository = NewRepository(testutil.ClosedDB(t, Models()...))
	})

	_, err := svc.SweepPendingTasks(context.Background())
	require.Error(t, err)
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
}
