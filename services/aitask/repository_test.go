package aitask

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wecodesec-tools/pkg/errutil"
	"wecodesec-tools/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestRepository(t *testing.T) Repository {
	t.Helper()
	return NewRepository(testutil.NewTestDB(t, Models()...))
}

func TestCreateTaskPair(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	activity, task, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan repo X")
	require.NoError(t, err)
	require.NotZero(t, activity.ID)
	require.NotEmpty(t, activity.TaskID)
	require.Equal(t, activity.TaskID, task.TaskID)
	require.Equal(t, StatusInit, activity.Status)
	require.Equal(t, StatusInit, task.Status)
	require.Equal(t, "T1", activity.EventID)
	require.Equal(t, "app1", task.AppID)
	require.Equal(t, "scan repo X", task.TaskContent)
	require.Nil(t, activity.Title)

	stored, err := repo.FindAsyncTaskByTaskID(ctx, task.TaskID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, StatusInit, stored.Status)
	require.Zero(t, stored.Attempts)
}

func TestListActivitiesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	first, _, err := repo.CreateTaskPair(ctx, "T1", "app1", "first")
	require.NoError(t, err)
	second, _, err := repo.CreateTaskPair(ctx, "T1", "app1", "second")
	require.NoError(t, err)
	_, _, err = repo.CreateTaskPair(ctx, "T2", "app1", "other ticket")
	require.NoError(t, err)

	out, err := repo.ListActivitiesByTicket(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, second.TaskID, out[0].TaskID)
	require.Equal(t, first.TaskID, out[1].TaskID)

	empty, err := repo.ListActivitiesByTicket(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestListArtifactsByTicket(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	out, err := repo.ListArtifactsByTicket(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Empty(t, out)

	activity, _, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan")
	require.NoError(t, err)
	other, _, err := repo.CreateTaskPair(ctx, "T2", "app1", "scan")
	require.NoError(t, err)

	_, err = repo.InsertArtifact(ctx, activity.ID, json.RawMessage(`{"title":"a"}`))
	require.NoError(t, err)
	_, err = repo.InsertArtifact(ctx, other.ID, json.RawMessage(`{"title":"b"}`))
	require.NoError(t, err)

	out, err = repo.ListArtifactsByTicket(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, activity.ID, out[0].ActivityID)
	require.JSONEq(t, `{"title":"a"}`, string(out[0].ArtifactData))
}

func TestInsertArtifactRejectsInvalidJSON(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	activity, _, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	_, err = repo.InsertArtifact(ctx, activity.ID, json.RawMessage(`{not json`))
	require.Error(t, err)
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
}

func TestClaimAsyncTask(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, task, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	claimed, err := repo.ClaimAsyncTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = repo.ClaimAsyncTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.False(t, claimed, "a running task cannot be claimed twice")

	stored, err := repo.FindAsyncTaskByTaskID(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, stored.Status)
	require.Equal(t, 1, stored.Attempts)

	pending, err := repo.ListPendingAsyncTasks(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestUpdateAsyncTaskStatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, task, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	err = repo.UpdateAsyncTaskStatus(ctx, task.TaskID, StatusFailed, nil)
	require.ErrorIs(t, err, ErrIllegalTransition)
	// A task has to be claimed before it can complete.
	err = repo.UpdateAsyncTaskStatus(ctx, task.TaskID, StatusComplete, nil)
	require.ErrorIs(t, err, ErrIllegalTransition)

	stored, err := repo.FindAsyncTaskByTaskID(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusInit, stored.Status)

	claimed, err := repo.ClaimAsyncTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.True(t, claimed)

	result := `{"title":"t"}`
	require.NoError(t, repo.UpdateAsyncTaskStatus(ctx, task.TaskID, StatusComplete, &result))

	stored, err = repo.FindAsyncTaskByTaskID(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, stored.Status)
	require.NotNil(t, stored.Result)
	require.Equal(t, result, *stored.Result)

	err = repo.UpdateAsyncTaskStatus(ctx, task.TaskID, StatusRunning, nil)
	require.ErrorIs(t, err, ErrIllegalTransition)
	err = repo.UpdateAsyncTaskStatus(ctx, task.TaskID, StatusInit, nil)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestUpdateAsyncTaskStatusMissingRow(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.UpdateAsyncTaskStatus(context.Background(), "missing", StatusInit, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
}

func TestUpdateActivity(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	activity, _, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan")
	require.NoError(t, err)

	title, desc := "title", "desc"
	require.NoError(t, repo.UpdateActivity(ctx, activity.TaskID, StatusComplete, ActivityFields{
		Title:       &title,
		Description: &desc,
	}))

	stored, err := repo.FindActivityByTaskID(ctx, activity.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, stored.Status)
	require.Equal(t, "title", *stored.Title)
	require.Equal(t, "desc", *stored.Description)
	require.Nil(t, stored.Result)

	err = repo.UpdateActivity(ctx, activity.TaskID, StatusComplete, ActivityFields{Title: &desc})
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestFindByTaskIDMissing(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	activity, err := repo.FindActivityByTaskID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, activity)

	task, err := repo.FindAsyncTaskByTaskID(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, task, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan")
	require.NoError(t, err)
	claimed, err := repo.ClaimAsyncTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.True(t, claimed)

	result := "done"
	err = repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.UpdateAsyncTaskStatus(ctx, task.TaskID, StatusComplete, &result); err != nil {
			return err
		}
		_, err := tx.InsertArtifact(ctx, 0, json.RawMessage(`{`))
		return err
	})
	require.Error(t, err)

	stored, err := repo.FindAsyncTaskByTaskID(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, stored.Status)
	require.Nil(t, stored.Result)
}

func TestRepositoryPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.ClosedDB(t, Models()...))

	_, _, err := repo.CreateTaskPair(ctx, "T1", "app1", "scan")
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))

	_, err = repo.ListActivitiesByTicket(ctx, "T1")
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))

	_, err = repo.ListArtifactsByTicket(ctx, "T1")
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))

	_, err = repo.ListPendingAsyncTasks(ctx)
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))

	_, err = repo.ClaimAsyncTask(ctx, "x")
	require.Equal(t, errutil.StatusInternal, errutil.StatusOf(err))
}
