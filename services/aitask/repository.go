package aitask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wecodesec-tools/pkg/db/option"
	"wecodesec-tools/pkg/errutil"
	"wecodesec-tools/pkg/repository"
)

// Repository is the storage boundary of the task engine. Every error it
// returns for a storage failure is a persistence error (errutil.StatusInternal).
type Repository interface {
	CreateTaskPair(ctx context.Context, ticketID, appID, content string) (*Activity, *AsyncTask, error)
	ListActivitiesByTicket(ctx context.Context, ticketID string) ([]*Activity, error)
	ListArtifactsByTicket(ctx context.Context, ticketID string) ([]*Artifact, error)
	ListPendingAsyncTasks(ctx context.Context) ([]*AsyncTask, error)
	// ClaimAsyncTask moves a task from init to running. It reports false when
	// the task is no longer init, e.g. claimed by someone else.
	ClaimAsyncTask(ctx context.Context, taskID string) (bool, error)
	UpdateAsyncTaskStatus(ctx context.Context, taskID string, status Status, result *string) error
	UpdateActivity(ctx context.Context, taskID string, status Status, fields ActivityFields) error
	FindActivityByTaskID(ctx context.Context, taskID string) (*Activity, error)
	FindAsyncTaskByTaskID(ctx context.Context, taskID string) (*AsyncTask, error)
	InsertArtifact(ctx context.Context, activityID uint, payload json.RawMessage) (*Artifact, error)
	// Transaction runs fn against a repository bound to one transaction.
	Transaction(ctx context.Context, fn func(Repository) error) error
}

// ActivityFields are the optional columns filled on completion. Nil fields
// are left unchanged.
type ActivityFields struct {
	Title       *string
	Description *string
	Result      *string
}

type gormRepository struct {
	db         *gorm.DB
	activities repository.Repository[Activity]
	tasks      repository.Repository[AsyncTask]
	artifacts  repository.Repository[Artifact]
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{
		db:         db,
		activities: repository.ProvideStore[Activity](db),
		tasks:      repository.ProvideStore[AsyncTask](db),
		artifacts:  repository.ProvideStore[Artifact](db),
	}
}

func (r *gormRepository) withTx(tx *gorm.DB) *gormRepository {
	return &gormRepository{
		db:         tx,
		activities: r.activities.WithTrx(tx),
		tasks:      r.tasks.WithTrx(tx),
		artifacts:  r.artifacts.WithTrx(tx),
	}
}

func persistenceError(op string, err error) error {
	return errutil.Internal("failed to "+op, err)
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	if r.db == nil {
		return persistenceError("begin transaction", gorm.ErrInvalidDB)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.withTx(tx))
	})
}

func (r *gormRepository) CreateTaskPair(ctx context.Context, ticketID, appID, content string) (*Activity, *AsyncTask, error) {
	taskID := uuid.NewString()
	activity := &Activity{
		EventID:     ticketID,
		TaskID:      taskID,
		AppID:       appID,
		TaskContent: content,
		Status:      StatusInit,
	}
	task := &AsyncTask{
		TaskID:      taskID,
		AppID:       appID,
		TaskContent: content,
		Status:      StatusInit,
	}

	err := r.Transaction(ctx, func(txRepo Repository) error {
		tx := txRepo.(*gormRepository)
		if err := tx.activities.Create(ctx, activity); err != nil {
			return err
		}
		return tx.tasks.Create(ctx, task)
	})
	if err != nil {
		return nil, nil, persistenceError("create task", err)
	}

	return activity, task, nil
}

func (r *gormRepository) ListActivitiesByTicket(ctx context.Context, ticketID string) ([]*Activity, error) {
	out, err := r.activities.Find(ctx, &Activity{EventID: ticketID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc"}),
	)
	if err != nil {
		return nil, persistenceError("list activities", err)
	}
	return out, nil
}

func (r *gormRepository) ListArtifactsByTicket(ctx context.Context, ticketID string) ([]*Artifact, error) {
	activities, err := r.activities.Find(ctx, &Activity{EventID: ticketID}, option.WithSelect("id"))
	if err != nil {
		return nil, persistenceError("list artifacts", err)
	}
	if len(activities) == 0 {
		return []*Artifact{}, nil
	}

	ids := make([]uint, 0, len(activities))
	for _, a := range activities {
		ids = append(ids, a.ID)
	}

	out, err := r.artifacts.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "activity_id", Operator: option.IN, Value: ids}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
	)
	if err != nil {
		return nil, persistenceError("list artifacts", err)
	}
	return out, nil
}

func (r *gormRepository) ListPendingAsyncTasks(ctx context.Context) ([]*AsyncTask, error) {
	out, err := r.tasks.Find(ctx, &AsyncTask{Status: StatusInit},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
	)
	if err != nil {
		return nil, persistenceError("list pending tasks", err)
	}
	return out, nil
}

func (r *gormRepository) ClaimAsyncTask(ctx context.Context, taskID string) (bool, error) {
	n, err := r.tasks.UpdateWhere(ctx, &AsyncTask{TaskID: taskID, Status: StatusInit}, map[string]any{
		"status":   StatusRunning,
		"attempts": gorm.Expr("attempts + 1"),
	})
	if err != nil {
		return false, persistenceError("claim task", err)
	}
	return n == 1, nil
}

func (r *gormRepository) UpdateAsyncTaskStatus(ctx context.Context, taskID string, status Status, result *string) error {
	return transitionFor(ctx, r.tasks, taskTransitions, &AsyncTask{TaskID: taskID}, status, map[string]any{
		"status": status,
		"result": result,
	})
}

func (r *gormRepository) UpdateActivity(ctx context.Context, taskID string, status Status, fields ActivityFields) error {
	values := map[string]any{"status": status}
	if fields.Title != nil {
		values["title"] = *fields.Title
	}
	if fields.Description != nil {
		values["description"] = *fields.Description
	}
	if fields.Result != nil {
		values["result"] = *fields.Result
	}
	return transitionFor(ctx, r.activities, activityTransitions, &Activity{TaskID: taskID}, status, values)
}

// transitionFor updates only rows whose current status may move to next.
// When nothing matched it tells a missing row apart from an illegal move.
func transitionFor[T any](ctx context.Context, store repository.Repository[T], table transitions, query *T, next Status, values map[string]any) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, next)
	}

	from := table.sources(next)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing may move to %s", ErrIllegalTransition, next)
	}

	n, err := store.UpdateWhere(ctx, query, values,
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.IN, Value: from}),
	)
	if err != nil {
		return persistenceError("update task status", err)
	}
	if n > 0 {
		return nil
	}

	current, err := store.FindOne(ctx, query)
	if err != nil {
		return persistenceError("update task status", err)
	}
	if current == nil {
		return persistenceError("update task status", gorm.ErrRecordNotFound)
	}
	return fmt.Errorf("%w: to %s", ErrIllegalTransition, next)
}

func (r *gormRepository) FindActivityByTaskID(ctx context.Context, taskID string) (*Activity, error) {
	a, err := r.activities.FindOne(ctx, &Activity{TaskID: taskID})
	if err != nil {
		return nil, persistenceError("find activity", err)
	}
	return a, nil
}

func (r *gormRepository) FindAsyncTaskByTaskID(ctx context.Context, taskID string) (*AsyncTask, error) {
	t, err := r.tasks.FindOne(ctx, &AsyncTask{TaskID: taskID})
	if err != nil {
		return nil, persistenceError("find task", err)
	}
	return t, nil
}

func (r *gormRepository) InsertArtifact(ctx context.Context, activityID uint, payload json.RawMessage) (*Artifact, error) {
	if !json.Valid(payload) {
		return nil, persistenceError("insert artifact", errors.New("artifact payload is not valid JSON"))
	}

	artifact := &Artifact{
		ActivityID:   activityID,
		ArtifactData: datatypes.JSON(payload),
	}
	if err := r.artifacts.Create(ctx, artifact); err != nil {
		return nil, persistenceError("insert artifact", err)
	}
	return artifact, nil
}
