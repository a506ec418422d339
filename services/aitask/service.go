package aitask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"wecodesec-tools/pkg/config"
	"wecodesec-tools/pkg/errutil"
	"wecodesec-tools/services/aigateway"
)

// Archiver keeps a copy of each new artifact outside the database.
type Archiver interface {
	Archive(ctx context.Context, key string, payload []byte) error
}

type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeRetry    Outcome = "retry"
	OutcomeFailed   Outcome = "failed"
	// OutcomeConflict means the task was no longer init when claimed.
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

type SweepReport struct {
	Skipped   bool
	Pending   int
	Completed int
	Retried   int
	Failed    int
	Conflicts int
	Errors    int
	Duration  time.Duration
}

type Service struct {
	repo        Repository
	gateway     aigateway.Gateway
	archive     Archiver
	maxAttempts int
	tracer      trace.Tracer

	sweeping atomic.Bool
}

type ServiceParams struct {
	fx.In
	Repository Repository
	Gateway    aigateway.Gateway
	Archive    Archiver       `optional:"true"`
	Config     *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	svc := &Service{
		repo:    p.Repository,
		gateway: p.Gateway,
		archive: p.Archive,
		tracer:  otel.Tracer("wecodesec-tools/services/aitask"),
	}
	if p.Config != nil {
		svc.maxAttempts = p.Config.Scheduler.MaxAttempts
	}
	return svc
}

// CreateTask stores a new Activity/AsyncTask pair for the ticket.
func (s *Service) CreateTask(ctx context.Context, ticketID, appID, content string) (*ActivityView, error) {
	var details []errutil.Detail
	if strings.TrimSpace(ticketID) == "" {
		details = append(details, errutil.Detail{Field: "event_id", Message: "required"})
	}
	if strings.TrimSpace(appID) == "" {
		details = append(details, errutil.Detail{Field: "app_id", Message: "required"})
	}
	if strings.TrimSpace(content) == "" {
		details = append(details, errutil.Detail{Field: "task_content", Message: "required"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("app_id and task_content are required", nil, errutil.WithDetails(details...))
	}

	activity, _, err := s.repo.CreateTaskPair(ctx, ticketID, appID, content)
	if err != nil {
		zap.L().Error("[AITask] failed to create task", zap.String("event_id", ticketID), zap.Error(err))
		return nil, err
	}
	tasksCreated.Inc()

	zap.L().Info("[AITask] task created",
		zap.String("event_id", ticketID),
		zap.String("task_id", activity.TaskID),
		zap.String("app_id", appID),
	)

	view := activity.View()
	return &view, nil
}

func (s *Service) ListActivities(ctx context.Context, ticketID string) ([]ActivityView, error) {
	activities, err := s.repo.ListActivitiesByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	out := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		out = append(out, a.View())
	}
	return out, nil
}

func (s *Service) ListArtifacts(ctx context.Context, ticketID string) ([]ArtifactView, error) {
	artifacts, err := s.repo.ListArtifactsByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	out := make([]ArtifactView, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a.View())
	}
	return out, nil
}

// SweepPendingTasks processes every task that is init when the sweep starts.
// Only one sweep runs at a time; a call made while another is in flight
// returns a report with Skipped set.
func (s *Service) SweepPendingTasks(ctx context.Context) (report SweepReport, err error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		sweepsTotal.WithLabelValues("skipped").Inc()
		zap.L().Debug("[AITask] sweep already running, skipping")
		return SweepReport{Skipped: true}, nil
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "aitask.sweep")
	defer span.End()

	defer func() {
		report.Duration = time.Since(start)
		sweepDuration.Observe(report.Duration.Seconds())
	}()

	tasks, err := s.repo.ListPendingAsyncTasks(ctx)
	if err != nil {
		sweepsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "list pending tasks")
		zap.L().Error("[AITask] failed to list pending tasks", zap.Error(err))
		return report, err
	}

	report.Pending = len(tasks)
	span.SetAttributes(attribute.Int("aitask.pending", report.Pending))
	if len(tasks) == 0 {
		sweepsTotal.WithLabelValues("done").Inc()
		zap.L().Debug("[AITask] no pending tasks")
		return report, nil
	}

	zap.L().Info("[AITask] sweeping pending tasks", zap.Int("pending", len(tasks)))

	for _, task := range tasks {
		if ctx.Err() != nil {
			zap.L().Warn("[AITask] sweep interrupted", zap.Error(ctx.Err()))
			break
		}

		outcome := s.processTask(ctx, task)
		tasksProcessed.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case OutcomeComplete:
			report.Completed++
		case OutcomeRetry:
			report.Retried++
		case OutcomeFailed:
			report.Failed++
		case OutcomeConflict:
			report.Conflicts++
		case OutcomeError:
			report.Errors++
		}
	}

	sweepsTotal.WithLabelValues("done").Inc()
	zap.L().Info("[AITask] sweep finished",
		zap.Int("pending", report.Pending),
		zap.Int("completed", report.Completed),
		zap.Int("retried", report.Retried),
		zap.Int("failed", report.Failed),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("errors", report.Errors),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (s *Service) processTask(ctx context.Context, task *AsyncTask) (outcome Outcome) {
	ctx, span := s.tracer.Start(ctx, "aitask.process", trace.WithAttributes(
		attribute.String("aitask.task_id", task.TaskID),
		attribute.Int("aitask.attempt", task.Attempts+1),
	))
	defer span.End()

	log := zap.L().With(zap.String("task_id", task.TaskID), zap.Int("attempt", task.Attempts+1))

	claimed, err := s.repo.ClaimAsyncTask(ctx, task.TaskID)
	if err != nil {
		span.RecordError(err)
		log.Error("[AITask] failed to claim task", zap.Error(err))
		return OutcomeError
	}
	if !claimed {
		log.Warn("[AITask] task no longer pending, skipping")
		return OutcomeConflict
	}

	// Once claimed, the task must leave running whatever happens below.
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "task panicked")
			outcome = s.release(ctx, task, err, log)
		}
	}()

	log.Info("[AITask] processing task")

	res, err := s.callGateway(ctx, task)
	var archived *archiveItem
	if err == nil {
		archived, err = s.complete(ctx, task, res)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		return s.release(ctx, task, err, log)
	}

	log.Info("[AITask] task complete")
	if archived != nil {
		s.archiveArtifact(ctx, archived, log)
	}
	return OutcomeComplete
}

func (s *Service) callGateway(ctx context.Context, task *AsyncTask) (res *aigateway.Result, err error) {
	provider := s.gateway.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &aigateway.Error{Provider: provider, Err: fmt.Errorf("panic: %v", r)}
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		gatewayDuration.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
	}()

	res, err = s.gateway.Process(ctx, task.TaskContent)
	if err == nil && res == nil {
		err = aigateway.ErrEmptyResult
	}
	return res, err
}

type archiveItem struct {
	key     string
	payload []byte
}

// complete commits the AsyncTask result, the Activity fields and the
// Artifact in one transaction.
func (s *Service) complete(ctx context.Context, task *AsyncTask, res *aigateway.Result) (*archiveItem, error) {
	payload, err := res.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode ai result: %w", err)
	}
	resultText := string(payload)

	var archived *archiveItem
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.UpdateAsyncTaskStatus(ctx, task.TaskID, StatusComplete, &resultText); err != nil {
			return err
		}

		activity, err := tx.FindActivityByTaskID(ctx, task.TaskID)
		if err != nil {
			return err
		}
		if activity == nil {
			zap.L().Warn("[AITask] no activity for task, result kept on task only", zap.String("task_id", task.TaskID))
			return nil
		}

		if activity.Status.IsTerminal() {
			zap.L().Warn("[AITask] activity already terminal, fields left as is",
				zap.String("task_id", task.TaskID),
				zap.String("status", string(activity.Status)),
			)
		} else if err := tx.UpdateActivity(ctx, task.TaskID, StatusComplete, ActivityFields{
			Title:       &res.Title,
			Description: &res.Description,
			Result:      &res.Result,
		}); err != nil {
			return err
		}

		if _, err := tx.InsertArtifact(ctx, activity.ID, payload); err != nil {
			return err
		}

		archived = &archiveItem{
			key:     fmt.Sprintf("artifacts/%s/%s.json", activity.EventID, task.TaskID),
			payload: payload,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

// release puts a failed task back to init, or to failed once the attempt
// ceiling is reached. The Activity is not touched.
func (s *Service) release(ctx context.Context, task *AsyncTask, cause error, log *zap.Logger) Outcome {
	attempts := task.Attempts + 1
	next, outcome := StatusInit, OutcomeRetry
	var result *string
	if s.maxAttempts > 0 && attempts >= s.maxAttempts {
		next, outcome = StatusFailed, OutcomeFailed
		msg := cause.Error()
		result = &msg
	}

	var gwErr *aigateway.Error
	fields := []zap.Field{zap.Error(cause), zap.String("next_status", string(next))}
	if errors.As(cause, &gwErr) || errors.Is(cause, aigateway.ErrEmptyResult) {
		log.Warn("[AITask] ai gateway call failed", fields...)
	} else {
		log.Error("[AITask] task processing failed", fields...)
	}

	// The revert must land even when the sweep is being cancelled.
	if err := s.repo.UpdateAsyncTaskStatus(context.WithoutCancel(ctx), task.TaskID, next, result); err != nil {
		log.Error("[AITask] failed to release task, it stays running", zap.Error(err))
		return OutcomeError
	}
	return outcome
}

func (s *Service) archiveArtifact(ctx context.Context, item *archiveItem, log *zap.Logger) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Archive(ctx, item.key, item.payload); err != nil {
		log.Warn("[AITask] failed to archive artifact", zap.String("key", item.key), zap.Error(err))
	}
}
