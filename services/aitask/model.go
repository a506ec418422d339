package aitask

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusInit     Status = "init"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	// StatusFailed is only reached when an attempt ceiling is configured.
	StatusFailed Status = "failed"
)

var ErrIllegalTransition = errors.New("illegal task status transition")

// transitions lists, per current status, the statuses a row may move to.
type transitions map[Status][]Status

// taskTransitions drive an AsyncTask, which always passes through running.
var taskTransitions = transitions{
	StatusRunning: {StatusInit, StatusComplete, StatusFailed},
	StatusInit:    {StatusRunning},
}

// activityTransitions also allow init -> complete, for an Activity whose
// AsyncTask twin finished while it was never marked running.
var activityTransitions = transitions{
	StatusInit:    {StatusRunning, StatusComplete},
	StatusRunning: {StatusInit, StatusComplete, StatusFailed},
}

func (t transitions) allows(from, next Status) bool {
	for _, allowed := range t[from] {
		if allowed == next {
			return true
		}
	}
	return false
}

// sources returns every status that may move to next.
func (t transitions) sources(next Status) []Status {
	var from []Status
	for _, s := range []Status{StatusInit, StatusRunning, StatusComplete, StatusFailed} {
		if t.allows(s, next) {
			from = append(from, s)
		}
	}
	return from
}

func (s Status) Valid() bool {
	switch s {
	case StatusInit, StatusRunning, StatusComplete, StatusFailed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Activity is the ticket-scoped record of one AI task.
type Activity struct {
	ID          uint       `gorm:"column:id;primaryKey;autoIncrement"`
	EventID     string     `gorm:"column:event_id;type:varchar(100);not null;index"`
	TaskID      string     `gorm:"column:task_id;type:varchar(36);not null;uniqueIndex"`
	AppID       string     `gorm:"column:app_id;type:varchar(100);not null"`
	TaskContent string     `gorm:"column:task_content;type:text;not null"`
	Status      Status     `gorm:"column:status;type:varchar(20);not null;default:'init';index"`
	Title       *string    `gorm:"column:title;type:varchar(500)"`
	Description *string    `gorm:"column:description;type:text"`
	Result      *string    `gorm:"column:result;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	Artifacts   []Artifact `gorm:"foreignKey:ActivityID;constraint:OnDelete:CASCADE"`
}

func (Activity) TableName() string { return "t_event_activities" }

// AsyncTask is the execution-queue twin of an Activity, joined by TaskID.
type AsyncTask struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID      string    `gorm:"column:task_id;type:varchar(36);not null;uniqueIndex"`
	AppID       string    `gorm:"column:app_id;type:varchar(100);not null;index"`
	TaskContent string    `gorm:"column:task_content;type:text;not null"`
	Status      Status    `gorm:"column:status;type:varchar(20);not null;default:'init';index"`
	Result      *string   `gorm:"column:result;type:text"`
	Attempts    int       `gorm:"column:attempts;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AsyncTask) TableName() string { return "t_ai_agent_task_async" }

// Artifact is append-only and cascades from its Activity.
type Artifact struct {
	ID           uint           `gorm:"column:id;primaryKey;autoIncrement"`
	ActivityID   uint           `gorm:"column:activity_id;not null;index"`
	ArtifactData datatypes.JSON `gorm:"column:artifact_data"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Artifact) TableName() string { return "t_event_artifacts" }

// Models lists every table owned by this package, in creation order.
func Models() []any {
	return []any{&Activity{}, &AsyncTask{}, &Artifact{}}
}

const timeLayout = time.RFC3339

type ActivityView struct {
	ID          uint    `json:"id"`
	EventID     string  `json:"event_id"`
	TaskID      string  `json:"task_id"`
	AppID       string  `json:"app_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	TaskContent string  `json:"task_content"`
	Status      Status  `json:"status"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Result      *string `json:"result"`
}

func (a *Activity) View() ActivityView {
	return ActivityView{
		ID:          a.ID,
		EventID:     a.EventID,
		TaskID:      a.TaskID,
		AppID:       a.AppID,
		CreatedAt:   a.CreatedAt.Format(timeLayout),
		UpdatedAt:   a.UpdatedAt.Format(timeLayout),
		TaskContent: a.TaskContent,
		Status:      a.Status,
		Title:       a.Title,
		Description: a.Description,
		Result:      a.Result,
	}
}

type ArtifactView struct {
	ID           uint           `json:"id"`
	ActivityID   uint           `json:"activity_id"`
	ArtifactData datatypes.JSON `json:"artifact_data"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func (a *Artifact) View() ArtifactView {
	return ArtifactView{
		ID:           a.ID,
		ActivityID:   a.ActivityID,
		ArtifactData: a.ArtifactData,
		CreatedAt:    a.CreatedAt.Format(timeLayout),
		UpdatedAt:    a.UpdatedAt.Format(timeLayout),
	}
}
