package domain

import (
	"time"

	"github.com/fundwit/go-commons/types"
)

type WorkflowStatus string

const (
	WorkflowStatusRunning    WorkflowStatus = "RUNNING"
	WorkflowStatusDelayed    WorkflowStatus = "DELAYED"
	WorkflowStatusDone       WorkflowStatus = "DONE"
	WorkflowStatusTerminated WorkflowStatus = "TERMINATED"
)

type Workflow struct {
	ID            types.ID       `json:"id" gorm:"primary_key"`
	AccountID     types.ID       `json:"accountId" gorm:"index"`
	TemplateID    types.ID       `json:"templateId" gorm:"index"`
	Name          string         `json:"name"`
	Status        WorkflowStatus `json:"status" gorm:"size:16"`
	CurrentTask   int            `json:"currentTask"`
	StarterID     types.ID       `json:"starterId"`
	CreateTime    time.Time      `json:"createTime"`
	DateCompleted *time.Time     `json:"dateCompleted"`
}

func (w *Workflow) IsCompleted() bool {
	return w.Status == WorkflowStatusDone || w.Status == WorkflowStatusTerminated
}

// WorkflowMember is kept as a superset of every user that performs a task of the workflow.
type WorkflowMember struct {
	ID         types.ID `json:"id" gorm:"primary_key"`
	WorkflowID types.ID `json:"workflowId" gorm:"unique_index:uix_workflow_member"`
	UserID     types.ID `json:"userId" gorm:"unique_index:uix_workflow_member"`
	IsOwner    bool     `json:"isOwner"`
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusActive    TaskStatus = "ACTIVE"
	TaskStatusDelayed   TaskStatus = "DELAYED"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusSkipped   TaskStatus = "SKIPPED"
)

type Task struct {
	ID                     types.ID   `json:"id" gorm:"primary_key"`
	WorkflowID             types.ID   `json:"workflowId" gorm:"index"`
	TaskTemplateID         types.ID   `json:"taskTemplateId"`
	Number                 int        `json:"number"`
	Name                   string     `json:"name"`
	Status                 TaskStatus `json:"status" gorm:"size:16"`
	RequireCompletionByAll bool       `json:"requireCompletionByAll"`
	DueDate                *time.Time `json:"dueDate"`
	DateStarted            *time.Time `json:"dateStarted"`
	DateCompleted          *time.Time `json:"dateCompleted"`
}

// IsOpen reports whether performers of the task may still change. A delayed task is
// suspended, not closed.
func (t *Task) IsOpen() bool {
	return t.Status == TaskStatusActive || t.Status == TaskStatusDelayed
}

const KickoffTaskID types.ID = 0

type FieldType string

const (
	FieldTypeUser   FieldType = "user"
	FieldTypeString FieldType = "string"
)

// FieldValue is a kickoff (TaskID == 0) or task output value of a running workflow.
type FieldValue struct {
	ID         types.ID  `json:"id" gorm:"primary_key"`
	WorkflowID types.ID  `json:"workflowId" gorm:"index"`
	TaskID     types.ID  `json:"taskId"`
	APIName    string    `json:"apiName"`
	Type       FieldType `json:"type" gorm:"size:32"`
	Value      string    `json:"value"`
	UserID     types.ID  `json:"userId"`
}
