package domain

import (
	"time"

	"github.com/fundwit/go-commons/types"
)

type PerformerType string

const (
	PerformerTypeUser            PerformerType = "USER"
	PerformerTypeGroup           PerformerType = "GROUP"
	PerformerTypeField           PerformerType = "FIELD"
	PerformerTypeWorkflowStarter PerformerType = "WORKFLOW_STARTER"
)

// DirectlyStatus marks a manual override of the template-derived performer set.
type DirectlyStatus string

const (
	DirectlyStatusNone    DirectlyStatus = ""
	DirectlyStatusCreated DirectlyStatus = "CREATED"
	DirectlyStatusDeleted DirectlyStatus = "DELETED"
)

// TaskPerformer is a live assignment of a task to a user or a group.
// Rows are soft deleted only; a deleted row is reactivated instead of duplicated.
type TaskPerformer struct {
	ID         types.ID      `json:"id" gorm:"primary_key"`
	TaskID     types.ID      `json:"taskId" gorm:"unique_index:uix_task_performer"`
	WorkflowID types.ID      `json:"workflowId" gorm:"index"`
	Type       PerformerType `json:"type" gorm:"unique_index:uix_task_performer;size:32"`
	UserID     types.ID      `json:"userId" gorm:"unique_index:uix_task_performer"`
	GroupID    types.ID      `json:"groupId" gorm:"unique_index:uix_task_performer"`

	// SourceGroupID is set on USER rows that exist only because the user is covered by
	// the GROUP performer of that group.
	SourceGroupID  types.ID       `json:"sourceGroupId"`
	DirectlyStatus DirectlyStatus `json:"directlyStatus" gorm:"size:16"`

	IsCompleted   bool       `json:"isCompleted"`
	DateCompleted *time.Time `json:"dateCompleted"`
	CreateTime    time.Time  `json:"createTime"`
}

func (p *TaskPerformer) IsActive() bool {
	return p.DirectlyStatus != DirectlyStatusDeleted
}

func (p *TaskPerformer) IsGroupDerived() bool {
	return p.Type == PerformerTypeUser && p.SourceGroupID != 0
}

// IsUnit reports whether the row counts on its own towards the performer set: an active
// group, or an active user that is not merely covered through a group.
func (p *TaskPerformer) IsUnit() bool {
	return p.IsActive() && !p.IsGroupDerived()
}

func (p *TaskPerformer) TargetID() types.ID {
	if p.Type == PerformerTypeGroup {
		return p.GroupID
	}
	return p.UserID
}

// RawPerformerTemplate is a template-level rule declaring who performs a task.
type RawPerformerTemplate struct {
	ID             types.ID      `json:"id" gorm:"primary_key"`
	TemplateID     types.ID      `json:"templateId" gorm:"index"`
	TaskTemplateID types.ID      `json:"taskTemplateId" gorm:"index"`
	Type           PerformerType `json:"type" gorm:"size:32"`
	UserID         types.ID      `json:"userId" gorm:"index"`
	GroupID        types.ID      `json:"groupId"`
	FieldAPIName   string        `json:"fieldApiName" gorm:"size:200"`
}
