package domain

import (
	"time"

	"github.com/fundwit/go-commons/types"
)

type Template struct {
	ID         types.ID  `json:"id" gorm:"primary_key"`
	AccountID  types.ID  `json:"accountId" gorm:"index"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"isActive"`
	CreateTime time.Time `json:"createTime"`
}

type OwnerType string

const (
	OwnerTypeUser  OwnerType = "USER"
	OwnerTypeGroup OwnerType = "GROUP"
)

type TemplateOwner struct {
	ID         types.ID  `json:"id" gorm:"primary_key"`
	TemplateID types.ID  `json:"templateId" gorm:"unique_index:uix_template_owner"`
	Type       OwnerType `json:"type" gorm:"unique_index:uix_template_owner;size:16"`
	UserID     types.ID  `json:"userId" gorm:"unique_index:uix_template_owner"`
	GroupID    types.ID  `json:"groupId" gorm:"unique_index:uix_template_owner"`
}

type TaskTemplate struct {
	ID                     types.ID `json:"id" gorm:"primary_key"`
	TemplateID             types.ID `json:"templateId" gorm:"index"`
	Number                 int      `json:"number"`
	Name                   string   `json:"name"`
	RequireCompletionByAll bool     `json:"requireCompletionByAll"`
	DueInDays              int      `json:"dueInDays"`
}

const PredicateFieldTypeUser = "user"

// PredicateTemplate is a condition predicate declared on a template task.
type PredicateTemplate struct {
	ID             types.ID `json:"id" gorm:"primary_key"`
	TemplateID     types.ID `json:"templateId" gorm:"index"`
	TaskTemplateID types.ID `json:"taskTemplateId"`
	FieldAPIName   string   `json:"fieldApiName"`
	FieldType      string   `json:"fieldType" gorm:"size:32"`
	Operator       string   `json:"operator" gorm:"size:32"`
	Value          string   `json:"value"`
}

// Predicate is the instance-level copy of a PredicateTemplate in a running workflow.
type Predicate struct {
	ID           types.ID `json:"id" gorm:"primary_key"`
	WorkflowID   types.ID `json:"workflowId" gorm:"index"`
	TaskID       types.ID `json:"taskId"`
	FieldAPIName string   `json:"fieldApiName"`
	FieldType    string   `json:"fieldType" gorm:"size:32"`
	Operator     string   `json:"operator" gorm:"size:32"`
	Value        string   `json:"value"`
}
