package event

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fundwit/go-commons/types"
)

const (
	PerformerCreated      = "performer.created"
	PerformerDeleted      = "performer.deleted"
	PerformerCompleted    = "performer.completed"
	GroupPerformerCreated = "group_performer.created"
	GroupPerformerDeleted = "group_performer.deleted"
	GroupMembersChanged   = "group.members_changed"
	TemplateGroupAffected = "template.group_affected"
	UserReassigned        = "user.reassigned"
	TaskCompleted         = "task.completed"
	TemplateImported      = "template.imported"
)

const (
	TargetTypeUser     = "USER"
	TargetTypeGroup    = "GROUP"
	TargetTypeTemplate = "TEMPLATE"
	TargetTypeTask     = "TASK"
)

type Target struct {
	Type string   `json:"targetType"`
	ID   types.ID `json:"targetId"`
}

type Event struct {
	Name string `json:"name"`

	ActorID   types.ID `json:"actorId"`
	ActorName string   `json:"actorName"`
	AuthType  string   `json:"authType"`

	TargetType string   `json:"targetType"`
	TargetID   types.ID `json:"targetId"`

	TaskID     types.ID `json:"taskId"`
	WorkflowID types.ID `json:"workflowId"`

	UpdatedProperties UpdatedProperties `json:"updatedProperties" sql:"type:TEXT"`
}

type EventRecord struct {
	ID types.ID `json:"id" gorm:"primary_key"`
	Event

	Timestamp time.Time `json:"timestamp"`
	Synced    bool      `json:"synced"`
}

func (r *EventRecord) TableName() string {
	return "events"
}

type UpdatedProperty struct {
	PropertyName string `json:"propertyName"`
	OldValue     string `json:"oldValue"`
	NewValue     string `json:"newValue"`
}

type UpdatedProperties []UpdatedProperty

func (t UpdatedProperties) Value() (driver.Value, error) {
	jsonBytes, err := json.Marshal(&t)
	if err != nil {
		return nil, err
	}
	return string(jsonBytes), nil
}

func (c *UpdatedProperties) Scan(v interface{}) error {
	jsonString, ok := v.(string)
	if !ok {
		jsonByte, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("type is neither string nor []byte: %T %v", v, v)
		}
		jsonString = string(jsonByte)
	}
	return json.Unmarshal([]byte(jsonString), c)
}
