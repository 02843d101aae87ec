package event

import (
	"context"
	"flowdesk/idgen"
	"flowdesk/session"
	"time"

	"github.com/fundwit/go-commons/types"
)

// NewEvent builds an audit record. Services build records while their transaction is open
// and publish them only after commit.
func NewEvent(name string, actor *session.Session, target Target, taskID, workflowID types.ID,
	properties ...UpdatedProperty) EventRecord {

	record := EventRecord{
		ID: idgen.Next(),
		Event: Event{
			Name:              name,
			TargetType:        target.Type,
			TargetID:          target.ID,
			TaskID:            taskID,
			WorkflowID:        workflowID,
			UpdatedProperties: properties,
		},
		Timestamp: time.Now(),
	}
	if actor != nil {
		record.ActorID = actor.Identity.ID
		record.ActorName = actor.Identity.Name
		record.AuthType = actor.AuthType
	}
	return record
}

// Record builds an audit record and hands it to the registered handlers at once.
func Record(ctx context.Context, name string, actor *session.Session, target Target, taskID, workflowID types.ID) {
	r := NewEvent(name, actor, target, taskID, workflowID)
	Publish(ctx, r)
}

// Publish hands records to the registered handlers. Handler failures are logged only.
func Publish(ctx context.Context, records ...EventRecord) {
	for i := range records {
		InvokeHandlersFunc(ctx, &records[i])
	}
}
