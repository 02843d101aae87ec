package indices

import (
	"context"
	"encoding/json"
	"flowdesk/client/es"
	"flowdesk/event"
	"fmt"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

var (
	AuditIndexName             = "performer_events"
	AuditIndexEventHandlerName = "auditIndexer"

	SearchTaskAuditEventsFunc = SearchTaskAuditEvents
)

type AuditDocument struct {
	event.EventRecord
}

type BatchActionError map[types.ID]error

func (e BatchActionError) Error() string {
	return fmt.Sprintf("%v", map[types.ID]error(e))
}

// IndexAuditEvents copies records into the search index and marks the indexed ones synced.
func IndexAuditEvents(ctx context.Context, records []event.EventRecord) error {
	errs := BatchActionError{}
	var synced []types.ID
	for _, r := range records {
		if err := es.IndexFunc(ctx, AuditIndexName, r.ID, AuditDocument{EventRecord: r}); err != nil {
			errs[r.ID] = err
			logrus.Warnf("index audit event %d %s: %v", r.ID, r.Name, err)
		} else {
			synced = append(synced, r.ID)
		}
	}
	if err := event.MarkSyncedFunc(ctx, synced...); err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func AuditIndexHandler(ctx context.Context, e *event.EventRecord) *event.EventHandleResult {
	if err := IndexAuditEvents(ctx, []event.EventRecord{*e}); err != nil {
		return &event.EventHandleResult{
			Message:           fmt.Sprintf("index audit event %d, %v", e.ID, err),
			HandlerIdentifier: AuditIndexEventHandlerName,
		}
	}
	return &event.EventHandleResult{Success: true, HandlerIdentifier: AuditIndexEventHandlerName}
}

// SearchTaskAuditEvents lists indexed audit records of a task, oldest first.
func SearchTaskAuditEvents(ctx context.Context, taskID types.ID) ([]event.EventRecord, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{"taskId": taskID}},
		"sort":  []interface{}{map[string]interface{}{"timestamp": "asc"}},
		"size":  1000,
	}
	result, err := es.SearchFunc(ctx, AuditIndexName, query)
	if err != nil {
		return nil, err
	}
	records := make([]event.EventRecord, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		doc := AuditDocument{}
		if err := json.Unmarshal([]byte(hit.Source), &doc); err != nil {
			return nil, err
		}
		records = append(records, doc.EventRecord)
	}
	return records, nil
}
