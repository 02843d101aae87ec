package event

import (
	"context"
	"flowdesk/persistence"
	"fmt"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

const PersistHandlerName = "eventPersister"

var (
	EventPersistCreateFunc = eventPersistCreate
	QueryTaskEventsFunc    = QueryTaskEvents
)

func eventPersistCreate(record *EventRecord, db *gorm.DB) error {
	return db.Create(record).Error
}

// PersistHandler stores every audit record in the events table.
func PersistHandler(ctx context.Context, e *EventRecord) *EventHandleResult {
	if err := EventPersistCreateFunc(e, persistence.ActiveDataSourceManager.GormDBWithContext(ctx)); err != nil {
		return &EventHandleResult{Message: fmt.Sprintf("persist event %s: %v", e.Name, err), HandlerIdentifier: PersistHandlerName}
	}
	return &EventHandleResult{Success: true, HandlerIdentifier: PersistHandlerName}
}

func QueryTaskEvents(ctx context.Context, taskID types.ID) ([]EventRecord, error) {
	var records []EventRecord
	if err := persistence.ActiveDataSourceManager.GormDBWithContext(ctx).
		Where("task_id = ?", taskID).Order("timestamp ASC, id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

var (
	MarkSyncedFunc         = MarkSynced
	LoadUnsyncedEventsFunc = LoadUnsyncedEvents
)

func MarkSynced(ctx context.Context, ids ...types.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return persistence.ActiveDataSourceManager.GormDBWithContext(ctx).Model(&EventRecord{}).
		Where("id IN (?)", ids).Update("synced", true).Error
}

// LoadUnsyncedEvents pages through records not yet copied to the search index, by id.
func LoadUnsyncedEvents(ctx context.Context, afterID types.ID, size int) ([]EventRecord, error) {
	var records []EventRecord
	if err := persistence.ActiveDataSourceManager.GormDBWithContext(ctx).
		Where("synced = ? AND id > ?", false, afterID).Order("id ASC").Limit(size).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
