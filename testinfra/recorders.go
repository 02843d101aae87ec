package testinfra

import (
	"context"
	"flowdesk/event"
	"flowdesk/notification"
	"sort"
	"sync"

	"github.com/fundwit/go-commons/types"
)

type NotificationCall struct {
	Kind    notification.Kind
	TaskID  types.ID
	UserIDs []types.ID
}

// RecordingDispatcher keeps every notification request in memory.
type RecordingDispatcher struct {
	lock  sync.Mutex
	calls []NotificationCall
}

// RecordNotifications installs a RecordingDispatcher as the active dispatcher, the returned
// function restores the previous one.
func RecordNotifications() (*RecordingDispatcher, func()) {
	origin := notification.ActiveDispatcher
	d := &RecordingDispatcher{}
	notification.ActiveDispatcher = d
	return d, func() { notification.ActiveDispatcher = origin }
}

func (d *RecordingDispatcher) NotifyNewPerformer(ctx context.Context, taskID types.ID, recipients []notification.Recipient) {
	d.record(notification.KindNewPerformer, taskID, recipientIDs(recipients))
}

func (d *RecordingDispatcher) NotifyRemovedPerformer(ctx context.Context, taskID types.ID, recipients []notification.Recipient) {
	d.record(notification.KindRemovedPerformer, taskID, recipientIDs(recipients))
}

func (d *RecordingDispatcher) NotifySelfAssigned(ctx context.Context, taskID types.ID, userID types.ID) {
	d.record(notification.KindSelfAssigned, taskID, []types.ID{userID})
}

func (d *RecordingDispatcher) record(kind notification.Kind, taskID types.ID, userIDs []types.ID) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.calls = append(d.calls, NotificationCall{Kind: kind, TaskID: taskID, UserIDs: userIDs})
}

func (d *RecordingDispatcher) Calls() []NotificationCall {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]NotificationCall{}, d.calls...)
}

// Of lists the calls of one kind.
func (d *RecordingDispatcher) Of(kind notification.Kind) []NotificationCall {
	var r []NotificationCall
	for _, c := range d.Calls() {
		if c.Kind == kind {
			r = append(r, c)
		}
	}
	return r
}

func (d *RecordingDispatcher) Reset() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.calls = nil
}

func recipientIDs(recipients []notification.Recipient) []types.ID {
	ids := make([]types.ID, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EventRecorder captures published audit records instead of invoking the handlers.
type EventRecorder struct {
	lock    sync.Mutex
	records []event.EventRecord
}

func RecordEvents() (*EventRecorder, func()) {
	origin := event.InvokeHandlersFunc
	r := &EventRecorder{}
	event.InvokeHandlersFunc = func(ctx context.Context, record *event.EventRecord) []event.EventHandleResult {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.records = append(r.records, *record)
		return nil
	}
	return r, func() { event.InvokeHandlersFunc = origin }
}

func (r *EventRecorder) Names() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	names := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		names = append(names, rec.Name)
	}
	return names
}

func (r *EventRecorder) Records() []event.EventRecord {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]event.EventRecord{}, r.records...)
}

func (r *EventRecorder) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.records = nil
}
