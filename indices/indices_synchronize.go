package indices

import (
	"context"
	"flowdesk/bizerror"
	"flowdesk/event"
	"flowdesk/session"
	"fmt"
	"sync"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

var (
	lock    sync.Mutex
	running bool

	IndicesFullSyncFunc    = IndicesFullSync
	ScheduleNewSyncRunFunc = ScheduleNewSyncRun

	SyncBatchSize = 500
)

// ScheduleNewSyncRun starts a background resync of unsynced audit records. It returns false
// when a run is already in progress.
func ScheduleNewSyncRun(s *session.Session) (bool, error) {
	if !s.IsSuperuser {
		return false, bizerror.ErrForbidden
	}

	lock.Lock()
	if running {
		lock.Unlock()
		return false, nil
	}
	running = true
	lock.Unlock()

	waitRunning := sync.WaitGroup{}
	waitRunning.Add(1)
	go func() {
		waitRunning.Done()
		defer func() {
			lock.Lock()
			running = false
			lock.Unlock()
		}()
		if err := IndicesFullSyncFunc(context.Background()); err != nil {
			logrus.Errorf("indices fully sync: %v", err)
		}
	}()
	waitRunning.Wait()
	return true, nil
}

func IndicesFullSync(ctx context.Context) (err error) {
	defer func() {
		if ret := recover(); ret != nil {
			e, ok := ret.(error)
			if ok {
				err = e
			} else {
				err = fmt.Errorf("error on indices full sync: %v", ret)
			}
		}
	}()

	var lastID types.ID
	for {
		records, err := event.LoadUnsyncedEventsFunc(ctx, lastID, SyncBatchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			logrus.Infof("indices fully sync: there are no more audit events to index")
			return nil
		}

		if err := IndexAuditEvents(ctx, records); err != nil {
			logrus.Warnf("indices fully sync: error on index audit events after %d: %v", lastID, err)
		}
		lastID = records[len(records)-1].ID
	}
}
