package event

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

/*
return nil if not support
*/
type EventHandler func(ctx context.Context, e *EventRecord) *EventHandleResult

type EventHandleResult struct {
	Success           bool
	Message           string
	HandlerIdentifier string
}

var EventHandlers []EventHandler

var InvokeHandlersFunc = invokeHandlers

func invokeHandlers(ctx context.Context, record *EventRecord) []EventHandleResult {
	results := []EventHandleResult{}
	for _, handler := range EventHandlers {
		logrus.Debug("pre handle event ", record.Event)
		r := invokeHandler(ctx, handler, record)

		if r == nil {
			continue
		}

		results = append(results, *r)

		if r.Success {
			logrus.Info("post handle event. ", r)
		} else {
			logrus.Error("post handler error. ", r)
		}
	}
	return results
}

func invokeHandler(ctx context.Context, handler EventHandler, record *EventRecord) (r *EventHandleResult) {
	defer func() {
		if ret := recover(); ret != nil {
			r = &EventHandleResult{Message: fmt.Sprintf("handler panic on event %s: %v", record.Name, ret)}
		}
	}()
	return handler(ctx, record)
}
