package assignment

import (
	"context"
	"flowdesk/domain"
	"flowdesk/domain/completion"
	"flowdesk/event"
	"flowdesk/notification"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

// effects are collected while the transaction is open and run once it committed.
type effects struct {
	task        *domain.Task
	requesterID types.ID

	events          []event.EventRecord
	covered         []types.ID
	orphaned        []types.ID
	checkCompletion bool
}

// flush publishes audit events and notifications, then runs the completion gate. Only the
// gate error is returned, the performer change itself is already committed.
func (fx *effects) flush(ctx context.Context) error {
	if fx == nil {
		return nil
	}
	event.Publish(ctx, fx.events...)

	if len(fx.covered) > 0 && fx.task.Status != domain.TaskStatusDelayed {
		var others []types.ID
		for _, uid := range fx.covered {
			if uid == fx.requesterID {
				notification.ActiveDispatcher.NotifySelfAssigned(ctx, fx.task.ID, uid)
			} else {
				others = append(others, uid)
			}
		}
		fx.notify(ctx, others, notification.ActiveDispatcher.NotifyNewPerformer)
	}
	fx.notify(ctx, fx.orphaned, notification.ActiveDispatcher.NotifyRemovedPerformer)

	if fx.checkCompletion {
		if _, err := completion.CheckTaskCompletionFunc(ctx, fx.task.ID); err != nil {
			return err
		}
	}
	return nil
}

func (fx *effects) notify(ctx context.Context, userIDs []types.ID,
	send func(ctx context.Context, taskID types.ID, recipients []notification.Recipient)) {
	if len(userIDs) == 0 {
		return
	}
	recipients, err := notification.RecipientsOfFunc(ctx, userIDs)
	if err != nil {
		logrus.WithFields(logrus.Fields{"task": fx.task.ID}).Warnf("resolve notification recipients: %v", err)
		return
	}
	send(ctx, fx.task.ID, recipients)
}
