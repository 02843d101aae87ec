package notification

import (
	"context"
	"flowdesk/account"
	"time"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

const Topic = "notifications"

type Kind string

const (
	KindNewPerformer     Kind = "new_performer"
	KindRemovedPerformer Kind = "removed_performer"
	KindSelfAssigned     Kind = "self_assigned"
)

type Recipient struct {
	UserID     types.ID `json:"userId"`
	Email      string   `json:"email"`
	Subscribed bool     `json:"subscribed"`
}

type Notification struct {
	Kind       Kind        `json:"kind"`
	TaskID     types.ID    `json:"taskId"`
	Recipients []Recipient `json:"recipients"`
	CreateTime time.Time   `json:"createTime"`
}

// Dispatcher hands notifications over for delivery. Calls return without waiting for the
// delivery, failures are logged by the implementation.
type Dispatcher interface {
	NotifyNewPerformer(ctx context.Context, taskID types.ID, recipients []Recipient)
	NotifyRemovedPerformer(ctx context.Context, taskID types.ID, recipients []Recipient)
	NotifySelfAssigned(ctx context.Context, taskID types.ID, userID types.ID)
}

var (
	ActiveDispatcher Dispatcher = LogDispatcher{}

	RecipientsOfFunc = RecipientsOf
)

// RecipientsOf looks up the contacts of users, unknown users are skipped.
func RecipientsOf(ctx context.Context, userIDs []types.ID) ([]Recipient, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	contacts, err := account.QueryContactsFunc(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	recipients := make([]Recipient, 0, len(contacts))
	for _, c := range contacts {
		recipients = append(recipients, Recipient{UserID: c.UserID, Email: c.Email, Subscribed: c.Subscribed})
	}
	return recipients, nil
}

// LogDispatcher only logs, it is used when no queue is configured.
type LogDispatcher struct{}

func (LogDispatcher) NotifyNewPerformer(ctx context.Context, taskID types.ID, recipients []Recipient) {
	logrus.WithFields(logrus.Fields{"task": taskID, "recipients": len(recipients)}).Info("notify new performers")
}

func (LogDispatcher) NotifyRemovedPerformer(ctx context.Context, taskID types.ID, recipients []Recipient) {
	logrus.WithFields(logrus.Fields{"task": taskID, "recipients": len(recipients)}).Info("notify removed performers")
}

func (LogDispatcher) NotifySelfAssigned(ctx context.Context, taskID types.ID, userID types.ID) {
	logrus.WithFields(logrus.Fields{"task": taskID, "user": userID}).Info("notify self assigned")
}
