package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

const KindMetadataKey = "kind"

// QueueDispatcher publishes notifications as JSON messages on Topic.
type QueueDispatcher struct {
	publisher message.Publisher
}

func NewQueueDispatcher(publisher message.Publisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher}
}

func (d *QueueDispatcher) NotifyNewPerformer(ctx context.Context, taskID types.ID, recipients []Recipient) {
	d.publish(Notification{Kind: KindNewPerformer, TaskID: taskID, Recipients: recipients})
}

func (d *QueueDispatcher) NotifyRemovedPerformer(ctx context.Context, taskID types.ID, recipients []Recipient) {
	d.publish(Notification{Kind: KindRemovedPerformer, TaskID: taskID, Recipients: recipients})
}

func (d *QueueDispatcher) NotifySelfAssigned(ctx context.Context, taskID types.ID, userID types.ID) {
	d.publish(Notification{Kind: KindSelfAssigned, TaskID: taskID, Recipients: []Recipient{{UserID: userID}}})
}

func (d *QueueDispatcher) publish(n Notification) {
	if len(n.Recipients) == 0 {
		return
	}
	n.CreateTime = time.Now()
	payload, err := json.Marshal(n)
	if err != nil {
		logrus.Errorf("marshal notification of task %d: %v", n.TaskID, err)
		return
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(KindMetadataKey, string(n.Kind))
	if err := d.publisher.Publish(Topic, msg); err != nil {
		logrus.WithFields(logrus.Fields{"task": n.TaskID, "kind": n.Kind}).Errorf("publish notification: %v", err)
	}
}

func (d *QueueDispatcher) Close() error {
	return d.publisher.Close()
}
