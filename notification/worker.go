package notification

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Sender delivers one notification to one recipient, the delivery channel is external.
type Sender interface {
	Send(ctx context.Context, n Notification, r Recipient) error
}

type LogSender struct{}

func (LogSender) Send(ctx context.Context, n Notification, r Recipient) error {
	logrus.WithFields(logrus.Fields{"kind": n.Kind, "task": n.TaskID, "user": r.UserID, "email": r.Email}).Info("notification delivered")
	return nil
}

// Worker consumes the notification queue and throttles deliveries with a rate limiter.
type Worker struct {
	subscriber message.Subscriber
	sender     Sender
	limiter    *rate.Limiter
}

func NewWorker(subscriber message.Subscriber, sender Sender, limiter *rate.Limiter) *Worker {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Worker{subscriber: subscriber, sender: sender, limiter: limiter}
}

// Run consumes until ctx is done. Undecodable messages are acked and dropped.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.Subscribe(ctx)
	if err != nil {
		return err
	}
	return w.Consume(ctx, messages)
}

// Subscribe attaches the worker to the queue. Messages published after it returns are
// delivered to Consume, also on a non-persistent in-process channel.
func (w *Worker) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return w.subscriber.Subscribe(ctx, Topic)
}

func (w *Worker) Consume(ctx context.Context, messages <-chan *message.Message) error {
	for msg := range messages {
		n := Notification{}
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			logrus.Errorf("drop undecodable notification %s: %v", msg.UUID, err)
			msg.Ack()
			continue
		}
		if err := w.deliver(ctx, n); err != nil {
			msg.Ack()
			return err
		}
		msg.Ack()
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, n Notification) error {
	for _, r := range n.Recipients {
		if n.Kind == KindNewPerformer && !r.Subscribed {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := w.sender.Send(ctx, n, r); err != nil {
			logrus.WithFields(logrus.Fields{"kind": n.Kind, "task": n.TaskID, "user": r.UserID}).Warnf("deliver notification: %v", err)
		}
	}
	return nil
}
