package notification_test

import (
	"context"
	"errors"
	"flowdesk/account"
	"flowdesk/notification"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/fundwit/go-commons/types"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type recordingSender struct {
	lock       sync.Mutex
	deliveries []string
	fail       bool
}

func (s *recordingSender) Send(ctx context.Context, n notification.Notification, r notification.Recipient) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.deliveries = append(s.deliveries, string(n.Kind)+":"+r.UserID.String())
	if s.fail {
		return errors.New("send failed")
	}
	return nil
}

func (s *recordingSender) Deliveries() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string{}, s.deliveries...)
}

func newPersistentChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10, Persistent: true},
		notification.NewLogrusAdapter(logrus.StandardLogger()))
}

func TestQueueDispatcher(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should publish notifications and deliver them through the worker", func(t *testing.T) {
		pubSub := newPersistentChannel()
		dispatcher := notification.NewQueueDispatcher(pubSub)
		defer dispatcher.Close()

		ctx := context.Background()
		dispatcher.NotifyNewPerformer(ctx, 10, []notification.Recipient{
			{UserID: 1, Email: "a@example.com", Subscribed: true},
			{UserID: 2, Email: "b@example.com", Subscribed: false},
		})
		dispatcher.NotifyRemovedPerformer(ctx, 10, []notification.Recipient{{UserID: 3, Email: "c@example.com"}})
		dispatcher.NotifySelfAssigned(ctx, 10, 4)
		dispatcher.NotifyNewPerformer(ctx, 10, nil)

		sender := &recordingSender{}
		worker := notification.NewWorker(pubSub, sender, rate.NewLimiter(rate.Limit(1000), 10))
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = worker.Run(runCtx) }()

		Eventually(sender.Deliveries, time.Second).Should(Equal([]string{
			"new_performer:1", "removed_performer:3", "self_assigned:4",
		}))
	})

	t.Run("should keep consuming when sender fails or payload is broken", func(t *testing.T) {
		pubSub := newPersistentChannel()
		defer pubSub.Close()

		Expect(pubSub.Publish(notification.Topic, message.NewMessage(watermill.NewULID(), []byte("not json")))).To(BeNil())
		notification.NewQueueDispatcher(pubSub).NotifySelfAssigned(context.TODO(), 10, 4)

		sender := &recordingSender{fail: true}
		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = notification.NewWorker(pubSub, sender, nil).Run(runCtx) }()

		Eventually(sender.Deliveries, time.Second).Should(Equal([]string{"self_assigned:4"}))
	})
}

func TestCreateChannel(t *testing.T) {
	RegisterTestingT(t)

	logger := notification.NewLogrusAdapter(logrus.StandardLogger())

	t.Run("should create in-process channel without brokers", func(t *testing.T) {
		pub, sub, err := notification.CreateChannel(logger, nil, "cg")
		Expect(err).To(BeNil())
		Expect(pub).To(BeAssignableToTypeOf(&gochannel.GoChannel{}))
		Expect(sub).To(BeIdenticalTo(pub))
		Expect(pub.Close()).To(BeNil())
	})

	t.Run("should reject empty kafka brokers", func(t *testing.T) {
		_, _, err := notification.CreateKafkaChannel(logger, []string{""}, "cg")
		Expect(err).To(MatchError("kafka brokers are not set"))
	})
}

func TestRecipientsOf(t *testing.T) {
	RegisterTestingT(t)

	origin := account.QueryContactsFunc
	defer func() { account.QueryContactsFunc = origin }()

	t.Run("should map contacts to recipients", func(t *testing.T) {
		account.QueryContactsFunc = func(ctx context.Context, ids []types.ID) ([]account.Contact, error) {
			return []account.Contact{{UserID: 1, Email: "a@example.com", Subscribed: true}, {UserID: 2, Email: "b@example.com"}}, nil
		}
		recipients, err := notification.RecipientsOf(context.TODO(), []types.ID{1, 2})
		Expect(err).To(BeNil())
		Expect(recipients).To(Equal([]notification.Recipient{
			{UserID: 1, Email: "a@example.com", Subscribed: true}, {UserID: 2, Email: "b@example.com"}}))

		recipients, err = notification.RecipientsOf(context.TODO(), nil)
		Expect(err).To(BeNil())
		Expect(recipients).To(BeEmpty())
	})

	t.Run("should return lookup error", func(t *testing.T) {
		account.QueryContactsFunc = func(ctx context.Context, ids []types.ID) ([]account.Contact, error) {
			return nil, errors.New("lookup failed")
		}
		_, err := notification.RecipientsOf(context.TODO(), []types.ID{1})
		Expect(err).To(MatchError("lookup failed"))
	})
}
