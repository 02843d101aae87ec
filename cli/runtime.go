package cli

import (
	"context"
	"flowdesk/account"
	"flowdesk/client/es"
	"flowdesk/common"
	"flowdesk/config"
	"flowdesk/event"
	"flowdesk/indices"
	"flowdesk/infra/tracing"
	"flowdesk/notification"
	"flowdesk/persistence"
	"flowdesk/session"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const consumerGroup = "flowdesk-notifications"

// runtime holds the process wide resources a command runs with.
type runtime struct {
	config *config.Config
	ds     *persistence.DataSourceManager

	publisher  message.Publisher
	subscriber message.Subscriber
	dispatcher *notification.QueueDispatcher
	inProcess  bool
	stopWorker context.CancelFunc

	closers []io.Closer
}

func startRuntime(envFile string) (*runtime, error) {
	var cfg *config.Config
	if envFile != "" {
		cfg = config.Load(envFile)
	} else {
		cfg = config.Load()
	}
	common.ConfigureLogging(cfg.LogFormat, cfg.LogLevel)
	rt := &runtime{config: cfg}

	if cfg.TracingEnabled {
		closer, err := tracing.InitGlobalTracer(common.GetServiceName())
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		rt.closers = append(rt.closers, closer)
	}

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = persistence.DefaultDatabaseURL
	}
	dbConfig, err := persistence.ParseDatabaseConfig(databaseURL)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	dbConfig.LogSQL = cfg.LogSQL
	if dbConfig.DriverType == "mysql" {
		if err := persistence.PrepareMysqlDatabase(dbConfig.DriverArgs); err != nil {
			rt.Close()
			return nil, fmt.Errorf("prepare database: %w", err)
		}
	}
	rt.ds = &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := rt.ds.Start(); err != nil {
		rt.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	persistence.ActiveDataSourceManager = rt.ds

	event.EventHandlers = []event.EventHandler{event.PersistHandler}
	if cfg.ElasticsearchURL != "" {
		if _, err := es.CreateClient(cfg.ElasticsearchURL); err != nil {
			rt.Close()
			return nil, fmt.Errorf("create elasticsearch client: %w", err)
		}
		event.EventHandlers = append(event.EventHandlers, indices.AuditIndexHandler)
	}

	logger := notification.NewLogrusAdapter(logrus.StandardLogger())
	rt.publisher, rt.subscriber, err = notification.CreateChannel(logger, cfg.KafkaBrokers, consumerGroup)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create notification queue: %w", err)
	}
	rt.inProcess = len(cfg.KafkaBrokers) == 0
	rt.dispatcher = notification.NewQueueDispatcher(rt.publisher)
	notification.ActiveDispatcher = rt.dispatcher

	if rt.inProcess {
		// no broker, deliver in this process
		ctx, cancel := context.WithCancel(context.Background())
		rt.stopWorker = cancel
		worker := rt.newWorker()
		messages, err := worker.Subscribe(ctx)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("subscribe notification queue: %w", err)
		}
		go func() {
			if err := worker.Consume(ctx, messages); err != nil {
				logrus.Warnf("in-process notification worker stopped: %v", err)
			}
		}()
	}
	return rt, nil
}

func (rt *runtime) newWorker() *notification.Worker {
	limiter := rate.NewLimiter(rate.Limit(rt.config.NotificationRate), rt.config.NotificationBurst)
	return notification.NewWorker(rt.subscriber, notification.LogSender{}, limiter)
}

// actor resolves who a command acts as: the given user, or the system on behalf of an account.
func (rt *runtime) actor(ctx context.Context, userID, accountID types.ID) (*session.Session, error) {
	if userID == 0 {
		return session.SystemSession(ctx, accountID), nil
	}
	u, err := account.LoadUser(rt.ds.GormDBWithContext(ctx), userID)
	if err != nil {
		return nil, fmt.Errorf("load acting user %d: %w", userID, err)
	}
	if !u.IsActive() {
		return nil, fmt.Errorf("acting user %d is inactive", userID)
	}
	return account.NewSession(ctx, u, session.AuthTypeAPI), nil
}

func (rt *runtime) Close() {
	if rt.dispatcher != nil {
		if err := rt.dispatcher.Close(); err != nil {
			logrus.Warnf("close notification publisher: %v", err)
		}
	}
	if rt.stopWorker != nil {
		rt.stopWorker()
	}
	if rt.subscriber != nil && !rt.inProcess {
		if err := rt.subscriber.Close(); err != nil {
			logrus.Warnf("close notification subscriber: %v", err)
		}
	}
	if rt.ds != nil {
		rt.ds.Stop()
	}
	for _, c := range rt.closers {
		if err := c.Close(); err != nil {
			logrus.Warnf("close: %v", err)
		}
	}
}
