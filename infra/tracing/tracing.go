package tracing

import (
	"context"
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

// InitGlobalTracer installs a jaeger tracer configured from JAEGER_* environment variables.
// The returned closer flushes pending spans.
func InitGlobalTracer(serviceName string) (io.Closer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}
	tracer, closer, err := cfg.NewTracer(jaegercfg.Logger(jaegerLogger{}), jaegercfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	return closer, nil
}

// StartOperation starts a span named after a service operation, child of the span in ctx
// when there is one.
func StartOperation(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	return opentracing.StartSpanFromContext(ctx, operationName)
}

// FinishOperation tags the span with err and finishes it.
func FinishOperation(span opentracing.Span, err error) {
	if err != nil {
		span.SetTag("error", true)
		span.SetTag("error.detail", err.Error())
	}
	span.Finish()
}

type jaegerLogger struct{}

func (jaegerLogger) Error(msg string) {
	logrus.WithField("component", "jaeger").Error(msg)
}

func (jaegerLogger) Infof(msg string, args ...interface{}) {
	logrus.WithField("component", "jaeger").Info(fmt.Sprintf(msg, args...))
}
