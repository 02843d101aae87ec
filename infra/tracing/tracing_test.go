package tracing

import (
	"context"
	"errors"
	"os"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
)

func TestStartOperation(t *testing.T) {
	RegisterTestingT(t)

	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)

	t.Run("new root trace", func(t *testing.T) {
		tracer.Reset()

		span, ctx := StartOperation(nil, "assignment.CreatePerformer")
		Expect(opentracing.SpanFromContext(ctx)).To(Equal(span))
		FinishOperation(span, nil)

		spans := tracer.FinishedSpans()
		Expect(len(spans)).To(Equal(1))
		Expect(spans[0].OperationName).To(Equal("assignment.CreatePerformer"))
		Expect(spans[0].ParentID).To(Equal(0))
		Expect(spans[0].Tags()).To(BeEmpty())
	})

	t.Run("child trace with error", func(t *testing.T) {
		tracer.Reset()

		clientSpan := tracer.StartSpan("client")
		ctx := opentracing.ContextWithSpan(context.Background(), clientSpan)

		span, _ := StartOperation(ctx, "reassign.ReassignEverywhere")
		FinishOperation(span, errors.New("mock error"))
		clientSpan.Finish()

		spans := tracer.FinishedSpans()
		Expect(len(spans)).To(Equal(2))
		s0 := spans[1]
		s1 := spans[0]
		Expect(s0.OperationName).To(Equal("client"))
		Expect(s1.OperationName).To(Equal("reassign.ReassignEverywhere"))
		Expect(s1.ParentID).To(Equal(s0.SpanContext.SpanID))
		Expect(s1.Tags()).To(Equal(map[string]interface{}{"error": true, "error.detail": "mock error"}))
	})
}

func TestInitGlobalTracer(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should install a jaeger tracer", func(t *testing.T) {
		os.Setenv("JAEGER_DISABLED", "true")
		defer os.Unsetenv("JAEGER_DISABLED")
		defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

		closer, err := InitGlobalTracer("flowdesk-test")
		Expect(err).To(BeNil())
		Expect(closer).ToNot(BeNil())
		Expect(closer.Close()).To(BeNil())
	})
}
