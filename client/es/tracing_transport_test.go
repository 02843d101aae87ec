package es

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/mocktracer"
)

type alwaysFailedTransport struct{}

func (t *alwaysFailedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return nil, errors.New("mock error")
}

func TestTracingTransport(t *testing.T) {
	RegisterTestingT(t)

	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Expect(r.Header.Get("Mockpfx-Ids-Traceid")).ToNot(BeEmpty())
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()

	tracedRequest := func(target string) (*http.Request, opentracing.Span) {
		req, err := http.NewRequest("GET", target, nil)
		Expect(err).To(BeNil())
		clientSpan := tracer.StartSpan("client")
		return req.WithContext(opentracing.ContextWithSpan(context.Background(), clientSpan)), clientSpan
	}

	childOf := func() *mocktracer.MockSpan {
		spans := tracer.FinishedSpans()
		Expect(len(spans)).To(Equal(2))
		parent, child := spans[1], spans[0]
		Expect(parent.OperationName).To(Equal("client"))
		Expect(child.ParentID).To(Equal(parent.SpanContext.SpanID))
		Expect(child.SpanContext.TraceID).To(Equal(parent.SpanContext.TraceID))
		return child
	}

	t.Run("should pass through without span", func(t *testing.T) {
		tracer.Reset()
		req, err := http.NewRequest("GET", bad.URL, nil)
		Expect(err).To(BeNil())
		res, err := (&http.Client{Transport: &TracingTransport{}}).Do(req)
		Expect(err).To(BeNil())
		Expect(res.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(len(tracer.FinishedSpans())).To(BeZero())
	})

	t.Run("should trace a successful request", func(t *testing.T) {
		tracer.Reset()
		req, clientSpan := tracedRequest(ok.URL + "/performer_events/_search")
		res, err := (&http.Client{Transport: &TracingTransport{Transport: http.DefaultTransport}}).Do(req)
		Expect(err).To(BeNil())
		Expect(res.StatusCode).To(Equal(http.StatusOK))
		clientSpan.Finish()

		child := childOf()
		Expect(child.OperationName).To(Equal("es GET /performer_events/_search"))
		Expect(child.Tags()).To(Equal(map[string]interface{}{
			"span.kind":        ext.SpanKindEnum("client"),
			"component":        "elasticsearch",
			"http.url":         ok.URL + "/performer_events/_search",
			"http.method":      "GET",
			"http.status_code": uint16(200),
			"error":            false,
		}))
	})

	t.Run("should flag error status", func(t *testing.T) {
		tracer.Reset()
		req, clientSpan := tracedRequest(bad.URL)
		res, err := (&http.Client{Transport: &TracingTransport{Transport: http.DefaultTransport}}).Do(req)
		Expect(err).To(BeNil())
		Expect(res.StatusCode).To(Equal(http.StatusBadRequest))
		clientSpan.Finish()

		child := childOf()
		Expect(child.OperationName).To(Equal("es GET /"))
		Expect(child.Tags()["error"]).To(Equal(true))
		Expect(child.Tags()["http.status_code"]).To(Equal(uint16(400)))
	})

	t.Run("should record transport failure", func(t *testing.T) {
		tracer.Reset()
		req, clientSpan := tracedRequest("http://127.0.0.1:12345")
		res, err := (&http.Client{Transport: &TracingTransport{Transport: &alwaysFailedTransport{}}}).Do(req)
		Expect(res).To(BeNil())
		var urlErr *url.Error
		Expect(errors.As(err, &urlErr)).To(BeTrue())
		Expect(urlErr.Err.Error()).To(Equal("mock error"))
		clientSpan.Finish()

		child := childOf()
		Expect(child.Tags()).To(Equal(map[string]interface{}{
			"span.kind":    ext.SpanKindEnum("client"),
			"component":    "elasticsearch",
			"http.url":     "http://127.0.0.1:12345",
			"http.method":  "GET",
			"error":        true,
			"error.detail": "mock error",
		}))
	})
}
