package es

import (
	"net/http"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

const tracingComponent = "elasticsearch"

// TracingTransport records each request as a client span of the span found in the request
// context. Requests without a span pass through untraced.
type TracingTransport struct {
	Transport http.RoundTripper
}

func (t *TracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	parentSpan := opentracing.SpanFromContext(req.Context())
	if parentSpan == nil {
		return next.RoundTrip(req)
	}

	tracer := parentSpan.Tracer()
	span := tracer.StartSpan(operationName(req), opentracing.ChildOf(parentSpan.Context()))
	defer span.Finish()
	ext.SpanKindRPCClient.Set(span)
	ext.Component.Set(span, tracingComponent)
	ext.HTTPUrl.Set(span, req.URL.String())
	ext.HTTPMethod.Set(span, req.Method)
	_ = tracer.Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header))

	res, err := next.RoundTrip(req)
	if err != nil {
		ext.Error.Set(span, true)
		span.SetTag("error.detail", err.Error())
		return res, err
	}
	ext.HTTPStatusCode.Set(span, uint16(res.StatusCode))
	ext.Error.Set(span, res.StatusCode >= 400)
	return res, nil
}

// operationName is "es <METHOD> <path>", for example "es POST /performer_events/_search".
func operationName(req *http.Request) string {
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	return "es " + req.Method + " " + path
}
