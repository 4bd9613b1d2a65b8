package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"tracing-gateway/pkg/types"
)

func recordedSpan(t *testing.T, fn func(span trace.Span)) sdktrace.ReadOnlySpan {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := provider.Tracer("test").Start(context.Background(), "test-span")
	fn(span)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	return spans[0]
}

func attrValues(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	result := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		result[kv.Key] = kv.Value
	}
	return result
}

func testHTTPScope() *types.Scope {
	return &types.Scope{
		Type:        types.ScopeHTTP,
		Method:      "GET",
		Scheme:      "http",
		Path:        "/x",
		HTTPVersion: "1.1",
		Server:      &types.Addr{Host: "h", Port: 80},
		Headers: []types.HeaderPair{
			types.Header("host", "h"),
			types.Header("accept", "text/plain"),
			types.Header("accept", "application/json"),
		},
	}
}

// Test header accessor
func TestGetHeaderValues(t *testing.T) {
	scope := testHTTPScope()

	tests := []struct {
		name     string
		header   string
		expected []string
	}{
		{name: "Single value", header: "host", expected: []string{"h"}},
		{name: "Multiple values keep order", header: "accept", expected: []string{"text/plain", "application/json"}},
		{name: "No match returns empty slice", header: "authorization", expected: []string{}},
		{name: "Matching is case-sensitive", header: "Host", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := GetHeaderValues(scope, tt.header)
			require.NotNil(t, values)
			assert.Equal(t, tt.expected, values)
		})
	}
}

func TestGetHeaderValues_NoHeaders(t *testing.T) {
	scope := &types.Scope{Type: types.ScopeHTTP}

	values := GetHeaderValues(scope, "host")

	require.NotNil(t, values)
	assert.Empty(t, values)
}

func TestGetHeaderValues_SkipsInvalidUTF8(t *testing.T) {
	scope := &types.Scope{
		Type: types.ScopeHTTP,
		Headers: []types.HeaderPair{
			{Name: []byte("cookie"), Value: []byte{0xff, 0xfe}},
			types.Header("cookie", "a=b"),
			{Name: []byte{0xff}, Value: []byte("x")},
		},
	}

	values := GetHeaderValues(scope, "cookie")

	assert.Equal(t, []string{"a=b"}, values)
}

func TestGetHeaderValues_Idempotent(t *testing.T) {
	scope := testHTTPScope()

	first := GetHeaderValues(scope, "accept")
	second := GetHeaderValues(scope, "accept")

	assert.Equal(t, first, second)
}

// Test attribute collector
func TestCollectRequestAttributes(t *testing.T) {
	attrs := CollectRequestAttributes(testHTTPScope())

	assert.Equal(t, "http", attrs.Component)
	assert.Equal(t, "GET", attrs.Method)
	assert.Equal(t, "h", attrs.ServerName)
	assert.Equal(t, "h", attrs.Host)
	assert.Equal(t, 80, attrs.Port)
	assert.Equal(t, "http", attrs.Scheme)
	assert.Equal(t, "1.1", attrs.Flavor)
	assert.Equal(t, "/x", attrs.Target)
	assert.Nil(t, attrs.Peer)
}

func TestCollectRequestAttributes_WithClient(t *testing.T) {
	scope := testHTTPScope()
	scope.Client = &types.Addr{Host: "10.0.0.1", Port: 51234}

	kvs := CollectRequestAttributes(scope).KeyValues()

	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}

	assert.Equal(t, "10.0.0.1", m[AttrNetPeerIP].AsString())
	assert.Equal(t, int64(51234), m[AttrNetPeerPort].AsInt64())
}

func TestCollectRequestAttributes_OptionalFieldsOmitted(t *testing.T) {
	scope := &types.Scope{
		Type:   types.ScopeHTTP,
		Method: "GET",
		Scheme: "http",
		Server: &types.Addr{Host: "h", Port: 80},
	}

	kvs := CollectRequestAttributes(scope).KeyValues()

	for _, kv := range kvs {
		assert.NotEqual(t, attribute.Key(AttrHTTPFlavor), kv.Key)
		assert.NotEqual(t, attribute.Key(AttrHTTPTarget), kv.Key)
		assert.NotEqual(t, attribute.Key(AttrNetPeerIP), kv.Key)
		assert.NotEqual(t, attribute.Key(AttrNetPeerPort), kv.Key)
	}
}

func TestCollectRequestAttributes_Idempotent(t *testing.T) {
	scope := testHTTPScope()

	first := CollectRequestAttributes(scope)
	second := CollectRequestAttributes(scope)

	assert.Equal(t, first, second)
	assert.Equal(t, first.KeyValues(), second.KeyValues())
}

// Test status classifier
func TestSetStatusCode(t *testing.T) {
	tests := []struct {
		name         string
		status       interface{}
		expectedCode codes.Code
	}{
		{name: "200 OK", status: 200, expectedCode: codes.Ok},
		{name: "201 Created", status: 201, expectedCode: codes.Ok},
		{name: "301 redirect counts as ok", status: 301, expectedCode: codes.Ok},
		{name: "404 client error", status: 404, expectedCode: codes.Error},
		{name: "500 server error", status: 500, expectedCode: codes.Error},
		{name: "Status as string", status: "418", expectedCode: codes.Error},
		{name: "Status as float64", status: float64(204), expectedCode: codes.Ok},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span := recordedSpan(t, func(span trace.Span) {
				SetStatusCode(span, tt.status)
			})

			assert.Equal(t, tt.expectedCode, span.Status().Code)

			m := attrValues(span)
			v, ok := m[AttrHTTPStatusCode]
			require.True(t, ok, "numeric status attribute must be set")

			expected, err := coerceStatusCode(tt.status)
			require.NoError(t, err)
			assert.Equal(t, int64(expected), v.AsInt64())
		})
	}
}

func TestSetStatusCode_NonInteger(t *testing.T) {
	span := recordedSpan(t, func(span trace.Span) {
		SetStatusCode(span, "abc")
	})

	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Status().Description, "abc")

	_, ok := attrValues(span)[AttrHTTPStatusCode]
	assert.False(t, ok, "no numeric attribute on coercion failure")
}

func TestSetStatusCode_FractionalFloat(t *testing.T) {
	span := recordedSpan(t, func(span trace.Span) {
		SetStatusCode(span, 200.5)
	})

	assert.Equal(t, codes.Error, span.Status().Code)
	_, ok := attrValues(span)[AttrHTTPStatusCode]
	assert.False(t, ok)
}

func TestCoerceStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		status   interface{}
		expected int
		wantErr  bool
	}{
		{name: "int", status: 200, expected: 200},
		{name: "int64", status: int64(301), expected: 301},
		{name: "float64 whole", status: float64(404), expected: 404},
		{name: "numeric string", status: "500", expected: 500},
		{name: "garbage string", status: "abc", wantErr: true},
		{name: "nil", status: nil, wantErr: true},
		{name: "struct", status: struct{}{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := coerceStatusCode(tt.status)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, code)
		})
	}
}
