package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracing-gateway/pkg/middleware"
	"tracing-gateway/pkg/types"
)

func httpScope(path string) *types.Scope {
	return &types.Scope{
		Type:   types.ScopeHTTP,
		Method: "GET",
		Scheme: "http",
		Path:   path,
		Server: &types.Addr{Host: "localhost", Port: 8080},
	}
}

func recordingApp(name string, calls *[]string) types.Handler {
	return func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestNewDispatcher(t *testing.T) {
	d := NewDispatcher()
	assert.NotNil(t, d)
	assert.Equal(t, 0, d.AppCount())
}

func TestDispatcher_RegisterApp(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.RegisterApp("/api", recordingApp("api", &calls))

	prefixes := d.RegisteredPrefixes()
	assert.Contains(t, prefixes, "/api")
	assert.Equal(t, 1, d.AppCount())

	// Повторная регистрация заменяет приложение
	d.RegisterApp("/api", recordingApp("api2", &calls))
	assert.Equal(t, 1, d.AppCount())
}

func TestDispatcher_Resolve_LongestPrefixWins(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.RegisterApp("/api", recordingApp("api", &calls))
	d.RegisterApp("/api/ws", recordingApp("ws", &calls))

	err := d.Dispatch(context.Background(), httpScope("/api/ws/chat"), nil, nil)
	require.NoError(t, err)

	err = d.Dispatch(context.Background(), httpScope("/api/time"), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ws", "api"}, calls)
}

func TestDispatcher_Dispatch_NotFound(t *testing.T) {
	d := NewDispatcher()

	var sent []types.Message
	send := func(ctx context.Context, msg types.Message) error {
		sent = append(sent, msg)
		return nil
	}

	err := d.Dispatch(context.Background(), httpScope("/missing"), nil, send)
	require.NoError(t, err)

	require.Len(t, sent, 2)
	assert.Equal(t, types.MessageHTTPResponseStart, sent[0].Type)
	assert.Equal(t, 404, sent[0].Status)
	assert.Equal(t, types.MessageHTTPResponseBody, sent[1].Type)
}

func TestDispatcher_Dispatch_NotFound_WebSocket(t *testing.T) {
	d := NewDispatcher()

	var sent []types.Message
	send := func(ctx context.Context, msg types.Message) error {
		sent = append(sent, msg)
		return nil
	}

	scope := httpScope("/missing")
	scope.Type = types.ScopeWebSocket
	scope.Scheme = "ws"

	err := d.Dispatch(context.Background(), scope, nil, send)
	require.NoError(t, err)

	require.Len(t, sent, 1)
	assert.Equal(t, types.MessageWebSocketClose, sent[0].Type)
	assert.Equal(t, 1008, sent[0].Code)
}

func TestDispatcher_Dispatch_Fallback(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.SetFallback(recordingApp("fallback", &calls))

	err := d.Dispatch(context.Background(), httpScope("/anything"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback"}, calls)
}

func TestDispatcher_Dispatch_AppError(t *testing.T) {
	d := NewDispatcher()

	d.RegisterApp("/fail", func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return assert.AnError
	})

	err := d.Dispatch(context.Background(), httpScope("/fail"), nil, nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDispatcher_Dispatch_WithMiddleware(t *testing.T) {
	d := NewDispatcher()
	var order []string

	mw := func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc, next types.Handler) error {
		order = append(order, "middleware")
		return next(ctx, scope, receive, send)
	}
	d.SetMiddleware(middleware.NewChain(mw))

	d.RegisterApp("/api", recordingApp("app", &order))

	err := d.Dispatch(context.Background(), httpScope("/api/time"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"middleware", "app"}, order)
}

func TestDispatcher_Dispatch_NilScope(t *testing.T) {
	d := NewDispatcher()

	err := d.Dispatch(context.Background(), nil, nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scope cannot be nil")
}

func TestDispatcher_UnregisterApp(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.RegisterApp("/api", recordingApp("api", &calls))
	assert.Equal(t, 1, d.AppCount())

	d.UnregisterApp("/api")
	assert.Equal(t, 0, d.AppCount())
	assert.Nil(t, d.Resolve("/api/time"))
}

func TestDispatcher_RegisteredPrefixes_Sorted(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.RegisterApp("/a", recordingApp("a", &calls))
	d.RegisterApp("/a/b/c", recordingApp("abc", &calls))
	d.RegisterApp("/a/b", recordingApp("ab", &calls))

	assert.Equal(t, []string{"/a/b/c", "/a/b", "/a"}, d.RegisteredPrefixes())
}

// Benchmark tests
func BenchmarkDispatcher_Dispatch(b *testing.B) {
	d := NewDispatcher()

	d.RegisterApp("/api", func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return nil
	})

	scope := httpScope("/api/bench")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = d.Dispatch(ctx, scope, nil, nil)
	}
}
