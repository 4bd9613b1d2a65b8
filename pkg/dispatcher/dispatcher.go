package dispatcher

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"tracing-gateway/pkg/middleware"
	"tracing-gateway/pkg/types"
)

// Dispatcher направляет входящие соединения к приложениям по префиксу пути
type Dispatcher struct {
	apps            map[string]types.Handler
	prefixes        []string
	fallback        types.Handler
	middlewareChain *middleware.Chain
	mu              sync.RWMutex
}

// NewDispatcher создает новый экземпляр диспетчера
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		apps:            make(map[string]types.Handler),
		middlewareChain: middleware.NewChain(),
	}
}

// RegisterApp регистрирует приложение для указанного префикса пути.
// При совпадении нескольких префиксов выигрывает самый длинный.
func (d *Dispatcher) RegisterApp(prefix string, app types.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps[prefix] = app
	d.rebuildPrefixes()
}

// UnregisterApp удаляет приложение для указанного префикса
func (d *Dispatcher) UnregisterApp(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.apps, prefix)
	d.rebuildPrefixes()
}

// rebuildPrefixes пересобирает список префиксов от длинных к коротким.
// Вызывается под удерживаемой блокировкой записи.
func (d *Dispatcher) rebuildPrefixes() {
	d.prefixes = d.prefixes[:0]
	for prefix := range d.apps {
		d.prefixes = append(d.prefixes, prefix)
	}
	sort.Slice(d.prefixes, func(i, j int) bool {
		return len(d.prefixes[i]) > len(d.prefixes[j])
	})
}

// SetFallback устанавливает приложение для путей без совпавшего префикса
func (d *Dispatcher) SetFallback(app types.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = app
}

// SetMiddleware устанавливает middleware chain для диспетчера
func (d *Dispatcher) SetMiddleware(chain *middleware.Chain) {
	d.middlewareChain = chain
}

// Resolve возвращает приложение для пути или nil, если совпадения нет
func (d *Dispatcher) Resolve(path string) types.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, prefix := range d.prefixes {
		if strings.HasPrefix(path, prefix) {
			return d.apps[prefix]
		}
	}
	return d.fallback
}

// Dispatch пропускает соединение через цепочку промежуточных слоев
// к приложению, совпавшему по префиксу пути
func (d *Dispatcher) Dispatch(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
	if scope == nil {
		return errors.New("scope cannot be nil")
	}

	app := d.Resolve(scope.Path)
	if app == nil {
		app = notFoundApp
	}

	return d.middlewareChain.Execute(ctx, scope, receive, send, app)
}

// notFoundApp отвечает 404 на HTTP и закрывает прочие соединения
func notFoundApp(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
	if scope.Type == types.ScopeWebSocket {
		return send(ctx, types.Message{Type: types.MessageWebSocketClose, Code: 1008})
	}

	body := []byte("not found")
	if err := send(ctx, types.Message{
		Type:   types.MessageHTTPResponseStart,
		Status: 404,
		Headers: []types.HeaderPair{
			types.Header("content-type", "text/plain; charset=utf-8"),
		},
	}); err != nil {
		return err
	}
	return send(ctx, types.Message{Type: types.MessageHTTPResponseBody, Body: body})
}

// RegisteredPrefixes возвращает список зарегистрированных префиксов
func (d *Dispatcher) RegisteredPrefixes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	prefixes := make([]string, len(d.prefixes))
	copy(prefixes, d.prefixes)
	return prefixes
}

// AppCount возвращает количество зарегистрированных приложений
func (d *Dispatcher) AppCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.apps)
}
