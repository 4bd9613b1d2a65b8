package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tracing-gateway/pkg/types"
)

// Ключи телеметрических атрибутов запроса
const (
	AttrComponent      = "component"
	AttrHTTPMethod     = "http.method"
	AttrHTTPServerName = "http.server_name"
	AttrHTTPScheme     = "http.scheme"
	AttrHTTPHost       = "http.host"
	AttrHTTPPort       = "http.port"
	AttrHTTPFlavor     = "http.flavor"
	AttrHTTPTarget     = "http.target"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPStatusText = "http.status_text"
	AttrNetPeerIP      = "net.peer.ip"
	AttrNetPeerPort    = "net.peer.port"
	AttrMessageType    = "type"
)

// GetHeaderValues возвращает все значения заголовка name в исходном порядке.
// Пары с байтами вне UTF-8 пропускаются, ошибки наружу не поднимаются.
// Имена сравниваются побайтово: транспорт приводит их к нижнему регистру.
func GetHeaderValues(scope *types.Scope, name string) []string {
	values := make([]string, 0)
	for _, h := range scope.Headers {
		if !utf8.Valid(h.Name) || !utf8.Valid(h.Value) {
			continue
		}
		if string(h.Name) == name {
			values = append(values, string(h.Value))
		}
	}
	return values
}

// RequestAttributes описывает атрибуты корневого спана фиксированной схемой.
// Опциональные поля попадают в вывод KeyValues только когда они заполнены.
type RequestAttributes struct {
	Component  string
	Method     string
	ServerName string
	Host       string
	Port       int
	Scheme     string
	Flavor     string
	Target     string
	Peer       *types.Addr
}

// CollectRequestAttributes собирает атрибуты входящего запроса из scope.
// Функция чистая: scope не изменяется, повторный вызов дает тот же результат.
func CollectRequestAttributes(scope *types.Scope) RequestAttributes {
	attrs := RequestAttributes{
		Component: scope.Type,
		Method:    scope.Method,
		Scheme:    scope.Scheme,
		Flavor:    scope.HTTPVersion,
		Target:    scope.Path,
	}
	if scope.Server != nil {
		// http.server_name - только хост, без порта
		attrs.ServerName = scope.Server.Host
		attrs.Host = scope.Server.Host
		attrs.Port = scope.Server.Port
	}
	if scope.Client != nil {
		peer := *scope.Client
		attrs.Peer = &peer
	}
	return attrs
}

// KeyValues переводит структуру в плоский набор атрибутов OpenTelemetry
func (a RequestAttributes) KeyValues() []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, 10)
	kvs = append(kvs,
		attribute.String(AttrComponent, a.Component),
		attribute.String(AttrHTTPMethod, a.Method),
		attribute.String(AttrHTTPServerName, a.ServerName),
		attribute.String(AttrHTTPScheme, a.Scheme),
		attribute.String(AttrHTTPHost, a.Host),
		attribute.Int(AttrHTTPPort, a.Port),
	)
	if a.Flavor != "" {
		kvs = append(kvs, attribute.String(AttrHTTPFlavor, a.Flavor))
	}
	if a.Target != "" {
		kvs = append(kvs, attribute.String(AttrHTTPTarget, a.Target))
	}
	if a.Peer != nil {
		kvs = append(kvs,
			attribute.String(AttrNetPeerIP, a.Peer.Host),
			attribute.Int(AttrNetPeerPort, a.Peer.Port),
		)
	}
	return kvs
}

// SetStatusCode приводит сырое значение статуса к числу и помечает спан.
// Значение, которое не приводится к целому, переводит спан в статус Error
// с диагностикой; числовой атрибут при этом не ставится. Ошибки наружу
// не поднимаются, обработка запроса продолжается.
func SetStatusCode(span trace.Span, status interface{}) {
	code, err := coerceStatusCode(status)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("non-integer HTTP status: %v", status))
		return
	}

	span.SetAttributes(attribute.Int(AttrHTTPStatusCode, code))
	span.SetStatus(classifyStatusCode(code))
}

// coerceStatusCode приводит значение статуса любого разумного типа к int
func coerceStatusCode(status interface{}) (int, error) {
	switch v := status.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case float64:
		// JSON-декодер отдает числа как float64
		if v != float64(int(v)) {
			return 0, fmt.Errorf("fractional status code: %v", v)
		}
		return int(v), nil
	case string:
		code, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("status code %q: %w", v, err)
		}
		return code, nil
	default:
		return 0, fmt.Errorf("status code of unsupported type %T", status)
	}
}

// classifyStatusCode выводит статус спана из диапазона HTTP-кода:
// 1xx-3xx считаются успехом (редиректы не помечаются ошибкой),
// 4xx - ошибка клиента, 5xx - ошибка сервера
func classifyStatusCode(code int) (codes.Code, string) {
	switch {
	case code < 400:
		return codes.Ok, ""
	case code < 500:
		return codes.Error, "client error: " + http.StatusText(code)
	default:
		return codes.Error, "server error: " + http.StatusText(code)
	}
}
