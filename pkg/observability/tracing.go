package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"tracing-gateway/pkg/types"
)

const instrumentationName = "tracing-gateway"

// TracingConfig содержит конфигурацию распределенной трассировки
type TracingConfig struct {
	Enabled     bool              `json:"enabled"`
	ServiceName string            `json:"service_name"`
	Endpoint    string            `json:"endpoint"`
	Insecure    bool              `json:"insecure"`
	SampleRate  float64           `json:"sample_rate"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Tracer владеет провайдером OpenTelemetry и создает промежуточный слой
// трассировки. Один экземпляр разделяется всеми одновременными запросами.
type Tracer struct {
	enabled    bool
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracer создает Tracer из конфигурации: экспортер OTLP по gRPC,
// батчинг и семплирование по доле запросов
func NewTracer(cfg TracingConfig) (*Tracer, error) {
	t := &Tracer{
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		return t, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "tracing-gateway"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	ctx := context.Background()

	opts := []otlptracegrpc.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)

	otel.SetTracerProvider(t.provider)
	t.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(t.propagator)

	t.tracer = t.provider.Tracer(instrumentationName)

	return t, nil
}

// NewTracerWithProvider создает Tracer поверх готового провайдера.
// Используется в тестах с провайдером, пишущим спаны в память.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		enabled: true,
		tracer:  tp.Tracer(instrumentationName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// IsEnabled сообщает, включена ли трассировка
func (t *Tracer) IsEnabled() bool {
	return t.enabled
}

// Close останавливает провайдер и досылает накопленные спаны
func (t *Tracer) Close() error {
	if t.provider != nil {
		return t.provider.Shutdown(context.Background())
	}
	return nil
}

// Middleware возвращает промежуточный слой, открывающий корневой спан
// на запрос и дочерние спаны на каждое сообщение receive/send
func (t *Tracer) Middleware() types.Middleware {
	return func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc, next types.Handler) error {
		return t.trace(ctx, scope, receive, send, next)
	}
}

// Wrap оборачивает приложение с одним вызовом напрямую
func (t *Tracer) Wrap(handler types.Handler) types.Handler {
	return func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return t.trace(ctx, scope, receive, send, handler)
	}
}

// WrapSession оборачивает приложение с двойным вызовом
func (t *Tracer) WrapSession(factory types.SessionFactory) types.Handler {
	return t.Wrap(types.SingleHandler(factory))
}

// trace обрабатывает один запрос: корневой спан всегда завершается,
// ошибка приложения возвращается транспорту без изменений
func (t *Tracer) trace(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc, app types.Handler) error {
	if !t.enabled {
		return app(ctx, scope, receive, send)
	}

	// Неполный scope - сломанный транспорт, спан не открываем
	if err := scope.Validate(); err != nil {
		return err
	}

	ctx = t.propagator.Extract(ctx, scopeCarrier{scope: scope})

	spanName := scope.SpanName()
	ctx, span := t.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(CollectRequestAttributes(scope).KeyValues()...),
	)
	defer span.End()

	rcv := &tracedReceive{inner: receive, tracer: t.tracer, root: ctx, name: spanName}
	snd := &tracedSend{inner: send, tracer: t.tracer, root: ctx, name: spanName}

	if err := app(ctx, scope, rcv.Receive, snd.Send); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// tracedReceive оборачивает входящий примитив: каждое обращение получает
// собственный дочерний спан, привязанный к корневому контексту запроса
type tracedReceive struct {
	inner  types.ReceiveFunc
	tracer trace.Tracer
	root   context.Context
	name   string
}

// Receive читает следующее сообщение под дочерним спаном. Спан создается
// до того, как тип сообщения известен, и переименовывается после.
func (r *tracedReceive) Receive(ctx context.Context) (types.Message, error) {
	_, span := r.tracer.Start(r.root, r.name+" (unknown-receive)")
	defer span.End()

	msg, err := r.inner(ctx)
	if err != nil {
		// Спан завершается и при отмене, и при ошибке нижнего примитива
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return msg, err
	}

	if msg.Type == types.MessageWebSocketReceive {
		SetStatusCode(span, 200)
		span.SetAttributes(attribute.String(AttrHTTPStatusText, msg.Text))
	}

	span.SetName(r.name + " (" + string(msg.Type) + ")")
	span.SetAttributes(attribute.String(AttrMessageType, string(msg.Type)))
	return msg, nil
}

// tracedSend оборачивает исходящий примитив по той же схеме
type tracedSend struct {
	inner  types.SendFunc
	tracer trace.Tracer
	root   context.Context
	name   string
}

// Send отправляет сообщение под дочерним спаном. Для http.response.start
// классифицируется статус ответа, для websocket.send записывается текст.
func (s *tracedSend) Send(ctx context.Context, msg types.Message) error {
	_, span := s.tracer.Start(s.root, s.name+" (unknown-send)")
	defer span.End()

	switch msg.Type {
	case types.MessageHTTPResponseStart:
		SetStatusCode(span, msg.Status)
	case types.MessageWebSocketSend:
		SetStatusCode(span, 200)
		span.SetAttributes(attribute.String(AttrHTTPStatusText, msg.Text))
	}

	span.SetName(s.name + " (" + string(msg.Type) + ")")
	span.SetAttributes(attribute.String(AttrMessageType, string(msg.Type)))

	if err := s.inner(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// scopeCarrier адаптирует заголовки scope к propagation.TextMapCarrier,
// используя GetHeaderValues как единственный способ чтения заголовков
type scopeCarrier struct {
	scope *types.Scope
}

// Get возвращает первое значение заголовка или пустую строку
func (c scopeCarrier) Get(key string) string {
	values := GetHeaderValues(c.scope, strings.ToLower(key))
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set не поддерживается: входящий scope только для чтения
func (c scopeCarrier) Set(key, value string) {}

// Keys перечисляет имена заголовков scope
func (c scopeCarrier) Keys() []string {
	seen := make(map[string]bool, len(c.scope.Headers))
	keys := make([]string, 0, len(c.scope.Headers))
	for _, h := range c.scope.Headers {
		name := string(h.Name)
		if !seen[name] {
			seen[name] = true
			keys = append(keys, name)
		}
	}
	return keys
}
