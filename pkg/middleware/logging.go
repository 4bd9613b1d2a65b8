package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"tracing-gateway/pkg/observability"
	"tracing-gateway/pkg/types"
)

// LogLevel представляет уровень серьезности записей журнала
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelDebug LogLevel = "debug"
)

// LogFormat представляет формат записей журнала
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// LogDestination представляет, куда должны отправляться журналы
type LogDestination string

const (
	LogDestinationKafka  LogDestination = "kafka"
	LogDestinationStdout LogDestination = "stdout"
)

// LoggingConfig содержит конфигурацию для промежуточного слоя логирования
type LoggingConfig struct {
	// Конфигурация Kafka
	KafkaBrokers []string `json:"kafka_brokers"`
	Topic        string   `json:"topic"`

	// Общая конфигурация
	Enabled     bool           `json:"enabled"`
	Level       LogLevel       `json:"level"`
	Format      LogFormat      `json:"format"`
	Destination LogDestination `json:"destination"`

	// Опции фильтрации
	LogSuccessOnly bool     `json:"log_success_only"`
	ExcludePaths   []string `json:"exclude_paths"`
	IncludePaths   []string `json:"include_paths"`

	// Опции производительности
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`

	// Дополнительные метаданные
	ServiceName    string            `json:"service_name"`
	ServiceVersion string            `json:"service_version"`
	ExtraFields    map[string]string `json:"extra_fields"`
}

// DefaultLoggingConfig возвращает конфигурацию логирования по умолчанию
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Enabled:        true,
		Level:          LogLevelInfo,
		Format:         LogFormatJSON,
		Destination:    LogDestinationStdout,
		LogSuccessOnly: false,
		BufferSize:     1000,
		FlushInterval:  5 * time.Second,
		ServiceName:    "tracing-gateway",
		ServiceVersion: "1.0.0",
		ExtraFields:    make(map[string]string),
	}
}

// LogEntry представляет структурированную запись журнала доступа
type LogEntry struct {
	// Идентификация запроса
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`

	// Детали запроса
	Method     string `json:"method,omitempty"`
	Path       string `json:"path"`
	Transport  string `json:"transport"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`

	// Информация о времени
	Timestamp time.Time `json:"timestamp"`
	Duration  int64     `json:"duration_ms"`
	StartTime time.Time `json:"start_time"`

	// Информация об ответе
	Success  bool    `json:"success"`
	Status   *int    `json:"status,omitempty"`
	ErrorMsg *string `json:"error_message,omitempty"`

	// Информация о сервисе
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`

	// Метаданные журнала
	Level LogLevel `json:"level"`

	// Дополнительный контекст
	Headers     map[string]string `json:"headers,omitempty"`
	ExtraFields map[string]string `json:"extra_fields,omitempty"`
}

// LogWriter интерфейс для различных направлений журнала
type LogWriter interface {
	Write(entry LogEntry) error
	Close() error
	Flush() error
}

// KafkaLogWriter реализует LogWriter для Kafka
type KafkaLogWriter struct {
	writer *kafka.Writer
	config LoggingConfig
	mu     sync.RWMutex
}

// NewKafkaLogWriter создает новый писатель журнала Kafka
func NewKafkaLogWriter(config LoggingConfig) (*KafkaLogWriter, error) {
	if len(config.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("не настроены брокеры kafka")
	}

	if config.Topic == "" {
		return nil, fmt.Errorf("не настроена тема kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.KafkaBrokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchSize:    config.BufferSize,
		BatchTimeout: config.FlushInterval,
	}

	return &KafkaLogWriter{
		writer: writer,
		config: config,
	}, nil
}

// Write записывает запись журнала в Kafka
func (k *KafkaLogWriter) Write(entry LogEntry) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.writer == nil {
		return fmt.Errorf("писатель kafka не инициализирован")
	}

	var data []byte
	var err error

	switch k.config.Format {
	case LogFormatText:
		data = []byte(formatTextEntry(entry))
	default:
		data, err = json.Marshal(entry)
	}

	if err != nil {
		return fmt.Errorf("не удалось отформатировать запись журнала: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(entry.RequestID),
		Value: data,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "service", Value: []byte(entry.ServiceName)},
			{Key: "version", Value: []byte(entry.ServiceVersion)},
			{Key: "transport", Value: []byte(entry.Transport)},
			{Key: "path", Value: []byte(entry.Path)},
		},
	}

	return k.writer.WriteMessages(context.Background(), message)
}

// Close закрывает писатель Kafka
func (k *KafkaLogWriter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}

// Flush сбрасывает все ожидающие сообщения
func (k *KafkaLogWriter) Flush() error {
	// Писатель Kafka автоматически обрабатывает пакетирование
	return nil
}

// StdoutLogWriter реализует LogWriter для stdout
type StdoutLogWriter struct {
	config LoggingConfig
}

// NewStdoutLogWriter создает новый писатель журнала stdout
func NewStdoutLogWriter(config LoggingConfig) *StdoutLogWriter {
	return &StdoutLogWriter{config: config}
}

// Write записывает запись журнала в stdout
func (s *StdoutLogWriter) Write(entry LogEntry) error {
	var output string

	switch s.config.Format {
	case LogFormatText:
		output = formatTextEntry(entry)
	default:
		data, jsonErr := json.Marshal(entry)
		if jsonErr != nil {
			return fmt.Errorf("не удалось сериализовать запись журнала: %w", jsonErr)
		}
		output = string(data)
	}

	log.Println(output)
	return nil
}

// Close является пустой операцией для писателя stdout
func (s *StdoutLogWriter) Close() error {
	return nil
}

// Flush является пустой операцией для писателя stdout
func (s *StdoutLogWriter) Flush() error {
	return nil
}

// formatTextEntry форматирует запись журнала как обычный текст
func formatTextEntry(entry LogEntry) string {
	status := "УСПЕХ"
	if !entry.Success {
		status = "ОШИБКА"
	}

	code := "-"
	if entry.Status != nil {
		code = fmt.Sprintf("%d", *entry.Status)
	}

	return fmt.Sprintf("[%s] %s %s %s %s %s %dмс (ID: %s)",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Transport,
		entry.Path,
		code,
		status,
		entry.Duration,
		entry.RequestID,
	)
}

// Logger обрабатывает операции логирования с асинхронной обработкой
type Logger struct {
	config         LoggingConfig
	writer         LogWriter
	asyncProcessor AsyncProcessor
	clock          types.Clock
	mu             sync.RWMutex
}

// NewLogger создает новый логгер с указанной конфигурацией
func NewLogger(config LoggingConfig) (*Logger, error) {
	return NewLoggerWithDependencies(config, NewDefaultAsyncProcessor(), types.GlobalClock)
}

// NewLoggerWithDependencies создает новый логгер с внедряемыми зависимостями
func NewLoggerWithDependencies(config LoggingConfig, asyncProcessor AsyncProcessor, clock types.Clock) (*Logger, error) {
	if !config.Enabled {
		return &Logger{
			config:         config,
			asyncProcessor: asyncProcessor,
			clock:          clock,
		}, nil
	}

	var writer LogWriter
	var err error

	switch config.Destination {
	case LogDestinationKafka:
		writer, err = NewKafkaLogWriter(config)
	case LogDestinationStdout:
		writer = NewStdoutLogWriter(config)
	default:
		return nil, fmt.Errorf("неподдерживаемое назначение журнала: %s", config.Destination)
	}

	if err != nil {
		return nil, fmt.Errorf("не удалось создать писатель журнала: %w", err)
	}

	return &Logger{
		config:         config,
		writer:         writer,
		asyncProcessor: asyncProcessor,
		clock:          clock,
	}, nil
}

// shouldLog определяет, должен ли запрос быть залогирован на основе конфигурации
func (l *Logger) shouldLog(scope *types.Scope, success bool) bool {
	if !l.config.Enabled {
		return false
	}

	if l.config.LogSuccessOnly && !success {
		return false
	}

	if len(l.config.IncludePaths) > 0 {
		included := false
		for _, path := range l.config.IncludePaths {
			if path == scope.Path {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	for _, path := range l.config.ExcludePaths {
		if path == scope.Path {
			return false
		}
	}

	return true
}

// createLogEntry создает структурированную запись журнала из данных запроса
func (l *Logger) createLogEntry(ctx context.Context, scope *types.Scope, status *int, err error) LogEntry {
	now := l.clock.Now()

	entry := LogEntry{
		Method:         scope.Method,
		Path:           scope.Path,
		Transport:      scope.Type,
		Timestamp:      now,
		ServiceName:    l.config.ServiceName,
		ServiceVersion: l.config.ServiceVersion,
		Level:          LogLevelInfo,
		Status:         status,
		Headers:        make(map[string]string),
		ExtraFields:    make(map[string]string),
	}

	if scope.Client != nil {
		entry.RemoteAddr = scope.Client.String()
	}

	if ua := observability.GetHeaderValues(scope, "user-agent"); len(ua) > 0 {
		entry.UserAgent = ua[0]
	}

	if info, ok := types.ConnInfoFromContext(ctx); ok {
		entry.RequestID = info.RequestID
		entry.StartTime = info.StartTime
		entry.Duration = info.Duration().Milliseconds()
	}

	// Идентификаторы трассировки берутся из активного спана запроса
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}

	entry.Success = err == nil
	if err != nil {
		entry.Level = LogLevelError
		errMsg := err.Error()
		entry.ErrorMsg = &errMsg
	} else if status != nil && *status >= 500 {
		entry.Level = LogLevelWarn
		entry.Success = false
	}

	// Копирование заголовков (ограничение для предотвращения больших записей)
	headerCount := 0
	for _, h := range scope.Headers {
		if headerCount >= 10 {
			break
		}
		entry.Headers[string(h.Name)] = string(h.Value)
		headerCount++
	}

	for key, value := range l.config.ExtraFields {
		entry.ExtraFields[key] = value
	}

	return entry
}

// logEntry записывает запись журнала с использованием настроенного писателя
func (l *Logger) logEntry(entry LogEntry) {
	if l.writer == nil {
		return
	}

	if err := l.writer.Write(entry); err != nil {
		log.Printf("Не удалось записать запись журнала: %v", err)

		// Запасной вариант для stdout, если основной писатель не работает
		if l.config.Destination != LogDestinationStdout {
			fallbackWriter := NewStdoutLogWriter(l.config)
			if fallbackErr := fallbackWriter.Write(entry); fallbackErr != nil {
				log.Printf("Запасное логирование также не удалось: %v", fallbackErr)
			}
		}
	}
}

// Close закрывает логгер и его писатель
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Сначала завершаем работу асинхронного процессора
	if l.asyncProcessor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.asyncProcessor.Shutdown(ctx)
	}

	if l.writer != nil {
		return l.writer.Close()
	}
	return nil
}

// Flush сбрасывает все ожидающие записи журнала
func (l *Logger) Flush() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.writer != nil {
		return l.writer.Flush()
	}
	return nil
}

// LoggingMiddleware создает промежуточный слой логирования доступа.
// Статус ответа перехватывается из первого сообщения http.response.start,
// проходящего через примитив отправки.
func LoggingMiddleware(logger *Logger) types.Middleware {
	return func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc, next types.Handler) error {
		var mu sync.Mutex
		var status *int

		wrappedSend := func(ctx context.Context, msg types.Message) error {
			if msg.Type == types.MessageHTTPResponseStart {
				if code, ok := msg.Status.(int); ok {
					mu.Lock()
					status = &code
					mu.Unlock()
				}
			}
			return send(ctx, msg)
		}

		err := next(ctx, scope, receive, wrappedSend)

		if logger.shouldLog(scope, err == nil) {
			// Запись создается синхронно (контекст и спан еще живы),
			// а доставляется асинхронно
			mu.Lock()
			entry := logger.createLogEntry(ctx, scope, status, err)
			mu.Unlock()

			if logger.asyncProcessor != nil {
				logger.asyncProcessor.Process(context.Background(), func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("Паника в промежуточном слое логирования: %v", r)
						}
					}()
					logger.logEntry(entry)
				})
			} else {
				logger.logEntry(entry)
			}
		}

		return err
	}
}

// NewKafkaLogger создает новый логгер Kafka (обратная совместимость)
// Устарело: Используйте NewLogger с LogDestinationKafka вместо этого
func NewKafkaLogger(config LoggingConfig) *Logger {
	config.Destination = LogDestinationKafka
	logger, err := NewLogger(config)
	if err != nil {
		log.Printf("Не удалось создать логгер Kafka: %v", err)
		return &Logger{config: config}
	}
	return logger
}
