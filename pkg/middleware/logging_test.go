package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tracing-gateway/pkg/types"
)

// MockLogWriter - это мок-реализация LogWriter для тестирования
type MockLogWriter struct {
	mock.Mock
	entries []LogEntry
}

func (m *MockLogWriter) Write(entry LogEntry) error {
	args := m.Called(entry)
	m.entries = append(m.entries, entry)
	return args.Error(0)
}

func (m *MockLogWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLogWriter) Flush() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLogWriter) GetEntries() []LogEntry {
	return m.entries
}

func logTestScope() *types.Scope {
	return &types.Scope{
		Type:   types.ScopeHTTP,
		Method: "GET",
		Scheme: "http",
		Path:   "/api/time",
		Server: &types.Addr{Host: "localhost", Port: 8080},
		Client: &types.Addr{Host: "127.0.0.1", Port: 54321},
		Headers: []types.HeaderPair{
			types.Header("host", "localhost"),
			types.Header("user-agent", "test-agent"),
		},
	}
}

func TestDefaultLoggingConfig(t *testing.T) {
	config := DefaultLoggingConfig()

	assert.True(t, config.Enabled)
	assert.Equal(t, LogLevelInfo, config.Level)
	assert.Equal(t, LogFormatJSON, config.Format)
	assert.Equal(t, LogDestinationStdout, config.Destination)
	assert.False(t, config.LogSuccessOnly)
	assert.Equal(t, 1000, config.BufferSize)
	assert.Equal(t, 5*time.Second, config.FlushInterval)
	assert.Equal(t, "tracing-gateway", config.ServiceName)
	assert.NotNil(t, config.ExtraFields)
}

func TestNewKafkaLogWriter(t *testing.T) {
	tests := []struct {
		name        string
		config      LoggingConfig
		expectError bool
		errorMsg    string
	}{
		{
			name: "валидная конфигурация",
			config: LoggingConfig{
				KafkaBrokers:  []string{"localhost:9092"},
				Topic:         "access-log",
				BufferSize:    100,
				FlushInterval: time.Second,
			},
			expectError: false,
		},
		{
			name: "отсутствуют брокеры",
			config: LoggingConfig{
				Topic: "access-log",
			},
			expectError: true,
			errorMsg:    "не настроены брокеры kafka",
		},
		{
			name: "отсутствует тема",
			config: LoggingConfig{
				KafkaBrokers: []string{"localhost:9092"},
			},
			expectError: true,
			errorMsg:    "не настроена тема kafka",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer, err := NewKafkaLogWriter(tt.config)

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, writer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, writer)
				assert.NotNil(t, writer.writer)

				writer.Close()
			}
		})
	}
}

func TestStdoutLogWriter(t *testing.T) {
	config := LoggingConfig{
		Format: LogFormatJSON,
	}

	writer := NewStdoutLogWriter(config)
	assert.NotNil(t, writer)

	status := 200
	entry := LogEntry{
		RequestID: "test-123",
		Path:      "/api/echo",
		Transport: types.ScopeHTTP,
		Timestamp: time.Now(),
		Status:    &status,
		Success:   true,
		Level:     LogLevelInfo,
	}

	err := writer.Write(entry)
	assert.NoError(t, err)

	// Тест текстового формата
	config.Format = LogFormatText
	writer = NewStdoutLogWriter(config)
	err = writer.Write(entry)
	assert.NoError(t, err)

	// Тест close и flush (должны быть пустыми операциями)
	assert.NoError(t, writer.Close())
	assert.NoError(t, writer.Flush())
}

func TestLogger_shouldLog(t *testing.T) {
	tests := []struct {
		name      string
		config    LoggingConfig
		path      string
		success   bool
		shouldLog bool
	}{
		{
			name:      "отключенный логгер",
			config:    LoggingConfig{Enabled: false},
			path:      "/api/time",
			success:   true,
			shouldLog: false,
		},
		{
			name: "только успешные - успешный случай",
			config: LoggingConfig{
				Enabled:        true,
				LogSuccessOnly: true,
			},
			path:      "/api/time",
			success:   true,
			shouldLog: true,
		},
		{
			name: "только успешные - случай с ошибкой",
			config: LoggingConfig{
				Enabled:        true,
				LogSuccessOnly: true,
			},
			path:      "/api/time",
			success:   false,
			shouldLog: false,
		},
		{
			name: "включенные пути - включен",
			config: LoggingConfig{
				Enabled:      true,
				IncludePaths: []string{"/api/time", "/api/echo"},
			},
			path:      "/api/time",
			success:   true,
			shouldLog: true,
		},
		{
			name: "включенные пути - не включен",
			config: LoggingConfig{
				Enabled:      true,
				IncludePaths: []string{"/api/echo", "/api/status"},
			},
			path:      "/api/time",
			success:   true,
			shouldLog: false,
		},
		{
			name: "исключенные пути - исключен",
			config: LoggingConfig{
				Enabled:      true,
				ExcludePaths: []string{"/health", "/metrics"},
			},
			path:      "/health",
			success:   true,
			shouldLog: false,
		},
		{
			name: "исключенные пути - не исключен",
			config: LoggingConfig{
				Enabled:      true,
				ExcludePaths: []string{"/health", "/metrics"},
			},
			path:      "/api/time",
			success:   true,
			shouldLog: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &Logger{config: tt.config}
			scope := logTestScope()
			scope.Path = tt.path
			result := logger.shouldLog(scope, tt.success)
			assert.Equal(t, tt.shouldLog, result)
		})
	}
}

func TestLogger_createLogEntry_WithMockClock(t *testing.T) {
	// Используем мок-часы для детерминированного тестирования
	fixedTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	mockClock := types.NewMockClock(fixedTime)

	config := LoggingConfig{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		ExtraFields:    map[string]string{"env": "test"},
	}

	logger := &Logger{
		config: config,
		clock:  mockClock,
	}

	scope := logTestScope()
	info := types.NewConnInfoWithClock(mockClock)
	ctx := types.WithConnInfo(context.Background(), info)

	// Продвигаем часы для симуляции длительности запроса
	mockClock.Advance(100 * time.Millisecond)

	okStatus := 200
	failStatus := 502

	tests := []struct {
		name     string
		status   *int
		err      error
		expected func(entry LogEntry)
	}{
		{
			name:   "успешный запрос",
			status: &okStatus,
			err:    nil,
			expected: func(entry LogEntry) {
				assert.True(t, entry.Success)
				assert.Equal(t, LogLevelInfo, entry.Level)
				assert.Nil(t, entry.ErrorMsg)
				assert.Equal(t, 200, *entry.Status)
				assert.Equal(t, int64(100), entry.Duration) // 100мс в мок-часах
			},
		},
		{
			name:   "запрос с ошибкой приложения",
			status: nil,
			err:    errors.New("тестовая ошибка"),
			expected: func(entry LogEntry) {
				assert.False(t, entry.Success)
				assert.Equal(t, LogLevelError, entry.Level)
				assert.NotNil(t, entry.ErrorMsg)
				assert.Equal(t, "тестовая ошибка", *entry.ErrorMsg)
			},
		},
		{
			name:   "ответ с серверной ошибкой",
			status: &failStatus,
			err:    nil,
			expected: func(entry LogEntry) {
				assert.False(t, entry.Success)
				assert.Equal(t, LogLevelWarn, entry.Level)
				assert.Equal(t, 502, *entry.Status)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := logger.createLogEntry(ctx, scope, tt.status, tt.err)

			// Общие проверки
			assert.Equal(t, info.RequestID, entry.RequestID)
			assert.Equal(t, scope.Method, entry.Method)
			assert.Equal(t, scope.Path, entry.Path)
			assert.Equal(t, scope.Type, entry.Transport)
			assert.Equal(t, "127.0.0.1:54321", entry.RemoteAddr)
			assert.Equal(t, "test-agent", entry.UserAgent)
			assert.Equal(t, config.ServiceName, entry.ServiceName)
			assert.Equal(t, config.ServiceVersion, entry.ServiceVersion)
			assert.Equal(t, fixedTime.Add(100*time.Millisecond), entry.Timestamp)
			assert.Contains(t, entry.Headers, "host")
			assert.Contains(t, entry.ExtraFields, "env")

			// Специфичные для теста проверки
			tt.expected(entry)
		})
	}
}

func TestLoggingMiddleware_WithMockAsyncProcessor(t *testing.T) {
	mockWriter := &MockLogWriter{}
	mockWriter.On("Write", mock.AnythingOfType("LogEntry")).Return(nil)

	mockAsyncProcessor := NewMockAsyncProcessor()
	mockClock := types.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	config := LoggingConfig{
		Enabled:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
	}

	logger := &Logger{
		config:         config,
		writer:         mockWriter,
		asyncProcessor: mockAsyncProcessor,
		clock:          mockClock,
	}

	mw := LoggingMiddleware(logger)

	var sentStatus interface{}
	send := func(ctx context.Context, msg types.Message) error {
		if msg.Type == types.MessageHTTPResponseStart {
			sentStatus = msg.Status
		}
		return nil
	}

	next := func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return send(ctx, types.Message{Type: types.MessageHTTPResponseStart, Status: 200})
	}

	ctx := types.WithConnInfo(context.Background(), types.NewConnInfoWithClock(mockClock))
	err := mw(ctx, logTestScope(), nil, send, next)
	require.NoError(t, err)

	// Сообщение дошло до нижележащего примитива
	assert.Equal(t, 200, sentStatus)

	// Запись поставлена в асинхронную обработку
	assert.Equal(t, 1, mockAsyncProcessor.GetProcessedFunctionCount())

	mockAsyncProcessor.ExecuteProcessedFunctions()

	mockWriter.AssertCalled(t, "Write", mock.AnythingOfType("LogEntry"))
	require.Len(t, mockWriter.GetEntries(), 1)

	entry := mockWriter.GetEntries()[0]
	require.NotNil(t, entry.Status)
	assert.Equal(t, 200, *entry.Status)
	assert.Equal(t, "/api/time", entry.Path)
}

func TestLoggingMiddleware_WithError_MockAsyncProcessor(t *testing.T) {
	mockWriter := &MockLogWriter{}
	mockWriter.On("Write", mock.AnythingOfType("LogEntry")).Return(nil)

	mockAsyncProcessor := NewMockAsyncProcessor()
	mockClock := types.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	config := LoggingConfig{
		Enabled:        true,
		LogSuccessOnly: false, // Логируем и ошибки
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
	}

	logger := &Logger{
		config:         config,
		writer:         mockWriter,
		asyncProcessor: mockAsyncProcessor,
		clock:          mockClock,
	}

	mw := LoggingMiddleware(logger)

	expectedError := errors.New("test error")
	next := func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return expectedError
	}

	err := mw(context.Background(), logTestScope(), nil, nil, next)

	assert.Error(t, err)
	assert.Equal(t, expectedError, err)

	assert.Equal(t, 1, mockAsyncProcessor.GetProcessedFunctionCount())

	mockAsyncProcessor.ExecuteProcessedFunctions()

	mockWriter.AssertCalled(t, "Write", mock.AnythingOfType("LogEntry"))
	require.Len(t, mockWriter.GetEntries(), 1)
	assert.False(t, mockWriter.GetEntries()[0].Success)
}

func TestLoggingMiddleware_FilteredOut_MockAsyncProcessor(t *testing.T) {
	mockWriter := &MockLogWriter{}
	mockAsyncProcessor := NewMockAsyncProcessor()

	config := LoggingConfig{
		Enabled:        true,
		ExcludePaths:   []string{"/api/time"},
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
	}

	logger := &Logger{
		config:         config,
		writer:         mockWriter,
		asyncProcessor: mockAsyncProcessor,
		clock:          types.GlobalClock,
	}

	mw := LoggingMiddleware(logger)

	next := func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return nil
	}

	err := mw(context.Background(), logTestScope(), nil, nil, next)
	assert.NoError(t, err)

	assert.Equal(t, 0, mockAsyncProcessor.GetProcessedFunctionCount())
	mockWriter.AssertNotCalled(t, "Write", mock.AnythingOfType("LogEntry"))
}

func TestLogger_Close(t *testing.T) {
	mockWriter := &MockLogWriter{}
	mockWriter.On("Close").Return(nil)

	mockAsyncProcessor := NewMockAsyncProcessor()

	logger := &Logger{
		writer:         mockWriter,
		asyncProcessor: mockAsyncProcessor,
	}

	err := logger.Close()
	assert.NoError(t, err)
	mockWriter.AssertCalled(t, "Close")
}

func TestLogger_Flush(t *testing.T) {
	mockWriter := &MockLogWriter{}
	mockWriter.On("Flush").Return(nil)

	logger := &Logger{
		writer: mockWriter,
	}

	err := logger.Flush()
	assert.NoError(t, err)
	mockWriter.AssertCalled(t, "Flush")
}

func TestNewLoggerWithDependencies(t *testing.T) {
	tests := []struct {
		name        string
		config      LoggingConfig
		expectError bool
	}{
		{
			name: "disabled logger",
			config: LoggingConfig{
				Enabled: false,
			},
			expectError: false,
		},
		{
			name: "stdout logger",
			config: LoggingConfig{
				Enabled:     true,
				Destination: LogDestinationStdout,
			},
			expectError: false,
		},
		{
			name: "kafka logger - valid config",
			config: LoggingConfig{
				Enabled:      true,
				Destination:  LogDestinationKafka,
				KafkaBrokers: []string{"localhost:9092"},
				Topic:        "access-log",
			},
			expectError: false,
		},
		{
			name: "kafka logger - invalid config",
			config: LoggingConfig{
				Enabled:     true,
				Destination: LogDestinationKafka,
				// Missing brokers and topic
			},
			expectError: true,
		},
		{
			name: "unsupported destination",
			config: LoggingConfig{
				Enabled:     true,
				Destination: "unsupported",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAsyncProcessor := NewMockAsyncProcessor()
			mockClock := types.NewMockClock(time.Now())

			logger, err := NewLoggerWithDependencies(tt.config, mockAsyncProcessor, mockClock)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)

				if logger.writer != nil {
					logger.Close()
				}
			}
		})
	}
}

func TestLogEntry_JSON(t *testing.T) {
	status := 200
	entry := LogEntry{
		RequestID:      "test-123",
		TraceID:        "0af7651916cd43dd8448eb211c80319c",
		SpanID:         "b7ad6b7169203331",
		Method:         "GET",
		Path:           "/api/echo",
		Transport:      types.ScopeHTTP,
		RemoteAddr:     "127.0.0.1:54321",
		UserAgent:      "test-agent",
		Timestamp:      time.Now(),
		Duration:       100,
		Status:         &status,
		Success:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Level:          LogLevelInfo,
		Headers:        map[string]string{"host": "localhost"},
		ExtraFields:    map[string]string{"env": "test"},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var unmarshaled LogEntry
	err = json.Unmarshal(data, &unmarshaled)
	require.NoError(t, err)

	assert.Equal(t, entry.RequestID, unmarshaled.RequestID)
	assert.Equal(t, entry.TraceID, unmarshaled.TraceID)
	assert.Equal(t, entry.Path, unmarshaled.Path)
	assert.Equal(t, entry.Transport, unmarshaled.Transport)
	assert.Equal(t, *entry.Status, *unmarshaled.Status)
	assert.Equal(t, entry.Success, unmarshaled.Success)
	assert.Equal(t, entry.Level, unmarshaled.Level)
}

func TestKafkaLogWriter_Write_Uninitialized(t *testing.T) {
	writer := &KafkaLogWriter{
		config: LoggingConfig{Format: LogFormatJSON},
		writer: nil,
	}

	entry := LogEntry{
		RequestID: "test-123",
		Path:      "/api/echo",
		Transport: types.ScopeHTTP,
		Success:   true,
		Level:     LogLevelInfo,
	}

	err := writer.Write(entry)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "писатель kafka не инициализирован")
}

// Benchmark tests
func BenchmarkLoggingMiddleware_WithMockAsyncProcessor(b *testing.B) {
	mockWriter := &MockLogWriter{}
	mockWriter.On("Write", mock.AnythingOfType("LogEntry")).Return(nil)

	mockAsyncProcessor := NewMockAsyncProcessor()
	mockClock := types.NewMockClock(time.Now())

	config := LoggingConfig{
		Enabled:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
	}

	logger := &Logger{
		config:         config,
		writer:         mockWriter,
		asyncProcessor: mockAsyncProcessor,
		clock:          mockClock,
	}

	mw := LoggingMiddleware(logger)
	scope := logTestScope()

	next := func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return nil
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		ctx := types.WithConnInfo(context.Background(), types.NewConnInfoWithClock(mockClock))
		mw(ctx, scope, nil, nil, next)
	}
}
