package types

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Глобальный экземпляр часов - может быть заменен для тестирования
var GlobalClock Clock = &RealClock{}

// Типы scope, которые создает транспортный слой
const (
	ScopeHTTP      = "http"
	ScopeWebSocket = "websocket"
)

// MessageType помечает одно входящее или исходящее событие
type MessageType string

// Типы сообщений, проходящих через примитивы receive/send
const (
	MessageHTTPRequest       MessageType = "http.request"
	MessageHTTPResponseStart MessageType = "http.response.start"
	MessageHTTPResponseBody  MessageType = "http.response.body"
	MessageHTTPDisconnect    MessageType = "http.disconnect"

	MessageWebSocketConnect    MessageType = "websocket.connect"
	MessageWebSocketAccept     MessageType = "websocket.accept"
	MessageWebSocketReceive    MessageType = "websocket.receive"
	MessageWebSocketSend       MessageType = "websocket.send"
	MessageWebSocketClose      MessageType = "websocket.close"
	MessageWebSocketDisconnect MessageType = "websocket.disconnect"
)

// HeaderPair представляет одну пару (имя, значение) заголовка в исходной
// байтовой кодировке. Транспорт приводит имена к нижнему регистру.
type HeaderPair struct {
	Name  []byte
	Value []byte
}

// Header строит HeaderPair из строк
func Header(name, value string) HeaderPair {
	return HeaderPair{Name: []byte(name), Value: []byte(value)}
}

// Addr представляет адрес сервера или клиента
type Addr struct {
	Host string
	Port int
}

// String возвращает адрес в форме host:port
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Ошибки валидации scope. Неполный scope означает сломанную интеграцию
// транспорта, поэтому обработка завершается сразу, без попыток угадать
// значения по умолчанию.
var (
	ErrScopeMissingType   = errors.New("scope: missing type")
	ErrScopeMissingServer = errors.New("scope: missing server address")
)

// Scope содержит метаданные одного входящего запроса или соединения.
// Создается транспортом; промежуточные слои читают его, но не изменяют.
type Scope struct {
	Type        string
	Method      string
	Scheme      string
	Path        string
	RawQuery    string
	HTTPVersion string
	Server      *Addr
	Client      *Addr
	Headers     []HeaderPair
}

// Validate проверяет, что транспорт заполнил обязательные поля
func (s *Scope) Validate() error {
	if s.Type == "" {
		return ErrScopeMissingType
	}
	if s.Server == nil {
		return ErrScopeMissingServer
	}
	return nil
}

// SpanName возвращает имя корневого спана для запроса: путь или "/"
func (s *Scope) SpanName() string {
	if s.Path == "" {
		return "/"
	}
	return s.Path
}

// Message представляет одно событие, проходящее через примитивы receive/send
type Message struct {
	Type MessageType

	// Status сопровождает http.response.start. Тип оставлен открытым:
	// классификатор статусов сам приводит значение к числу и помечает
	// спан, если транспорт прислал мусор.
	Status interface{}

	Headers  []HeaderPair
	Body     []byte
	MoreBody bool

	// Текстовая и бинарная нагрузка websocket-кадров
	Text  string
	Bytes []byte

	// Code сопровождает websocket.close
	Code int
}

// ReceiveFunc возвращает следующее входящее сообщение
type ReceiveFunc func(ctx context.Context) (Message, error)

// SendFunc отправляет одно исходящее сообщение
type SendFunc func(ctx context.Context, msg Message) error

// Handler представляет приложение в соглашении с одним вызовом:
// scope и примитивы передаются вместе
type Handler func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error

// Middleware представляет функцию промежуточного слоя
type Middleware func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc, next Handler) error

// SessionFunc обрабатывает одно соединение после получения scope
type SessionFunc func(ctx context.Context, receive ReceiveFunc, send SendFunc) error

// SessionFactory представляет приложение в соглашении с двойным вызовом:
// сначала фабрика получает scope, затем возвращенная сессия - примитивы
type SessionFactory func(scope *Scope) SessionFunc

// SingleHandler приводит приложение с двойным вызовом к Handler,
// чтобы промежуточные слои работали с обоими соглашениями одинаково
func SingleHandler(factory SessionFactory) Handler {
	return func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		session := factory(scope)
		if session == nil {
			return fmt.Errorf("session factory returned nil for scope type %q", scope.Type)
		}
		return session(ctx, receive, send)
	}
}

// IDGenerator интерфейс для генерации идентификаторов запросов
type IDGenerator interface {
	Generate() string
}

// DefaultIDGenerator реализует IDGenerator с использованием crypto/rand
type DefaultIDGenerator struct{}

// Generate создает криптографически безопасный случайный ID
func (g *DefaultIDGenerator) Generate() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Запасной вариант с ID на основе времени, если crypto/rand не работает
		return GlobalClock.Now().Format("20060102150405") + "-fallback"
	}
	return hex.EncodeToString(bytes)
}

// Глобальный генератор ID - может быть заменен для тестирования
var GlobalIDGenerator IDGenerator = &DefaultIDGenerator{}

// GenerateRequestID генерирует уникальный идентификатор запроса
func GenerateRequestID() string {
	return GlobalIDGenerator.Generate()
}

// MockIDGenerator реализует IDGenerator для тестирования
type MockIDGenerator struct {
	ids []string
	idx int
}

// NewMockIDGenerator создает новый MockIDGenerator с предопределенными ID
func NewMockIDGenerator(ids ...string) *MockIDGenerator {
	return &MockIDGenerator{
		ids: ids,
		idx: 0,
	}
}

// Generate возвращает следующий предопределенный ID
func (m *MockIDGenerator) Generate() string {
	if m.idx >= len(m.ids) {
		return "mock-id-overflow"
	}
	id := m.ids[m.idx]
	m.idx++
	return id
}

// Reset сбрасывает генератор для начала с начала
func (m *MockIDGenerator) Reset() {
	m.idx = 0
}

// ConnInfo содержит изменяемое состояние одного соединения, которое
// промежуточные слои накапливают рядом с неизменяемым Scope
type ConnInfo struct {
	RequestID string
	StartTime time.Time
	clock     Clock
}

// NewConnInfo создает состояние соединения с глобальными часами
func NewConnInfo() *ConnInfo {
	return NewConnInfoWithClock(GlobalClock)
}

// NewConnInfoWithClock создает состояние соединения с определенными часами
func NewConnInfoWithClock(clock Clock) *ConnInfo {
	return &ConnInfo{
		RequestID: GenerateRequestID(),
		StartTime: clock.Now(),
		clock:     clock,
	}
}

// Duration возвращает время, прошедшее с начала запроса
func (ci *ConnInfo) Duration() time.Duration {
	if ci.clock != nil {
		return ci.clock.Since(ci.StartTime)
	}
	return time.Since(ci.StartTime)
}

type connInfoKey struct{}

// WithConnInfo кладет состояние соединения в context
func WithConnInfo(ctx context.Context, info *ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

// ConnInfoFromContext извлекает состояние соединения из context
func ConnInfoFromContext(ctx context.Context) (*ConnInfo, bool) {
	info, ok := ctx.Value(connInfoKey{}).(*ConnInfo)
	return info, ok
}
