package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracing-gateway/pkg/dispatcher"
	"tracing-gateway/pkg/handlers"
	"tracing-gateway/pkg/health"
	"tracing-gateway/pkg/observability"
	"tracing-gateway/pkg/types"
)

// Server принимает HTTP и WebSocket соединения и транслирует их
// в модель scope + receive/send для диспетчера
type Server struct {
	config     Config
	dispatcher *dispatcher.Dispatcher
	health     *health.HealthService
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	servers []*http.Server
}

// Config содержит конфигурацию сервера
type Config struct {
	HTTPAddr     string
	HTTPSAddr    string
	WSAddr       string
	WSSAddr      string
	MetricsAddr  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSConfig    *tls.Config
	ServiceName  string
	Version      string
}

// NewServer создает новый экземпляр сервера
func NewServer(config Config, d *dispatcher.Dispatcher) *Server {
	if d == nil {
		d = dispatcher.NewDispatcher()
	}

	return &Server{
		config:     config,
		dispatcher: d,
		health:     health.NewHealthService(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for testing
			},
		},
	}
}

// RegisterDefaultApps регистрирует демонстрационные приложения
func RegisterDefaultApps(d *dispatcher.Dispatcher) {
	d.RegisterApp("/api/echo", handlers.EchoApp)
	d.RegisterApp("/api/time", handlers.TimeApp)
	d.RegisterApp("/api/status", handlers.StatusApp)
	d.RegisterApp("/api/slow", handlers.SlowApp(2*time.Second))
	d.RegisterApp("/api/ws", handlers.WebSocketEchoApp())
}

// RegisterApp регистрирует приложение для указанного префикса пути
func (s *Server) RegisterApp(prefix string, app types.Handler) {
	s.dispatcher.RegisterApp(prefix, app)
}

// GetDispatcher возвращает диспетчер сервера
func (s *Server) GetDispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Health возвращает сервис здоровья
func (s *Server) Health() *health.HealthService {
	return s.health
}

// Start запускает все настроенные протоколы
func (s *Server) Start() error {
	if s.config.HTTPAddr != "" {
		s.startListener("HTTP", s.config.HTTPAddr, s.httpMux(), nil)
	}
	if s.config.HTTPSAddr != "" {
		s.startListener("HTTPS", s.config.HTTPSAddr, s.httpMux(), s.config.TLSConfig)
	}
	if s.config.WSAddr != "" {
		s.startListener("WebSocket", s.config.WSAddr, s.wsMux(), nil)
	}
	if s.config.WSSAddr != "" {
		s.startListener("Secure WebSocket", s.config.WSSAddr, s.wsMux(), s.config.TLSConfig)
	}
	if s.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.startListener("Metrics", s.config.MetricsAddr, mux, nil)
	}
	return nil
}

// startListener запускает один http.Server в фоне
func (s *Server) startListener(name, addr string, handler http.Handler, tlsConfig *tls.Config) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		TLSConfig:    tlsConfig,
	}

	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()

	go func() {
		log.Printf("Starting %s server on %s", name, addr)
		var err error
		if tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("%s server error: %v", name, err)
		}
	}()
}

// Stop корректно останавливает все слушатели
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) httpMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.health.HTTPHandler())
	mux.HandleFunc("/", s.handleHTTPRequest)
	return mux
}

func (s *Server) wsMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// parseAddr разбирает "host:port" в структуру адреса
func parseAddr(hostport string) *types.Addr {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		if hostport == "" {
			return nil
		}
		return &types.Addr{Host: hostport}
	}
	port, _ := strconv.Atoi(portStr)
	return &types.Addr{Host: host, Port: port}
}

// scopeFromRequest транслирует http.Request в scope соединения.
// Имена заголовков приводятся к нижнему регистру на границе транспорта.
func scopeFromRequest(r *http.Request, scopeType, scheme string) *types.Scope {
	server := parseAddr(r.Host)
	if server != nil && server.Port == 0 {
		if scheme == "https" || scheme == "wss" {
			server.Port = 443
		} else {
			server.Port = 80
		}
	}

	scope := &types.Scope{
		Type:        scopeType,
		Method:      r.Method,
		Scheme:      scheme,
		Path:        r.URL.Path,
		RawQuery:    r.URL.RawQuery,
		HTTPVersion: fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		Server:      server,
		Client:      parseAddr(r.RemoteAddr),
	}

	for name, values := range r.Header {
		lower := strings.ToLower(name)
		for _, value := range values {
			scope.Headers = append(scope.Headers, types.Header(lower, value))
		}
	}
	scope.Headers = append(scope.Headers, types.Header("host", r.Host))

	return scope
}

const bodyChunkSize = 64 * 1024

// handleHTTPRequest обрабатывает одно HTTP соединение
func (s *Server) handleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	scope := scopeFromRequest(r, types.ScopeHTTP, scheme)
	ctx := types.WithConnInfo(r.Context(), types.NewConnInfo())

	bodyDone := false
	receive := func(ctx context.Context) (types.Message, error) {
		if bodyDone {
			// Тело исчерпано: блокируемся до разрыва соединения
			<-ctx.Done()
			return types.Message{Type: types.MessageHTTPDisconnect}, nil
		}

		buf := make([]byte, bodyChunkSize)
		n, err := r.Body.Read(buf)
		if err != nil && err != io.EOF {
			return types.Message{}, err
		}

		more := err == nil
		if !more {
			bodyDone = true
		}
		return types.Message{
			Type:     types.MessageHTTPRequest,
			Body:     buf[:n],
			MoreBody: more,
		}, nil
	}

	started := false
	send := func(ctx context.Context, msg types.Message) error {
		switch msg.Type {
		case types.MessageHTTPResponseStart:
			if started {
				return fmt.Errorf("response already started")
			}
			started = true

			for _, h := range msg.Headers {
				w.Header().Add(string(h.Name), string(h.Value))
			}

			status, ok := msg.Status.(int)
			if !ok {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			return nil

		case types.MessageHTTPResponseBody:
			if !started {
				return fmt.Errorf("response body before response start")
			}
			if _, err := w.Write(msg.Body); err != nil {
				return err
			}
			if f, ok := w.(http.Flusher); ok && msg.MoreBody {
				f.Flush()
			}
			return nil

		default:
			return fmt.Errorf("unexpected message type for http transport: %s", msg.Type)
		}
	}

	if err := s.dispatcher.Dispatch(ctx, scope, receive, send); err != nil {
		log.Printf("request failed: %v", err)
		if !started {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

// handleWebSocket обрабатывает WebSocket соединение
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	scope := scopeFromRequest(r, types.ScopeWebSocket, scheme)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	tracker := observability.NewConnectionTracker(types.ScopeWebSocket)
	tracker.OnConnect()
	defer tracker.OnDisconnect()

	ctx := types.WithConnInfo(r.Context(), types.NewConnInfo())

	// Рукопожатие выполнено до запуска приложения, поэтому первое
	// receive выдает синтетический websocket.connect
	connectSent := false
	disconnected := false
	receive := func(ctx context.Context) (types.Message, error) {
		if !connectSent {
			connectSent = true
			return types.Message{Type: types.MessageWebSocketConnect}, nil
		}
		if disconnected {
			return types.Message{Type: types.MessageWebSocketDisconnect, Code: 1006}, nil
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			disconnected = true
			code := 1005
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code = closeErr.Code
			}
			return types.Message{Type: types.MessageWebSocketDisconnect, Code: code}, nil
		}

		msg := types.Message{Type: types.MessageWebSocketReceive}
		if msgType == websocket.TextMessage {
			msg.Text = string(data)
		} else {
			msg.Bytes = data
		}
		return msg, nil
	}

	send := func(ctx context.Context, msg types.Message) error {
		switch msg.Type {
		case types.MessageWebSocketAccept:
			// Подтверждение уже неявно выполнено апгрейдом
			return nil
		case types.MessageWebSocketSend:
			if msg.Text != "" {
				return conn.WriteMessage(websocket.TextMessage, []byte(msg.Text))
			}
			return conn.WriteMessage(websocket.BinaryMessage, msg.Bytes)
		case types.MessageWebSocketClose:
			code := msg.Code
			if code == 0 {
				code = 1000
			}
			return conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, ""))
		default:
			return fmt.Errorf("unexpected message type for websocket transport: %s", msg.Type)
		}
	}

	if err := s.dispatcher.Dispatch(ctx, scope, receive, send); err != nil {
		log.Printf("websocket session failed: %v", err)
	}
}
