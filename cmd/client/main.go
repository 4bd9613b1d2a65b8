package main

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
)

// ClientConfig содержит конфигурацию клиента
type ClientConfig struct {
	Host    string
	Port    int
	WSPort  int
	TLS     bool
	Timeout time.Duration
	Debug   bool
}

// Client представляет клиент шлюза
type Client struct {
	config ClientConfig
	client *http.Client
}

// HistoryManager управляет историей команд
type HistoryManager struct {
	historyFile string
	commands    []string
	maxSize     int
}

// NewHistoryManager создает новый менеджер истории
func NewHistoryManager() *HistoryManager {
	homeDir, _ := os.UserHomeDir()
	historyFile := filepath.Join(homeDir, ".gateway_client_history")

	hm := &HistoryManager{
		historyFile: historyFile,
		commands:    make([]string, 0),
		maxSize:     1000, // Максимум 1000 команд в истории
	}

	hm.loadHistory()
	return hm
}

// loadHistory загружает историю из файла
func (hm *HistoryManager) loadHistory() {
	file, err := os.Open(hm.historyFile)
	if err != nil {
		return // Файл не существует, это нормально
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			hm.commands = append(hm.commands, line)
		}
	}
}

// saveHistory сохраняет историю в файл
func (hm *HistoryManager) saveHistory() error {
	file, err := os.Create(hm.historyFile)
	if err != nil {
		return err
	}
	defer file.Close()

	// Сохраняем только последние maxSize команд
	start := 0
	if len(hm.commands) > hm.maxSize {
		start = len(hm.commands) - hm.maxSize
	}

	for i := start; i < len(hm.commands); i++ {
		if _, err := fmt.Fprintln(file, hm.commands[i]); err != nil {
			return err
		}
	}

	return nil
}

// addCommand добавляет команду в историю
func (hm *HistoryManager) addCommand(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}

	// Избегаем дублирования последней команды
	if len(hm.commands) > 0 && hm.commands[len(hm.commands)-1] == command {
		return
	}

	hm.commands = append(hm.commands, command)

	// Ограничиваем размер истории
	if len(hm.commands) > hm.maxSize {
		hm.commands = hm.commands[1:]
	}
}

// getCommands возвращает все команды для автодополнения
func (hm *HistoryManager) getCommands() []string {
	return hm.commands
}

// CommandCompleter предоставляет автодополнение команд
type CommandCompleter struct {
	commands []string
}

// NewCommandCompleter создает новый автодополнитель команд
func NewCommandCompleter() *CommandCompleter {
	return &CommandCompleter{
		commands: []string{
			"get", "post", "echo", "status", "time", "ws",
			"health", "debug", "help", "quit", "exit", "history", "clear",
		},
	}
}

// Do выполняет автодополнение
func (cc *CommandCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	lineStr := string(line)
	fields := strings.Fields(lineStr)

	if len(fields) == 0 || (len(fields) == 1 && pos == len(line)) {
		// Автодополнение команд
		prefix := ""
		if len(fields) == 1 {
			prefix = fields[0]
		}

		var suggestions [][]rune
		for _, cmd := range cc.commands {
			if strings.HasPrefix(cmd, prefix) {
				suggestions = append(suggestions, []rune(cmd[len(prefix):]))
			}
		}
		return suggestions, len(prefix)
	}

	return nil, 0
}

// NewClient создает новый клиент
func NewClient(config ClientConfig) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // Только для тестирования
		},
	}

	return &Client{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
	}
}

// baseURL возвращает базовый URL HTTP шлюза
func (c *Client) baseURL() string {
	scheme := "http"
	if c.config.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.config.Host, c.config.Port)
}

// Get выполняет GET запрос к шлюзу
func (c *Client) Get(path string) (int, []byte, error) {
	return c.do("GET", path, nil)
}

// Post выполняет POST запрос к шлюзу
func (c *Client) Post(path string, body []byte) (int, []byte, error) {
	return c.do("POST", path, body)
}

func (c *Client) do(method, path string, body []byte) (int, []byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequest(method, c.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}

	if c.config.Debug {
		fmt.Printf("🔍 DEBUG Request: %s %s%s\n", method, c.baseURL(), path)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.config.Debug {
		fmt.Printf("🔍 DEBUG Response [%d]: %s\n", resp.StatusCode, string(data))
	}

	return resp.StatusCode, data, nil
}

// RunWebSocket открывает интерактивную WebSocket сессию:
// строки со stdin уходят кадрами, ответы печатаются на экран
func (c *Client) RunWebSocket(path string, rl *readline.Instance) error {
	scheme := "ws"
	if c.config.TLS {
		scheme = "wss"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.config.Host, c.config.WSPort),
		Path:   path,
	}

	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	fmt.Printf("🔌 Connected to %s (empty line to leave session)\n", u.String())

	rl.SetPrompt("ws> ")
	defer rl.SetPrompt("gateway> ")

	for {
		line, err := rl.Readline()
		if err != nil || strings.TrimSpace(line) == "" {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("failed to send frame: %w", err)
		}

		conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}
		fmt.Printf("📨 %s\n", string(data))
	}
}

// printHTTPResponse выводит ответ в удобном формате
func printHTTPResponse(status int, body []byte, err error) {
	if err != nil {
		fmt.Printf("❌ Error: %v\n", err)
		return
	}

	marker := "✅"
	if status >= 400 {
		marker = "❌"
	}
	fmt.Printf("%s HTTP %d\n", marker, status)

	if len(body) == 0 {
		return
	}

	// Пытаемся красиво напечатать JSON
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "   ", "  ") == nil {
		fmt.Printf("   %s\n", pretty.String())
	} else {
		fmt.Printf("   %s\n", string(body))
	}
}

// showHistory показывает историю команд
func showHistory(history *HistoryManager) {
	commands := history.getCommands()
	if len(commands) == 0 {
		fmt.Println("📜 History is empty")
		return
	}

	fmt.Printf("📜 Command History (last %d commands):\n", len(commands))
	start := 0
	if len(commands) > 20 {
		start = len(commands) - 20
		fmt.Printf("   ... (showing last 20 of %d commands)\n", len(commands))
	}

	for i := start; i < len(commands); i++ {
		fmt.Printf("   %3d: %s\n", i+1, commands[i])
	}
}

func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  get <path>               - GET request to the gateway")
	fmt.Println("  post <path> <body>       - POST request with body")
	fmt.Println("  echo <message>           - POST message to /api/echo")
	fmt.Println("  status [code]            - Probe /api/status with a status code")
	fmt.Println("  time                     - Get server time")
	fmt.Println("  health                   - Get gateway health")
	fmt.Println("  ws [path]                - Interactive WebSocket session")
	fmt.Println("  debug                    - Toggle debug mode")
	fmt.Println("  history                  - Show command history")
	fmt.Println("  clear                    - Clear screen")
	fmt.Println("  help                     - Show this help")
	fmt.Println("  quit                     - Exit")
}

// runInteractiveMode запускает интерактивный режим
func runInteractiveMode(client *Client) {
	fmt.Println("🚀 Interactive Gateway Client")
	fmt.Println("Features:")
	fmt.Println("  • Command history navigation (↑/↓ arrows)")
	fmt.Println("  • Tab completion for commands")
	fmt.Println("  • Persistent history across sessions")
	fmt.Println()
	printHelp()
	fmt.Println()

	// Инициализируем менеджер истории
	history := NewHistoryManager()
	defer func() {
		if err := history.saveHistory(); err != nil {
			fmt.Printf("Warning: Failed to save history: %v\n", err)
		}
	}()

	// Настраиваем readline
	completer := NewCommandCompleter()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "gateway> ",
		HistoryFile:       history.historyFile,
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Printf("Failed to initialize readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					fmt.Println("\n👋 Goodbye! (Use 'quit' or Ctrl+D to exit)")
					break
				}
				continue
			} else if err == io.EOF {
				fmt.Println("\n👋 Goodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		history.addCommand(line)

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		switch command {
		case "quit", "exit", "q":
			fmt.Println("👋 Goodbye!")
			return

		case "help", "h":
			printHelp()

		case "history":
			showHistory(history)

		case "clear":
			fmt.Print("\033[2J\033[H") // ANSI escape codes для очистки экрана

		case "debug":
			client.config.Debug = !client.config.Debug
			fmt.Printf("🔍 Debug mode: %v\n", client.config.Debug)

		case "get":
			if len(parts) < 2 {
				fmt.Println("Usage: get <path>")
				continue
			}
			status, body, err := client.Get(parts[1])
			printHTTPResponse(status, body, err)

		case "post":
			if len(parts) < 2 {
				fmt.Println("Usage: post <path> [body]")
				continue
			}
			body := strings.Join(parts[2:], " ")
			status, data, err := client.Post(parts[1], []byte(body))
			printHTTPResponse(status, data, err)

		case "echo":
			if len(parts) < 2 {
				fmt.Println("Usage: echo <message>")
				continue
			}
			message := strings.Join(parts[1:], " ")
			status, data, err := client.Post("/api/echo", []byte(message))
			printHTTPResponse(status, data, err)

		case "status":
			path := "/api/status"
			if len(parts) > 1 {
				path += "?code=" + parts[1]
			}
			status, data, err := client.Get(path)
			printHTTPResponse(status, data, err)

		case "time":
			status, data, err := client.Get("/api/time")
			printHTTPResponse(status, data, err)

		case "health":
			status, data, err := client.Get("/health")
			printHTTPResponse(status, data, err)

		case "ws":
			path := "/api/ws"
			if len(parts) > 1 {
				path = parts[1]
			}
			if err := client.RunWebSocket(path, rl); err != nil {
				fmt.Printf("❌ WebSocket error: %v\n", err)
			}

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
		fmt.Println()
	}
}

// runBenchmark запускает бенчмарк
func runBenchmark(client *Client, requests int, concurrent int) {
	fmt.Printf("🏃 Running benchmark: %d requests with %d concurrent workers\n", requests, concurrent)

	start := time.Now()

	// Канал для задач
	jobs := make(chan int, requests)
	results := make(chan error, requests)

	// Запускаем воркеры
	for w := 0; w < concurrent; w++ {
		go func() {
			for range jobs {
				_, _, err := client.Get("/api/time")
				results <- err
			}
		}()
	}

	// Отправляем задачи
	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)

	// Собираем результаты
	var errors int
	for i := 0; i < requests; i++ {
		if err := <-results; err != nil {
			errors++
		}
	}

	duration := time.Since(start)
	rps := float64(requests) / duration.Seconds()

	fmt.Printf("📊 Benchmark Results:\n")
	fmt.Printf("   Total requests: %d\n", requests)
	fmt.Printf("   Successful: %d\n", requests-errors)
	fmt.Printf("   Errors: %d\n", errors)
	fmt.Printf("   Duration: %v\n", duration)
	fmt.Printf("   Requests/sec: %.2f\n", rps)
}

func main() {
	var (
		host        = flag.String("host", "localhost", "Server host")
		port        = flag.Int("port", 8080, "HTTP port of the gateway")
		wsPort      = flag.Int("ws-port", 8082, "WebSocket port of the gateway")
		useTLS      = flag.Bool("tls", false, "Use TLS/SSL")
		timeout     = flag.Duration("timeout", 30*time.Second, "Request timeout")
		path        = flag.String("path", "", "Path to request (non-interactive)")
		method      = flag.String("method", "GET", "HTTP method for -path")
		body        = flag.String("body", "", "Request body for -path")
		interactive = flag.Bool("interactive", true, "Run in interactive mode (default)")
		benchmark   = flag.Bool("benchmark", false, "Run benchmark")
		requests    = flag.Int("requests", 1000, "Number of requests for benchmark")
		concurrent  = flag.Int("concurrent", 10, "Number of concurrent workers for benchmark")
		debug       = flag.Bool("debug", false, "Enable debug mode")
	)
	flag.Parse()

	config := ClientConfig{
		Host:    *host,
		Port:    *port,
		WSPort:  *wsPort,
		TLS:     *useTLS,
		Timeout: *timeout,
		Debug:   *debug,
	}

	client := NewClient(config)

	fmt.Printf("🔗 Gateway at %s\n", client.baseURL())

	if *benchmark {
		runBenchmark(client, *requests, *concurrent)
		return
	}

	if *path == "" && *interactive {
		runInteractiveMode(client)
		return
	}

	if *path == "" {
		fmt.Println("❌ Path is required. Use -path flag or -interactive mode.")
		fmt.Println("\nExamples:")
		fmt.Println("  # Interactive mode (default)")
		fmt.Println("  go run cmd/client/main.go")
		fmt.Println("")
		fmt.Println("  # Simple time check")
		fmt.Println("  go run cmd/client/main.go -path /api/time -interactive=false")
		fmt.Println("")
		fmt.Println("  # Echo with body")
		fmt.Println("  go run cmd/client/main.go -path /api/echo -method POST -body 'Hello' -interactive=false")
		fmt.Println("")
		fmt.Println("  # Benchmark")
		fmt.Println("  go run cmd/client/main.go -benchmark -requests 1000 -concurrent 10")
		os.Exit(1)
	}

	var status int
	var data []byte
	var err error

	switch strings.ToUpper(*method) {
	case "GET":
		status, data, err = client.Get(*path)
	case "POST":
		status, data, err = client.Post(*path, []byte(*body))
	default:
		fmt.Printf("❌ Unsupported method: %s\n", *method)
		os.Exit(1)
	}

	printHTTPResponse(status, data, err)
}
