package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracing-gateway/pkg/dispatcher"
	"tracing-gateway/pkg/middleware"
	"tracing-gateway/pkg/observability"
	"tracing-gateway/pkg/server"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Access log configuration
	logConfig := middleware.LoggingConfig{
		KafkaBrokers:   []string{envOr("KAFKA_BROKERS", "localhost:9092")},
		Topic:          "gateway-access-log",
		Enabled:        true,
		Level:          middleware.LogLevelInfo,
		Format:         middleware.LogFormatJSON,
		Destination:    middleware.LogDestination(envOr("LOG_DESTINATION", string(middleware.LogDestinationStdout))),
		LogSuccessOnly: false, // Log both success and error requests
		BufferSize:     1000,
		FlushInterval:  5 * time.Second,
		ServiceName:    "tracing-gateway",
		ServiceVersion: "1.0.0",
		ExtraFields: map[string]string{
			"environment": envOr("ENVIRONMENT", "development"),
		},
		ExcludePaths: []string{"/health"},
	}

	logger, err := middleware.NewLogger(logConfig)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	// Tracing configuration
	tracer, err := observability.NewTracer(observability.TracingConfig{
		Enabled:     os.Getenv("TRACING_DISABLED") == "",
		ServiceName: "tracing-gateway",
		Endpoint:    envOr("OTLP_ENDPOINT", "localhost:4317"),
		Insecure:    true,
		SampleRate:  1.0,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Close()

	// Load TLS configuration
	var tlsConfig *tls.Config
	certFile := envOr("TLS_CERT_FILE", "./certs/server.crt")
	keyFile := envOr("TLS_KEY_FILE", "./certs/server.key")

	if _, err := os.Stat(certFile); err == nil {
		if _, err := os.Stat(keyFile); err == nil {
			cert, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				log.Printf("Warning: Failed to load TLS certificates: %v", err)
				log.Println("TLS services will be disabled. Run 'make certs' to create certificates.")
			} else {
				tlsConfig = &tls.Config{
					Certificates: []tls.Certificate{cert},
				}
				log.Printf("TLS certificates loaded from %s and %s", certFile, keyFile)
			}
		}
	} else {
		log.Println("TLS certificates not found. TLS services will be disabled.")
	}

	// Every connection passes through tracing, metrics and access logging
	d := dispatcher.NewDispatcher()
	d.SetMiddleware(middleware.NewChain(
		tracer.Middleware(),
		observability.MetricsMiddleware(),
		middleware.LoggingMiddleware(logger),
	))
	server.RegisterDefaultApps(d)

	config := server.Config{
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		WSAddr:       envOr("WS_ADDR", ":8082"),
		MetricsAddr:  envOr("METRICS_ADDR", ":9090"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		TLSConfig:    tlsConfig,
		ServiceName:  "tracing-gateway",
		Version:      "1.0.0",
	}
	if tlsConfig != nil {
		config.HTTPSAddr = envOr("HTTPS_ADDR", ":8443")
		config.WSSAddr = envOr("WSS_ADDR", ":8445")
	}

	srv := server.NewServer(config, d)
	d.RegisterApp("/health", srv.Health().App())

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server started successfully")
	log.Println("Available endpoints:")
	log.Printf("  HTTP:               http://localhost%s/api/", config.HTTPAddr)
	if tlsConfig != nil {
		log.Printf("  HTTPS:              https://localhost%s/api/", config.HTTPSAddr)
	} else {
		log.Println("  HTTPS:              [disabled - no certificates]")
	}
	log.Printf("  WebSocket:          ws://localhost%s/api/ws", config.WSAddr)
	if tlsConfig != nil {
		log.Printf("  Secure WebSocket:   wss://localhost%s/api/ws", config.WSSAddr)
	} else {
		log.Println("  Secure WebSocket:   [disabled - no certificates]")
	}
	log.Printf("  Metrics:            http://localhost%s/metrics", config.MetricsAddr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}
