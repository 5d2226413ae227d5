package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppName string
	Env     string

	APIBaseURL string
	SocketURL  string

	AccessToken   string
	RefreshToken  string
	LoginEmail    string
	LoginPassword string

	RequestTimeout       time.Duration
	ReconnectMaxAttempts int

	AdapterAddr string
	DebugRoutes bool

	AMQPURL         string
	AMQPExchange    string
	AuditRoutingKey string

	OTLPEndpoint string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName: getEnv("APP_NAME", "chat-client"),
		Env:     getEnv("APP_ENV", "development"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:3000/api"),
		SocketURL:  getEnv("SOCKET_URL", "ws://localhost:3000/ws"),

		AccessToken:   os.Getenv("ACCESS_TOKEN"),
		RefreshToken:  os.Getenv("REFRESH_TOKEN"),
		LoginEmail:    os.Getenv("LOGIN_EMAIL"),
		LoginPassword: os.Getenv("LOGIN_PASSWORD"),

		RequestTimeout:       getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		ReconnectMaxAttempts: getEnvAsInt("RECONNECT_MAX_ATTEMPTS", 10),

		AdapterAddr: getEnv("ADAPTER_ADDR", "127.0.0.1:8090"),
		DebugRoutes: getEnvAsBool("DEBUG_ROUTES", false),

		AMQPURL:         os.Getenv("AMQP_URL"),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "chat.client.events"),
		AuditRoutingKey: getEnv("AUDIT_ROUTING_KEY", "audit.session"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := checkURL("API_BASE_URL", cfg.APIBaseURL, "http", "https"); err != nil {
		return nil, err
	}
	if err := checkURL("SOCKET_URL", cfg.SocketURL, "ws", "wss"); err != nil {
		return nil, err
	}
	if cfg.AccessToken == "" && (cfg.LoginEmail == "" || cfg.LoginPassword == "") {
		return nil, fmt.Errorf("ACCESS_TOKEN or LOGIN_EMAIL and LOGIN_PASSWORD are required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return cfg, nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: expected %v url, got %q", key, schemes, raw)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
