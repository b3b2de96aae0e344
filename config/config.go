package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultSTUNURLs are the public STUN endpoints used when STUN_URLS is unset.
const DefaultSTUNURLs = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"

type Config struct {
	Host           string
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	LogLevel       string

	// RedisURL is the optional persistence connection string. Empty disables
	// the audit trail and chat history.
	RedisURL string

	ICE ICEConfig
}

type ICEConfig struct {
	STUNURLs       []string
	TURNURL        string
	TURNUsername   string
	TURNCredential string
}

func Load() (*Config, error) {
	// Parse allowed origins (comma-separated)
	origins := splitCommaSeparated(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	cfg := &Config{
		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ICE: ICEConfig{
			STUNURLs:       splitCommaSeparated(getEnv("STUN_URLS", DefaultSTUNURLs)),
			TURNURL:        strings.TrimSpace(os.Getenv("TURN_URL")),
			TURNUsername:   strings.TrimSpace(os.Getenv("TURN_USERNAME")),
			TURNCredential: strings.TrimSpace(os.Getenv("TURN_CREDENTIAL")),
		},
	}

	if _, err := cfg.ICE.Servers(); err != nil {
		return nil, fmt.Errorf("ice config: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Servers returns the validated ICE server list: one STUN entry and, when
// TURN_URL is set, one TURN entry carrying its credentials.
func (c ICEConfig) Servers() ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if len(c.STUNURLs) > 0 {
		server := webrtc.ICEServer{URLs: c.STUNURLs}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("STUN_URLS: %w", err)
		}
		servers = append(servers, server)
	}

	if c.TURNURL != "" {
		server := webrtc.ICEServer{
			URLs:       splitCommaSeparated(c.TURNURL),
			Username:   c.TURNUsername,
			Credential: c.TURNCredential,
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("TURN_URL: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
