package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del cliente de chat y del bridge.
type Config struct {
	BackendBaseURL       string        `env:"BACKEND_BASE_URL" envDefault:"http://localhost:8080"`
	AuthToken            string        `env:"AUTH_TOKEN"`
	AuthCookieName       string        `env:"AUTH_COOKIE_NAME" envDefault:"Authorization"`
	StreamConnectTimeout time.Duration `env:"STREAM_CONNECT_TIMEOUT" envDefault:"10s"`
	HTTPPort             string        `env:"HTTP_PORT" envDefault:"8090"`
	JWTSecret            string        `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int           `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	ServiceUserID        string        `env:"BACKEND_SERVICE_USER_ID"`
	HistorySource        string        `env:"HISTORY_SOURCE" envDefault:"http"`
	HistoryCacheTTL      time.Duration `env:"HISTORY_CACHE_TTL" envDefault:"30s"`
	DatabaseURL          string        `env:"DATABASE_URL"`
	RedisAddr            string        `env:"REDIS_ADDR"`
	RedisPassword        string        `env:"REDIS_PASSWORD"`
	RedisDB              int           `env:"REDIS_DB" envDefault:"0"`
	SendRateWindow       time.Duration `env:"SEND_RATE_WINDOW" envDefault:"1m"`
	SendRateMax          int           `env:"SEND_RATE_MAX" envDefault:"20"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UsesPostgresHistory indica si el historial se lee directo de la base del backend.
func (c *Config) UsesPostgresHistory() bool {
	return c.HistorySource == "postgres" && c.DatabaseURL != ""
}
