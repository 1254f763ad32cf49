package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/responder"
	"github.com/cwrk-planet/chat-service/pkg/logger"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // chat-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

func (l Logging) ToLoggerConfig() logger.Config {
	return logger.Config{
		Service:   l.Service,
		Version:   l.Version,
		Env:       logger.Env(l.Env),
		Backend:   logger.Backend(l.Backend),
		Debug:     l.Debug,
		AddSource: l.AddSource,
	}
}

type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

func (p Postgres) ToPoolConfig() postgres.Config {
	return postgres.Config{
		DSN:               p.DSN,
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
		ApplicationName:   p.ApplicationName,
	}
}

type Responder struct {
	EchoDelay    time.Duration `yaml:"echoDelay"`    // задержка эхо-ответа
	AITimeout    time.Duration `yaml:"aiTimeout"`    // лимит одного обращения к модели
	ApologyText  string        `yaml:"apologyText"`  // ответ при сбое модели
	HistoryLimit int           `yaml:"historyLimit"` // сколько сообщений уходит в контекст
	Ark          Ark           `yaml:"ark"`
}

type Ark struct {
	// ключ и модель приходят из окружения: ARK_API_KEY, ARK_MODEL
	BaseURL string `yaml:"baseURL"`
	Region  string `yaml:"region"`
}

func (r Responder) ToResponderConfig() responder.Config {
	return responder.Config{
		EchoDelay:    r.EchoDelay,
		AITimeout:    r.AITimeout,
		ApologyText:  r.ApologyText,
		HistoryLimit: r.HistoryLimit,
		Ark: responder.ArkConfig{
			APIKey:  strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			Model:   strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL: r.Ark.BaseURL,
			Region:  r.Ark.Region,
		},
	}
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Postgres  Postgres  `yaml:"postgres"`
	Responder Responder `yaml:"responder"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "chat-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Responder.EchoDelay <= 0 {
		c.Responder.EchoDelay = 1500 * time.Millisecond
	}
	if c.Responder.AITimeout <= 0 {
		c.Responder.AITimeout = 30 * time.Second
	}
	if c.Responder.HistoryLimit <= 0 {
		c.Responder.HistoryLimit = 10
	}
	if c.Responder.ApologyText == "" {
		c.Responder.ApologyText = "Извините, сейчас не получается ответить. Попробуйте ещё раз чуть позже."
	}
	if c.Responder.Ark.BaseURL == "" {
		c.Responder.Ark.BaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}
	if c.Responder.Ark.Region == "" {
		c.Responder.Ark.Region = "cn-beijing"
	}
	return nil
}
