// Package config loads service settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8083" validate:"required,numeric"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"support-chat" validate:"required"`
	Environment string `envconfig:"ENVIRONMENT" default:"development" validate:"required"`
	DebugRoutes bool   `envconfig:"DEBUG_ROUTES" default:"false"`

	DB       DB
	RabbitMQ RabbitMQ
	Auth     Auth
	Tracing  Tracing
	Logger   Logger
	Crisis   Crisis
	Presence Presence
}

type DB struct {
	DSN          string `envconfig:"DATABASE_URL" validate:"required"`
	MaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"20" validate:"gte=1"`
}

type RabbitMQ struct {
	URL             string `envconfig:"RABBITMQ_URL"`
	Exchange        string `envconfig:"RABBITMQ_EXCHANGE" default:"support.events" validate:"required"`
	BusExchange     string `envconfig:"RABBITMQ_BUS_EXCHANGE" default:"support.groups" validate:"required"`
	AuditRoutingKey string `envconfig:"AUDIT_ROUTING_KEY" default:"audit.support-chat" validate:"required"`
	BusBuffer       int    `envconfig:"BUS_BUFFER" default:"64" validate:"gte=1"`
}

type Auth struct {
	JWTSecret string `envconfig:"JWT_SECRET" validate:"required,min=16"`
	Issuer    string `envconfig:"JWT_ISSUER"`
}

type Tracing struct {
	Endpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type Logger struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Directory  string `envconfig:"LOG_DIR"`
	MaxSize    int    `envconfig:"LOG_MAX_SIZE_MB" default:"50" validate:"gte=1"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5" validate:"gte=0"`
	MaxAge     int    `envconfig:"LOG_MAX_AGE_DAYS" default:"14" validate:"gte=0"`
	Compress   bool   `envconfig:"LOG_COMPRESS" default:"true"`
}

type Crisis struct {
	Keywords          []string      `envconfig:"CRISIS_KEYWORDS" default:"suicide,kill myself,end it all,want to die,self harm,hurt myself,no reason to live"`
	Resources         []string      `envconfig:"CRISIS_RESOURCES" default:"If you are in immediate danger call your local emergency number,988 Suicide & Crisis Lifeline (US): call or text 988"`
	EmergencyRouteKey string        `envconfig:"CRISIS_EMERGENCY_ROUTING_KEY" default:"crisis.emergency" validate:"required"`
	ScanTimeout       time.Duration `envconfig:"CRISIS_SCAN_TIMEOUT" default:"10s" validate:"gt=0"`
}

type Presence struct {
	Heartbeat time.Duration `envconfig:"PRESENCE_HEARTBEAT" default:"30s" validate:"gt=0"`
	Window    time.Duration `envconfig:"PRESENCE_WINDOW" default:"45s" validate:"gt=0,gtfield=Heartbeat"`
	History   int           `envconfig:"HISTORY_WINDOW" default:"50" validate:"gte=1,lte=200"`
}

var validate = validator.New()

// Load reads .env when present, then the environment, and validates the result.
func Load(envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
