package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds every parameter of the process. Topology comes from the YAML
// file; secrets are taken from the environment and never from disk.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	HTTP     HTTPConfig     `yaml:"http"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Secrets  Secrets        `yaml:"-"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type GatewayConfig struct {
	URL string `yaml:"url"`
}

// Secrets are environment-only (LK_ prefix).
type Secrets struct {
	JWTSecret      string        `envconfig:"JWT_SECRET" required:"true"`
	GatewayKey     string        `envconfig:"GATEWAY_KEY"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Database.Host == "" || cfg.RabbitMQ.Host == "" {
		return nil, fmt.Errorf("invalid config: missing database/rabbitmq host")
	}
	if cfg.RabbitMQ.VHost == "" {
		cfg.RabbitMQ.VHost = "/"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 3000
	}
	if err := envconfig.Process("LK", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("read secrets from env: %w", err)
	}
	return cfg, nil
}

// FindConfig probes the conventional locations for a config file.
func FindConfig() (string, error) {
	for _, p := range []string{"config.yaml", "deploy/config.example.yaml", "config.example.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", os.ErrNotExist
}
