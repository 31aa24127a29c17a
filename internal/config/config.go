// Package config loads service configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"authgate.org/internal/auth"
)

// Server holds configuration for the authorization server.
type Server struct {
	Addr          string
	DatabaseURL   string
	Secret        string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SweepInterval time.Duration
	RateLimitRPS  float64
	RateBurst     int
	Bootstrap     []auth.Seed
}

// Resource holds configuration for the resource server.
type Resource struct {
	Addr         string
	AuthURL      string
	Timeout      time.Duration
	RateLimitRPS float64
	RateBurst    int
}

type serverEnv struct {
	Addr          string        `env:"AUTHGATE_ADDR"           envDefault:":8001"`
	DatabaseURL   string        `env:"AUTHGATE_PG_DSN"`
	Secret        string        `env:"AUTHGATE_SECRET"`
	Issuer        string        `env:"AUTHGATE_ISSUER"         envDefault:"authgate"`
	AccessTTL     time.Duration `env:"AUTHGATE_ACCESS_TTL"     envDefault:"5m"`
	RefreshTTL    time.Duration `env:"AUTHGATE_REFRESH_TTL"    envDefault:"30m"`
	SweepInterval time.Duration `env:"AUTHGATE_SWEEP_INTERVAL" envDefault:"1m"`
	RateLimitRPS  float64       `env:"AUTHGATE_RATE_RPS"       envDefault:"50"`
	RateBurst     int           `env:"AUTHGATE_RATE_BURST"     envDefault:"100"`
	BootstrapJSON string        `env:"AUTHGATE_BOOTSTRAP_USERS"`
}

type resourceEnv struct {
	Addr         string        `env:"RESOURCE_ADDR"         envDefault:":8000"`
	AuthURL      string        `env:"RESOURCE_AUTH_URL"     envDefault:"http://localhost:8001"`
	Timeout      time.Duration `env:"RESOURCE_AUTH_TIMEOUT" envDefault:"5s"`
	RateLimitRPS float64       `env:"RESOURCE_RATE_RPS"     envDefault:"50"`
	RateBurst    int           `env:"RESOURCE_RATE_BURST"   envDefault:"100"`
}

// LoadServer reads authorization server settings from the environment.
func LoadServer() (Server, error) {
	var raw serverEnv
	if err := env.Parse(&raw); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if raw.Secret == "" {
		return Server{}, fmt.Errorf("AUTHGATE_SECRET is required")
	}

	var seeds []auth.Seed
	if raw.BootstrapJSON != "" {
		if err := json.Unmarshal([]byte(raw.BootstrapJSON), &seeds); err != nil {
			return Server{}, fmt.Errorf("parse AUTHGATE_BOOTSTRAP_USERS: %w", err)
		}
	}

	return Server{
		Addr:          raw.Addr,
		DatabaseURL:   raw.DatabaseURL,
		Secret:        raw.Secret,
		Issuer:        raw.Issuer,
		AccessTTL:     raw.AccessTTL,
		RefreshTTL:    raw.RefreshTTL,
		SweepInterval: raw.SweepInterval,
		RateLimitRPS:  raw.RateLimitRPS,
		RateBurst:     raw.RateBurst,
		Bootstrap:     seeds,
	}, nil
}

// LoadResource reads resource server settings from the environment.
func LoadResource() (Resource, error) {
	var raw resourceEnv
	if err := env.Parse(&raw); err != nil {
		return Resource{}, fmt.Errorf("parse env: %w", err)
	}
	return Resource{
		Addr:         raw.Addr,
		AuthURL:      raw.AuthURL,
		Timeout:      raw.Timeout,
		RateLimitRPS: raw.RateLimitRPS,
		RateBurst:    raw.RateBurst,
	}, nil
}
