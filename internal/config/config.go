// Package config reads the server environment and the protocol parameters.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sudo-init-do/taskmarket/internal/db"
)

const (
	DriverMemory   = "memory"
	DriverPebble   = "pebble"
	DriverPostgres = "postgres"
)

var ErrMissingSecret = errors.New("config: JWT_SECRET is required")

type Config struct {
	Port        string
	JWTSecret   string
	StoreDriver string
	PebbleDir   string
	DB          db.Config

	KafkaBrokers []string
	KafkaTopic   string

	Params Params
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg := Config{
		Port:        getenv("PORT", "8080"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		StoreDriver: getenv("STORE_DRIVER", DriverMemory),
		PebbleDir:   getenv("PEBBLE_DIR", "./data"),
		DB: db.Config{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     os.Getenv("DB_NAME"),
		},
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "taskmarket.events"),
		Params:       DefaultParams(),
	}

	if cfg.JWTSecret == "" {
		return cfg, ErrMissingSecret
	}
	switch cfg.StoreDriver {
	case DriverMemory, DriverPebble, DriverPostgres:
	default:
		return cfg, fmt.Errorf("config: unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if path := os.Getenv("PARAMS_FILE"); path != "" {
		p, err := LoadParams(path)
		if err != nil {
			return cfg, err
		}
		cfg.Params = p
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
