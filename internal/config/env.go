package config

import (
	"os"
	"strconv"
)

// FromEnv overlays STORE_* and LOG_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("STORE_HOST"); v != "" {
		cfg.Store.Host = v
	}
	if v := os.Getenv("STORE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.Port = n
		}
	}
	if v := os.Getenv("STORE_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = n
		}
	}
	if v := os.Getenv("STORE_USER"); v != "" {
		cfg.Store.User = v
	}
	if v := os.Getenv("STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_LEVEL_CONSOLE"); v != "" {
		cfg.Log.ConsoleLevel = v
	}
	if v := os.Getenv("LOG_LEVEL_FILE"); v != "" {
		cfg.Log.FileLevel = v
	}
}
