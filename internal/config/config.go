package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// StoreConfig holds the backing store coordinates.
type StoreConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DB       int    `json:"db"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// LogConfig holds logging sink settings.
type LogConfig struct {
	File         string `json:"file"`
	Level        string `json:"level"`
	ConsoleLevel string `json:"consoleLevel"`
	FileLevel    string `json:"fileLevel"`
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Store StoreConfig `json:"store"`
	Log   LogConfig   `json:"log"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Host: "127.0.0.1",
			Port: 6379,
			DB:   0,
		},
		Log: LogConfig{
			File:         "app.log",
			Level:        "debug",
			ConsoleLevel: "debug",
			FileLevel:    "info",
		},
	}
}

// Profile selects which configuration file to load.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileProduction  Profile = "production"
)

// ActiveProfile returns the profile selected by APP_ENV; anything other than
// "production" is treated as development.
func ActiveProfile() Profile {
	if os.Getenv("APP_ENV") == "production" {
		return ProfileProduction
	}
	return ProfileDevelopment
}

// Load reads configuration for the given profile. It tries
// config.<profile>.json first and, for the development profile, falls back to
// config.json when the profile-specific file is absent. A missing file is not
// an error; defaults apply. Env vars overlay the result.
func Load(profile Profile) (Config, error) {
	cfg := Default()

	paths := []string{fmt.Sprintf("config.%s.json", profile)}
	if profile == ProfileDevelopment {
		paths = append(paths, "config.json")
	}

	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		break
	}

	FromEnv(&cfg)
	return cfg, nil
}
