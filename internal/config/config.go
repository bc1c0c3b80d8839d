package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full client configuration. Values come from an optional YAML
// file, overridden by environment variables.
type Config struct {
	Server struct {
		WSURL   string `yaml:"ws_url"`   // websocket event channel
		APIURL  string `yaml:"api_url"`  // pull-style query API
		NATSURL string `yaml:"nats_url"` // optional LAN transport, overrides websocket when set
	} `yaml:"server"`

	Client struct {
		Flavor      string `yaml:"flavor"` // display | buzzer | admin
		GameID      string `yaml:"game_id"`
		TeamID      string `yaml:"team_id"`
		BuzzerAlias string `yaml:"buzzer_alias"`
	} `yaml:"client"`

	Local struct {
		ListenAddr string `yaml:"listen_addr"` // local state endpoint, empty disables
	} `yaml:"local"`

	Timer struct {
		TickIntervalMs int `yaml:"tick_interval_ms"`
	} `yaml:"timer"`
}

// Default returns the built-in defaults.
func Default() Config {
	var cfg Config
	cfg.Server.WSURL = "ws://localhost:8080/ws"
	cfg.Server.APIURL = "http://localhost:8080"
	cfg.Client.Flavor = "display"
	cfg.Local.ListenAddr = "127.0.0.1:9090"
	cfg.Timer.TickIntervalMs = 20
	return cfg
}

// Load reads the YAML file at path (missing file is not an error) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Server.WSURL = getEnv("BUZZDECK_WS_URL", cfg.Server.WSURL)
	cfg.Server.APIURL = getEnv("BUZZDECK_API_URL", cfg.Server.APIURL)
	cfg.Server.NATSURL = getEnv("BUZZDECK_NATS_URL", cfg.Server.NATSURL)
	cfg.Client.Flavor = getEnv("BUZZDECK_FLAVOR", cfg.Client.Flavor)
	cfg.Client.GameID = getEnv("BUZZDECK_GAME_ID", cfg.Client.GameID)
	cfg.Client.TeamID = getEnv("BUZZDECK_TEAM_ID", cfg.Client.TeamID)
	cfg.Client.BuzzerAlias = getEnv("BUZZDECK_BUZZER_ALIAS", cfg.Client.BuzzerAlias)
	cfg.Local.ListenAddr = getEnv("BUZZDECK_LISTEN_ADDR", cfg.Local.ListenAddr)
	cfg.Timer.TickIntervalMs = getEnvAsInt("BUZZDECK_TICK_INTERVAL_MS", cfg.Timer.TickIntervalMs)

	if cfg.Client.GameID == "" {
		return cfg, fmt.Errorf("game id is required (BUZZDECK_GAME_ID or client.game_id)")
	}
	return cfg, nil
}

// TickInterval returns the local countdown recompute interval.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Timer.TickIntervalMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
