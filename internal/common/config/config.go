package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the display binary needs at startup.
type Config struct {
	API     APIConfig
	Rabbit  RabbitConfig
	Display DisplayConfig
}

type APIConfig struct {
	BaseURL      string
	RestaurantID string
	TimeoutSec   int
}

// RabbitConfig is optional: an empty host disables status publishing.
type RabbitConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
}

type DisplayConfig struct {
	StatePath    string
	DeviceName   string
	SoundDefault bool
}

func (r RabbitConfig) Enabled() bool { return r.Host != "" }

// Load reads the two-level YAML config format used across our services.
// Supports top-level sections `api:`, `rabbitmq:` and `display:` with k:v pairs.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := &Config{}
	// Defaults
	cfg.API.TimeoutSec = 10
	cfg.Rabbit.Port = 5672
	cfg.Rabbit.VHost = "/"
	cfg.Display.StatePath = "kds-state.json"
	cfg.Display.SoundDefault = true

	var section string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
			section = strings.TrimSuffix(line, ":")
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		val = strings.Trim(val, `"'`)

		switch section {
		case "api":
			switch key {
			case "base_url":
				cfg.API.BaseURL = val
			case "restaurant_id":
				cfg.API.RestaurantID = val
			case "timeout_sec":
				cfg.API.TimeoutSec = atoi(val, 10)
			}
		case "rabbitmq":
			switch key {
			case "host":
				cfg.Rabbit.Host = val
			case "port":
				cfg.Rabbit.Port = atoi(val, 5672)
			case "user":
				cfg.Rabbit.User = val
			case "password":
				cfg.Rabbit.Password = val
			case "vhost":
				if val != "" {
					cfg.Rabbit.VHost = val
				}
			}
		case "display":
			switch key {
			case "state_path":
				cfg.Display.StatePath = val
			case "device_name":
				cfg.Display.DeviceName = val
			case "sound_default":
				cfg.Display.SoundDefault = val == "true" || val == "yes" || val == "1"
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// Basic validation
	if cfg.API.BaseURL == "" || cfg.API.RestaurantID == "" {
		return nil, fmt.Errorf("api config incomplete: base_url and restaurant_id are required")
	}
	if cfg.Rabbit.Enabled() && cfg.Rabbit.User == "" {
		return nil, fmt.Errorf("rabbitmq config incomplete: user is required when host is set")
	}
	return cfg, nil
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
