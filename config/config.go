package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int64       `json:"port" yaml:"port"`
	LogLevel    string      `json:"log_level" yaml:"log_level"`
	Storage     string      `json:"storage" yaml:"storage"`
	RedisServer RedisServer `json:"redis_server" yaml:"redis_server"`
	Engine      Engine      `json:"engine" yaml:"engine"`
	Relay       Relay       `json:"relay" yaml:"relay"`
}

type RedisServer struct {
	Addr     string `json:"addr" yaml:"addr"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// Engine holds the timing of input collection.
type Engine struct {
	PollInterval      Duration `json:"poll_interval" yaml:"poll_interval"`
	GracePeriod       Duration `json:"grace_period" yaml:"grace_period"`
	SessionExpiration Duration `json:"session_expiration" yaml:"session_expiration"`
	ValueExpiration   Duration `json:"value_expiration" yaml:"value_expiration"`
}

// Relay describes what the relay platform can render.
type Relay struct {
	// MaxBodyLength splits longer message bodies into continuation messages.
	MaxBodyLength int `json:"max_body_length" yaml:"max_body_length"`
	// NativeChoices renders option lists as structured options instead of text.
	NativeChoices bool `json:"native_choices" yaml:"native_choices"`
}

// Duration accepts "5s" style strings or integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q, err: %w", v, err)
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(v)
	case int:
		d.Duration = time.Duration(v)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Port:     8080,
		LogLevel: "info",
		Storage:  "redis",
		Engine: Engine{
			PollInterval:      Duration{5 * time.Second},
			GracePeriod:       Duration{time.Second},
			SessionExpiration: Duration{5 * time.Minute},
			ValueExpiration:   Duration{time.Hour},
		},
		Relay: Relay{
			MaxBodyLength: 2000,
			NativeChoices: true,
		},
	}
}

// LoadConfig loads the configuration from a file. Files ending in .yaml or
// .yml are decoded as YAML, everything else as JSON.
func LoadConfig(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("fail to open config file %s, err: %w", file, err)
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			fmt.Println("fail to close file", err)
		}
	}(f)
	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("fail to decode config file %s, err: %w", file, err)
		}
	default:
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("fail to decode config file %s, err: %w", file, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s, err: %w", file, err)
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", c.Port)
	}
	switch c.Storage {
	case "redis":
		if c.RedisServer.Addr == "" {
			return fmt.Errorf("redis_server.addr is required for redis storage")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.Engine.PollInterval.Duration <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	if c.Relay.MaxBodyLength < 0 {
		return fmt.Errorf("relay.max_body_length must not be negative")
	}
	return nil
}

// LogLvl maps log_level to a gommon level. Unknown names mean info.
func (c Config) LogLvl() log.Lvl {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	}
	return log.INFO
}
