package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `json:"environment" yaml:"environment"`
	Server      struct {
		Host            string   `json:"host" yaml:"host"`
		Port            int      `json:"port" yaml:"port"`
		ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
	} `json:"server" yaml:"server"`
	MongoDB struct {
		URI         string `json:"uri" yaml:"uri"`
		Database    string `json:"database" yaml:"database"`
		MaxPoolSize uint64 `json:"maxPoolSize" yaml:"maxPoolSize"`
		MinPoolSize uint64 `json:"minPoolSize" yaml:"minPoolSize"`
	} `json:"mongodb" yaml:"mongodb"`
	Redis struct {
		Addr     string `json:"addr" yaml:"addr"`
		Username string `json:"username" yaml:"username"`
		Password string `json:"password" yaml:"password"`
		DB       int    `json:"db" yaml:"db"`
	} `json:"redis" yaml:"redis"`
	Cache struct {
		// Backend is "memory" or "redis".
		Backend string `json:"backend" yaml:"backend"`
	} `json:"cache" yaml:"cache"`
	NATS struct {
		URL           string `json:"url" yaml:"url"`
		SubjectPrefix string `json:"subjectPrefix" yaml:"subjectPrefix"`
	} `json:"nats" yaml:"nats"`
	EventBus struct {
		Enabled bool `json:"enabled" yaml:"enabled"`
	} `json:"eventbus" yaml:"eventbus"`
	Leaderboard struct {
		TopN         int `json:"topN" yaml:"topN"`
		DefaultLimit int `json:"defaultLimit" yaml:"defaultLimit"`
	} `json:"leaderboard" yaml:"leaderboard"`
	Rotation struct {
		Enabled bool     `json:"enabled" yaml:"enabled"`
		LockTTL Duration `json:"lockTtl" yaml:"lockTtl"`
	} `json:"rotation" yaml:"rotation"`
	RateLimit struct {
		RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`
		Burst             int     `json:"burst" yaml:"burst"`
	} `json:"rateLimit" yaml:"rateLimit"`
	Frontend struct {
		URL string `json:"url" yaml:"url"`
	} `json:"frontend" yaml:"frontend"`
}

// Duration accepts Go duration strings ("30s", "5m") in both JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.set(node.Value)
}

func (d *Duration) set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Load reads configs/config.<env>.yaml, falling back to config.<env>.json.
// ${VAR} references are replaced with environment values before parsing.
func Load(env string) (*Config, error) {
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "configs"
	}

	var (
		cfg  Config
		errs []error
	)
	for _, ext := range []string{"yaml", "yml", "json"} {
		configPath := filepath.Join(configDir, fmt.Sprintf("config.%s.%s", env, ext))
		data, err := os.ReadFile(configPath)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		expanded := []byte(expandEnvVars(string(data)))
		if ext == "json" {
			err = json.Unmarshal(expanded, &cfg)
		} else {
			err = yaml.Unmarshal(expanded, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}

		cfg.Environment = env
		cfg.applyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
		return &cfg, nil
	}
	return nil, fmt.Errorf("failed to read config for environment %q: %w", env, errors.Join(errs...))
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(15 * time.Second)
	}
	if c.MongoDB.Database == "" {
		c.MongoDB.Database = "leaderboard"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "leaderboard.updates"
	}
	if c.Leaderboard.TopN == 0 {
		c.Leaderboard.TopN = 50
	}
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 20
	}
	if c.Rotation.LockTTL == 0 {
		c.Rotation.LockTTL = Duration(5 * time.Minute)
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

func (c *Config) Validate() error {
	if c.MongoDB.URI == "" {
		return errors.New("mongodb.uri is required")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Leaderboard.TopN < 1 {
		return errors.New("leaderboard.topN must be positive")
	}
	if c.Leaderboard.DefaultLimit < 1 {
		return errors.New("leaderboard.defaultLimit must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SharedCache reports whether the ranking cache is visible to every instance.
func (c *Config) SharedCache() bool {
	return c.Cache.Backend == "redis"
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

// LoadDotEnv copies variables from .env files (default ./.env) into the
// process environment without overriding ones already set. Missing files are
// not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func GetEnv() string {
	env := os.Getenv("LEADERBOARD_ENV")
	if env == "" {
		return "dev"
	}
	return env
}
