// Package config loads the service configuration from a YAML file with
// environment variable overrides for deployment secrets.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Agent      AgentConfig      `yaml:"agent"`
	Log        LogConfig        `yaml:"log"`
}

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the analytical PostgreSQL database.
type DatabaseConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	SSLMode    string `yaml:"ssl_mode"`
	SchemaName string `yaml:"schema_name"`
	PoolMax    int    `yaml:"pool_max"`
}

// DSN assembles the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	if d.PoolMax > 0 {
		q.Set("pool_max_conns", strconv.Itoa(d.PoolMax))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// CheckpointConfig selects the checkpoint store backend.
type CheckpointConfig struct {
	// Backend is one of "memory", "redis", "postgres" or "sqlite".
	Backend string `yaml:"backend"`
	// RedisAddr is the redis host:port for the redis backend.
	RedisAddr string `yaml:"redis_addr"`
	// RedisPassword is the optional redis auth password.
	RedisPassword string `yaml:"redis_password"`
	// SqlitePath is the database file for the sqlite backend.
	SqlitePath string `yaml:"sqlite_path"`
	// Table is the checkpoint table name for the postgres backend.
	Table string `yaml:"table"`
}

// AgentConfig tunes retrieval and the correction loop.
type AgentConfig struct {
	MaxCorrections int `yaml:"max_corrections"`
	SchemaTopK     int `yaml:"schema_top_k"`
	FewShotTopK    int `yaml:"few_shot_top_k"`
	MemoryTopK     int `yaml:"memory_top_k"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file or override says
// otherwise.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Host:       "localhost",
			Port:       5432,
			SSLMode:    "prefer",
			SchemaName: "public",
			PoolMax:    20,
		},
		LLM: LLMConfig{},
		Checkpoint: CheckpointConfig{
			Backend: "memory",
			Table:   "checkpoints",
		},
		Agent: AgentConfig{
			MaxCorrections: 3,
			SchemaTopK:     5,
			FewShotTopK:    3,
			MemoryTopK:     3,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets deployments inject secrets without writing them to the
// config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("DATANEXUS_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DATANEXUS_REDIS_PASSWORD"); v != "" {
		c.Checkpoint.RedisPassword = v
	}
	if v := os.Getenv("DATANEXUS_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) validate() error {
	switch c.Checkpoint.Backend {
	case "memory", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Agent.MaxCorrections < 0 {
		return fmt.Errorf("agent.max_corrections must not be negative")
	}
	return nil
}
