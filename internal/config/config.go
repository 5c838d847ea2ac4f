package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreBigQuery = "bigquery"
)

// Gateway backends.
const (
	GatewayGemini = "gemini" // Gemini API, artifacts in the Files API
	GatewayVertex = "vertex" // Vertex AI, artifacts in a GCS bucket
)

// Config holds application configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Store        StoreConfig        `mapstructure:"store"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Server       ServerConfig       `mapstructure:"server"`
	Notion       NotionConfig       `mapstructure:"notion"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

// StoreConfig selects the persistence backend. DSN is used by sqlite and
// postgres, ProjectID and Dataset by bigquery.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	DSN       string `mapstructure:"dsn"`
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
}

// GatewayConfig holds remote classifier settings.
type GatewayConfig struct {
	Backend         string        `mapstructure:"backend"`
	APIKey          string        `mapstructure:"api_key"`
	Project         string        `mapstructure:"project"`
	Location        string        `mapstructure:"location"`
	Model           string        `mapstructure:"model"`
	Bucket          string        `mapstructure:"bucket"`
	Prefix          string        `mapstructure:"prefix"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
}

// submitCalls is the number of remote calls made to submit one batch:
// the input upload and the job registration.
const submitCalls = 2

// WorstCaseSubmit is the longest a submission can take when every attempt
// of every remote call runs into RequestTimeout.
func (g GatewayConfig) WorstCaseSubmit() time.Duration {
	return submitCalls * time.Duration(g.MaxRetries+1) * g.RequestTimeout
}

type OrchestratorConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	PageSize          int           `mapstructure:"page_size"`
	OrphanGracePeriod time.Duration `mapstructure:"orphan_grace_period"`
	ReleaseOnFailure  bool          `mapstructure:"release_on_failure"`
}

type ScheduleConfig struct {
	FormInterval time.Duration `mapstructure:"form_interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Workers      int           `mapstructure:"workers"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotionConfig enables the Notion export when both fields are set.
type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

// Enabled reports whether the Notion export is configured.
func (n NotionConfig) Enabled() bool {
	return n.Token != "" && n.DatabaseID != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.dsn", "categorizer.db")
	v.SetDefault("store.project_id", "")
	v.SetDefault("store.dataset", "categorizer")

	v.SetDefault("gateway.backend", GatewayGemini)
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.project", "")
	v.SetDefault("gateway.location", "us-central1")
	v.SetDefault("gateway.model", "gemini-2.5-flash")
	v.SetDefault("gateway.bucket", "")
	v.SetDefault("gateway.prefix", "categorizer")
	v.SetDefault("gateway.request_timeout", 60*time.Second)
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.max_output_tokens", 20)

	v.SetDefault("orchestrator.batch_size", 100)
	v.SetDefault("orchestrator.page_size", 100)
	v.SetDefault("orchestrator.orphan_grace_period", 15*time.Minute)
	v.SetDefault("orchestrator.release_on_failure", false)

	v.SetDefault("schedule.form_interval", 10*time.Second)
	v.SetDefault("schedule.poll_interval", 30*time.Second)
	v.SetDefault("schedule.workers", 2)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
}

// Load reads configuration from defaults, an optional YAML file and env.
// Env var overrides use prefix CATEGORIZER_, e.g. CATEGORIZER_STORE_BACKEND.
// The file is CATEGORIZER_CONFIG when set, otherwise ./categorizer.yaml if present.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	cfgPath := os.Getenv("CATEGORIZER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("categorizer")
	}

	v.SetEnvPrefix("CATEGORIZER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("Load: reading config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("Load: unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	return c, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for backend %s", c.Store.Backend)
		}
	case StoreBigQuery:
		if c.Store.ProjectID == "" || c.Store.Dataset == "" {
			return fmt.Errorf("store.project_id and store.dataset are required for backend bigquery")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	switch c.Gateway.Backend {
	case GatewayGemini:
	case GatewayVertex:
		if c.Gateway.Project == "" || c.Gateway.Bucket == "" {
			return fmt.Errorf("gateway.project and gateway.bucket are required for backend vertex")
		}
	default:
		return fmt.Errorf("unknown gateway.backend %q", c.Gateway.Backend)
	}
	if c.Gateway.Model == "" {
		return fmt.Errorf("gateway.model is required")
	}
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway.request_timeout must be positive, got %s", c.Gateway.RequestTimeout)
	}
	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("gateway.max_retries must not be negative, got %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.MaxOutputTokens <= 0 {
		return fmt.Errorf("gateway.max_output_tokens must be positive, got %d", c.Gateway.MaxOutputTokens)
	}

	if c.Orchestrator.BatchSize <= 0 {
		return fmt.Errorf("orchestrator.batch_size must be positive, got %d", c.Orchestrator.BatchSize)
	}
	if c.Orchestrator.PageSize <= 0 {
		return fmt.Errorf("orchestrator.page_size must be positive, got %d", c.Orchestrator.PageSize)
	}
	if worst := c.Gateway.WorstCaseSubmit(); c.Orchestrator.OrphanGracePeriod <= worst {
		return fmt.Errorf("orchestrator.orphan_grace_period must exceed the worst-case submission time %s, got %s",
			worst, c.Orchestrator.OrphanGracePeriod)
	}

	if c.Schedule.FormInterval <= 0 || c.Schedule.PollInterval <= 0 {
		return fmt.Errorf("schedule intervals must be positive, got form=%s poll=%s", c.Schedule.FormInterval, c.Schedule.PollInterval)
	}
	if c.Schedule.Workers <= 0 {
		return fmt.Errorf("schedule.workers must be positive, got %d", c.Schedule.Workers)
	}

	if (c.Notion.Token == "") != (c.Notion.DatabaseID == "") {
		return fmt.Errorf("notion.token and notion.database_id must be set together")
	}
	return nil
}
