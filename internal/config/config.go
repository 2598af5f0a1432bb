// Package config loads service configuration from a YAML file with
// environment overrides, and the assessment blueprint from its own
// structure file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Blueprint BlueprintConfig `mapstructure:"blueprint"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Intake    IntakeConfig    `mapstructure:"intake"`
}

// IntakeConfig locates the drop directory bundle manifests arrive in.
type IntakeConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArtifactsConfig locates the directory chore artifacts are written to.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	MinConns int32  `mapstructure:"min_conns"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN builds the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// KafkaConfig holds the event bus settings. When Enabled is false the service
// runs on the in-memory broker instead.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	BundleTopic string   `mapstructure:"bundle_topic"`
	TaskTopic   string   `mapstructure:"task_topic"`
	ChoreTopic  string   `mapstructure:"chore_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

// RunnerConfig bounds the background job runner.
type RunnerConfig struct {
	Workers       int     `mapstructure:"workers"`
	QueueSize     int     `mapstructure:"queue_size"`
	MaxRetries    uint64  `mapstructure:"max_retries"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// TelemetryConfig holds the OTLP exporter settings.
type TelemetryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ServiceName      string  `mapstructure:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio"`
}

// BlueprintConfig points at the assessment structure file.
type BlueprintConfig struct {
	Path string `mapstructure:"path"`
}

// Load reads the configuration file at path (when non-empty) and applies
// MARKFLOW_-prefixed environment overrides, e.g. MARKFLOW_DATABASE_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "markflow")
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.bundle_topic", "markflow.bundles")
	v.SetDefault("kafka.task_topic", "markflow.tasks")
	v.SetDefault("kafka.chore_topic", "markflow.chores")
	v.SetDefault("kafka.group_id", "markflow-server")
	v.SetDefault("runner.workers", 4)
	v.SetDefault("runner.queue_size", 64)
	v.SetDefault("runner.max_retries", 3)
	v.SetDefault("runner.rate_per_second", 10)
	v.SetDefault("runner.burst", 20)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "markflow")
	v.SetDefault("telemetry.sampling_ratio", 0.05)
	v.SetDefault("blueprint.path", "blueprint.yaml")
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("intake.dir", "intake")

	v.SetEnvPrefix("MARKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
