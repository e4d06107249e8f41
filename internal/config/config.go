package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the API server. Values come from an optional
// YAML file named by CONFIG_PATH, overridden by environment variables.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`

	APIHost    string `yaml:"api_host"`
	APIPort    int    `yaml:"api_port"`
	APITitle   string `yaml:"api_title"`
	APIVersion string `yaml:"api_version"`

	ModelPath    string `yaml:"model_path"`
	ScalerPath   string `yaml:"scaler_path"`
	PreloadModel bool   `yaml:"preload_model"`

	DatabaseURL  string   `yaml:"database_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	AuditBuffer  int      `yaml:"audit_buffer"`

	// AuditMemory keeps the newest AuditMemorySize decisions in process,
	// readable through the decisions API when no database is configured
	AuditMemory     bool `yaml:"audit_memory"`
	AuditMemorySize int  `yaml:"audit_memory_size"`

	OTELEnabled     bool   `yaml:"otel_enabled"`
	OTELServiceName string `yaml:"otel_service_name"`
	WarnSampleRate  int    `yaml:"warn_sample_rate"`
}

// Default returns the settings used when nothing is configured
func Default() Config {
	return Config{
		Environment:     "development",
		LogLevel:        "INFO",
		APIHost:         "0.0.0.0",
		APIPort:         8000,
		APITitle:        "Credit Approval ML API",
		APIVersion:      "1.0.0",
		ModelPath:       "models_trained/credit_model.gob",
		ScalerPath:      "models_trained/scaler.yaml",
		KafkaTopic:      "credit.decisions",
		AuditBuffer:     256,
		AuditMemorySize: 10000,
		OTELServiceName: "credit-approval-api",
		WarnSampleRate:  1,
	}
}

// Load builds the configuration from CONFIG_PATH (if set) and the environment
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.APIHost = getEnv("API_HOST", c.APIHost)
	c.APITitle = getEnv("API_TITLE", c.APITitle)
	c.APIVersion = getEnv("API_VERSION", c.APIVersion)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.ScalerPath = getEnv("SCALER_PATH", c.ScalerPath)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.OTELServiceName = getEnv("OTEL_SERVICE_NAME", c.OTELServiceName)

	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.KafkaBrokers = splitList(v)
	}

	var err error
	if c.APIPort, err = getEnvInt("API_PORT", c.APIPort); err != nil {
		return err
	}
	if c.AuditBuffer, err = getEnvInt("AUDIT_BUFFER", c.AuditBuffer); err != nil {
		return err
	}
	if c.AuditMemorySize, err = getEnvInt("AUDIT_MEMORY_SIZE", c.AuditMemorySize); err != nil {
		return err
	}
	if c.AuditMemory, err = getEnvBool("AUDIT_MEMORY", c.AuditMemory); err != nil {
		return err
	}
	if c.WarnSampleRate, err = getEnvInt("WARN_SAMPLE_RATE", c.WarnSampleRate); err != nil {
		return err
	}
	if c.PreloadModel, err = getEnvBool("PRELOAD_MODEL", c.PreloadModel); err != nil {
		return err
	}
	if c.OTELEnabled, err = getEnvBool("OTEL_ENABLED", c.OTELEnabled); err != nil {
		return err
	}
	return nil
}

// Validate checks that the settings can start a server
func (c Config) Validate() error {
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be in 1..65535, got %d", c.APIPort)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model_path is required")
	}
	if c.ScalerPath == "" {
		return fmt.Errorf("scaler_path is required")
	}
	if c.AuditBuffer < 1 {
		return fmt.Errorf("audit_buffer must be positive, got %d", c.AuditBuffer)
	}
	if c.AuditMemory && c.AuditMemorySize < 1 {
		return fmt.Errorf("audit_memory_size must be positive, got %d", c.AuditMemorySize)
	}
	if c.WarnSampleRate < 1 {
		return fmt.Errorf("warn_sample_rate must be at least 1, got %d", c.WarnSampleRate)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("kafka_topic is required when kafka_brokers is set")
	}
	return nil
}

// IsProduction reports whether the server runs in the production environment
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Address returns the listen address
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// AuditEnabled reports whether any audit sink is configured
func (c Config) AuditEnabled() bool {
	return c.DatabaseURL != "" || len(c.KafkaBrokers) > 0 || c.AuditMemory
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
