package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         App         `mapstructure:"app"`
	AI          AI          `mapstructure:"ai"`
	Classifier  Classifier  `mapstructure:"classifier"`
	Recommender Recommender `mapstructure:"recommender"`
	Scheduler   Scheduler   `mapstructure:"scheduler"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	EmbeddingDims  int32  `mapstructure:"embedding_dims"`
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Classifier holds topic classifier configuration
type Classifier struct {
	WeightsPath string `mapstructure:"weights_path"`
}

// Recommender holds recommendation backend selection
type Recommender struct {
	Primary  string `mapstructure:"primary"`
	Fallback string `mapstructure:"fallback"`
}

// Scheduler holds day rollover scheduler configuration
type Scheduler struct {
	TickInterval string `mapstructure:"tick_interval"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".horizon")
		viper.SetConfigType("yaml")
	}

	// Set defaults
	setDefaults()

	// Bind environment variables
	bindEnvironmentVariables()

	// Enable automatic environment variable reading
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into struct
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply post-processing
	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".horizon-data")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.embedding_dims", 384)
	viper.SetDefault("ai.openai.model", "gpt-4o-mini")

	// Classifier defaults
	viper.SetDefault("classifier.weights_path", "lr_weights.json")

	// Recommender defaults
	viper.SetDefault("recommender.primary", "gemini")
	viper.SetDefault("recommender.fallback", "openai")

	// Scheduler defaults
	viper.SetDefault("scheduler.tick_interval", "1m")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	// Gemini API key - support multiple formats
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	// OpenAI API key
	bindEnvKeys("ai.openai.api_key", []string{
		"OPENAI_API_KEY",
	})

	// General settings
	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"HORIZON_DEBUG",
	})

	bindEnvKeys("app.data_dir", []string{
		"HORIZON_DATA_DIR",
	})

	bindEnvKeys("classifier.weights_path", []string{
		"HORIZON_WEIGHTS_PATH",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	// Expand paths
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Classifier.WeightsPath != "" {
		config.Classifier.WeightsPath = expandPath(config.Classifier.WeightsPath)
	}

	// Validate durations
	if config.Scheduler.TickInterval != "" {
		if _, err := time.ParseDuration(config.Scheduler.TickInterval); err != nil {
			return fmt.Errorf("invalid duration for scheduler.tick_interval: %s", config.Scheduler.TickInterval)
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures required configuration is present
func validateConfig(config *Config) error {
	var errors []string

	switch config.Recommender.Primary {
	case "gemini", "openai":
	default:
		errors = append(errors, fmt.Sprintf("Unknown primary recommender: %s. Supported: gemini, openai", config.Recommender.Primary))
	}
	switch config.Recommender.Fallback {
	case "", "none", "gemini", "openai":
	default:
		errors = append(errors, fmt.Sprintf("Unknown fallback recommender: %s. Supported: gemini, openai, none", config.Recommender.Fallback))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Interval parses the scheduler tick interval, defaulting to one minute.
func (s Scheduler) Interval() time.Duration {
	d, err := time.ParseDuration(s.TickInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// Convenience getters for commonly used configuration values
func GetApp() App                 { return Get().App }
func GetAI() AI                   { return Get().AI }
func GetClassifier() Classifier   { return Get().Classifier }
func GetRecommender() Recommender { return Get().Recommender }
func GetScheduler() Scheduler     { return Get().Scheduler }

// Specific convenience getters for frequently accessed values
func GetGeminiAPIKey() string { return Get().AI.Gemini.APIKey }
func GetGeminiModel() string  { return Get().AI.Gemini.Model }
func GetOpenAIAPIKey() string { return Get().AI.OpenAI.APIKey }
func GetDataDir() string      { return Get().App.DataDir }
func IsDebugMode() bool       { return Get().App.Debug }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
