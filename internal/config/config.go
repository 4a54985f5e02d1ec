// Package config loads service configuration from flags, environment and an
// optional config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"treatment-journey/internal/consultation"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Journey   JourneyConfig   `mapstructure:"journey"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Report    ReportConfig    `mapstructure:"report"`
	Voice     VoiceConfig     `mapstructure:"voice"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type LLMConfig struct {
	// Provider is gemini, openai or deepseek.
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type JourneyConfig struct {
	CompletenessMode string        `mapstructure:"completeness_mode"`
	SeedFromFacts    bool          `mapstructure:"seed_from_facts"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
}

type EmergencyConfig struct {
	Number string `mapstructure:"number"`
}

type StorageConfig struct {
	// Driver is memory, postgres or sqlite.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ReportConfig struct {
	TelegramToken string `mapstructure:"telegram_token"`
	ChatID        int64  `mapstructure:"chat_id"`
	FontPath      string `mapstructure:"font_path"`
}

type VoiceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("journey.completeness_mode", string(consultation.CompletenessAny))
	v.SetDefault("journey.seed_from_facts", false)
	v.SetDefault("journey.session_ttl", 24*time.Hour)
	v.SetDefault("emergency.number", consultation.DefaultEmergencyNumber)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("voice.enabled", false)
	v.SetDefault("voice.model", "whisper-1")

	// keys without a real default still need registering so AutomaticEnv
	// picks them up during Unmarshal
	for _, key := range []string{
		"llm.api_key", "llm.model", "llm.base_url",
		"storage.dsn",
		"report.telegram_token", "report.font_path",
		"voice.api_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("report.chat_id", 0)
}

// Load reads configuration from v, which is expected to have flags already
// bound. Environment variables use the JOURNEY_ prefix (JOURNEY_LLM_API_KEY).
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("journey")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyKeyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyKeyFallbacks picks up the provider's conventional API key variables.
func (c *Config) applyKeyFallbacks() {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "gemini":
			c.LLM.APIKey = os.Getenv("GOOGLE_API_KEY")
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "deepseek":
			c.LLM.APIKey = os.Getenv("DEEPSEEK_API_KEY")
		}
	}
	if c.Voice.APIKey == "" {
		c.Voice.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "postgres" {
		c.Storage.DSN = os.Getenv("DATABASE_URL")
	}
}

func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai", "deepseek":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if _, err := consultation.ParseCompletenessMode(c.Journey.CompletenessMode); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage driver %s requires a dsn", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Journey.SessionTTL < 0 {
		return fmt.Errorf("journey.session_ttl must not be negative")
	}
	if c.Voice.Enabled && c.Voice.APIKey == "" {
		return fmt.Errorf("voice.api_key (or OPENAI_API_KEY) is required when voice is enabled")
	}
	if c.Report.TelegramToken != "" && c.Report.ChatID == 0 {
		return fmt.Errorf("report.chat_id is required when a telegram token is set")
	}
	return nil
}

// CompletenessMode returns the parsed completeness mode. Validate must have
// passed.
func (c *Config) CompletenessMode() consultation.CompletenessMode {
	mode, _ := consultation.ParseCompletenessMode(c.Journey.CompletenessMode)
	return mode
}
