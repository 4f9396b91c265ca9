// Package config loads and validates the tgfleet configuration from
// defaults, an optional YAML file, and TGFLEET_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the configuration for the routing engine and admin surface.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Data   DataConfig   `mapstructure:"data"`
	Engine EngineConfig `mapstructure:"engine"`
	Admin  AdminConfig  `mapstructure:"admin"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DataConfig locates the JSON table directory.
type DataConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// EngineConfig tunes the routing engine.
type EngineConfig struct {
	// SettlementKeyword is the reserved keyword that triggers the settlement
	// responder instead of forwarding. The default matches the legacy data
	// files.
	SettlementKeyword string `mapstructure:"settlement_keyword" validate:"required"`
	// SettlementErrorMessage is sent to the user when the settlement backend
	// fails; settlement failures are never silent.
	SettlementErrorMessage string `mapstructure:"settlement_error_message" validate:"required"`
	// SendTimeout bounds every outbound platform call (send, forward, reply).
	SendTimeout time.Duration `mapstructure:"send_timeout" validate:"min=1s,max=5m"`
}

// AdminConfig configures the HTTP admin surface.
type AdminConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
}

// Load reads configuration from the given YAML file (optional; defaults are
// used when it is absent), layered under TGFLEET_* environment variables,
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TGFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file is fine, defaults plus environment apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("data.dir", "data")

	v.SetDefault("engine.settlement_keyword", "结算查询")
	v.SetDefault("engine.settlement_error_message", "结算查询暂时不可用，请稍后再试。")
	v.SetDefault("engine.send_timeout", 30*time.Second)

	v.SetDefault("admin.listen_addr", ":5000")
}
