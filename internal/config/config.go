// Package config loads runtime settings from defaults, an optional
// perkup.yaml and PERKUP_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string
	DBPath          string
	LogLevel        string
	LogFormat       string
	Timezone        string
	Location        *time.Location
	SessionTTL      time.Duration
	BcryptCost      int
	EnableScheduler bool
	CouponRetention time.Duration
	SecureCookies   bool
	AllowedOrigins  []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "perkup.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("timezone", "Asia/Shanghai")
	v.SetDefault("session_ttl", "720h")
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("enable_scheduler", true)
	v.SetDefault("coupon_retention", "720h")
	v.SetDefault("secure_cookies", false)
	v.SetDefault("allowed_origins", []string{})
}

// Load reads configuration. dir is searched for perkup.yaml; an empty dir
// means the working directory. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("perkup")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix("PERKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", v.GetString("timezone"), err)
	}

	cfg := &Config{
		Port:            v.GetString("port"),
		DBPath:          v.GetString("db_path"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		Timezone:        v.GetString("timezone"),
		Location:        loc,
		SessionTTL:      v.GetDuration("session_ttl"),
		BcryptCost:      v.GetInt("bcrypt_cost"),
		EnableScheduler: v.GetBool("enable_scheduler"),
		CouponRetention: v.GetDuration("coupon_retention"),
		SecureCookies:   v.GetBool("secure_cookies"),
		AllowedOrigins:  v.GetStringSlice("allowed_origins"),
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("session_ttl must be positive, got %s", cfg.SessionTTL)
	}
	return cfg, nil
}
