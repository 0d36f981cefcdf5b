package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the client-side settings the SDK and CLI need to reach
// the calling backend and shape media behaviour.
type Config struct {
	APIURL              string        `mapstructure:"api_url"`
	EventsURL           string        `mapstructure:"events_url"`
	Token               string        `mapstructure:"token"`
	ICEServers          []string      `mapstructure:"ice_servers"`
	PollAttempts        int           `mapstructure:"media_poll_attempts"`
	RenegotiateDebounce time.Duration `mapstructure:"renegotiate_debounce"`
}

// Load reads config.<env>.yaml (CALLKIT_ENV selects env, default "dev")
// and overlays CALLKIT_* environment variables on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CALLKIT_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config.%s.yaml", env)

	v.SetConfigName(strings.TrimSuffix(fileName, ".yaml"))
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("CALLKIT")
	v.AutomaticEnv()

	v.SetDefault("api_url", "http://localhost:8080/v1")
	v.SetDefault("events_url", "ws://localhost:8080/v1/events")
	v.SetDefault("token", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media_poll_attempts", 4)
	v.SetDefault("renegotiate_debounce", "100ms")

	// Missing file is fine, env and defaults cover it.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
