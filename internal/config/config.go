package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode         string `mapstructure:"mode"`
	SignalingURL string `mapstructure:"signaling_url"`
	APIURL       string `mapstructure:"api_url"`
	MeetingID    string `mapstructure:"meeting_id"`
	Username     string `mapstructure:"username"`
	Avatar       string `mapstructure:"avatar"`
	Moderator    bool   `mapstructure:"moderator"`

	Password         string `mapstructure:"password"`
	PasswordRequired bool   `mapstructure:"password_required"`
	AuthMode         string `mapstructure:"auth_mode"`        // "enabled" | "disabled"
	ModeratorRights  string `mapstructure:"moderator_rights"` // "enabled" | "disabled"
	UserLimit        int    `mapstructure:"user_limit"`

	MeetingType        string `mapstructure:"meeting_type"` // "video" | "audio"
	TimeLimitMinutes   int    `mapstructure:"time_limit_minutes"`
	LimitedScreenShare string `mapstructure:"limited_screen_share"`
	RecordWhiteboard   bool   `mapstructure:"record_whiteboard"`
	FrameInterval      int    `mapstructure:"frame_interval_ms"`

	StunURL      string `mapstructure:"stun_url"`
	TurnURL      string `mapstructure:"turn_url"`
	TurnUsername string `mapstructure:"turn_username"`
	TurnPassword string `mapstructure:"turn_password"`

	// Relay-side settings.
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("signaling_url", "ws://localhost:8080/ws/signal")
	v.SetDefault("api_url", "http://localhost:8080")
	v.SetDefault("meeting_id", "main")
	v.SetDefault("username", "guest")
	v.SetDefault("auth_mode", "disabled")
	v.SetDefault("moderator_rights", "disabled")
	v.SetDefault("user_limit", 16)
	v.SetDefault("meeting_type", "video")
	v.SetDefault("time_limit_minutes", 60)
	v.SetDefault("limited_screen_share", "disabled")
	v.SetDefault("frame_interval_ms", 33)
	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// TimeLimitSeconds is what the session clock counts against.
func (c *Config) TimeLimitSeconds() int { return c.TimeLimitMinutes * 60 }

func (c *Config) FrameIntervalDuration() time.Duration {
	return time.Duration(c.FrameInterval) * time.Millisecond
}
