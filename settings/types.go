package settings

import (
	"reconcile/logger"
)

const (
	DefaultCommandPrefix = "!"
	DefaultBurstLimit    = 4
	DefaultMaxErrors     = 25
	DefaultTimestamp     = "15:04"
)

type (
	Config struct {
		Metadata Metadata           `toml:"metadata"`
		Logging  logger.Config      `toml:"logging"`
		Storage  Storage            `toml:"storage"`
		Metrics  Metrics            `toml:"metrics"`
		Networks map[string]Network `toml:"networks" validate:"required,min=1,dive"`
	}

	Metadata struct {
		Maintainer string `toml:"maintainer"`
		Version    string `toml:"version"`
		SourceUrl  string `toml:"sourceUrl" validate:"omitempty,url"`
		Timestamp  string `toml:"timestamp"`
	}

	Storage struct {
		Path string `toml:"path"`
	}

	Metrics struct {
		Address string `toml:"address" validate:"omitempty,hostname_port"`
	}

	// Network is the immutable-after-load configuration of one IRC network.
	Network struct {
		Enabled bool   `toml:"enabled"`
		Server  string `toml:"server" validate:"required"`
		Port    int    `toml:"port" validate:"required,min=1,max=65535"`
		TLS     bool   `toml:"tls"`
		// SkipVerify disables certificate verification for TLS connections.
		SkipVerify bool   `toml:"skipVerify"`
		Pass       string `toml:"pass"`

		Nick     string `toml:"nick" validate:"required"`
		AltNick  string `toml:"altNick"`
		User     string `toml:"user"`
		Realname string `toml:"realname"`

		Account    string `toml:"account"`
		Password   string `toml:"password"`
		AuthString string `toml:"authString"`
		UserModes  string `toml:"userModes"`

		CommandPrefix  string   `toml:"commandPrefix"`
		Administrators []string `toml:"administrators"`
		Moderators     []string `toml:"moderators"`

		Channels           []string `toml:"channels"`
		DisallowedChannels []string `toml:"disallowedChannels"`
		Perform            []string `toml:"perform"`
		DebugChannel       string   `toml:"debugChannel"`
		InviteJoin         bool     `toml:"inviteJoin"`
		LeaveEmptyChannels bool     `toml:"leaveEmptyChannels"`

		BurstLimit int      `toml:"burstLimit" validate:"gte=0"`
		MaxErrors  int      `toml:"maxErrors" validate:"gte=0"`
		Plugins    []string `toml:"plugins"`
	}
)
