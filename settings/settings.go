package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/lrstanley/girc"
)

var ErrUnknownNetwork = errors.New("unknown network")

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// LoadConfig loads the configuration from path, applies defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	return finish(&config)
}

// Parse decodes a configuration held in memory.
func Parse(data string) (*Config, error) {
	var config Config
	if _, err := toml.Decode(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return finish(&config)
}

func finish(config *Config) (*Config, error) {
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	for name, network := range config.Networks {
		if !girc.IsValidNick(network.Nick) {
			return nil, fmt.Errorf("networks.%s: invalid nick %q", name, network.Nick)
		}
		if !girc.IsValidNick(network.AltNick) {
			return nil, fmt.Errorf("networks.%s: invalid altNick %q", name, network.AltNick)
		}
		for _, channel := range network.Channels {
			if !girc.IsValidChannel(channel) {
				return nil, fmt.Errorf("networks.%s: invalid channel %q", name, channel)
			}
		}
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Metadata.Timestamp == "" {
		c.Metadata.Timestamp = DefaultTimestamp
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "reconcile.db"
	}

	for name, n := range c.Networks {
		n.applyDefaults(c.Metadata)
		c.Networks[name] = n
	}
}

func (n *Network) applyDefaults(meta Metadata) {
	if n.AltNick == "" {
		n.AltNick = n.Nick + "_"
	}
	if n.User == "" {
		n.User = n.Nick
	}
	if n.Realname == "" {
		n.Realname = n.Nick
		if meta.SourceUrl != "" {
			n.Realname += " (" + meta.SourceUrl + ")"
		}
	}
	if n.CommandPrefix == "" {
		n.CommandPrefix = DefaultCommandPrefix
	}
	if n.BurstLimit == 0 {
		n.BurstLimit = DefaultBurstLimit
	}
	if n.MaxErrors == 0 {
		n.MaxErrors = DefaultMaxErrors
	}
}

// Network returns the configuration for name.
func (c *Config) Network(name string) (Network, error) {
	n, ok := c.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	return n, nil
}

// IsAdministrator reports whether hostmask (nick!user@host) matches one of the
// network's administrator masks.
func (c *Config) IsAdministrator(network, hostmask string) bool {
	n, ok := c.Networks[network]
	if !ok {
		return false
	}
	return MatchAny(n.Administrators, hostmask)
}

// IsModerator reports whether hostmask is a moderator. Administrators are moderators too.
func (c *Config) IsModerator(network, hostmask string) bool {
	n, ok := c.Networks[network]
	if !ok {
		return false
	}
	return MatchAny(n.Moderators, hostmask) || MatchAny(n.Administrators, hostmask)
}

// Maintainer returns the configured maintainer or a placeholder.
func (c *Config) Maintainer() string {
	if c.Metadata.Maintainer == "" {
		return "No maintainer found"
	}
	return c.Metadata.Maintainer
}

// Version returns the configured bot version.
func (c *Config) Version() string {
	if c.Metadata.Version == "" {
		return "Unknown"
	}
	return c.Metadata.Version
}

// FormatTime renders t with the configured timestamp layout.
func (c *Config) FormatTime(t time.Time) string {
	layout := c.Metadata.Timestamp
	if layout == "" {
		layout = DefaultTimestamp
	}
	return t.Format(layout)
}

// MatchAny reports whether hostmask matches any of masks. Masks without a
// nick part ("user@host") are matched against the user@host portion only.
func MatchAny(masks []string, hostmask string) bool {
	folded := girc.ToRFC1459(hostmask)
	userHost := folded
	if i := strings.IndexByte(folded, '!'); i >= 0 {
		userHost = folded[i+1:]
	}

	for _, mask := range masks {
		mask = girc.ToRFC1459(strings.TrimSpace(mask))
		if mask == "" {
			continue
		}
		if strings.Contains(mask, "!") {
			if girc.Glob(folded, mask) {
				return true
			}
			continue
		}
		if girc.Glob(userHost, mask) {
			return true
		}
	}
	return false
}

// IsDisallowed reports whether channel is on the network's disallowed list.
func (n Network) IsDisallowed(channel string) bool {
	folded := girc.ToRFC1459(channel)
	for _, c := range n.DisallowedChannels {
		if girc.ToRFC1459(c) == folded {
			return true
		}
	}
	return false
}

// Address returns host:port of the network's server.
func (n Network) Address() string {
	return fmt.Sprintf("%s:%d", n.Server, n.Port)
}

// AuthLine expands the %placeholders% of the configured auth string.
// It returns an empty string when no authentication is configured.
func (n Network) AuthLine() string {
	auth := n.AuthString
	if auth == "" {
		if n.Password == "" {
			return ""
		}
		auth = "PRIVMSG NickServ :IDENTIFY %password%"
		if n.Account != "" {
			auth = "PRIVMSG NickServ :IDENTIFY %account% %password%"
		}
	}

	return strings.NewReplacer(
		"%account%", n.Account,
		"%password%", n.Password,
		"%nick%", n.Nick,
		"%user%", n.User,
	).Replace(auth)
}
