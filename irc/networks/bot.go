package networks

import (
	"fmt"
	"log/slog"
	"time"

	"reconcile/helpers"
	"reconcile/irc/plugins"
	"reconcile/irc/roster"
	"reconcile/irc/users"
	"reconcile/queue"
	"reconcile/settings"

	"github.com/lrstanley/girc"
)

var _ plugins.Bot = (*Network)(nil)

func (n *Network) Network() string {
	return n.name
}

// Nick returns the nick the bot currently uses.
func (n *Network) Nick() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nick
}

func (n *Network) Settings() *settings.Config {
	return n.settings
}

func (n *Network) Logger() *slog.Logger {
	return n.logger()
}

// Message sends text to target, one PRIVMSG per line of text. Long lines are
// wrapped between words.
func (n *Network) Message(target, text string, formatted bool) {
	for _, line := range helpers.WrapText(text, helpers.MaxMessageLength) {
		n.enqueue(queue.Message{Target: target, Text: line, Formatted: formatted, Kind: queue.KindMessage})
	}
}

func (n *Network) Notice(target, text string, formatted bool) {
	for _, line := range helpers.WrapText(text, helpers.MaxMessageLength) {
		n.enqueue(queue.Message{Target: target, Text: line, Formatted: formatted, Kind: queue.KindNotice})
	}
}

func (n *Network) Action(target, text string, formatted bool) {
	if formatted {
		text = girc.Fmt(text)
	}
	n.enqueue(queue.Message{Target: target, Text: girc.EncodeCTCPRaw(girc.CTCP_ACTION, text), Kind: queue.KindMessage})
}

func (n *Network) Reply(target, nick, text string) {
	if girc.IsValidChannel(target) && nick != "" {
		text = nick + ": " + text
	}
	n.Message(target, text, false)
}

func (n *Network) SendRaw(line string) {
	if err := n.sendRaw(line); err != nil {
		n.logger().Warn("Failed to send raw line", "error", err)
	}
}

// Debug sends text to the configured debug channel, if any.
func (n *Network) Debug(text string) {
	n.logger().Debug(text)
	if n.config.DebugChannel != "" {
		n.Message(n.config.DebugChannel, text, false)
	}
}

func (n *Network) Join(channel string) {
	switch {
	case !girc.IsValidChannel(channel):
		n.logger().Warn("Refusing to join invalid channel", "channel", channel)
	case n.config.IsDisallowed(channel):
		n.logger().Warn("Refusing to join disallowed channel", "channel", channel)
	default:
		n.SendRaw("JOIN " + channel)
	}
}

func (n *Network) Part(channel, reason string) {
	if reason == "" {
		n.SendRaw("PART " + channel)
		return
	}
	n.SendRaw(fmt.Sprintf("PART %s :%s", channel, reason))
}

func (n *Network) ChangeNick(nick string) {
	if !girc.IsValidNick(nick) {
		n.logger().Warn("Refusing invalid nick", "nick", nick)
		return
	}
	n.SendRaw("NICK " + nick)
}

func (n *Network) RequestTopic(channel string, fn func(topic string)) {
	key := users.Fold(channel)
	n.mu.Lock()
	n.topics[key] = append(n.topics[key], fn)
	n.mu.Unlock()
	n.SendRaw("TOPIC " + channel)
}

// Disconnect quits this network for good. Other networks keep running.
func (n *Network) Disconnect(reason string) {
	n.Quit(reason)
}

// RequestShutdown asks the whole process to stop. The read loop quits this
// network once the current line is handled.
func (n *Network) RequestShutdown(reason string) {
	n.shutdownReason.Store(reason)
	if !n.shutdown.CompareAndSwap(false, true) {
		return
	}
	n.logger().Info("Shutdown requested", "reason", reason)
	if n.onShutdown != nil {
		n.onShutdown(reason)
	}
}

func (n *Network) ConnectedAt() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connectedAt
}

func (n *Network) IsOperator(nick, channel string) bool { return n.roster.IsOperator(nick, channel) }
func (n *Network) HasVoice(nick, channel string) bool   { return n.roster.HasVoice(nick, channel) }
func (n *Network) IsPresent(nick, channel string) bool  { return n.roster.IsPresent(nick, channel) }
func (n *Network) IsIdentified(nick string) bool        { return n.roster.IsIdentified(nick) }
func (n *Network) IsNetworkOperator(nick string) bool   { return n.roster.IsNetworkOperator(nick) }

func (n *Network) UserRecord(nick string) (users.Record, bool) {
	return n.roster.UserRecord(nick)
}

func (n *Network) ChannelRoster(channel string) roster.Members {
	return n.roster.ChannelRoster(channel)
}

func (n *Network) IsAdministrator(hostmask string) bool {
	return n.settings.IsAdministrator(n.name, hostmask)
}

func (n *Network) IsModerator(hostmask string) bool {
	return n.settings.IsModerator(n.name, hostmask)
}

func (n *Network) Commands() *plugins.Registry {
	return n.registry
}

func (n *Network) RegisterCommand(c plugins.Command) error {
	return n.registry.Register(c)
}

func (n *Network) UnregisterCommand(name string) bool {
	return n.registry.Unregister(name)
}

func (n *Network) LoadPlugin(name string) error   { return n.dispatcher.Load(name) }
func (n *Network) UnloadPlugin(name string) error { return n.dispatcher.Unload(name) }
func (n *Network) ReloadPlugin(name string) error { return n.dispatcher.Reload(name) }
func (n *Network) LoadedPlugins() []string        { return n.dispatcher.Loaded() }
func (n *Network) AvailablePlugins() []string     { return n.dispatcher.Available() }
