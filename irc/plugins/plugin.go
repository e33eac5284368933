// Package plugins holds the plugin contract, the command registry and the
// dispatcher which fans protocol events out to loaded plugins.
package plugins

import (
	"log/slog"
	"time"

	"reconcile/irc/roster"
	"reconcile/irc/users"
	"reconcile/settings"
)

// Plugin is implemented by every loadable plugin. Embed Base to get no-op
// implementations of the callbacks a plugin does not care about.
type Plugin interface {
	Name() string

	OnModuleLoad() error
	OnModuleUnload() error

	OnConnect()
	OnDisconnect()

	OnPrivmsg(target string, actor users.Actor, text string)
	OnAction(target string, actor users.Actor, text string)
	OnJoin(actor users.Actor, channel string)
	OnPart(actor users.Actor, channel, reason string)
	OnKick(actor users.Actor, channel, targetNick, reason string)
	OnQuit(actor users.Actor, reason string)
	OnNumeric(code int, raw string)

	// OnCommand returns true when the command was handled, which stops
	// dispatch to the plugins loaded after this one.
	OnCommand(target string, actor users.Actor, command, args string, isModerator, isAdmin bool) bool
}

// Constructor builds a plugin bound to bot.
type Constructor func(bot Bot) (Plugin, error)

// Bot is the surface of a network connection exposed to plugins.
type Bot interface {
	Network() string
	Nick() string
	Settings() *settings.Config
	Logger() *slog.Logger

	Message(target, text string, formatted bool)
	Notice(target, text string, formatted bool)
	Action(target, text string, formatted bool)
	// Reply messages target, addressing nick when target is a channel.
	Reply(target, nick, text string)
	SendRaw(line string)
	Debug(text string)

	Join(channel string)
	Part(channel, reason string)
	ChangeNick(nick string)
	// RequestTopic asks the server for the topic of channel; fn runs when the reply arrives.
	RequestTopic(channel string, fn func(topic string))
	Disconnect(reason string)
	Reconnect(reason string)
	RequestShutdown(reason string)
	// ConnectedAt is when registration last completed.
	ConnectedAt() time.Time

	IsOperator(nick, channel string) bool
	HasVoice(nick, channel string) bool
	IsPresent(nick, channel string) bool
	IsIdentified(nick string) bool
	IsNetworkOperator(nick string) bool
	UserRecord(nick string) (users.Record, bool)
	ChannelRoster(channel string) roster.Members

	IsAdministrator(hostmask string) bool
	IsModerator(hostmask string) bool

	Commands() *Registry
	RegisterCommand(c Command) error
	UnregisterCommand(name string) bool

	LoadPlugin(name string) error
	UnloadPlugin(name string) error
	ReloadPlugin(name string) error
	LoadedPlugins() []string
	AvailablePlugins() []string
}

// Base implements every callback as a no-op.
type Base struct{}

func (Base) OnModuleLoad() error   { return nil }
func (Base) OnModuleUnload() error { return nil }
func (Base) OnConnect()            {}
func (Base) OnDisconnect()         {}

func (Base) OnPrivmsg(target string, actor users.Actor, text string)      {}
func (Base) OnAction(target string, actor users.Actor, text string)       {}
func (Base) OnJoin(actor users.Actor, channel string)                     {}
func (Base) OnPart(actor users.Actor, channel, reason string)             {}
func (Base) OnKick(actor users.Actor, channel, targetNick, reason string) {}
func (Base) OnQuit(actor users.Actor, reason string)                      {}
func (Base) OnNumeric(code int, raw string)                               {}

func (Base) OnCommand(target string, actor users.Actor, command, args string, isModerator, isAdmin bool) bool {
	return false
}
