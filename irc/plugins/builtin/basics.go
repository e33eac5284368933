package builtin

import (
	"errors"
	"fmt"
	"strings"

	"reconcile/helpers"
	"reconcile/irc/plugins"
	"reconcile/irc/users"
)

const commandsPerLine = 15

var basicCommands = []plugins.Command{
	{Name: "ping", Help: "Check if the bot is alive."},
	{Name: "permissions", Params: "[nick]", Help: "Show your permissions, or those of [nick]."},
	{Name: "commands", Params: "[plugin]", Help: "List all commands, or those from [plugin]."},
	{Name: "commandinfo", Params: "<command>", Help: "Show where <command> comes from and who may use it."},
	{Name: "help", Params: "[command]", Help: "Display help about [command] or list all commands."},
	{Name: "uptime", Help: "Show how long the bot has been connected."},

	{Name: "join", Params: "<channel[,channel]>", Help: "Join a comma separated list of channels.", Privilege: plugins.PrivModerator},
	{Name: "part", Params: "<channel[,channel]>", Help: "Leave a comma separated list of channels.", Privilege: plugins.PrivModerator},
	{Name: "nick", Params: "<new nick>", Help: "Change name to <new nick> if available.", Privilege: plugins.PrivModerator},
	{Name: "message", Params: "<target> <message>", Help: "Message <target> with <message>.", Privilege: plugins.PrivModerator},
	{Name: "plugins", Help: "Display a list of loaded plugins.", Privilege: plugins.PrivModerator, Aliases: []string{"mod", "modules"}},
	{Name: "availableplugins", Help: "Display a list of available plugins.", Privilege: plugins.PrivModerator, Aliases: []string{"amod"}},

	{Name: "shutdown", Help: "Shut the entire bot down, including the connections to other networks.", Privilege: plugins.PrivAdministrator},
	{Name: "disconnect", Help: "Disconnect from this network. Other networks stay online.", Privilege: plugins.PrivAdministrator},
	{Name: "reconnect", Help: "Reconnect to this network.", Privilege: plugins.PrivAdministrator},
	{Name: "loadplugin", Params: "<plugin>", Help: "Load <plugin>.", Privilege: plugins.PrivAdministrator, Aliases: []string{"lmod"}},
	{Name: "unloadplugin", Params: "<plugin>", Help: "Unload <plugin>.", Privilege: plugins.PrivAdministrator, Aliases: []string{"umod"}},
	{Name: "reloadplugin", Params: "<plugin>", Help: "Reload <plugin>.", Privilege: plugins.PrivAdministrator, Aliases: []string{"rmod"}},
}

// Basics provides the commands every bot needs.
type Basics struct {
	plugins.Base
	bot plugins.Bot
}

func NewBasics(bot plugins.Bot) (plugins.Plugin, error) {
	return &Basics{bot: bot}, nil
}

func (b *Basics) Name() string { return "basics" }

func (b *Basics) OnModuleLoad() error {
	return registerAll(b.bot, basicCommands)
}

func (b *Basics) OnModuleUnload() error {
	for _, c := range basicCommands {
		b.bot.UnregisterCommand(c.Name)
	}
	return nil
}

func (b *Basics) OnCommand(target string, actor users.Actor, command, args string, isModerator, isAdmin bool) bool {
	nick := actor.Nick

	switch command {
	case "ping":
		// Answering with arguments would trigger other bots' ping commands.
		if args != "" {
			return false
		}
		b.bot.Reply(target, nick, "Yes, yes. I am here.")
		return true
	case "permissions":
		b.permissions(target, nick, args, isModerator, isAdmin)
		return true
	case "commands":
		b.listCommands(nick, isModerator, isAdmin, args)
		return true
	case "help":
		if args == "" {
			b.listCommands(nick, isModerator, isAdmin, "")
			return true
		}
		b.bot.Notice(nick, b.bot.Commands().Help(args), false)
		return true
	case "commandinfo":
		if args == "" {
			b.bot.Notice(nick, "Usage: commandinfo <command>", false)
			return true
		}
		b.bot.Notice(nick, b.bot.Commands().Info(args), false)
		return true
	case "uptime":
		connected := b.bot.ConnectedAt()
		if connected.IsZero() {
			b.bot.Reply(target, nick, "I am not connected.")
			return true
		}
		b.bot.Reply(target, nick, fmt.Sprintf("Connected to %s for %s.", b.bot.Network(), helpers.Since(connected)))
		return true
	}

	if !isModerator && !isAdmin {
		return false
	}

	switch command {
	case "join", "part":
		channels := splitList(args)
		if len(channels) == 0 {
			b.bot.Notice(nick, fmt.Sprintf("Usage: %s <channels to %s>", command, command), false)
			return true
		}
		for _, channel := range channels {
			if command == "join" {
				b.bot.Join(channel)
			} else {
				b.bot.Part(channel, "Requested by "+nick)
			}
		}
		b.bot.Notice(nick, fmt.Sprintf("Attempting to %s: %s", command, strings.Join(channels, ", ")), false)
		return true
	case "nick":
		if args == "" || strings.Contains(args, " ") {
			b.bot.Notice(nick, "Usage: nick <new nick>", false)
			return true
		}
		b.bot.ChangeNick(args)
		b.bot.Notice(nick, "Attempting to change name to: "+args, false)
		return true
	case "message":
		to, text, ok := strings.Cut(args, " ")
		text = strings.TrimSpace(text)
		if !ok || to == "" || text == "" {
			b.bot.Notice(nick, "Usage: message <target> <message>", false)
			return true
		}
		b.bot.Message(to, text, false)
		b.bot.Reply(target, nick, fmt.Sprintf("Sent message '%s' to '%s'.", text, to))
		return true
	case "plugins":
		b.bot.Notice(nick, "The following plugins are loaded: "+strings.Join(b.bot.LoadedPlugins(), ", "), false)
		return true
	case "availableplugins":
		b.bot.Notice(nick, "The following plugins are available: "+strings.Join(b.bot.AvailablePlugins(), ", "), false)
		return true
	}

	if !isAdmin {
		return false
	}

	switch command {
	case "shutdown":
		b.bot.Logger().Info("Shutdown requested", "by", actor.Hostmask())
		b.bot.RequestShutdown("Shutdown requested by " + nick)
		return true
	case "disconnect":
		b.bot.Disconnect("Disconnect requested by " + nick)
		return true
	case "reconnect":
		b.bot.Reply(target, nick, "Reconnecting to the network right now.")
		b.bot.Reconnect("Reconnect requested by " + nick)
		return true
	case "loadplugin", "unloadplugin", "reloadplugin":
		b.managePlugin(target, nick, command, args)
		return true
	}

	return false
}

func (b *Basics) permissions(target, nick, args string, isModerator, isAdmin bool) {
	if args == "" {
		reply(b.bot, target, nick, fmt.Sprintf("Your permissions: Administrator: %s - Moderator: %s",
			yesNo(isAdmin), yesNo(isModerator)))
		return
	}
	if strings.Contains(args, " ") {
		b.bot.Notice(nick, "Usage: permissions [nick]", false)
		return
	}

	name := users.ParseHostmask(args).Nick
	record, ok := b.bot.UserRecord(name)
	if !ok {
		b.bot.Reply(target, nick, fmt.Sprintf("I have no data recorded of '%s', do they share a channel with me?", name))
		return
	}
	hostmask := record.Hostmask()
	reply(b.bot, target, nick, fmt.Sprintf("Permissions for {b}%s{b}: Administrator: %s - Moderator: %s",
		name, yesNo(b.bot.IsAdministrator(hostmask)), yesNo(b.bot.IsModerator(hostmask))))
}

func (b *Basics) listCommands(nick string, isModerator, isAdmin bool, plugin string) {
	names := b.bot.Commands().Commands(isModerator, isAdmin, plugin)
	if plugin != "" {
		b.bot.Notice(nick, fmt.Sprintf("Listing commands from the plugin '%s':", plugin), false)
	} else {
		b.bot.Notice(nick, "Listing all available commands:", false)
	}

	for len(names) > 0 {
		n := min(commandsPerLine, len(names))
		b.bot.Notice(nick, strings.Join(names[:n], ", "), false)
		names = names[n:]
	}
}

func (b *Basics) managePlugin(target, nick, command, name string) {
	verb := strings.TrimSuffix(command, "plugin")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		b.bot.Notice(nick, fmt.Sprintf("Usage: %s <plugin>", command), false)
		return
	}

	var err error
	switch command {
	case "loadplugin":
		err = b.bot.LoadPlugin(name)
	case "unloadplugin":
		err = b.bot.UnloadPlugin(name)
	case "reloadplugin":
		err = b.bot.ReloadPlugin(name)
	}

	switch {
	case err == nil:
		b.bot.Reply(target, nick, fmt.Sprintf("Successfully %sed plugin '%s'.", verb, name))
	case errors.Is(err, plugins.ErrUnknownPlugin):
		b.bot.Reply(target, nick, fmt.Sprintf("Failed to %s plugin '%s', are you sure it exists?", verb, name))
	case errors.Is(err, plugins.ErrNotLoaded):
		b.bot.Reply(target, nick, fmt.Sprintf("Failed to %s plugin '%s', are you sure it is loaded?", verb, name))
	case errors.Is(err, plugins.ErrAlreadyLoaded):
		b.bot.Reply(target, nick, fmt.Sprintf("Failed to %s plugin '%s', it is already loaded.", verb, name))
	default:
		b.bot.Logger().Warn("Plugin command failed", "command", command, "plugin", name, "error", err)
		b.bot.Reply(target, nick, fmt.Sprintf("Failed to %s plugin '%s'.", verb, name))
	}
}
