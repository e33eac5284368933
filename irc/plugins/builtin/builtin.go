// Package builtin contains the plugins shipped with the bot.
package builtin

import (
	"strings"

	"reconcile/irc/plugins"

	"github.com/lrstanley/girc"
)

// Register adds every built-in plugin to catalog.
func Register(catalog *plugins.Catalog) {
	catalog.Register("basics", NewBasics)
	catalog.Register("topic", NewTopic)
}

func registerAll(bot plugins.Bot, commands []plugins.Command) error {
	for _, c := range commands {
		if err := bot.RegisterCommand(c); err != nil {
			return err
		}
	}
	return nil
}

// reply messages target, addressing nick in channels like Bot.Reply does, but
// keeps formatting codes.
func reply(bot plugins.Bot, target, nick, text string) {
	if girc.IsValidChannel(target) {
		text = nick + ": " + text
	}
	bot.Message(target, text, true)
}

func yesNo(b bool) string {
	if b {
		return "{green}yes{c}"
	}
	return "{red}no{c}"
}

func splitList(text string) []string {
	var out []string
	for _, item := range strings.Split(text, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
