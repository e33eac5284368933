package builtin

import (
	"fmt"

	"reconcile/irc/plugins"
	"reconcile/irc/users"

	"github.com/lrstanley/girc"
)

// Topic answers "topic" with the current topic of the channel.
type Topic struct {
	plugins.Base
	bot plugins.Bot
}

func NewTopic(bot plugins.Bot) (plugins.Plugin, error) {
	return &Topic{bot: bot}, nil
}

func (t *Topic) Name() string { return "topic" }

func (t *Topic) OnModuleLoad() error {
	return t.bot.RegisterCommand(plugins.Command{Name: "topic", Help: "Get the topic of the channel."})
}

func (t *Topic) OnModuleUnload() error {
	t.bot.UnregisterCommand("topic")
	return nil
}

func (t *Topic) OnCommand(target string, actor users.Actor, command, args string, isModerator, isAdmin bool) bool {
	if command != "topic" || !girc.IsValidChannel(target) {
		return false
	}

	t.bot.RequestTopic(target, func(topic string) {
		if topic == "" {
			t.bot.Message(target, fmt.Sprintf("No topic is set for %s.", target), false)
			return
		}
		t.bot.Message(target, fmt.Sprintf("Topic for %s: %s", target, topic), false)
	})
	return true
}
