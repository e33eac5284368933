package networks

import (
	"fmt"
	"strings"
	"time"

	"reconcile/irc/plugins"
	"reconcile/irc/users"

	"github.com/lrstanley/girc"
)

const unknownCommandReply = "I did not understand that command."

type addressing int

const (
	notCommand addressing = iota
	byQuery
	byPrefix
	byName
)

// parseCommand recognises a command in text. A private query wins over the
// prefix, which wins over addressing the bot by name.
func parseCommand(nick, prefix, target, text string) (how addressing, command, args string) {
	text = strings.TrimSpace(text)

	switch {
	case users.Actor{Nick: nick}.Is(target):
		how = byQuery
		if prefix != "" {
			text = strings.TrimPrefix(text, prefix)
		}
	case prefix != "" && strings.HasPrefix(text, prefix):
		how = byPrefix
		text = text[len(prefix):]
	default:
		rest, ok := addressedBy(nick, text)
		if !ok {
			return notCommand, "", ""
		}
		how = byName
		text = rest
	}

	text = strings.TrimSpace(text)
	command, args, _ = strings.Cut(text, " ")
	command = strings.ToLower(command)
	if command == "" {
		return notCommand, "", ""
	}
	return how, command, strings.TrimSpace(args)
}

// addressedBy reports whether text starts with nick followed by ':', ',' or a
// space and returns the remainder.
func addressedBy(nick, text string) (string, bool) {
	if nick == "" || len(text) <= len(nick) {
		return "", false
	}
	if users.Fold(text[:len(nick)]) != users.Fold(nick) {
		return "", false
	}
	switch text[len(nick)] {
	case ':', ',', ' ':
		return text[len(nick)+1:], true
	}
	return "", false
}

func (n *Network) handleCommand(target string, actor users.Actor, text string) {
	how, command, args := parseCommand(n.Nick(), n.config.CommandPrefix, target, text)
	if how == notCommand {
		return
	}

	replyTo := target
	if how == byQuery {
		replyTo = actor.Nick
	}

	hostmask := actor.Hostmask()
	isAdmin := n.settings.IsAdministrator(n.name, hostmask)
	isModerator := n.settings.IsModerator(n.name, hostmask)

	if cmd, ok := n.registry.Lookup(command); ok {
		if !cmd.Privilege.Allowed(isModerator, isAdmin) {
			n.logger().Info("Command refused", "command", cmd.Name, "hostmask", hostmask, "requires", cmd.Privilege.String())
			n.Notice(actor.Nick, fmt.Sprintf("You need %s privileges to use this command.", privilegeName(cmd.Privilege)), false)
			return
		}
		command = cmd.Name
	}

	n.logger().Debug("Command", "command", command, "args", args, "from", actor.Nick, "target", replyTo)
	if n.dispatcher.DispatchCommand(replyTo, actor, command, args, isModerator, isAdmin) {
		return
	}
	// Prefix commands in channels stay silent, other bots may share the prefix.
	if how == byQuery || how == byName {
		n.Notice(actor.Nick, unknownCommandReply, false)
	}
}

func privilegeName(p plugins.Privilege) string {
	switch p {
	case plugins.PrivAdministrator:
		return "administrator"
	case plugins.PrivModerator:
		return "moderator"
	default:
		return "no"
	}
}

var ctcpCommands = []string{
	girc.CTCP_CLIENTINFO,
	girc.CTCP_PING,
	girc.CTCP_SOURCE,
	girc.CTCP_TIME,
	girc.CTCP_VERSION,
}

// answerCTCP replies to CTCP queries directly. Unknown queries are ignored.
func (n *Network) answerCTCP(actor users.Actor, command, text string) {
	var reply string
	switch command {
	case girc.CTCP_VERSION:
		reply = fmt.Sprintf("reconcile %s (maintained by %s)", n.settings.Version(), n.settings.Maintainer())
	case girc.CTCP_TIME:
		reply = time.Now().Format(time.RFC1123Z)
	case girc.CTCP_PING:
		reply = text
	case girc.CTCP_CLIENTINFO:
		reply = strings.Join(append([]string{girc.CTCP_ACTION}, ctcpCommands...), " ")
	case girc.CTCP_SOURCE:
		reply = n.settings.Metadata.SourceUrl
		if reply == "" {
			return
		}
	default:
		n.logger().Debug("Ignoring CTCP", "command", command, "from", actor.Nick)
		return
	}

	n.logger().Debug("Answering CTCP", "command", command, "to", actor.Nick)
	n.Notice(actor.Nick, girc.EncodeCTCPRaw(command, reply), false)
}
