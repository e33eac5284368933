package networks

import (
	"errors"
	"fmt"
	"strings"

	"reconcile/irc/line"
	"reconcile/irc/users"

	"github.com/lrstanley/girc"
)

func (n *Network) handleNumeric(l *line.Line) (err error) {
	switch l.Command {
	case girc.RPL_ENDOFMOTD, girc.ERR_NOMOTD:
		if n.Phase() == PhaseRegistering {
			n.completeRegistration(l)
		}
	case girc.ERR_NICKNAMEINUSE:
		n.nickInUse()
	case girc.RPL_TOPIC:
		err = n.topicReply(l.Param(1), l.Trailing())
	case girc.RPL_NOTOPIC:
		err = n.topicReply(l.Param(1), "")
	case girc.ERR_NOSUCHCHANNEL, girc.ERR_NOTONCHANNEL:
		n.dropTopicRequests(l.Param(1))
	case girc.RPL_WHOSPCRPL:
		if !n.roster.HandleWhoReply(l.Params) {
			n.logger().Debug("Ignoring WHO reply", "line", l.Raw)
		}
	}

	n.dispatcher.Numeric(l.Code, l.Raw)
	return err
}

// completeRegistration runs once the server has sent the end (or absence) of
// the MOTD.
func (n *Network) completeRegistration(l *line.Line) {
	log := n.logger()

	if confirmed := l.Param(0); confirmed != "" {
		n.mu.Lock()
		tracked := n.nick
		n.nick = confirmed
		n.mu.Unlock()
		if users.Fold(tracked) != users.Fold(confirmed) {
			log.Warn("Server confirmed a different nick", "tracked", tracked, "confirmed", confirmed)
		}
		n.roster.SetSelf(confirmed)
	}

	if auth := n.config.AuthLine(); auth != "" {
		if err := n.sendRaw(auth); err != nil {
			log.Error("Failed to authenticate", "error", err)
		}
	}

	if n.config.UserModes != "" {
		if err := n.sendRaw(fmt.Sprintf("MODE %s %s", n.Nick(), n.config.UserModes)); err != nil {
			log.Error("Failed to set user modes", "error", err)
		}
	}

	if channels := n.autoJoin(); len(channels) > 0 {
		if err := n.sendRaw("JOIN " + strings.Join(channels, ",")); err != nil {
			log.Error("Failed to join channels", "error", err)
		}
	}

	for _, raw := range n.config.Perform {
		if err := n.sendRaw(raw); err != nil {
			log.Error("Failed to send perform line", "line", raw, "error", err)
		}
	}

	n.mu.Lock()
	n.serverName = l.ServerName()
	n.phase = PhaseConnected
	n.attempts = 0
	n.connectedAt = n.now()
	n.registered = true
	n.mu.Unlock()

	log.Info("Connected", "server", l.ServerName(), "nick", n.Nick())
	n.dispatcher.Connect()
}

// autoJoin merges the configured channels with the stored ones, skipping
// duplicates and disallowed channels.
func (n *Network) autoJoin() []string {
	candidates := append([]string(nil), n.config.Channels...)
	if n.store != nil {
		stored, err := n.store.List(n.name)
		if err != nil {
			n.logger().Error("Failed to read stored channels", "error", err)
		}
		candidates = append(candidates, stored...)
	}

	seen := make(map[string]bool, len(candidates))
	channels := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := users.Fold(c)
		if c == "" || seen[key] || n.config.IsDisallowed(c) {
			continue
		}
		seen[key] = true
		channels = append(channels, c)
	}
	return channels
}

// nickInUse falls back to the alternate nick once, and only during registration.
func (n *Network) nickInUse() {
	n.mu.Lock()
	if n.phase != PhaseRegistering || n.altNickUsed {
		nick := n.nick
		n.mu.Unlock()
		n.logger().Warn("Nick is in use", "nick", nick)
		return
	}
	n.altNickUsed = true
	n.nick = n.config.AltNick
	n.mu.Unlock()

	n.logger().Warn("Nick is in use, trying alternate", "nick", n.config.Nick, "altNick", n.config.AltNick)
	n.roster.SetSelf(n.config.AltNick)
	if err := n.sendRaw("NICK " + n.config.AltNick); err != nil {
		n.logger().Error("Failed to send alternate nick", "error", err)
	}
}

// topicReply hands topic to every pending request for channel. An empty topic
// means none is set. A panicking callback does not stop the others and is
// reported as a processing error.
func (n *Network) topicReply(channel, topic string) error {
	var errs []error
	for _, fn := range n.dropTopicRequests(channel) {
		if err := n.runTopicCallback(channel, topic, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Network) dropTopicRequests(channel string) []func(string) {
	key := users.Fold(channel)

	n.mu.Lock()
	defer n.mu.Unlock()
	pending := n.topics[key]
	delete(n.topics, key)
	return pending
}

func (n *Network) runTopicCallback(channel, topic string, fn func(string)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: topic callback for %s panicked: %v", ErrProcessing, channel, r)
		}
	}()
	fn(topic)
	return nil
}

func (n *Network) handlePrivmsg(l *line.Line) error {
	if len(l.Params) < 2 {
		return fmt.Errorf("%w: %s", ErrMissingParams, l.Raw)
	}
	target, text, actor := l.Target(), l.Trailing(), l.Actor()

	if ctcp := girc.DecodeCTCP(l.Event); ctcp != nil {
		if ctcp.Command == girc.CTCP_ACTION {
			n.dispatcher.Action(target, actor, ctcp.Text)
			return nil
		}
		n.answerCTCP(actor, ctcp.Command, ctcp.Text)
		return nil
	}

	n.dispatcher.Privmsg(target, actor, text)
	n.handleCommand(target, actor, text)
	return nil
}

func (n *Network) handleNotice(l *line.Line) error {
	n.logger().Debug("Notice", "from", l.Actor().Nick, "target", l.Target(), "text", l.Trailing())
	return nil
}

func (n *Network) handleMode(l *line.Line) error {
	if len(l.Params) < 2 {
		return fmt.Errorf("%w: %s", ErrMissingParams, l.Raw)
	}
	if girc.IsValidChannel(l.Target()) {
		n.roster.ModeChanged(l.Target(), l.Param(1))
	}
	return nil
}

func (n *Network) handleJoin(l *line.Line) error {
	channel, actor := l.Target(), l.Actor()
	if channel == "" {
		return fmt.Errorf("%w: %s", ErrMissingParams, l.Raw)
	}

	if n.isSelf(actor.Nick) {
		if n.config.IsDisallowed(channel) {
			n.logger().Warn("Joined a disallowed channel, leaving", "channel", channel)
			n.Part(channel, "This channel is not allowed")
			return nil
		}
		n.roster.BotJoined(channel)
		n.storeAdd(channel)
		n.logger().Info("Joined channel", "channel", channel)
	} else {
		n.roster.UserJoined(actor, channel)
	}

	n.dispatcher.Join(actor, channel)
	return nil
}

func (n *Network) handlePart(l *line.Line) error {
	channel, actor := l.Target(), l.Actor()
	if channel == "" {
		return fmt.Errorf("%w: %s", ErrMissingParams, l.Raw)
	}

	if n.isSelf(actor.Nick) {
		n.roster.BotLeft(channel)
		n.storeRemove(channel)
		n.logger().Info("Left channel", "channel", channel)
	} else if n.roster.RemoveFromChannel(actor.Nick, channel) {
		defer n.leaveIfEmpty(channel)
	}

	n.dispatcher.Part(actor, channel, l.Param(1))
	return nil
}

func (n *Network) handleKick(l *line.Line) error {
	if len(l.Params) < 2 {
		return fmt.Errorf("%w: %s", ErrMissingParams, l.Raw)
	}
	channel, kicked, actor := l.Param(0), l.Param(1), l.Actor()
	reason := ""
	if len(l.Params) > 2 {
		reason = l.Trailing()
	}

	// The channel stays in the store so it is rejoined on the next connect.
	if n.isSelf(kicked) {
		n.roster.BotLeft(channel)
		n.logger().Warn("Kicked from channel", "channel", channel, "by", actor.Nick, "reason", reason)
	} else if n.roster.RemoveFromChannel(kicked, channel) {
		defer n.leaveIfEmpty(channel)
	}

	n.dispatcher.Kick(actor, channel, kicked, reason)
	return nil
}

func (n *Network) handleQuit(l *line.Line) error {
	actor := l.Actor()
	for _, channel := range n.roster.UserQuit(actor.Nick) {
		defer n.leaveIfEmpty(channel)
	}
	n.dispatcher.Quit(actor, l.Param(0))
	return nil
}

func (n *Network) handleInvite(l *line.Line) error {
	channel := l.Param(1)
	if channel == "" {
		return fmt.Errorf("%w: %s", ErrMissingParams, l.Raw)
	}

	log := n.logger()
	switch {
	case !n.config.InviteJoin:
		log.Debug("Ignoring invite", "channel", channel, "from", l.Actor().Nick)
	case n.config.IsDisallowed(channel):
		log.Info("Ignoring invite to disallowed channel", "channel", channel, "from", l.Actor().Nick)
	default:
		log.Info("Invited, joining", "channel", channel, "from", l.Actor().Nick)
		n.Join(channel)
	}
	return nil
}

func (n *Network) handleNick(l *line.Line) error {
	actor, newNick := l.Actor(), l.Trailing()
	if newNick == "" {
		return fmt.Errorf("%w: %s", ErrMissingParams, l.Raw)
	}

	if n.isSelf(actor.Nick) {
		n.mu.Lock()
		n.nick = newNick
		n.mu.Unlock()
		n.roster.SetSelf(newNick)
		n.logger().Info("Nick changed", "from", actor.Nick, "to", newNick)
	}
	n.roster.Rename(actor.Nick, newNick)
	return nil
}

func (n *Network) leaveIfEmpty(channel string) {
	if !n.config.LeaveEmptyChannels {
		return
	}
	n.logger().Info("Leaving empty channel", "channel", channel)
	n.Part(channel, "Channel is empty")
}

func (n *Network) isSelf(nick string) bool {
	return users.Actor{Nick: n.Nick()}.Is(nick)
}

func (n *Network) storeAdd(channel string) {
	if n.store == nil {
		return
	}
	if err := n.store.Add(n.name, channel); err != nil {
		n.logger().Error("Failed to store channel", "channel", channel, "error", err)
	}
}

func (n *Network) storeRemove(channel string) {
	if n.store == nil {
		return
	}
	if err := n.store.Remove(n.name, channel); err != nil {
		n.logger().Error("Failed to remove stored channel", "channel", channel, "error", err)
	}
}
