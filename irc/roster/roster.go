// Package roster caches channel membership and user identity learned from WHO
// replies and membership events.
package roster

import (
	"sort"
	"strings"
	"sync"
	"time"

	"reconcile/irc/users"
)

const (
	// ChannelWhoInterval suppresses repeated channel WHO requests.
	ChannelWhoInterval = 5 * time.Second

	userWhoTag    = "000"
	channelWhoTag = "001"
)

// Role of a nick inside one channel.
type Role int

const (
	RoleRegular Role = iota
	RoleVoice
	RoleOperator
)

// Members is a snapshot of one channel.
type Members struct {
	Operators []string
	Voiced    []string
	Regular   []string
}

// Len returns the combined membership.
func (m Members) Len() int {
	return len(m.Operators) + len(m.Voiced) + len(m.Regular)
}

type channel struct {
	name  string
	roles map[string]Role
	nicks map[string]string
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	send     func(line string)
	now      func() time.Time
	self     string
	users    map[string]users.Record
	channels map[string]*channel
	lastWho  map[string]time.Time
	lastUser string
}

// New creates a tracker which issues WHO requests through send.
func New(send func(line string)) *Tracker {
	t := &Tracker{
		send: send,
		now:  time.Now,
	}
	t.Reset()
	return t
}

// Reset forgets everything, used when the connection is replaced.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users = make(map[string]users.Record)
	t.channels = make(map[string]*channel)
	t.lastWho = make(map[string]time.Time)
	t.lastUser = ""
}

// SetSelf records the bot's own nickname.
func (t *Tracker) SetSelf(nick string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.self = users.Fold(nick)
}

// RequestChannel sends a channel WHO unless one was sent for the same channel
// within ChannelWhoInterval.
func (t *Tracker) RequestChannel(name string) bool {
	key := users.Fold(name)

	t.mu.Lock()
	now := t.now()
	if last, ok := t.lastWho[key]; ok && now.Sub(last) < ChannelWhoInterval {
		t.mu.Unlock()
		return false
	}
	t.lastWho[key] = now
	t.mu.Unlock()

	t.send("WHO " + name + " %tcuhnfar," + channelWhoTag)
	return true
}

// RequestUser sends a WHO for nick unless the previous user WHO was for the same nick.
func (t *Tracker) RequestUser(nick string) bool {
	key := users.Fold(nick)

	t.mu.Lock()
	if t.lastUser == key {
		t.mu.Unlock()
		return false
	}
	t.lastUser = key
	t.mu.Unlock()

	t.send("WHO " + nick + " %tuhnfar," + userWhoTag)
	return true
}

// BotJoined replaces any stale entry for the channel with an empty one and
// requests a fresh roster.
func (t *Tracker) BotJoined(name string) {
	key := users.Fold(name)

	t.mu.Lock()
	t.channels[key] = &channel{name: name, roles: make(map[string]Role), nicks: make(map[string]string)}
	delete(t.lastWho, key)
	t.mu.Unlock()

	t.RequestChannel(name)
}

// BotLeft drops the channel entirely.
func (t *Tracker) BotLeft(name string) {
	key := users.Fold(name)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, key)
	delete(t.lastWho, key)
}

// UserJoined adds actor to a tracked channel and refreshes what we know about them.
func (t *Tracker) UserJoined(actor users.Actor, name string) {
	nick := users.Fold(actor.Nick)

	t.mu.Lock()
	if c, ok := t.channels[users.Fold(name)]; ok {
		c.set(nick, actor.Nick, RoleRegular)
	}
	r := t.users[nick]
	r.Nick, r.User, r.Host = actor.Nick, actor.User, actor.Host
	t.users[nick] = r
	t.mu.Unlock()

	t.RequestUser(actor.Nick)
}

// ModeChanged re-requests the channel roster when op or voice changed.
func (t *Tracker) ModeChanged(name, modes string) bool {
	if !strings.ContainsAny(modes, "ov") {
		return false
	}
	return t.RequestChannel(name)
}

// RemoveFromChannel removes nick from one channel. It reports whether the channel
// has no members left other than the bot.
func (t *Tracker) RemoveFromChannel(nick, name string) (emptied bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.channels[users.Fold(name)]
	if !ok {
		return false
	}
	if _, present := c.roles[users.Fold(nick)]; !present {
		return false
	}
	c.remove(users.Fold(nick))
	return t.emptyLocked(c)
}

// UserQuit removes nick from every channel and returns the channels this emptied.
func (t *Tracker) UserQuit(nick string) []string {
	key := users.Fold(nick)

	t.mu.Lock()
	defer t.mu.Unlock()

	var emptied []string
	for _, c := range t.channels {
		if _, ok := c.roles[key]; !ok {
			continue
		}
		c.remove(key)
		if t.emptyLocked(c) {
			emptied = append(emptied, c.name)
		}
	}
	delete(t.users, key)
	if t.lastUser == key {
		t.lastUser = ""
	}
	sort.Strings(emptied)
	return emptied
}

// Rename moves every reference of oldNick to newNick.
func (t *Tracker) Rename(oldNick, newNick string) {
	oldKey, newKey := users.Fold(oldNick), users.Fold(newNick)

	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.users[oldKey]; ok {
		delete(t.users, oldKey)
		r.Nick = newNick
		t.users[newKey] = r
	}
	for _, c := range t.channels {
		if role, ok := c.roles[oldKey]; ok {
			c.remove(oldKey)
			c.set(newKey, newNick, role)
		}
	}
	if t.lastUser == oldKey {
		t.lastUser = ""
	}
	if t.self == oldKey {
		t.self = newKey
	}
}

// HandleWhoReply consumes the parameters of a 354 reply. Replies not carrying
// one of our tags are ignored.
func (t *Tracker) HandleWhoReply(params []string) bool {
	if len(params) < 2 {
		return false
	}

	var chanName string
	fields := params[2:]
	switch params[1] {
	case channelWhoTag:
		if len(fields) < 7 {
			return false
		}
		chanName, fields = fields[0], fields[1:]
	case userWhoTag:
		if len(fields) < 6 {
			return false
		}
	default:
		return false
	}

	user, host, nick, flags, account, realname := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]
	if account == "0" {
		account = ""
	}
	key := users.Fold(nick)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.users[key] = users.Record{
		Nick:     nick,
		User:     user,
		Host:     host,
		Account:  account,
		Realname: realname,
		Away:     strings.Contains(flags, "G"),
		Oper:     strings.Contains(flags, "*"),
	}

	if chanName != "" {
		chanKey := users.Fold(chanName)
		c, ok := t.channels[chanKey]
		if !ok {
			c = &channel{name: chanName, roles: make(map[string]Role), nicks: make(map[string]string)}
			t.channels[chanKey] = c
		}
		c.set(key, nick, roleFromFlags(flags))
	}
	return true
}

// Channels returns the names of all tracked channels.
func (t *Tracker) Channels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.channels))
	for _, c := range t.channels {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) IsOperator(nick, channel string) bool {
	return t.role(nick, channel) == RoleOperator
}

func (t *Tracker) HasVoice(nick, channel string) bool {
	return t.role(nick, channel) == RoleVoice
}

func (t *Tracker) IsPresent(nick, channel string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.channels[users.Fold(channel)]
	if !ok {
		return false
	}
	_, ok = c.roles[users.Fold(nick)]
	return ok
}

func (t *Tracker) IsIdentified(nick string) bool {
	r, _ := t.UserRecord(nick)
	return r.Identified()
}

func (t *Tracker) IsNetworkOperator(nick string) bool {
	r, _ := t.UserRecord(nick)
	return r.Oper
}

// UserRecord returns the cached record for nick.
func (t *Tracker) UserRecord(nick string) (users.Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.users[users.Fold(nick)]
	return r, ok
}

// ChannelRoster returns a sorted snapshot of the channel's members.
func (t *Tracker) ChannelRoster(name string) Members {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var m Members
	c, ok := t.channels[users.Fold(name)]
	if !ok {
		return m
	}
	for key, role := range c.roles {
		nick := c.nicks[key]
		switch role {
		case RoleOperator:
			m.Operators = append(m.Operators, nick)
		case RoleVoice:
			m.Voiced = append(m.Voiced, nick)
		default:
			m.Regular = append(m.Regular, nick)
		}
	}
	sort.Strings(m.Operators)
	sort.Strings(m.Voiced)
	sort.Strings(m.Regular)
	return m
}

// role returns -1 for unknown nicks or channels.
func (t *Tracker) role(nick, name string) Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.channels[users.Fold(name)]
	if !ok {
		return -1
	}
	role, ok := c.roles[users.Fold(nick)]
	if !ok {
		return -1
	}
	return role
}

func (t *Tracker) emptyLocked(c *channel) bool {
	for key := range c.roles {
		if key != t.self {
			return false
		}
	}
	return true
}

// set stores a single role per nick, which keeps the three sets disjoint.
func (c *channel) set(key, nick string, role Role) {
	c.roles[key] = role
	c.nicks[key] = nick
}

func (c *channel) remove(key string) {
	delete(c.roles, key)
	delete(c.nicks, key)
}

func roleFromFlags(flags string) Role {
	switch {
	case strings.ContainsAny(flags, "~&@%"):
		return RoleOperator
	case strings.Contains(flags, "+"):
		return RoleVoice
	default:
		return RoleRegular
	}
}
