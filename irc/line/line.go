// Package line tokenises raw IRC lines and classifies them into the closed set
// of event kinds the engine knows how to handle.
package line

import (
	"errors"
	"strconv"
	"strings"

	"reconcile/irc/users"

	"github.com/lrstanley/girc"
)

// ErrMalformedLine is returned for lines which are empty, too short or not parseable.
var ErrMalformedLine = errors.New("malformed line")

// Kind is the classification of a received line.
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindNumeric
	KindPrivmsg
	KindNotice
	KindMode
	KindJoin
	KindPart
	KindInvite
	KindKick
	KindQuit
	KindNick
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindPing:    girc.PING,
	KindNumeric: "numeric",
	KindPrivmsg: girc.PRIVMSG,
	KindNotice:  girc.NOTICE,
	KindMode:    girc.MODE,
	KindJoin:    girc.JOIN,
	KindPart:    girc.PART,
	KindInvite:  girc.INVITE,
	KindKick:    girc.KICK,
	KindQuit:    girc.QUIT,
	KindNick:    girc.NICK,
}

var eventKinds = map[string]Kind{
	girc.PRIVMSG: KindPrivmsg,
	girc.NOTICE:  KindNotice,
	girc.MODE:    KindMode,
	girc.JOIN:    KindJoin,
	girc.PART:    KindPart,
	girc.INVITE:  KindInvite,
	girc.KICK:    KindKick,
	girc.QUIT:    KindQuit,
	girc.NICK:    KindNick,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Line is one tokenised protocol line.
type Line struct {
	Raw     string
	Kind    Kind
	Command string
	// Code is the numeric reply code, only set for KindNumeric.
	Code   int
	Params []string
	Event  *girc.Event
}

// Parse trims the line terminator from raw, tokenises it and classifies it.
func Parse(raw string) (*Line, error) {
	raw = strings.TrimRight(raw, "\r\n")
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return nil, ErrMalformedLine
	}

	l := &Line{Raw: raw}

	if fields[0] == girc.PING {
		l.Kind = KindPing
		l.Command = girc.PING
		l.Params = []string{strings.TrimPrefix(fields[1], ":")}
		return l, nil
	}

	e := girc.ParseEvent(raw)
	if e == nil || e.Command == "" {
		return nil, ErrMalformedLine
	}
	l.Event = e
	l.Command = e.Command
	l.Params = e.Params

	if code, ok := numeric(fields); ok {
		l.Kind = KindNumeric
		l.Code = code
		return l, nil
	}

	if kind, ok := eventKinds[strings.ToUpper(fields[1])]; ok && e.Source != nil {
		l.Kind = kind
	}

	return l, nil
}

// numeric matches the ":<prefix> <3-digit-code>" shape.
func numeric(fields []string) (int, bool) {
	if !strings.HasPrefix(fields[0], ":") || len(fields[0]) < 2 || len(fields[1]) != 3 {
		return 0, false
	}
	for i := 0; i < len(fields[1]); i++ {
		if fields[1][i] < '0' || fields[1][i] > '9' {
			return 0, false
		}
	}
	code, err := strconv.Atoi(fields[1])
	return code, err == nil
}

// Actor returns the source of the line.
func (l *Line) Actor() users.Actor {
	if l.Event == nil {
		return users.Actor{}
	}
	return users.FromSource(l.Event.Source)
}

// Param returns the i-th parameter or an empty string.
func (l *Line) Param(i int) string {
	if i < 0 || i >= len(l.Params) {
		return ""
	}
	return l.Params[i]
}

// Target returns the first parameter, the target of most event verbs.
func (l *Line) Target() string {
	return l.Param(0)
}

// Trailing returns the last parameter. The tokenizer has already removed the
// single ':' that introduces it.
func (l *Line) Trailing() string {
	if len(l.Params) == 0 {
		return ""
	}
	return l.Params[len(l.Params)-1]
}

// ServerName returns the prefix of a server-originated line.
func (l *Line) ServerName() string {
	if l.Event == nil || l.Event.Source == nil {
		return ""
	}
	return l.Event.Source.Name
}
