package queue

import (
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"
	"golang.org/x/time/rate"
)

const (
	DefaultBurst  = 4
	DefaultPause  = 2 * time.Second
	DefaultIdle   = 250 * time.Millisecond
	DefaultWindow = 6 * time.Second
)

// Kind selects which of the two outgoing queues a message is placed on.
type Kind int

const (
	KindMessage Kind = iota
	KindNotice
)

func (k Kind) String() string {
	if k == KindNotice {
		return "notice"
	}
	return "message"
}

// Message is a single outgoing PRIVMSG or NOTICE.
type Message struct {
	Target    string
	Text      string
	Formatted bool
	Kind      Kind
}

// Writer is the write side of a connection.
type Writer interface {
	WriteLine(line string) error
}

// Options tune the pacing loop. Zero values fall back to the defaults.
type Options struct {
	Burst  int
	Pause  time.Duration
	Idle   time.Duration
	Window time.Duration
	// OnSend is called after every successful write.
	OnSend func(Message)
}

// Limiter paces outgoing messages so the connection stays below the server's
// flood threshold.
type Limiter struct {
	writer   Writer
	opts     Options
	bucket   *rate.Limiter
	messages *Queue
	notices  *Queue

	mutex  sync.Mutex
	cancel func()
	done   chan struct{}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Line renders the message as a raw protocol line.
func (m Message) Line() string {
	text := lineBreaks.Replace(m.Text)
	if m.Formatted {
		text = girc.Fmt(text)
	}

	verb := girc.PRIVMSG
	if m.Kind == KindNotice {
		verb = girc.NOTICE
	}
	return verb + " " + m.Target + " :" + text
}
