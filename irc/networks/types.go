package networks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"reconcile/irc/line"
	"reconcile/irc/plugins"
	"reconcile/irc/roster"
	"reconcile/metrics"
	"reconcile/queue"
	"reconcile/settings"
)

const (
	maxReconnectDelay = 5 * time.Minute
	errorWindowLength = time.Minute
	maxLineLength     = 16 * 1024
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrCircuitOpen      = errors.New("too many processing errors")
	ErrProcessing       = errors.New("processing failed")
)

// ErrMissingParams marks a line without its required parameters. It is
// dropped like any other malformed line.
var ErrMissingParams = fmt.Errorf("missing parameters: %w", line.ErrMalformedLine)

// Phase is the registration state of a connection.
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseRegistering
	PhaseConnected
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseRegistering:
		return "registering"
	case PhaseConnected:
		return "connected"
	case PhaseShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

// Dialer opens the transport to a network's server.
type Dialer func(ctx context.Context, cfg settings.Network) (io.ReadWriteCloser, error)

// ChannelStore persists the auto-join list. Failures are logged, never fatal.
type ChannelStore interface {
	List(network string) ([]string, error)
	Add(network, channel string) error
	Remove(network, channel string) error
}

type Option func(*Network)

func WithDialer(d Dialer) Option {
	return func(n *Network) { n.dial = d }
}

func WithStore(s ChannelStore) Option {
	return func(n *Network) { n.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Network) { n.stats = m.Network(n.name) }
}

func WithCatalog(c *plugins.Catalog) Option {
	return func(n *Network) { n.catalog = c }
}

// WithReconnectUnit sets the base of the reconnect delay, which is
// 2 x attempts x unit.
func WithReconnectUnit(d time.Duration) Option {
	return func(n *Network) { n.reconnectUnit = d }
}

func WithLimiterOptions(opts queue.Options) Option {
	return func(n *Network) { n.limiterOpts = opts }
}

// WithShutdownHook is called once when a plugin requests a process shutdown.
func WithShutdownHook(fn func(reason string)) Option {
	return func(n *Network) { n.onShutdown = fn }
}

// errorWindow counts errors inside a fixed one minute window.
type errorWindow struct {
	start time.Time
	count int
}

func (w *errorWindow) add(now time.Time) int {
	if w.start.IsZero() || now.Sub(w.start) >= errorWindowLength {
		w.start = now
		w.count = 0
	}
	w.count++
	return w.count
}

func (w *errorWindow) reset() {
	*w = errorWindow{}
}

// Network is one persistent connection to one IRC network.
type Network struct {
	name     string
	settings *settings.Config
	config   settings.Network

	dial          Dialer
	store         ChannelStore
	stats         *metrics.Network
	catalog       *plugins.Catalog
	reconnectUnit time.Duration
	limiterOpts   queue.Options
	onShutdown    func(reason string)
	now           func() time.Time

	roster     *roster.Tracker
	registry   *plugins.Registry
	dispatcher *plugins.Dispatcher

	// writeMu serialises writes to conn.
	writeMu sync.Mutex

	mu          sync.Mutex
	log         *slog.Logger
	conn        io.ReadWriteCloser
	limiter     *queue.Limiter
	phase       Phase
	nick        string
	serverName  string
	altNickUsed bool
	registered  bool
	attempts    int
	errors      errorWindow
	connectedAt time.Time
	topics      map[string][]func(topic string)

	shutdown       atomic.Bool
	shutdownReason atomic.Value
}
