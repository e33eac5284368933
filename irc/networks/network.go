// Package networks implements the per-network protocol engine: it owns the
// connection, drives registration and reconnects, and routes events to the
// roster and the plugin dispatcher.
package networks

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"reconcile/irc/line"
	"reconcile/irc/plugins"
	"reconcile/irc/roster"
	"reconcile/logger"
	"reconcile/queue"
	"reconcile/settings"

	"github.com/google/uuid"
	"github.com/hako/durafmt"
)

// New creates the engine for the network called name in cfg.
func New(name string, cfg *settings.Config, opts ...Option) (*Network, error) {
	nc, err := cfg.Network(name)
	if err != nil {
		return nil, err
	}

	n := &Network{
		name:          name,
		settings:      cfg,
		config:        nc,
		dial:          dialNetwork,
		reconnectUnit: time.Second,
		now:           time.Now,
		log:           logger.Network(name),
		nick:          nc.Nick,
		topics:        make(map[string][]func(string)),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.limiterOpts.Burst = nc.BurstLimit
	n.roster = roster.New(n.sendWho)
	n.roster.SetSelf(nc.Nick)
	n.registry = plugins.NewRegistry(nc.CommandPrefix)
	n.dispatcher = plugins.NewDispatcher(n, n.catalog, n.registry, plugins.WithPanicHook(n.stats.PluginPanic))
	for _, plugin := range nc.Plugins {
		if !n.dispatcher.Known(plugin) {
			return nil, fmt.Errorf("network %s: %w: %s", name, plugins.ErrUnknownPlugin, plugin)
		}
	}
	return n, nil
}

func dialNetwork(ctx context.Context, cfg settings.Network) (io.ReadWriteCloser, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: time.Minute}
	if !cfg.TLS {
		return dialer.DialContext(ctx, "tcp", cfg.Address())
	}

	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: cfg.SkipVerify, //nolint:gosec // opt-in per network
			MinVersion:         tls.VersionTLS12,
		},
	}
	return tlsDialer.DialContext(ctx, "tcp", cfg.Address())
}

// Connect dials the server and starts registration. It fails with
// ErrAlreadyConnected unless the network is disconnected.
func (n *Network) Connect(ctx context.Context) error {
	n.mu.Lock()
	if n.phase != PhaseDisconnected {
		phase := n.phase
		n.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyConnected, n.name, phase)
	}
	n.phase = PhaseConnecting
	n.log = logger.Network(n.name).With("session", uuid.NewString())
	log := n.log
	n.mu.Unlock()

	log.Info("Connecting", "address", n.config.Address(), "tls", n.config.TLS)

	conn, err := n.dial(ctx, n.config)
	if err != nil {
		n.setPhase(PhaseDisconnected)
		return fmt.Errorf("dialing %s: %w", n.config.Address(), err)
	}

	opts := n.limiterOpts
	opts.OnSend = func(m queue.Message) {
		n.stats.LineSent(m.Kind.String())
	}
	limiter := queue.New(n, opts)

	n.mu.Lock()
	n.conn = conn
	n.limiter = limiter
	n.nick = n.config.Nick
	n.serverName = ""
	n.altNickUsed = false
	n.errors.reset()
	n.topics = make(map[string][]func(string))
	n.phase = PhaseRegistering
	n.mu.Unlock()

	n.roster.Reset()
	n.roster.SetSelf(n.config.Nick)
	limiter.Start(ctx)

	if n.config.Pass != "" {
		if err := n.sendRaw("PASS " + n.config.Pass); err != nil {
			return err
		}
	}
	if err := n.sendRaw("NICK " + n.config.Nick); err != nil {
		return err
	}
	return n.sendRaw("USER " + n.config.User + " 0 * :" + n.config.Realname)
}

// Run keeps the network connected until ctx is cancelled, Quit is called, a
// plugin requests shutdown or the circuit breaker opens. Only the latter is
// reported as an error.
func (n *Network) Run(ctx context.Context) error {
	if err := n.dispatcher.LoadAll(n.config.Plugins); err != nil {
		n.logger().Warn("Some plugins failed to load", "error", err)
	}
	defer n.dispatcher.UnloadAll()

	for {
		if ctx.Err() != nil || n.Phase() == PhaseShuttingDown {
			return nil
		}

		if err := n.Connect(ctx); err != nil {
			if errors.Is(err, ErrAlreadyConnected) {
				return err
			}
			n.logger().Error("Connection failed", "error", err)
			n.teardown()
		} else {
			err = n.readLoop(ctx)
			n.teardown()

			switch {
			case errors.Is(err, ErrCircuitOpen):
				return err
			case n.Phase() == PhaseShuttingDown, ctx.Err() != nil:
				return nil
			}
			n.logger().Warn("Connection lost", "error", err)
		}

		if !n.backoff(ctx) {
			return nil
		}
	}
}

// Quit sends QUIT, stops the limiter and closes the transport. The network
// will not reconnect afterwards.
func (n *Network) Quit(reason string) {
	n.closeConnection(reason, PhaseShuttingDown)
}

// Reconnect drops the connection and lets Run establish a new one.
func (n *Network) Reconnect(reason string) {
	n.closeConnection(reason, PhaseDisconnected)
}

func (n *Network) closeConnection(reason string, next Phase) {
	n.mu.Lock()
	prev := n.phase
	if prev != PhaseShuttingDown {
		n.phase = next
	}
	conn, limiter := n.conn, n.limiter
	n.mu.Unlock()

	if conn == nil {
		return
	}
	if prev == PhaseRegistering || prev == PhaseConnected {
		if err := n.sendRaw("QUIT :" + reason); err != nil {
			n.logger().Debug("Could not send QUIT", "error", err)
		}
	}
	if limiter != nil {
		limiter.Stop()
	}
	_ = conn.Close()
	n.logger().Info("Closed connection", "reason", reason)
}

// teardown releases everything owned by the current connection.
func (n *Network) teardown() {
	n.mu.Lock()
	conn, limiter := n.conn, n.limiter
	n.conn, n.limiter = nil, nil
	wasConnected := n.registered
	n.registered = false
	if n.phase != PhaseShuttingDown {
		n.phase = PhaseDisconnected
	}
	n.mu.Unlock()

	if limiter != nil {
		limiter.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}
	n.roster.Reset()
	if wasConnected {
		n.dispatcher.Disconnect()
	}
}

// backoff waits 2 x attempts x unit, capped at five minutes. It returns false
// when ctx ends first.
func (n *Network) backoff(ctx context.Context) bool {
	n.mu.Lock()
	n.attempts++
	attempts := n.attempts
	n.mu.Unlock()

	delay := time.Duration(2*attempts) * n.reconnectUnit
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}

	n.stats.Reconnect()
	n.logger().Info("Reconnecting", "attempt", attempts, "delay", durafmt.Parse(delay).LimitFirstN(2).String())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (n *Network) readLoop(ctx context.Context) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			n.Quit("Shutting down")
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		n.stats.LineReceived()

		if err := n.process(raw); err != nil {
			if errors.Is(err, line.ErrMalformedLine) {
				n.logger().Debug("Dropped malformed line", "line", raw)
				continue
			}
			n.stats.ProcessingError()
			n.logger().Error("Error processing line", "line", raw, "error", err)
			if count, tripped := n.recordError(); tripped {
				return n.tripBreaker(count)
			}
		}

		if n.shutdown.Load() {
			reason, _ := n.shutdownReason.Load().(string)
			n.Quit(reason)
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (n *Network) recordError() (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := n.errors.add(n.now())
	return count, count > n.config.MaxErrors
}

func (n *Network) tripBreaker(count int) error {
	n.logger().Error("Too many errors, shutting down connection permanently",
		"errors", count, "window", durafmt.Parse(errorWindowLength).String())
	n.Quit("Too many errors")
	return fmt.Errorf("%w: %d errors within %s", ErrCircuitOpen, count, errorWindowLength)
}

// process handles one raw line. Panics are turned into errors so they count
// towards the circuit breaker.
func (n *Network) process(raw string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProcessing, r)
		}
	}()

	l, err := line.Parse(raw)
	if err != nil {
		return err
	}

	switch l.Kind {
	case line.KindPing:
		n.pong(l.Param(0))
		return nil
	case line.KindNumeric:
		return n.handleNumeric(l)
	case line.KindPrivmsg:
		return n.handlePrivmsg(l)
	case line.KindNotice:
		return n.handleNotice(l)
	case line.KindMode:
		return n.handleMode(l)
	case line.KindJoin:
		return n.handleJoin(l)
	case line.KindPart:
		return n.handlePart(l)
	case line.KindInvite:
		return n.handleInvite(l)
	case line.KindKick:
		return n.handleKick(l)
	case line.KindQuit:
		return n.handleQuit(l)
	case line.KindNick:
		return n.handleNick(l)
	default:
		return nil
	}
}

// pong bypasses the egress queue.
func (n *Network) pong(token string) {
	if err := n.sendRaw("PONG :" + token); err != nil {
		n.logger().Warn("Failed to answer PING", "error", err)
	}
}

// WriteLine writes one line to the transport. It is used by the limiter.
func (n *Network) WriteLine(line string) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	_, err := io.WriteString(conn, line+"\r\n")
	return err
}

func (n *Network) sendRaw(line string) error {
	if err := n.WriteLine(line); err != nil {
		return err
	}
	n.stats.LineSent("raw")
	return nil
}

func (n *Network) sendWho(line string) {
	if err := n.sendRaw(line); err != nil {
		n.logger().Debug("Failed to send WHO", "error", err)
	}
}

func (n *Network) enqueue(m queue.Message) {
	n.mu.Lock()
	limiter := n.limiter
	n.mu.Unlock()

	if limiter == nil {
		n.logger().Debug("Dropping message while disconnected", "target", m.Target)
		return
	}
	limiter.Enqueue(m)
	n.stats.Pending(limiter.Pending())
}

func (n *Network) setPhase(p Phase) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseShuttingDown {
		n.phase = p
	}
}

func (n *Network) logger() *slog.Logger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.log
}

// Phase returns the current registration phase.
func (n *Network) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// ServerName is the server that completed registration.
func (n *Network) ServerName() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.serverName
}
