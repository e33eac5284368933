package networks

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reconcile/irc/plugins"
	"reconcile/irc/users"
	"reconcile/metrics"
	"reconcile/queue"
	"reconcile/settings"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[metadata]
version = "1.2.3"
maintainer = "alice"

[networks.test]
enabled = true
server = "irc.test"
port = 6667
nick = "bot"
channels = ["#a", "#b"]
disallowedChannels = ["#bad"]
administrators = ["*!admin@admin.host"]
inviteJoin = true
leaveEmptyChannels = true
plugins = ["recorder"]
`

const waitFor = 2 * time.Second

// fakeServer is the remote end of every connection the engine dials.
type fakeServer struct {
	t     *testing.T
	conns chan net.Conn
	lines chan string
	dials atomic.Int32

	mu   sync.Mutex
	conn net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		t:     t,
		conns: make(chan net.Conn, 4),
		lines: make(chan string, 256),
	}
}

func (s *fakeServer) dial(ctx context.Context, cfg settings.Network) (io.ReadWriteCloser, error) {
	client, server := net.Pipe()
	s.dials.Add(1)
	go func() {
		scanner := bufio.NewScanner(server)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
	}()
	s.conns <- server
	return client, nil
}

// accept waits for the next dial.
func (s *fakeServer) accept() {
	s.t.Helper()
	select {
	case conn := <-s.conns:
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
	case <-time.After(waitFor):
		s.t.Fatal("engine did not dial")
	}
}

func (s *fakeServer) write(line string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(waitFor))
	_, err := io.WriteString(conn, line+"\r\n")
	return err
}

func (s *fakeServer) send(lines ...string) {
	s.t.Helper()
	for _, line := range lines {
		require.NoError(s.t, s.write(line))
	}
}

func (s *fakeServer) hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

// expect skips lines until one starts with prefix.
func (s *fakeServer) expect(prefix string) string {
	s.t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case line := <-s.lines:
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-timeout:
			s.t.Fatalf("no line starting with %q", prefix)
			return ""
		}
	}
}

// expectNone fails if a line starting with prefix arrives within wait.
func (s *fakeServer) expectNone(prefix string, wait time.Duration) {
	s.t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case line := <-s.lines:
			if strings.HasPrefix(line, prefix) {
				s.t.Fatalf("unexpected line %q", line)
			}
		case <-timeout:
			return
		}
	}
}

// register accepts a connection and completes registration.
func (s *fakeServer) register() {
	s.t.Helper()
	s.accept()
	s.expect("NICK bot")
	s.expect("USER bot 0 * :bot")
	s.send(":irc.test 001 bot :Welcome", ":irc.test 376 bot :End of /MOTD command.")
	s.expect("JOIN ")
}

type recorder struct {
	plugins.Base
	bot plugins.Bot

	privmsgs    chan string
	actions     chan string
	commands    chan string
	connects    chan struct{}
	disconnects chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		privmsgs:    make(chan string, 32),
		actions:     make(chan string, 32),
		commands:    make(chan string, 32),
		connects:    make(chan struct{}, 8),
		disconnects: make(chan struct{}, 8),
	}
}

func (p *recorder) Name() string { return "recorder" }

func (p *recorder) OnModuleLoad() error {
	if err := p.bot.RegisterCommand(plugins.Command{Name: "echo", Help: "Echoes."}); err != nil {
		return err
	}
	return p.bot.RegisterCommand(plugins.Command{Name: "secret", Help: "Admins only.", Privilege: plugins.PrivAdministrator, Aliases: []string{"s"}})
}

func (p *recorder) OnConnect()    { p.connects <- struct{}{} }
func (p *recorder) OnDisconnect() { p.disconnects <- struct{}{} }

func (p *recorder) OnPrivmsg(target string, actor users.Actor, text string) {
	p.privmsgs <- target + " " + text
}

func (p *recorder) OnAction(target string, actor users.Actor, text string) {
	p.actions <- target + " " + text
}

func (p *recorder) OnCommand(target string, actor users.Actor, command, args string, isModerator, isAdmin bool) bool {
	p.commands <- command + " " + args
	switch command {
	case "echo":
		p.bot.Reply(target, actor.Nick, args)
		return true
	case "secret":
		return true
	case "stop":
		p.bot.RequestShutdown(args)
		return true
	}
	return false
}

type memoryStore struct {
	mu       sync.Mutex
	channels map[string][]string
}

func (m *memoryStore) List(network string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.channels[network]...), nil
}

func (m *memoryStore) Add(network, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels[network] {
		if users.Fold(c) == users.Fold(channel) {
			return nil
		}
	}
	m.channels[network] = append(m.channels[network], channel)
	return nil
}

func (m *memoryStore) Remove(network, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.channels[network][:0]
	for _, c := range m.channels[network] {
		if users.Fold(c) != users.Fold(channel) {
			kept = append(kept, c)
		}
	}
	m.channels[network] = kept
	return nil
}

type harness struct {
	n      *Network
	server *fakeServer
	plugin *recorder
	store  *memoryStore
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startNetwork(t *testing.T, config string, opts ...Option) *harness {
	t.Helper()

	cfg, err := settings.Parse(config)
	require.NoError(t, err)

	h := &harness{
		server: newFakeServer(t),
		plugin: newRecorder(),
		store:  &memoryStore{channels: map[string][]string{"test": {"#stored"}}},
		done:   make(chan struct{}),
	}

	catalog := plugins.NewCatalog()
	catalog.Register("recorder", func(bot plugins.Bot) (plugins.Plugin, error) {
		h.plugin.bot = bot
		return h.plugin, nil
	})

	opts = append([]Option{
		WithDialer(h.server.dial),
		WithStore(h.store),
		WithCatalog(catalog),
		WithReconnectUnit(time.Millisecond),
		WithLimiterOptions(queue.Options{Pause: 10 * time.Millisecond, Idle: 5 * time.Millisecond}),
	}, opts...)

	h.n, err = New("test", cfg, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.err = h.n.Run(ctx)
		close(h.done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
		}
	})
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
		return nil
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestRegistrationJoinsOnceAfterMOTD(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server

	s.accept()
	s.expect("NICK bot")
	s.expect("USER bot 0 * :bot")
	s.send(":irc.test 001 bot :Welcome", ":irc.test 375 bot :- MOTD")
	s.expectNone("JOIN", 100*time.Millisecond)
	assert.Equal(t, PhaseRegistering, h.n.Phase())

	s.send(":irc.test 376 bot :End of /MOTD command.")
	assert.Equal(t, "JOIN #a,#b,#stored", s.expect("JOIN"))
	receive(t, h.plugin.connects)

	assert.Equal(t, PhaseConnected, h.n.Phase())
	assert.Equal(t, "irc.test", h.n.ServerName())
	assert.False(t, h.n.ConnectedAt().IsZero())
	s.expectNone("JOIN", 100*time.Millisecond)
}

func TestRegistrationSequence(t *testing.T) {
	config := strings.Replace(testConfig, `inviteJoin = true`, `inviteJoin = true
password = "hunter2"
userModes = "+ix"
perform = ["PRIVMSG ChanServ :UNBAN #a", "AWAY :busy"]`, 1)
	h := startNetwork(t, config)
	s := h.server

	s.accept()
	s.expect("USER")
	s.send(":irc.test 422 renamed :MOTD File is missing")

	assert.Equal(t, "PRIVMSG NickServ :IDENTIFY hunter2", s.expect("PRIVMSG NickServ"))
	assert.Equal(t, "MODE renamed +ix", s.expect("MODE"))
	s.expect("JOIN #a,#b,#stored")
	s.expect("PRIVMSG ChanServ :UNBAN #a")
	s.expect("AWAY :busy")
	receive(t, h.plugin.connects)
	assert.Equal(t, "renamed", h.n.Nick())
}

func TestNickInUseSwitchesToAltNickOnce(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server

	s.accept()
	s.expect("USER")
	s.send(":irc.test 433 * bot :Nickname is already in use.")
	assert.Equal(t, "NICK bot_", s.expect("NICK"))

	s.send(":irc.test 433 * bot_ :Nickname is already in use.")
	s.expectNone("NICK", 150*time.Millisecond)
	assert.Equal(t, "bot_", h.n.Nick())
}

func TestPingBypassesQueue(t *testing.T) {
	config := strings.Replace(testConfig, `plugins = ["recorder"]`, `plugins = ["recorder"]
burstLimit = 1`, 1)
	h := startNetwork(t, config, WithLimiterOptions(queue.Options{Pause: time.Hour}))
	s := h.server
	s.register()

	h.n.Message("#a", "one", false)
	h.n.Message("#a", "two", false)
	s.expect("PRIVMSG #a :one")

	s.send("PING :server123")
	assert.Equal(t, "PONG :server123", s.expect("PONG"))
	s.expectNone("PRIVMSG #a :two", 150*time.Millisecond)
}

func TestPrivmsgWithoutCommandIsOnlyBroadcast(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	s.send(":nick!user@host PRIVMSG #chan :hello")
	assert.Equal(t, "#chan hello", receive(t, h.plugin.privmsgs))

	s.send(":nick!user@host PRIVMSG #chan :!echo hi there")
	assert.Equal(t, "#chan !echo hi there", receive(t, h.plugin.privmsgs))
	assert.Equal(t, "echo hi there", receive(t, h.plugin.commands))
	assert.Equal(t, "PRIVMSG #chan :nick: hi there", s.expect("PRIVMSG #chan"))
	assert.Empty(t, h.plugin.commands)
}

func TestCommandAddressing(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	s.send(":nick!user@host PRIVMSG #chan :bot, echo named")
	assert.Equal(t, "echo named", receive(t, h.plugin.commands))
	s.expect("PRIVMSG #chan :nick: named")

	s.send(":nick!user@host PRIVMSG bot :echo private")
	assert.Equal(t, "echo private", receive(t, h.plugin.commands))
	s.expect("PRIVMSG nick :private")

	s.send(":nick!user@host PRIVMSG bot :whatever")
	assert.Equal(t, "whatever ", receive(t, h.plugin.commands))
	assert.Equal(t, "NOTICE nick :"+unknownCommandReply, s.expect("NOTICE"))

	s.send(":nick!user@host PRIVMSG #chan :!whatever")
	assert.Equal(t, "whatever ", receive(t, h.plugin.commands))
	s.expectNone("NOTICE", 150*time.Millisecond)
}

func TestCommandPrivileges(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	s.send(":nick!user@host PRIVMSG #chan :!s")
	assert.Equal(t, "NOTICE nick :You need administrator privileges to use this command.", s.expect("NOTICE"))
	assert.Empty(t, h.plugin.commands)

	s.send(":boss!admin@admin.host PRIVMSG #chan :!S now")
	assert.Equal(t, "secret now", receive(t, h.plugin.commands))
}

func TestCTCP(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	s.send(":nick!user@host PRIVMSG bot :\x01VERSION\x01")
	assert.Equal(t, "NOTICE nick :\x01VERSION reconcile 1.2.3 (maintained by alice)\x01", s.expect("NOTICE"))

	s.send(":nick!user@host PRIVMSG bot :\x01PING 12345\x01")
	assert.Equal(t, "NOTICE nick :\x01PING 12345\x01", s.expect("NOTICE"))

	s.send(":nick!user@host PRIVMSG #chan :\x01ACTION waves\x01")
	assert.Equal(t, "#chan waves", receive(t, h.plugin.actions))
	assert.Empty(t, h.plugin.privmsgs)
	assert.Empty(t, h.plugin.commands)
}

// requestPanickingTopics queues count topic requests, one per channel, whose
// callbacks panic when the reply arrives.
func requestPanickingTopics(h *harness, count int) {
	for i := 1; i <= count; i++ {
		channel := fmt.Sprintf("#c%d", i)
		h.n.RequestTopic(channel, func(string) { panic("topic handler failed") })
		h.server.expect("TOPIC " + channel)
	}
}

func sendTopics(s *fakeServer, count int) {
	for i := 1; i <= count; i++ {
		s.send(fmt.Sprintf(":irc.test 332 bot #c%d :topic", i))
	}
}

func TestCircuitBreakerTrips(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	requestPanickingTopics(h, 26)
	sendTopics(s, 26)
	assert.Equal(t, "QUIT :Too many errors", s.expect("QUIT"))

	err := h.wait(t)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, PhaseShuttingDown, h.n.Phase())
	assert.Equal(t, int32(1), s.dials.Load())
}

func TestCircuitBreakerBelowThreshold(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	requestPanickingTopics(h, 25)
	sendTopics(s, 25)
	// Malformed lines do not count.
	s.send("garbage", ":x", "")
	s.send("PING :still-here")
	s.expect("PONG :still-here")
	assert.Equal(t, PhaseConnected, h.n.Phase())
}

func TestShortLinesDoNotTripBreaker(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	for i := 0; i < 30; i++ {
		s.send(":nick!user@host KICK #chan", ":nick!user@host PRIVMSG #chan", ":nick!user@host MODE #chan")
	}
	s.send("PING :alive")
	s.expect("PONG :alive")
	s.expectNone("QUIT", 100*time.Millisecond)
	assert.Equal(t, PhaseConnected, h.n.Phase())
	assert.Empty(t, h.plugin.privmsgs)
}

func TestChannelWhoIsDebounced(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	s.send(":bot!bot@host JOIN #chan")
	assert.Equal(t, "WHO #chan %tcuhnfar,001", s.expect("WHO"))

	s.send(":op!op@host MODE #chan +o someone")
	s.expectNone("WHO #chan", 200*time.Millisecond)

	s.send(
		":irc.test 354 bot 001 #chan op ophost op H@ opacct :Op",
		":irc.test 354 bot 001 #chan someone somehost someone H 0 :Someone",
	)
	s.send("PING :sync")
	s.expect("PONG :sync")
	assert.True(t, h.n.IsOperator("op", "#chan"))
	assert.True(t, h.n.IsIdentified("op"))
	assert.True(t, h.n.IsPresent("someone", "#chan"))
	assert.False(t, h.n.IsIdentified("someone"))
}

func TestMembershipAndStore(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	s.send(":nick!user@host INVITE bot :#new")
	assert.Equal(t, "JOIN #new", s.expect("JOIN"))
	s.send(":nick!user@host INVITE bot :#bad")
	s.expectNone("JOIN", 100*time.Millisecond)

	s.send(":bot!bot@host JOIN #new")
	s.expect("WHO #new")
	s.send(":bot!bot@host JOIN #bad")
	assert.Equal(t, "PART #bad :This channel is not allowed", s.expect("PART"))

	s.send(":other!o@host JOIN #new")
	s.expect("WHO other %tuhnfar,000")
	s.send(":other!o@host PART #new :bye")
	assert.Equal(t, "PART #new :Channel is empty", s.expect("PART"))

	s.send(":bot!bot@host PART #new")
	s.send("PING :sync")
	s.expect("PONG :sync")
	channels, _ := h.store.List("test")
	assert.Equal(t, []string{"#stored"}, channels)

	s.send(":bot!bot@host JOIN #kept", ":op!op@host KICK #kept bot :out")
	s.send("PING :sync")
	s.expect("PONG :sync")
	channels, _ = h.store.List("test")
	assert.Equal(t, []string{"#stored", "#kept"}, channels)
}

func TestNickChangeTracksSelf(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	h.n.ChangeNick("newbot")
	s.expect("NICK newbot")
	s.send(":bot!bot@host NICK :newbot")
	s.send("PING :sync")
	s.expect("PONG :sync")
	assert.Equal(t, "newbot", h.n.Nick())

	s.send(":nick!user@host PRIVMSG #chan :newbot: echo renamed")
	assert.Equal(t, "echo renamed", receive(t, h.plugin.commands))
}

func TestTopicRequest(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	topics := make(chan string, 4)
	h.n.RequestTopic("#chan", func(topic string) { topics <- topic })
	s.expect("TOPIC #chan")

	s.send(":irc.test 332 bot #CHAN :hello world")
	assert.Equal(t, "hello world", receive(t, topics))

	h.n.RequestTopic("#empty", func(topic string) { topics <- "empty:" + topic })
	s.expect("TOPIC #empty")
	s.send(":irc.test 331 bot #empty :No topic is set")
	assert.Equal(t, "empty:", receive(t, topics))
}

func TestTopicRequestDroppedOnError(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	topics := make(chan string, 4)
	h.n.RequestTopic("#gone", func(topic string) { topics <- topic })
	s.expect("TOPIC #gone")
	s.send(":irc.test 403 bot #gone :No such channel")

	// A later reply must not reach the dropped request.
	s.send(":irc.test 332 bot #gone :late", "PING :sync")
	s.expect("PONG :sync")
	assert.Empty(t, topics)

	h.n.mu.Lock()
	assert.Empty(t, h.n.topics)
	h.n.mu.Unlock()
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	m := metrics.New()
	h := startNetwork(t, testConfig, WithMetrics(m))
	s := h.server
	s.register()
	receive(t, h.plugin.connects)

	s.hangup()
	receive(t, h.plugin.disconnects)

	s.register()
	receive(t, h.plugin.connects)
	assert.Equal(t, int32(2), s.dials.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reconnects.WithLabelValues("test")))
	assert.Equal(t, []string{"recorder"}, h.n.LoadedPlugins())
}

func TestCancelQuits(t *testing.T) {
	h := startNetwork(t, testConfig)
	s := h.server
	s.register()

	h.cancel()
	assert.Equal(t, "QUIT :Shutting down", s.expect("QUIT"))
	assert.NoError(t, h.wait(t))
}

func TestShutdownRequestedByPlugin(t *testing.T) {
	reasons := make(chan string, 1)
	h := startNetwork(t, testConfig, WithShutdownHook(func(reason string) { reasons <- reason }))
	s := h.server
	s.register()

	s.send(":boss!admin@admin.host PRIVMSG #chan :!stop maintenance")
	assert.Equal(t, "maintenance", receive(t, reasons))
	assert.Equal(t, "QUIT :maintenance", s.expect("QUIT"))
	assert.NoError(t, h.wait(t))
	assert.Equal(t, PhaseShuttingDown, h.n.Phase())
}

func TestConnectTwiceFails(t *testing.T) {
	cfg, err := settings.Parse(strings.Replace(testConfig, `plugins = ["recorder"]`, `plugins = []`, 1))
	require.NoError(t, err)
	s := newFakeServer(t)
	n, err := New("test", cfg, WithDialer(s.dial))
	require.NoError(t, err)

	require.NoError(t, n.Connect(context.Background()))
	s.accept()
	assert.ErrorIs(t, n.Connect(context.Background()), ErrAlreadyConnected)
	n.Quit("done")
	n.teardown()
}

func TestNewRejectsUnknownPlugins(t *testing.T) {
	cfg, err := settings.Parse(testConfig)
	require.NoError(t, err)

	_, err = New("test", cfg)
	assert.ErrorIs(t, err, plugins.ErrUnknownPlugin)

	_, err = New("missing", cfg)
	assert.ErrorIs(t, err, settings.ErrUnknownNetwork)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name, target, text string
		how                addressing
		command, args      string
	}{
		{"plain message", "#chan", "hello there", notCommand, "", ""},
		{"prefix", "#chan", "!Join #x", byPrefix, "join", "#x"},
		{"prefix only", "#chan", "!", notCommand, "", ""},
		{"colon", "#chan", "Bot: help me", byName, "help", "me"},
		{"comma", "#chan", "bot,ping", byName, "ping", ""},
		{"space", "#chan", "bot ping", byName, "ping", ""},
		{"longer nick", "#chan", "bots: ping", notCommand, "", ""},
		{"query", "bot", "ping", byQuery, "ping", ""},
		{"query with prefix", "BOT", "!ping now", byQuery, "ping", "now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			how, command, args := parseCommand("bot", "!", tt.target, tt.text)
			assert.Equal(t, tt.how, how)
			assert.Equal(t, tt.command, command)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestErrorWindow(t *testing.T) {
	var w errorWindow
	start := time.Now()
	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, w.add(start.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, 1, w.add(start.Add(2*time.Minute)))
	w.reset()
	assert.Equal(t, 1, w.add(start))
}
