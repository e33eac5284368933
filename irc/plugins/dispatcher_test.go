package plugins

import (
	"errors"
	"testing"

	"reconcile/irc/users"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	Bot
}

func (fakeBot) Network() string { return "test" }

type stubPlugin struct {
	Base
	name      string
	bot       Bot
	handles   bool
	loadErr   error
	unloadErr error
	panicOn   string

	commands []string
	events   *[]string
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) OnModuleLoad() error {
	for _, c := range p.commands {
		if err := p.bot.RegisterCommand(Command{Name: c, Help: "test command", Aliases: []string{c + "-alias"}}); err != nil {
			return err
		}
	}
	return p.loadErr
}

func (p *stubPlugin) OnModuleUnload() error {
	*p.events = append(*p.events, p.name+":unload")
	return p.unloadErr
}

func (p *stubPlugin) OnPrivmsg(target string, actor users.Actor, text string) {
	if p.panicOn == "privmsg" {
		panic("boom")
	}
	*p.events = append(*p.events, p.name+":privmsg:"+text)
}

func (p *stubPlugin) OnCommand(target string, actor users.Actor, command, args string, isModerator, isAdmin bool) bool {
	if p.panicOn == "command" {
		panic("boom")
	}
	*p.events = append(*p.events, p.name+":command:"+command)
	return p.handles
}

type harness struct {
	catalog  *Catalog
	registry *Registry
	d        *Dispatcher
	events   []string
	panics   []string
}

func newHarness() *harness {
	h := &harness{catalog: NewCatalog(), registry: NewRegistry("!")}
	h.d = NewDispatcher(fakeBot{}, h.catalog, h.registry, WithPanicHook(func(plugin string) {
		h.panics = append(h.panics, plugin)
	}))
	return h
}

func (h *harness) add(p *stubPlugin) {
	p.events = &h.events
	h.catalog.Register(p.name, func(bot Bot) (Plugin, error) {
		p.bot = bot
		return p, nil
	})
}

func TestDispatchWithoutPlugins(t *testing.T) {
	h := newHarness()
	assert.NotPanics(t, func() {
		assert.False(t, h.d.DispatchCommand("#chan", users.Actor{Nick: "a"}, "ping", "", false, false))
		assert.False(t, h.d.DispatchCommand("bot", users.Actor{}, "", "", true, true))
	})
}

func TestCommandShortCircuits(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "first", handles: true})
	h.add(&stubPlugin{name: "second", handles: true})
	require.NoError(t, h.d.LoadAll([]string{"first", "second"}))

	assert.True(t, h.d.DispatchCommand("#chan", users.Actor{Nick: "a"}, "hello", "", false, false))
	assert.Equal(t, []string{"first:command:hello"}, h.events)
}

func TestCommandFallsThrough(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "first"})
	h.add(&stubPlugin{name: "second", handles: true})
	require.NoError(t, h.d.LoadAll([]string{"first", "second"}))

	assert.True(t, h.d.DispatchCommand("#chan", users.Actor{}, "hello", "", false, false))
	assert.Equal(t, []string{"first:command:hello", "second:command:hello"}, h.events)
}

func TestBroadcastReachesEveryPluginInOrder(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "a", handles: true})
	h.add(&stubPlugin{name: "b", panicOn: "privmsg"})
	h.add(&stubPlugin{name: "c"})
	require.NoError(t, h.d.LoadAll([]string{"a", "b", "c"}))

	h.d.Privmsg("#chan", users.Actor{Nick: "nick"}, "hello")
	assert.Equal(t, []string{"a:privmsg:hello", "c:privmsg:hello"}, h.events)
	assert.Equal(t, []string{"b"}, h.panics)
}

func TestPanickingCommandHandlerIsSkipped(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "a", panicOn: "command"})
	h.add(&stubPlugin{name: "b", handles: true})
	require.NoError(t, h.d.LoadAll([]string{"a", "b"}))

	assert.True(t, h.d.DispatchCommand("#chan", users.Actor{}, "x", "", false, false))
	assert.Equal(t, []string{"a"}, h.panics)
}

func TestLoadUnloadRoundTrip(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.registry.Register(Command{Name: "core", Help: "core command"}))
	before := h.registry.Names()

	h.add(&stubPlugin{name: "x", commands: []string{"foo", "bar"}})
	require.NoError(t, h.d.Load("X"))
	assert.True(t, h.registry.IsCommand("foo-alias"))
	assert.Equal(t, "x", mustLookup(t, h.registry, "bar").Plugin)

	require.NoError(t, h.d.Unload("x"))
	assert.Equal(t, before, h.registry.Names())
	assert.False(t, h.registry.IsCommand("foo-alias"))
	assert.Empty(t, h.d.Loaded())
}

func TestLoadRejectsDuplicatesAndUnknown(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "x"})
	require.NoError(t, h.d.Load("x"))

	assert.ErrorIs(t, h.d.Load("x"), ErrAlreadyLoaded)
	assert.ErrorIs(t, h.d.Load("missing"), ErrUnknownPlugin)
	assert.ErrorIs(t, h.d.Unload("missing"), ErrNotLoaded)
	assert.Equal(t, []string{"x"}, h.d.Loaded())
}

func TestFailedLoadLeaksNoCommands(t *testing.T) {
	h := newHarness()
	failing := &stubPlugin{name: "bad", commands: []string{"leak"}, loadErr: errors.New("missing api key")}
	h.add(failing)

	err := h.d.Load("bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing api key")
	assert.False(t, h.registry.IsCommand("leak"))
	assert.False(t, h.d.IsLoaded("bad"))
	assert.Equal(t, []string{"bad:unload"}, h.events, "cleanup runs on the partially loaded plugin")
}

func TestFailedConstructorIsRejected(t *testing.T) {
	h := newHarness()
	h.catalog.Register("broken", func(bot Bot) (Plugin, error) {
		_ = bot.RegisterCommand(Command{Name: "half"})
		return nil, errors.New("no config")
	})
	h.catalog.Register("panics", func(bot Bot) (Plugin, error) {
		panic("constructor")
	})

	assert.Error(t, h.d.Load("broken"))
	assert.False(t, h.registry.IsCommand("half"))
	assert.ErrorIs(t, h.d.Load("panics"), ErrPluginPanic)
	assert.Empty(t, h.d.Loaded())
}

func TestUnloadUnregistersEvenOnError(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "x", commands: []string{"foo"}, unloadErr: errors.New("flush failed")})
	require.NoError(t, h.d.Load("x"))

	assert.Error(t, h.d.Unload("x"))
	assert.False(t, h.registry.IsCommand("foo"))
	assert.False(t, h.d.IsLoaded("x"))
}

func TestReload(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "x", commands: []string{"foo"}})
	require.NoError(t, h.d.Load("x"))

	require.NoError(t, h.d.Reload("x"))
	assert.True(t, h.registry.IsCommand("foo"))
	assert.Equal(t, []string{"x"}, h.d.Loaded())

	assert.ErrorIs(t, h.d.Reload("y"), ErrNotLoaded)
}

func TestUnloadAllReverseOrder(t *testing.T) {
	h := newHarness()
	h.add(&stubPlugin{name: "a"})
	h.add(&stubPlugin{name: "b"})
	require.NoError(t, h.d.LoadAll([]string{"a", "b"}))

	h.d.UnloadAll()
	assert.Equal(t, []string{"b:unload", "a:unload"}, h.events)
	assert.Equal(t, []string{"a", "b"}, h.d.Available())
}

func mustLookup(t *testing.T, r *Registry, name string) Command {
	t.Helper()
	c, ok := r.Lookup(name)
	require.True(t, ok)
	return c
}
