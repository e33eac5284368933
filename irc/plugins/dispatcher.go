package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"reconcile/irc/users"
	"reconcile/logger"
)

var (
	ErrAlreadyLoaded = errors.New("plugin already loaded")
	ErrNotLoaded     = errors.New("plugin not loaded")
	ErrUnknownPlugin = errors.New("unknown plugin")
	ErrPluginPanic   = errors.New("plugin panicked")
)

type record struct {
	name     string
	plugin   Plugin
	mu       sync.Mutex
	commands []string
}

func (r *record) addCommand(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, strings.ToLower(strings.TrimSpace(name)))
}

func (r *record) dropCommand(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(name)
	for i, c := range r.commands {
		if c == name {
			r.commands = append(r.commands[:i], r.commands[i+1:]...)
			return
		}
	}
}

func (r *record) takeCommands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	commands := r.commands
	r.commands = nil
	return commands
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPanicHook is called with the plugin name whenever a plugin callback panics.
func WithPanicHook(fn func(plugin string)) Option {
	return func(d *Dispatcher) { d.onPanic = fn }
}

// Dispatcher owns the loaded plugins of one network, in load order.
type Dispatcher struct {
	mu       sync.Mutex
	bot      Bot
	catalog  *Catalog
	registry *Registry
	records  []*record
	log      *slog.Logger
	onPanic  func(plugin string)
}

func NewDispatcher(bot Bot, catalog *Catalog, registry *Registry, opts ...Option) *Dispatcher {
	if catalog == nil {
		catalog = NewCatalog()
	}
	d := &Dispatcher{
		bot:      bot,
		catalog:  catalog,
		registry: registry,
		log:      logger.Network(bot.Network()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load constructs and registers the plugin called name. A plugin whose
// constructor or OnModuleLoad fails is cleaned up and discarded.
func (d *Dispatcher) Load(name string) error {
	name = strings.ToLower(name)

	if d.IsLoaded(name) {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}
	ctor, ok := d.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	rec := &record{name: name}
	scoped := &scopedBot{Bot: d.bot, record: rec, registry: d.registry, log: logger.Plugin(d.bot.Network(), name)}

	var plugin Plugin
	err := d.guard(name, "construct", func() error {
		var err error
		plugin, err = ctor(scoped)
		return err
	})
	if err == nil && plugin == nil {
		err = errors.New("constructor returned no plugin")
	}
	if err != nil {
		d.unregister(rec)
		return fmt.Errorf("loading plugin %s: %w", name, err)
	}
	rec.plugin = plugin

	if err := d.guard(name, "OnModuleLoad", plugin.OnModuleLoad); err != nil {
		if uerr := d.guard(name, "OnModuleUnload", plugin.OnModuleUnload); uerr != nil {
			d.log.Warn("Cleanup of failed plugin errored", "plugin", name, "error", uerr)
		}
		d.unregister(rec)
		return fmt.Errorf("loading plugin %s: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if r.name == name {
			// Loaded concurrently by someone else while we were constructing.
			d.unregister(rec)
			return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
		}
	}
	d.records = append(d.records, rec)
	d.log.Info("Loaded plugin", "plugin", name)
	return nil
}

// Unload calls OnModuleUnload and removes the plugin. Its commands are
// unregistered even when OnModuleUnload fails.
func (d *Dispatcher) Unload(name string) error {
	name = strings.ToLower(name)

	d.mu.Lock()
	var rec *record
	for i, r := range d.records {
		if r.name == name {
			rec = r
			d.records = append(d.records[:i:i], d.records[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}

	err := d.guard(name, "OnModuleUnload", rec.plugin.OnModuleUnload)
	d.unregister(rec)
	if err != nil {
		return fmt.Errorf("unloading plugin %s: %w", name, err)
	}
	d.log.Info("Unloaded plugin", "plugin", name)
	return nil
}

// Reload unloads and loads name again. Both steps must succeed.
func (d *Dispatcher) Reload(name string) error {
	if err := d.Unload(name); err != nil {
		return err
	}
	return d.Load(name)
}

// LoadAll loads every plugin in names, continuing past failures.
func (d *Dispatcher) LoadAll(names []string) error {
	var errs []error
	for _, name := range names {
		if err := d.Load(name); err != nil {
			d.log.Error("Failed to load plugin", "plugin", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnloadAll unloads every plugin in reverse load order.
func (d *Dispatcher) UnloadAll() {
	loaded := d.Loaded()
	for i := len(loaded) - 1; i >= 0; i-- {
		if err := d.Unload(loaded[i]); err != nil {
			d.log.Warn("Failed to unload plugin cleanly", "plugin", loaded[i], "error", err)
		}
	}
}

func (d *Dispatcher) IsLoaded(name string) bool {
	name = strings.ToLower(name)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if r.name == name {
			return true
		}
	}
	return false
}

// Loaded returns plugin names in load order.
func (d *Dispatcher) Loaded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.records))
	for i, r := range d.records {
		names[i] = r.name
	}
	return names
}

// Known reports whether the catalog can construct name.
func (d *Dispatcher) Known(name string) bool {
	_, ok := d.catalog.Lookup(name)
	return ok
}

// Available returns every plugin the catalog can construct.
func (d *Dispatcher) Available() []string {
	return d.catalog.Names()
}

func (d *Dispatcher) Connect() {
	d.broadcast("OnConnect", func(p Plugin) { p.OnConnect() })
}

func (d *Dispatcher) Disconnect() {
	d.broadcast("OnDisconnect", func(p Plugin) { p.OnDisconnect() })
}

func (d *Dispatcher) Privmsg(target string, actor users.Actor, text string) {
	d.broadcast("OnPrivmsg", func(p Plugin) { p.OnPrivmsg(target, actor, text) })
}

func (d *Dispatcher) Action(target string, actor users.Actor, text string) {
	d.broadcast("OnAction", func(p Plugin) { p.OnAction(target, actor, text) })
}

func (d *Dispatcher) Join(actor users.Actor, channel string) {
	d.broadcast("OnJoin", func(p Plugin) { p.OnJoin(actor, channel) })
}

func (d *Dispatcher) Part(actor users.Actor, channel, reason string) {
	d.broadcast("OnPart", func(p Plugin) { p.OnPart(actor, channel, reason) })
}

func (d *Dispatcher) Kick(actor users.Actor, channel, targetNick, reason string) {
	d.broadcast("OnKick", func(p Plugin) { p.OnKick(actor, channel, targetNick, reason) })
}

func (d *Dispatcher) Quit(actor users.Actor, reason string) {
	d.broadcast("OnQuit", func(p Plugin) { p.OnQuit(actor, reason) })
}

func (d *Dispatcher) Numeric(code int, raw string) {
	d.broadcast("OnNumeric", func(p Plugin) { p.OnNumeric(code, raw) })
}

// DispatchCommand offers the command to each plugin in load order and stops at
// the first one that handles it. It reports whether any plugin did.
func (d *Dispatcher) DispatchCommand(target string, actor users.Actor, command, args string, isModerator, isAdmin bool) bool {
	for _, rec := range d.snapshot() {
		handled := false
		err := d.guard(rec.name, "OnCommand", func() error {
			handled = rec.plugin.OnCommand(target, actor, command, args, isModerator, isAdmin)
			return nil
		})
		if err != nil {
			continue
		}
		if handled {
			return true
		}
	}
	return false
}

func (d *Dispatcher) broadcast(event string, fn func(Plugin)) {
	for _, rec := range d.snapshot() {
		_ = d.guard(rec.name, event, func() error {
			fn(rec.plugin)
			return nil
		})
	}
}

func (d *Dispatcher) snapshot() []*record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*record(nil), d.records...)
}

// guard runs fn and turns a panic into ErrPluginPanic.
func (d *Dispatcher) guard(plugin, event string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Plugin panicked", "plugin", plugin, "event", event, "panic", r)
			if d.onPanic != nil {
				d.onPanic(plugin)
			}
			err = fmt.Errorf("%w: %s: %v", ErrPluginPanic, event, r)
		}
	}()
	return fn()
}

func (d *Dispatcher) unregister(rec *record) {
	for _, name := range rec.takeCommands() {
		d.registry.Unregister(name)
	}
}

// scopedBot is the Bot handed to one plugin. It records the commands the
// plugin registers so they can be removed when it goes away.
type scopedBot struct {
	Bot
	record   *record
	registry *Registry
	log      *slog.Logger
}

func (s *scopedBot) Logger() *slog.Logger {
	return s.log
}

func (s *scopedBot) RegisterCommand(c Command) error {
	c.Plugin = s.record.name
	if err := s.registry.Register(c); err != nil {
		s.log.Error("Failed to register command", "command", c.Name, "error", err)
		return err
	}
	s.record.addCommand(c.Name)
	return nil
}

func (s *scopedBot) UnregisterCommand(name string) bool {
	c, ok := s.registry.Lookup(name)
	if !ok || c.Plugin != s.record.name {
		return false
	}
	s.record.dropCommand(c.Name)
	return s.registry.Unregister(c.Name)
}
