package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrCommandExists = errors.New("command already registered")
	ErrEmptyCommand  = errors.New("command name is empty")
)

// Privilege is the permission level a command requires.
type Privilege int

const (
	PrivNone Privilege = iota
	PrivModerator
	PrivAdministrator
)

func (p Privilege) String() string {
	switch p {
	case PrivModerator:
		return "mod"
	case PrivAdministrator:
		return "admin"
	default:
		return "none"
	}
}

// Allowed reports whether a user with the given flags may use a command of this level.
func (p Privilege) Allowed(isModerator, isAdmin bool) bool {
	switch p {
	case PrivModerator:
		return isModerator || isAdmin
	case PrivAdministrator:
		return isAdmin
	default:
		return true
	}
}

// Command describes a registered command.
type Command struct {
	Name      string
	Params    string
	Help      string
	Privilege Privilege
	Aliases   []string
	// Plugin is filled in by the dispatcher.
	Plugin string
}

// Registry is the shared command table of one network.
type Registry struct {
	mu       sync.RWMutex
	prefix   string
	commands map[string]Command
	aliases  map[string]string
}

func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix:   prefix,
		commands: make(map[string]Command),
		aliases:  make(map[string]string),
	}
}

// Register adds c. Neither its name nor any alias may already be taken.
func (r *Registry) Register(c Command) error {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	if c.Name == "" {
		return ErrEmptyCommand
	}

	aliases := make([]string, 0, len(c.Aliases))
	for _, a := range c.Aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" && a != c.Name {
			aliases = append(aliases, a)
		}
	}
	c.Aliases = aliases

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range append([]string{c.Name}, aliases...) {
		if r.takenLocked(name) {
			return fmt.Errorf("%w: %s", ErrCommandExists, name)
		}
	}

	r.commands[c.Name] = c
	for _, a := range aliases {
		r.aliases[a] = c.Name
	}
	return nil
}

// Unregister removes the command and its aliases.
func (r *Registry) Unregister(name string) bool {
	name = strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.commands[name]
	if !ok {
		return false
	}
	delete(r.commands, name)
	for _, a := range c.Aliases {
		delete(r.aliases, a)
	}
	return true
}

// Lookup resolves name, which may be an alias.
func (r *Registry) Lookup(name string) (Command, bool) {
	name = strings.ToLower(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[name]; ok {
		name = target
	}
	c, ok := r.commands[name]
	return c, ok
}

func (r *Registry) IsCommand(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Commands lists command names visible at the given privilege, plus every
// command of plugin when plugin is not empty.
func (r *Registry) Commands(listMod, listAdmin bool, plugin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, c := range r.commands {
		if c.Privilege == PrivNone ||
			listMod && c.Privilege == PrivModerator ||
			listAdmin && c.Privilege == PrivAdministrator ||
			plugin != "" && strings.EqualFold(c.Plugin, plugin) {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Names returns every registered command name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Help renders the one line help text of a command.
func (r *Registry) Help(name string) string {
	c, ok := r.Lookup(name)
	if !ok {
		return fmt.Sprintf("The command '%s' is not in my help file.", strings.ToLower(name))
	}

	var b strings.Builder
	b.WriteString(r.prefix + c.Name)
	if c.Params != "" {
		b.WriteString(" " + c.Params)
	}
	b.WriteString(" - " + c.Help)
	switch c.Privilege {
	case PrivModerator:
		b.WriteString(" - moderator command")
	case PrivAdministrator:
		b.WriteString(" - administrator command")
	}
	if len(c.Aliases) > 0 {
		b.WriteString(" - aliases: " + strings.Join(c.Aliases, ", "))
	}
	return b.String()
}

// Info describes where a command comes from and what it requires.
func (r *Registry) Info(name string) string {
	c, ok := r.Lookup(name)
	if !ok {
		return fmt.Sprintf("The command '%s' is not in my help file.", strings.ToLower(name))
	}

	privilege := "no privileges"
	switch c.Privilege {
	case PrivModerator:
		privilege = "moderator privileges"
	case PrivAdministrator:
		privilege = "administrator privileges"
	}

	aliases := "with no aliases"
	if len(c.Aliases) > 0 {
		aliases = "with aliases '" + strings.Join(c.Aliases, "', '") + "'"
	}

	return fmt.Sprintf("The command '%s' originates from the plugin '%s', %s and requires %s to use.",
		c.Name, c.Plugin, aliases, privilege)
}

func (r *Registry) takenLocked(name string) bool {
	if _, ok := r.commands[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}
