package users

import (
	"strings"

	"github.com/lrstanley/girc"
)

// FromSource converts a girc source prefix into an Actor.
func FromSource(src *girc.Source) Actor {
	if src == nil {
		return Actor{}
	}
	return Actor{Nick: src.Name, User: src.Ident, Host: src.Host}
}

// ParseHostmask splits nick!user@host. Missing parts are left empty.
func ParseHostmask(mask string) Actor {
	mask = strings.TrimPrefix(mask, ":")
	var a Actor
	if i := strings.IndexByte(mask, '@'); i >= 0 {
		a.Host = mask[i+1:]
		mask = mask[:i]
	}
	if i := strings.IndexByte(mask, '!'); i >= 0 {
		a.User = mask[i+1:]
		mask = mask[:i]
	}
	a.Nick = mask
	return a
}

func (a Actor) Hostmask() string {
	return a.Nick + "!" + a.User + "@" + a.Host
}

func (a Actor) String() string {
	return a.Hostmask()
}

func (a Actor) IsZero() bool {
	return a == Actor{}
}

// Is reports whether the actor's nick equals nick under RFC1459 case folding.
func (a Actor) Is(nick string) bool {
	return Fold(a.Nick) == Fold(nick)
}

func (r Record) Hostmask() string {
	return r.Nick + "!" + r.User + "@" + r.Host
}

// Identified reports whether the user is logged in to services.
func (r Record) Identified() bool {
	return r.Account != ""
}

// Actor returns the identity part of the record.
func (r Record) Actor() Actor {
	return Actor{Nick: r.Nick, User: r.User, Host: r.Host}
}

// Fold normalises a nick or channel name for use as a map key.
func Fold(name string) string {
	return girc.ToRFC1459(name)
}
