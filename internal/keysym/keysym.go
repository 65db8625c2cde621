// Package keysym defines the key-event shape shared by the socket protocol,
// the XIM bridge and the engines, together with keysym names and the
// accelerator syntax used for trigger keys and hotkeys.
package keysym

import (
	"errors"
	"fmt"
	"strings"
)

// EventType distinguishes key presses from releases.
type EventType uint32

const (
	KeyPress EventType = iota
	KeyRelease
)

func (t EventType) String() string {
	switch t {
	case KeyPress:
		return "press"
	case KeyRelease:
		return "release"
	default:
		return fmt.Sprintf("EventType(%d)", uint32(t))
	}
}

// ModifierType is an X11-compatible modifier bit set.
type ModifierType uint32

const (
	ShiftMask   ModifierType = 1 << 0
	LockMask    ModifierType = 1 << 1
	ControlMask ModifierType = 1 << 2
	Mod1Mask    ModifierType = 1 << 3
	Mod2Mask    ModifierType = 1 << 4
	Mod3Mask    ModifierType = 1 << 5
	Mod4Mask    ModifierType = 1 << 6
	Mod5Mask    ModifierType = 1 << 7
	SuperMask   ModifierType = 1 << 26
	HyperMask   ModifierType = 1 << 27
	MetaMask    ModifierType = 1 << 28
	ReleaseMask ModifierType = 1 << 30

	// ModifierMask selects the bits that take part in key matching.
	// Lock and Mod2 (Caps Lock, Num Lock) are ignored.
	ModifierMask = ShiftMask | ControlMask | Mod1Mask | Mod3Mask | Mod4Mask |
		Mod5Mask | SuperMask | HyperMask | MetaMask
)

// Event is a key event as routed through input contexts.
type Event struct {
	Type            EventType
	State           ModifierType
	Keyval          uint32
	HardwareKeycode uint32
}

// Key is a keyval plus the modifiers that must be held.
type Key struct {
	Keyval uint32
	State  ModifierType
}

// Matches reports whether ev is a press of k.
func (k Key) Matches(ev *Event) bool {
	if ev == nil || ev.Type != KeyPress {
		return false
	}
	return ev.Keyval == k.Keyval && ev.State&ModifierMask == k.State
}

func (k Key) String() string {
	var b strings.Builder
	for _, m := range modifierNames {
		if k.State&m.mask != 0 {
			b.WriteString("<" + m.name + ">")
		}
	}
	b.WriteString(Name(k.Keyval))
	return b.String()
}

var modifierNames = []struct {
	name string
	mask ModifierType
}{
	{"Shift", ShiftMask},
	{"Control", ControlMask},
	{"Alt", Mod1Mask},
	{"Mod3", Mod3Mask},
	{"Mod4", Mod4Mask},
	{"Mod5", Mod5Mask},
	{"Super", SuperMask},
	{"Hyper", HyperMask},
	{"Meta", MetaMask},
}

var modifierAliases = map[string]ModifierType{
	"shift":   ShiftMask,
	"control": ControlMask,
	"ctrl":    ControlMask,
	"ctl":     ControlMask,
	"alt":     Mod1Mask,
	"mod1":    Mod1Mask,
	"mod3":    Mod3Mask,
	"mod4":    Mod4Mask,
	"mod5":    Mod5Mask,
	"super":   SuperMask,
	"hyper":   HyperMask,
	"meta":    MetaMask,
}

// ErrInvalidKey is returned by ParseKey for strings it cannot read.
var ErrInvalidKey = errors.New("invalid key")

// ParseKey reads an accelerator such as "Hangul", "<Shift>space" or
// "<Control><Alt>j".
func ParseKey(s string) (Key, error) {
	var k Key
	rest := strings.TrimSpace(s)
	for strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return Key{}, fmt.Errorf("%w %q: unterminated modifier", ErrInvalidKey, s)
		}
		mod, ok := modifierAliases[strings.ToLower(rest[1:end])]
		if !ok {
			return Key{}, fmt.Errorf("%w %q: unknown modifier %q", ErrInvalidKey, s, rest[1:end])
		}
		k.State |= mod
		rest = rest[end+1:]
	}
	if rest == "" {
		return Key{}, fmt.Errorf("%w %q: missing key name", ErrInvalidKey, s)
	}
	keyval, ok := FromName(rest)
	if !ok {
		return Key{}, fmt.Errorf("%w %q: unknown key name %q", ErrInvalidKey, s, rest)
	}
	k.Keyval = keyval
	return k, nil
}

// ParseKeys parses every entry and returns the keys that were valid along
// with the joined errors for the rest.
func ParseKeys(list []string) ([]Key, error) {
	keys := make([]Key, 0, len(list))
	var errs []error
	for _, s := range list {
		k, err := ParseKey(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		keys = append(keys, k)
	}
	return keys, errors.Join(errs...)
}

// MatchAny reports whether ev is a press of any of keys.
func MatchAny(keys []Key, ev *Event) bool {
	for _, k := range keys {
		if k.Matches(ev) {
			return true
		}
	}
	return false
}
