package keysym

import (
	"fmt"
	"strconv"
	"strings"
)

// Keysyms referenced by the server and the built-in engines.
const (
	VoidSymbol = 0xffffff

	BackSpace = 0xff08
	Tab       = 0xff09
	Return    = 0xff0d
	Escape    = 0xff1b
	Delete    = 0xffff
	Home      = 0xff50
	Left      = 0xff51
	Up        = 0xff52
	Right     = 0xff53
	Down      = 0xff54
	PageUp    = 0xff55
	PageDown  = 0xff56
	End       = 0xff57
	KPEnter   = 0xff8d

	Space = 0x0020

	ShiftL   = 0xffe1
	ShiftR   = 0xffe2
	ControlL = 0xffe3
	ControlR = 0xffe4
	CapsLock = 0xffe5
	MetaL    = 0xffe7
	MetaR    = 0xffe8
	AltL     = 0xffe9
	AltR     = 0xffea
	SuperL   = 0xffeb
	SuperR   = 0xffec
	HyperL   = 0xffed
	HyperR   = 0xffee

	Muhenkan       = 0xff22
	Henkan         = 0xff23
	Hiragana       = 0xff25
	Katakana       = 0xff26
	ZenkakuHankaku = 0xff2a
	Hangul         = 0xff31
	HangulHanja    = 0xff34

	F1 = 0xffbe
)

var nameToKeyval = map[string]uint32{
	"VoidSymbol":      VoidSymbol,
	"BackSpace":       BackSpace,
	"Tab":             Tab,
	"Return":          Return,
	"Escape":          Escape,
	"Delete":          Delete,
	"Home":            Home,
	"Left":            Left,
	"Up":              Up,
	"Right":           Right,
	"Down":            Down,
	"Page_Up":         PageUp,
	"Page_Down":       PageDown,
	"End":             End,
	"KP_Enter":        KPEnter,
	"space":           Space,
	"Shift_L":         ShiftL,
	"Shift_R":         ShiftR,
	"Control_L":       ControlL,
	"Control_R":       ControlR,
	"Caps_Lock":       CapsLock,
	"Meta_L":          MetaL,
	"Meta_R":          MetaR,
	"Alt_L":           AltL,
	"Alt_R":           AltR,
	"Super_L":         SuperL,
	"Super_R":         SuperR,
	"Hyper_L":         HyperL,
	"Hyper_R":         HyperR,
	"Muhenkan":        Muhenkan,
	"Henkan":          Henkan,
	"Henkan_Mode":     Henkan,
	"Hiragana":        Hiragana,
	"Katakana":        Katakana,
	"Zenkaku_Hankaku": ZenkakuHankaku,
	"Hangul":          Hangul,
	"Hangul_Hanja":    HangulHanja,
	"exclam":          '!',
	"quotedbl":        '"',
	"numbersign":      '#',
	"dollar":          '$',
	"percent":         '%',
	"ampersand":       '&',
	"apostrophe":      '\'',
	"parenleft":       '(',
	"parenright":      ')',
	"asterisk":        '*',
	"plus":            '+',
	"comma":           ',',
	"minus":           '-',
	"period":          '.',
	"slash":           '/',
	"colon":           ':',
	"semicolon":       ';',
	"less":            '<',
	"equal":           '=',
	"greater":         '>',
	"question":        '?',
	"at":              '@',
	"bracketleft":     '[',
	"backslash":       '\\',
	"bracketright":    ']',
	"asciicircum":     '^',
	"underscore":      '_',
	"grave":           '`',
	"braceleft":       '{',
	"bar":             '|',
	"braceright":      '}',
	"asciitilde":      '~',
}

var keyvalToName = func() map[uint32]string {
	m := make(map[uint32]string, len(nameToKeyval))
	for name, kv := range nameToKeyval {
		if prev, ok := m[kv]; ok && prev < name {
			continue
		}
		m[kv] = name
	}
	return m
}()

func init() {
	for i := uint32(0); i < 12; i++ {
		name := fmt.Sprintf("F%d", i+1)
		nameToKeyval[name] = F1 + i
		keyvalToName[F1+i] = name
	}
}

// FromName resolves a keysym name. Single printable ASCII characters map to
// themselves, and "U+XXXX" or "0x..." forms are accepted.
func FromName(name string) (uint32, bool) {
	if kv, ok := nameToKeyval[name]; ok {
		return kv, true
	}
	if len(name) == 1 && name[0] > 0x20 && name[0] < 0x7f {
		return uint32(name[0]), true
	}
	if strings.HasPrefix(name, "U+") || strings.HasPrefix(name, "0x") {
		v, err := strconv.ParseUint(name[2:], 16, 32)
		if err != nil {
			return 0, false
		}
		if name[0] == 'U' {
			return FromRune(rune(v)), true
		}
		return uint32(v), true
	}
	return 0, false
}

// Name returns the canonical name of keyval.
func Name(keyval uint32) string {
	if name, ok := keyvalToName[keyval]; ok {
		return name
	}
	if keyval > 0x20 && keyval < 0x7f {
		return string(rune(keyval))
	}
	return fmt.Sprintf("0x%x", keyval)
}

// ToRune returns the character a keyval produces, or 0 for function keys.
func ToRune(keyval uint32) rune {
	switch {
	case keyval >= 0x20 && keyval <= 0x7e:
		return rune(keyval)
	case keyval >= 0xa0 && keyval <= 0xff:
		return rune(keyval)
	case keyval >= 0x01000100 && keyval <= 0x0110ffff:
		return rune(keyval - 0x01000000)
	}
	return 0
}

// FromRune returns the keyval for a character.
func FromRune(r rune) uint32 {
	if (r >= 0x20 && r <= 0x7e) || (r >= 0xa0 && r <= 0xff) {
		return uint32(r)
	}
	return uint32(r) + 0x01000000
}
