package xim

import (
	"nimf/internal/keysym"
)

const noSymbol = 0

// Keymap resolves keycodes to keysyms from a core keyboard mapping, as
// returned by GetKeyboardMapping. Only the first group is used.
type Keymap struct {
	minKeycode uint8
	perKeycode int
	syms       []uint32
}

// NewKeymap wraps a keyboard mapping. syms holds perKeycode entries for each
// keycode starting at minKeycode.
func NewKeymap(minKeycode uint8, perKeycode int, syms []uint32) *Keymap {
	return &Keymap{minKeycode: minKeycode, perKeycode: perKeycode, syms: syms}
}

func (k *Keymap) row(keycode uint8) []uint32 {
	if k == nil || k.perKeycode <= 0 || keycode < k.minKeycode {
		return nil
	}
	start := int(keycode-k.minKeycode) * k.perKeycode
	if start+k.perKeycode > len(k.syms) {
		return nil
	}
	return k.syms[start : start+k.perKeycode]
}

// Lookup returns the keysym for keycode under state and the modifiers that
// took part in choosing it.
func (k *Keymap) Lookup(keycode uint8, state keysym.ModifierType) (uint32, keysym.ModifierType) {
	row := k.row(keycode)
	if len(row) == 0 || row[0] == noSymbol {
		return keysym.VoidSymbol, 0
	}

	lower, upper := row[0], uint32(noSymbol)
	if len(row) > 1 {
		upper = row[1]
	}
	if upper == noSymbol {
		lower, upper = convertCase(lower)
	}
	if lower == upper {
		return lower, 0
	}

	shift := state&keysym.ShiftMask != 0
	if state&keysym.Mod2Mask != 0 && isKeypad(upper) {
		if shift {
			return lower, keysym.ShiftMask | keysym.Mod2Mask
		}
		return upper, keysym.Mod2Mask
	}

	consumed := keysym.ShiftMask
	caps := state&keysym.LockMask != 0 && isLower(lower)
	if isLower(lower) {
		consumed |= keysym.LockMask
	}
	if shift != caps {
		return upper, consumed
	}
	return lower, consumed
}

func isKeypad(sym uint32) bool {
	return sym >= 0xff80 && sym <= 0xffbd
}

func isLower(sym uint32) bool {
	l, u := convertCase(sym)
	return sym == l && l != u
}

// convertCase returns the lower and upper case forms of a Latin-1 keysym.
func convertCase(sym uint32) (uint32, uint32) {
	switch {
	case sym >= 'a' && sym <= 'z':
		return sym, sym - 0x20
	case sym >= 'A' && sym <= 'Z':
		return sym + 0x20, sym
	case sym >= 0xe0 && sym <= 0xfe && sym != 0xf7:
		return sym, sym - 0x20
	case sym >= 0xc0 && sym <= 0xde && sym != 0xd7:
		return sym + 0x20, sym
	default:
		return sym, sym
	}
}
