package xim

// COMPOUND_TEXT escape sequences that switch to and from UTF-8.
const (
	ctextUTF8Begin = "\x1b%G"
	ctextUTF8End   = "\x1b%@"
)

// EncodeCompoundText encodes s for the COMPOUND_TEXT encoding. ASCII text is
// sent as is; anything else is wrapped in the UTF-8 escape sequences.
func EncodeCompoundText(s string) []byte {
	if isCompoundSafe(s) {
		return []byte(s)
	}
	out := make([]byte, 0, len(ctextUTF8Begin)+len(s)+len(ctextUTF8End))
	out = append(out, ctextUTF8Begin...)
	out = append(out, s...)
	return append(out, ctextUTF8End...)
}

func isCompoundSafe(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || c == 0x1b {
			return false
		}
	}
	return true
}
