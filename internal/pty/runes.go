package pty

import "unicode/utf8"

// RuneAssembler re-cuts a byte stream so that no chunk ends inside a
// UTF-8 encoded character. An incomplete trailing sequence is held back
// and prepended to the next chunk. At most utf8.UTFMax-1 bytes are held.
//
// Invalid bytes pass through unchanged.
type RuneAssembler struct {
	pending []byte
}

// Feed returns the longest prefix of the held bytes plus p that does not
// end in an incomplete character. The result may be empty.
func (a *RuneAssembler) Feed(p []byte) []byte {
	if len(a.pending) > 0 {
		p = append(a.pending, p...)
		a.pending = nil
	}
	cut := completePrefix(p)
	if cut < len(p) {
		a.pending = append([]byte(nil), p[cut:]...)
		p = p[:cut]
	}
	return p
}

// Flush returns and clears the held bytes.
func (a *RuneAssembler) Flush() []byte {
	p := a.pending
	a.pending = nil
	return p
}

// Pending returns the number of held bytes.
func (a *RuneAssembler) Pending() int {
	return len(a.pending)
}

// completePrefix returns the length of p without a trailing incomplete
// character.
func completePrefix(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-(utf8.UTFMax-1); i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if utf8.FullRune(p[i:]) {
			return len(p)
		}
		return i
	}
	return len(p)
}
