// internal/room/codes.go
package room

import (
	"math/rand"
	"strings"
)

// codeAlphabet omits 0/O and 1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength keeps the code short enough to share in a URL query parameter.
const codeLength = 6

// NewCode returns a random shareable room code. Collisions are handled by
// the caller with regenerate-and-retry.
func NewCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeCode uppercases and trims a user-supplied room code; codes are
// case-insensitive on the wire.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
