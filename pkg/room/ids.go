package room

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// idAlphabet omits 0, 1, O and I so codes survive being read aloud.
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// randomCode draws n characters from idAlphabet. The alphabet length
// divides 256, so taking bytes modulo the length is uniform.
func randomCode(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return string(b)
}

// NewRoomID returns a fresh shareable room code.
func NewRoomID() string { return "room_" + randomCode(8) }

// NewPlayerID returns a fresh opaque player id.
func NewPlayerID() string { return "player_" + randomCode(10) }

// NewRunID returns a fresh run id.
func NewRunID() string { return "run_" + randomCode(10) }

// NormalizeRoomID maps user input onto the canonical room id form: the
// optional room_ prefix is matched case-insensitively and the code is
// uppercased, so "abc123de" and "ROOM_abc123de" both become
// "room_ABC123DE".
func NormalizeRoomID(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 5 && strings.EqualFold(s[:5], "room_") {
		s = s[5:]
	}
	return "room_" + strings.ToUpper(s)
}
