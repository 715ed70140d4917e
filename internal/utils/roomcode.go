package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

// RoomCodeLen is the fixed length of a room code.
const RoomCodeLen = 6

// Uppercase alphanumerics only; codes are read aloud and typed by hand.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewRoomCode returns a best-effort unique 6-character room code. Enough
// entropy for casual use; uniqueness is only verified at room creation.
func NewRoomCode() string {
	buf := make([]byte, RoomCodeLen)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// Fallback to timestamp digits if crypto/rand is unavailable.
			ts := strconv.FormatInt(time.Now().UnixNano(), 36)
			return padCode(ts)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf)
}

func padCode(s string) string {
	for len(s) < RoomCodeLen {
		s += "0"
	}
	code := []byte(s[len(s)-RoomCodeLen:])
	for i, c := range code {
		if c >= 'a' && c <= 'z' {
			code[i] = c - 'a' + 'A'
		}
	}
	return string(code)
}

// ValidRoomCode reports whether s looks like a room code: exactly six
// uppercase alphanumeric characters.
func ValidRoomCode(s string) bool {
	if len(s) != RoomCodeLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
