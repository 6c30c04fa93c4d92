package util

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/rand"
	"regexp"
)

var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func IsValidIdentifier(s string) bool {
	return validIdentifierRegex.MatchString(s)
}

// RandomID returns a JSON-RPC id within 32 bit range so it survives conversions on any node.
func RandomID() int64 {
	return int64(rand.Intn(math.MaxInt32)) // #nosec G404
}

// HashHex returns the hex sha256 digest of b.
func HashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
