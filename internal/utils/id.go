package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ConnIDPrefix marks connection ids assigned to WebSocket sessions.
const ConnIDPrefix = "ws-"

// NewConnectionID returns an id for a server-assigned connection. The result only uses
// characters accepted by proto.ValidateConnID.
func NewConnectionID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return ConnIDPrefix + id.String()
	}
	return ConnIDPrefix + NewID()
}

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
