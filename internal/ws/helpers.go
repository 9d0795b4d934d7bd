package ws

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func newConnectionID() string {
	return uuid.NewString()
}

func newUploadID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()[:8]
	}
	return hex.EncodeToString(buf)
}
