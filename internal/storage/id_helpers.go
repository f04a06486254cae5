package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// NewAssetID returns a fresh document identifier, used as both key and
// partition key.
func NewAssetID() (string, error) {
	return generateID()
}

// NewBlobName returns a server-generated object name for an uploaded payload.
// The fixed extension keeps names uniform regardless of content type.
func NewBlobName() (string, error) {
	id, err := generateID()
	if err != nil {
		return "", err
	}
	return id + ".bin", nil
}
