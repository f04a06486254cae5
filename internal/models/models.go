package models

import (
	"strings"
	"time"
)

// Asset is the metadata record describing an uploaded blob. The ID doubles as
// the document partition key in stores that shard by key, so it is assigned
// once at creation and never rewritten.
type Asset struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	BlobURL     string     `json:"blobUrl"`
	BlobKey     string     `json:"blobKey,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// ObjectKey returns the object-store key for the asset's blob. The stored key
// wins; records that predate it fall back to the trailing path segment of the
// blob URL.
func (a Asset) ObjectKey() string {
	if key := strings.TrimSpace(a.BlobKey); key != "" {
		return key
	}
	return ObjectKeyFromURL(a.BlobURL)
}

// ObjectKeyFromURL derives an object key from a blob URL's final path
// segment. Query strings and fragments are stripped first so signed URLs do
// not leak into the key.
func ObjectKeyFromURL(blobURL string) string {
	trimmed := strings.TrimSpace(blobURL)
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
