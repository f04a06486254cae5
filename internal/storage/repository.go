package storage

import (
	"context"
	"errors"

	"assetvault/internal/models"
)

// ErrNotFound reports that no asset exists at the requested key. Every
// repository driver maps its native "missing document" condition onto this
// sentinel so handlers can translate it to a 404.
var ErrNotFound = errors.New("asset not found")

// Repository exposes the document-store operations required by the API
// handlers. Implementations must be safe for concurrent use; consistency
// beyond single-document atomicity is delegated to the backing store.
type Repository interface {
	Ping(ctx context.Context) error

	CreateAsset(ctx context.Context, asset models.Asset) error
	GetAsset(ctx context.Context, id string) (models.Asset, error)
	ListAssets(ctx context.Context) ([]models.Asset, error)
	ReplaceAsset(ctx context.Context, asset models.Asset) error
	DeleteAsset(ctx context.Context, id string) error
}

// ObjectReference identifies a stored blob by its final key and the public
// URL callers use to fetch it.
type ObjectReference struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// BlobStore abstracts the object store holding uploaded payloads. Upload
// overwrites any existing object under the same key.
type BlobStore interface {
	Enabled() bool
	Upload(ctx context.Context, key, contentType string, body []byte) (ObjectReference, error)
	Delete(ctx context.Context, key string) error
}
