package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"assetvault/internal/storage"
)

// Handler carries the external-store clients the routes dispatch against.
// Both clients are constructed once at startup and injected; handlers keep no
// state of their own, so every method is safe for concurrent use.
type Handler struct {
	Store  storage.Repository
	Blobs  storage.BlobStore
	Logger *slog.Logger
}

func NewHandler(store storage.Repository, blobs storage.BlobStore) *Handler {
	if blobs == nil {
		blobs = storage.NewUnconfiguredBlobStore()
	}
	return &Handler{Store: store, Blobs: blobs}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeJSON parses the request body into dest. Unknown fields are tolerated:
// clients may send extra keys without failing the call.
func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}
