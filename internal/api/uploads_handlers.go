package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"assetvault/internal/storage"
)

const defaultUploadContentType = "application/octet-stream"

type uploadResponse struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Upload accepts raw payload bytes, stores them under a server-generated
// name, and returns the name plus the object's public URL. Uploads are
// anonymous: nothing ties the blob to an asset until a later create or update
// references the returned URL.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty file"))
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty file"))
		return
	}
	name, err := storage.NewBlobName()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = defaultUploadContentType
	}
	ref, err := h.Blobs.Upload(r.Context(), name, contentType, body)
	if err != nil {
		h.logger().Error("blob upload failed", "key", name, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{Filename: name, URL: ref.URL})
}
