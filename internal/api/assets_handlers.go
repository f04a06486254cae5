package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"assetvault/internal/models"
	"assetvault/internal/storage"
)

type assetResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	BlobURL     string  `json:"blobUrl"`
	BlobKey     string  `json:"blobKey,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   *string `json:"updated_at,omitempty"`
}

func newAssetResponse(asset models.Asset) assetResponse {
	resp := assetResponse{
		ID:          asset.ID,
		Title:       asset.Title,
		Description: asset.Description,
		BlobURL:     asset.BlobURL,
		BlobKey:     asset.BlobKey,
		CreatedAt:   asset.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if asset.UpdatedAt != nil {
		updated := asset.UpdatedAt.UTC().Format(time.RFC3339Nano)
		resp.UpdatedAt = &updated
	}
	return resp
}

type createAssetRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	BlobURL     string `json:"blobUrl"`
	BlobKey     string `json:"blobKey"`
}

type updateAssetRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	BlobURL     *string `json:"blobUrl"`
	BlobKey     *string `json:"blobKey"`
}

// Assets serves the collection route: create on POST, list on GET.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAsset(w, r)
	case http.MethodGet:
		h.listAssets(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) createAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.BlobURL) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title and blobUrl are required"))
		return
	}
	id, err := storage.NewAssetID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	blobKey := strings.TrimSpace(req.BlobKey)
	if blobKey == "" {
		blobKey = models.ObjectKeyFromURL(req.BlobURL)
	}
	asset := models.Asset{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		BlobURL:     req.BlobURL,
		BlobKey:     blobKey,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Store.CreateAsset(r.Context(), asset); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAssetResponse(asset))
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Store.ListAssets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		response = append(response, newAssetResponse(asset))
	}
	writeJSON(w, http.StatusOK, response)
}

// AssetByID serves the item route: read on GET, merge-update on PUT, and the
// two-step blob+record removal on DELETE.
func (h *Handler) AssetByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/assets/"))
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errors.New("asset not found"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.getAsset(w, r, id)
	case http.MethodPut:
		h.updateAsset(w, r, id)
	case http.MethodDelete:
		h.deleteAsset(w, r, id)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) getAsset(w http.ResponseWriter, r *http.Request, id string) {
	asset, err := h.Store.GetAsset(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, storage.ErrNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newAssetResponse(asset))
}

func (h *Handler) updateAsset(w http.ResponseWriter, r *http.Request, id string) {
	var req updateAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	asset, err := h.Store.GetAsset(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, storage.ErrNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Merge semantics: fields absent from the payload keep their stored value.
	if req.Title != nil {
		asset.Title = *req.Title
	}
	if req.Description != nil {
		asset.Description = *req.Description
	}
	if req.BlobURL != nil {
		asset.BlobURL = *req.BlobURL
		if req.BlobKey == nil {
			asset.BlobKey = models.ObjectKeyFromURL(asset.BlobURL)
		}
	}
	if req.BlobKey != nil {
		asset.BlobKey = *req.BlobKey
	}
	now := time.Now().UTC()
	asset.UpdatedAt = &now
	if err := h.Store.ReplaceAsset(r.Context(), asset); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, storage.ErrNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, newAssetResponse(asset))
}

// deleteAsset removes the blob first and the record second, matching the
// original call order. The two deletions are not transactional: a failure
// between them leaves an orphaned record or blob behind, and no compensation
// is attempted.
func (h *Handler) deleteAsset(w http.ResponseWriter, r *http.Request, id string) {
	asset, err := h.Store.GetAsset(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, storage.ErrNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if key := asset.ObjectKey(); key != "" {
		if err := h.Blobs.Delete(r.Context(), key); err != nil {
			h.logger().Error("blob delete failed", "asset_id", id, "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("delete blob %s: %w", key, err))
			return
		}
	}
	if err := h.Store.DeleteAsset(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, storage.ErrNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
