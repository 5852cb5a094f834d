package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lorekeeper/internal/domain"
)

// GetAsset returns asset metadata.
func (a *App) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := a.pathUUID(w, chi.URLParam(r, "assetID"), "assetID")
	if !ok {
		return
	}

	asset, err := a.Assets.GetByID(r.Context(), assetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"asset": toAssetResponse(asset)})
}

// ListAssets returns a world's non-deleted assets, optionally filtered by
// ?type=.
func (a *App) ListAssets(w http.ResponseWriter, r *http.Request) {
	worldID, ok := a.pathUUID(w, chi.URLParam(r, "worldID"), "worldID")
	if !ok {
		return
	}

	var assetType domain.AssetType
	if raw := r.URL.Query().Get("type"); raw != "" {
		assetType = domain.AssetType(raw)
		if !domain.ValidAssetType(assetType) {
			a.json(w, http.StatusBadRequest, errorBody("VALIDATION", "unknown asset type "+strconv.Quote(raw)))
			return
		}
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			a.json(w, http.StatusBadRequest, errorBody("VALIDATION", "limit must be between 1 and 200"))
			return
		}
		limit = n
	}

	assets, err := a.Assets.ListByWorld(r.Context(), worldID, assetType, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]assetResponse, len(assets))
	for i := range assets {
		out[i] = toAssetResponse(&assets[i])
	}
	a.json(w, http.StatusOK, map[string]any{"assets": out})
}

// DownloadAsset streams the stored artifact bytes with the asset's content
// type. Deleted assets are not served.
func (a *App) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := a.pathUUID(w, chi.URLParam(r, "assetID"), "assetID")
	if !ok {
		return
	}

	asset, err := a.Assets.GetByID(r.Context(), assetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if asset.Status != domain.AssetStatusReady {
		a.fail(w, r, domain.ErrNotFound)
		return
	}

	data, err := a.Blobs.Read(r.Context(), asset.StorageKey)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DeleteAsset soft-deletes an asset. The stored bytes stay on disk; the row
// is excluded from listings and downloads.
func (a *App) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := a.pathUUID(w, chi.URLParam(r, "assetID"), "assetID")
	if !ok {
		return
	}

	if err := a.Assets.SoftDelete(r.Context(), assetID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
