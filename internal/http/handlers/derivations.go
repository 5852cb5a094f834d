package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lorekeeper/internal/domain"
)

// The reverse lookups answer "which generated assets were derived from this
// piece of lore". Each returns lightweight refs; callers fetch full records
// by job or asset ID.

func (a *App) listDerivationRefs(w http.ResponseWriter, r *http.Request, param string, lookup func(context.Context, uuid.UUID) ([]domain.DerivationRef, error)) {
	id, ok := a.pathUUID(w, chi.URLParam(r, param), param)
	if !ok {
		return
	}

	refs, err := lookup(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"derivations": toDerivationRefs(refs)})
}

// ListDerivationsByClaim returns derivations referencing a claim.
func (a *App) ListDerivationsByClaim(w http.ResponseWriter, r *http.Request) {
	a.listDerivationRefs(w, r, "claimID", a.Derivations.ListByClaimID)
}

// ListDerivationsByEntity returns derivations referencing an entity.
func (a *App) ListDerivationsByEntity(w http.ResponseWriter, r *http.Request) {
	a.listDerivationRefs(w, r, "entityID", a.Derivations.ListByEntityID)
}

// ListDerivationsBySource returns derivations referencing a source directly
// or through one of its chunks.
func (a *App) ListDerivationsBySource(w http.ResponseWriter, r *http.Request) {
	a.listDerivationRefs(w, r, "sourceID", a.Derivations.ListBySourceID)
}

// ListDerivationsByAsset returns the provenance of an asset.
func (a *App) ListDerivationsByAsset(w http.ResponseWriter, r *http.Request) {
	a.listDerivationRefs(w, r, "assetID", a.Derivations.ListByAssetID)
}
