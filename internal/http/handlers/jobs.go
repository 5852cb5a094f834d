package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lorekeeper/internal/domain"
	"lorekeeper/internal/service"
)

type submitJobRequest struct {
	AssetType      string         `json:"asset_type"`
	Provider       string         `json:"provider"`
	ModelID        string         `json:"model_id"`
	Priority       int            `json:"priority"`
	RequestedBy    string         `json:"requested_by"`
	PromptSpec     map[string]any `json:"prompt_spec"`
	ClaimIDs       []uuid.UUID    `json:"claim_ids"`
	EntityIDs      []uuid.UUID    `json:"entity_ids"`
	SourceChunkIDs []uuid.UUID    `json:"source_chunk_ids"`
	SourceID       *uuid.UUID     `json:"source_id"`
}

type submitJobResponse struct {
	Job          jobResponse        `json:"job"`
	Derivation   derivationResponse `json:"derivation"`
	Asset        *assetResponse     `json:"asset,omitempty"`
	Deduplicated bool               `json:"deduplicated"`
}

// SubmitJob accepts an asset generation request for a world. A request whose
// canonical inputs match an existing job returns that job instead of creating
// a duplicate.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	worldID, ok := a.pathUUID(w, chi.URLParam(r, "worldID"), "worldID")
	if !ok {
		return
	}

	var body submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.json(w, http.StatusBadRequest, errorBody("VALIDATION", "invalid JSON body"))
		return
	}

	res, err := a.Submission.Submit(r.Context(), service.SubmitRequest{
		WorldID:        worldID,
		AssetType:      domain.AssetType(body.AssetType),
		Provider:       body.Provider,
		ModelID:        body.ModelID,
		Priority:       body.Priority,
		RequestedBy:    body.RequestedBy,
		PromptSpec:     body.PromptSpec,
		ClaimIDs:       body.ClaimIDs,
		EntityIDs:      body.EntityIDs,
		SourceChunkIDs: body.SourceChunkIDs,
		SourceID:       body.SourceID,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	resp := submitJobResponse{
		Job:          toJobResponse(res.Job),
		Derivation:   toDerivationResponse(res.Derivation),
		Deduplicated: res.Outcome == domain.OutcomeExisting,
	}
	if res.Asset != nil {
		asset := toAssetResponse(res.Asset)
		resp.Asset = &asset
	}

	code := http.StatusOK
	if res.Outcome == domain.OutcomeCreated {
		code = http.StatusCreated
	}
	a.json(w, code, resp)
}

// GetJob returns a job with its derivation.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.pathUUID(w, chi.URLParam(r, "jobID"), "jobID")
	if !ok {
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	derivation, err := a.Derivations.GetByJobID(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"job":        toJobResponse(job),
		"derivation": toDerivationResponse(derivation),
	})
}

// ListJobs returns jobs for a world, optionally filtered by ?status=, a
// comma-separated list of job statuses. ?limit= caps the page (default 50,
// max 200).
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	worldID, ok := a.pathUUID(w, chi.URLParam(r, "worldID"), "worldID")
	if !ok {
		return
	}

	var statuses []domain.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := domain.JobStatus(strings.ToUpper(strings.TrimSpace(s)))
			switch status {
			case domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusSucceeded,
				domain.JobStatusFailed, domain.JobStatusCancelled:
				statuses = append(statuses, status)
			default:
				a.json(w, http.StatusBadRequest, errorBody("VALIDATION", "unknown status "+strconv.Quote(s)))
				return
			}
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

	jobs, err := a.Jobs.ListByWorld(r.Context(), worldID, statuses, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := make([]jobResponse, len(jobs))
	for i := range jobs {
		out[i] = toJobResponse(&jobs[i])
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out})
}

// CancelJob cancels a QUEUED job. Jobs already running or finished return a
// conflict.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.pathUUID(w, chi.URLParam(r, "jobID"), "jobID")
	if !ok {
		return
	}

	if err := a.Submission.Cancel(r.Context(), jobID); err != nil {
		a.fail(w, r, err)
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"job": toJobResponse(job)})
}
