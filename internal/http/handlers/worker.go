package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lorekeeper/internal/domain"
)

// The worker endpoints mirror the status transitions the in-process runtime
// performs, for deployments that run generation in an external fleet. They
// sit behind the worker bearer token.

// WorkerClaimJob moves a QUEUED job to RUNNING.
func (a *App) WorkerClaimJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.pathUUID(w, chi.URLParam(r, "jobID"), "jobID")
	if !ok {
		return
	}

	if err := a.Worker.ClaimJob(r.Context(), jobID); err != nil {
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

type completeJobRequest struct {
	Format          string `json:"format"`
	ContentType     string `json:"content_type"`
	StorageKey      string `json:"storage_key"`
	SizeBytes       int64  `json:"size_bytes"`
	Checksum        string `json:"checksum"`
	DurationSeconds int    `json:"duration_seconds"`
}

// WorkerCompleteJob records a finished artifact: the job moves to SUCCEEDED,
// an asset row is created, and the derivation is linked to it.
func (a *App) WorkerCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.pathUUID(w, chi.URLParam(r, "jobID"), "jobID")
	if !ok {
		return
	}

	var body completeJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.json(w, http.StatusBadRequest, errorBody("VALIDATION", "invalid JSON body"))
		return
	}
	if body.Format == "" || body.ContentType == "" || body.StorageKey == "" {
		a.json(w, http.StatusBadRequest, errorBody("VALIDATION", "format, content_type and storage_key are required"))
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	asset, err := a.Worker.CompleteJob(r.Context(), jobID, domain.ArtifactInput{
		Type:            job.AssetType,
		Format:          body.Format,
		ContentType:     body.ContentType,
		StorageKey:      body.StorageKey,
		SizeBytes:       body.SizeBytes,
		Checksum:        body.Checksum,
		DurationSeconds: body.DurationSeconds,
		CreatedBy:       job.RequestedBy,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"asset": toAssetResponse(asset)})
}

type failJobRequest struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// WorkerFailJob moves a RUNNING job to FAILED with an error code.
func (a *App) WorkerFailJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.pathUUID(w, chi.URLParam(r, "jobID"), "jobID")
	if !ok {
		return
	}

	var body failJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.json(w, http.StatusBadRequest, errorBody("VALIDATION", "invalid JSON body"))
		return
	}
	if body.ErrorCode == "" {
		body.ErrorCode = "WORKER_FAILED"
	}

	if err := a.Worker.FailJob(r.Context(), jobID, body.ErrorCode, body.ErrorMessage); err != nil {
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
