package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// GetJobHandler handles GET /v1/jobs/{jobId}. The request payload is never
// echoed back since it may hold object store credentials.
func GetJobHandler(queue Queue, results ResultBackend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "missing job ID")
			return
		}

		job, err := queue.Get(r.Context(), jobID)
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get job: %v", err))
			return
		}

		resp := jobToResponse(job)
		if job.State == JobStateSucceeded && results != nil {
			if value, ok, err := results.FetchResult(r.Context(), jobID); err == nil && ok {
				resp.Result = ResultValue(value)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ListJobsHandler handles GET /v1/jobs
// Query params: kind, crateId, state, pageSize, pageToken
func ListJobsHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := JobListFilter{
			Kind:    r.URL.Query().Get("kind"),
			CrateID: r.URL.Query().Get("crateId"),
			State:   r.URL.Query().Get("state"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.List(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list jobs: %v", err))
			return
		}

		jobs := make([]jobResponse, len(records))
		for i := range records {
			jobs[i] = jobToResponse(&records[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":          jobs,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// jobResponse is the API response for a validation job.
type jobResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	CrateID      string `json:"crateId,omitempty"`
	RequestedAt  string `json:"requestedAt"`
	State        string `json:"state"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	AttemptCount int    `json:"attemptCount"`
	LastError    string `json:"lastError,omitempty"`
	DurationMs   int64  `json:"durationMs,omitempty"`
	Result       any    `json:"result,omitempty"`
}

func jobToResponse(job *ValidationJob) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		Kind:         string(job.Kind),
		CrateID:      job.CrateID,
		RequestedAt:  job.RequestedAt.Format(time.RFC3339),
		State:        string(job.State),
		AttemptCount: job.AttemptCount,
		LastError:    job.LastError,
		DurationMs:   job.DurationMs,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// ResultValue converts a stored result for embedding in a response: JSON
// values as is, anything else as a string.
func ResultValue(value []byte) any {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	return string(value)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
