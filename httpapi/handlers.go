package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-outreach/bulklist"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/push"
)

type handlers struct {
	service      Service
	maxBodyBytes int64
}

type jobOptionsRequest struct {
	JobID    string `json:"job_id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

func (o jobOptionsRequest) options() core.JobOptions {
	return core.JobOptions{JobID: strings.TrimSpace(o.JobID), Attempts: o.Attempts}
}

type bulkListRequest struct {
	bulklist.Request
	jobOptionsRequest
}

type pushRequest struct {
	ContentKind push.ContentKind `json:"content_kind"`
	Content     map[string]any   `json:"content"`
	TargetURL   string           `json:"target_url"`
	jobOptionsRequest
}

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (h *handlers) enqueueBulkList(w http.ResponseWriter, r *http.Request) {
	var body bulkListRequest
	if !h.decode(w, r, &body) {
		return
	}
	id, err := h.service.EnqueueBulkList(r.Context(), body.Request, body.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: id})
}

func (h *handlers) schedulePush(w http.ResponseWriter, r *http.Request) {
	var body pushRequest
	if !h.decode(w, r, &body) {
		return
	}
	content, err := push.DecodeContent(body.ContentKind, body.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := h.service.SchedulePush(r.Context(), content, strings.TrimSpace(body.TargetURL), body.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: id})
}

func (h *handlers) jobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		message := "request body is not valid JSON"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = "request body too large"
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Message: message, Code: core.ErrorValidationFailed})
		return false
	}
	return true
}

// writeError keeps internal failure details out of responses.
func writeError(w http.ResponseWriter, err error) {
	status := core.HTTPStatus(err)
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	response := errorResponse{Status: "error", Message: http.StatusText(status)}
	if mapped := core.MapError(err); mapped != nil {
		response.Code = mapped.TextCode
		if status < http.StatusInternalServerError {
			response.Message = mapped.Message
		}
	}
	writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
