package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-outreach/core"
)

type statusResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type HTTPHandler struct {
	endpoint     *Endpoint
	maxBodyBytes int64
}

// NewHTTPHandler serves the endpoint over HTTP. Responses are
// 200 {"status":"ok"} for ingested and duplicate deliveries, and
// {"status":"error","message":...} with 401, 400 or 500 otherwise.
func NewHTTPHandler(endpoint *Endpoint, maxBodyBytes int64) *HTTPHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = core.DefaultWebhookMaxBodyBytes
	}
	return &HTTPHandler{endpoint: endpoint, maxBodyBytes: maxBodyBytes}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, statusResponse{Status: "error", Message: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "unable to read request body"})
		return
	}

	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}

	result, err := h.endpoint.Ingest(r.Context(), Request{Headers: headers, Body: body})
	if err != nil {
		status := result.StatusCode
		if status == 0 {
			status = core.HTTPStatus(err)
		}
		writeJSON(w, status, statusResponse{Status: "error", Message: responseMessage(status, err)})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Duplicate: result.Duplicate()})
}

// responseMessage keeps internal failure details out of responses.
func responseMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		return "internal error"
	}
	mapped := core.MapError(err)
	if mapped == nil {
		return http.StatusText(status)
	}
	message := strings.TrimPrefix(strings.TrimSpace(mapped.Message), "webhooks: ")
	if fields := mapped.AllValidationErrors(); len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for _, field := range fields {
			parts = append(parts, field.Field+" "+field.Message)
		}
		message += ": " + strings.Join(parts, "; ")
	}
	return message
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
