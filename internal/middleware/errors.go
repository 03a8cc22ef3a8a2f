package middleware

import (
	"encoding/json"
	"net/http"
)

// errorResponse mirrors the envelope the API handlers return, so rejections
// issued by middleware look the same to clients:
// {"error": {"code": "...", "message": "..."}}
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a standard JSON error body and pushes the error code
// through the response writer so the logging middleware records it.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorDetail{Code: code, Message: message},
	})
}
