package api

import (
	"encoding/json"
	"net/http"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err with the HTTP status of its code.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	WriteJSON(w, err.Code.HTTPStatus(), ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
