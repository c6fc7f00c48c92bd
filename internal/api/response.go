package api

import (
	"encoding/json"
	"net/http"
)

// APIError is an error with the HTTP status to report it under.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, status int) *APIError {
	return &APIError{Status: status, Message: message}
}

// SendErrorResponse writes {"error":"error","message":...} with err's status.
func SendErrorResponse(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "error",
		"message": err.Message,
	})
}

// SendSuccessResponse writes {"status":"success","data":...}.
func SendSuccessResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   data,
	})
}
