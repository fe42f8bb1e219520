// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	Errors     interface{} `json:"errors,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	write(w, Response{
		Success:    statusCode < http.StatusBadRequest,
		StatusCode: statusCode,
		Message:    message,
		Data:       data,
	})
}

func WriteError(w http.ResponseWriter, statusCode int, message string) {
	write(w, Response{
		Success:    false,
		StatusCode: statusCode,
		Message:    message,
	})
}

// WriteValidationError reports per-field problems from DTO validation.
func WriteValidationError(w http.ResponseWriter, errors interface{}) {
	write(w, Response{
		Success:    false,
		StatusCode: http.StatusBadRequest,
		Message:    "validation failed",
		Errors:     errors,
	})
}

func write(w http.ResponseWriter, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.StatusCode)
	_ = json.NewEncoder(w).Encode(response)
}
