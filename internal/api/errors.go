// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"

	"grimm.is/ipsd/internal/errors"
)

// Common error messages.
const (
	ErrNotFound   = "Not found"
	ErrNoTopology = "No topology running"
)

// WriteError writes a JSON error body.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteErrorFrom maps an error Kind to its HTTP status.
func WriteErrorFrom(w http.ResponseWriter, err error) {
	WriteError(w, statusFor(errors.GetKind(err)), err.Error())
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindPermission:
		return http.StatusForbidden
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
