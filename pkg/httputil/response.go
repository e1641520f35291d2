// Package httputil provides HTTP handler utilities for consistent error
// handling, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/meterline/billingd/pkg/apierrors"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ErrorBody is the wire shape of an error response
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code and user-presentable message
type ErrorDetail struct {
	Code    apierrors.Code `json:"code"`
	Message string         `json:"message"`
}

// WriteError classifies err via apierrors and writes the matching JSON
// error response. Uncoded errors surface as INTERNAL.
func WriteError(w http.ResponseWriter, err error) {
	code := apierrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierrors.HTTPStatus(code))
	json.NewEncoder(w).Encode(ErrorBody{
		Error: ErrorDetail{
			Code:    code,
			Message: apierrors.MessageOf(err),
		},
	})
}

// WriteErrorMessage writes a JSON error response with an explicit code
func WriteErrorMessage(w http.ResponseWriter, code apierrors.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierrors.HTTPStatus(code))
	json.NewEncoder(w).Encode(ErrorBody{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// DecodeJSON decodes a JSON request body into dst, rejecting unknown fields
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apierrors.BadRequest("invalid request body")
	}
	return nil
}
