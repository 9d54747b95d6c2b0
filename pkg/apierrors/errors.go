// Package apierrors provides the typed errors returned by API method calls.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error ids, as exposed to API clients.
const (
	IDInvalidMethod           = "invalid-method"
	IDUnexpectedError         = "unexpected-error"
	IDInvalidParametersFormat = "invalid-parameters-format"
	IDInvalidRequestStructure = "invalid-request-structure"
	IDUnknownResource         = "unknown-resource"
	IDItemAlreadyExists       = "item-already-exists"
	IDTooManyResults          = "too-many-results"
)

// APIError is a structured error that is reported as-is to API clients.
type APIError struct {
	ID         string      `json:"id"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	HTTPStatus int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *APIError) Error() string {
	return e.ID + ": " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// New creates a new APIError.
func New(id, message string, httpStatus int) *APIError {
	return &APIError{ID: id, Message: message, HTTPStatus: httpStatus}
}

// IsAPIError reports whether err is, or wraps, an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// AsAPIError returns the *APIError carried by err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// InvalidMethod reports a call to a method id that is not registered.
func InvalidMethod(methodID string) *APIError {
	return &APIError{
		ID:         IDInvalidMethod,
		Message:    fmt.Sprintf("Invalid method id %q", methodID),
		HTTPStatus: http.StatusNotFound,
	}
}

// UnexpectedError wraps an error that has no API meaning of its own.
func UnexpectedError(cause error) *APIError {
	msg := "Unexpected error"
	if cause != nil {
		msg = "Unexpected error: " + cause.Error()
	}
	return &APIError{
		ID:         IDUnexpectedError,
		Message:    msg,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// InvalidParametersFormat reports params that do not match the method's schema.
func InvalidParametersFormat(message string, data interface{}) *APIError {
	return &APIError{
		ID:         IDInvalidParametersFormat,
		Message:    message,
		Data:       data,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidRequestStructure reports a request that cannot be routed or decoded.
func InvalidRequestStructure(message string) *APIError {
	return &APIError{
		ID:         IDInvalidRequestStructure,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// UnknownResource reports a reference to a resource that does not exist.
func UnknownResource(resourceType, id string) *APIError {
	return &APIError{
		ID:         IDUnknownResource,
		Message:    fmt.Sprintf("Unknown %s %q", resourceType, id),
		Data:       map[string]string{"resourceType": resourceType, "id": id},
		HTTPStatus: http.StatusNotFound,
	}
}

// ItemAlreadyExists reports a create with an id that is already taken.
func ItemAlreadyExists(resourceType, id string) *APIError {
	return &APIError{
		ID:         IDItemAlreadyExists,
		Message:    fmt.Sprintf("A %s with id %q already exists", resourceType, id),
		Data:       map[string]string{"id": id},
		HTTPStatus: http.StatusConflict,
	}
}

// TooManyResults reports a buffered array that exceeded limit items.
func TooManyResults(name string, limit int) *APIError {
	return &APIError{
		ID:         IDTooManyResults,
		Message:    fmt.Sprintf("Result array %q exceeds the limit of %d items; use pagination or streaming", name, limit),
		Data:       map[string]interface{}{"name": name, "limit": limit},
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
}
