package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in the body of error responses.
const (
	CodeInvalidParameters  = "InvalidParameters"
	CodeInUse              = "InUse"
	CodeResourceNotFound   = "ResourceNotFound"
	CodeNotAuthorized      = "NotAuthorized"
	CodeEtagConflict       = "EtagConflict"
	CodeSubnetFull         = "SubnetFull"
	CodeSubnetsExhausted   = "SubnetsExhausted"
	CodeNetworkOverlap     = "NetworkOverlap"
	CodeInternalError      = "InternalError"
	CodePreconditionFailed = "PreconditionFailed"
)

// Per-field error sub-codes.
const (
	CodeMissingParameter   = "MissingParameter"
	CodeInvalidParameter   = "InvalidParameter"
	CodeDuplicateParameter = "Duplicate"
	CodeUsedBy             = "UsedBy"
	CodeUnknownParameter   = "UnknownParameter"
)

// FieldError describes a problem with one request field. For referential
// integrity errors the Field carries the type of the referencing resource and
// Invalid its identifier.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Invalid any    `json:"invalid,omitempty"`
}

// Error is the wire form of every NAPI error response:
// { "code": ..., "message": ..., "errors": [ ... ] }.
type Error struct {
	status int

	Code    string       `json:"code"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return http.StatusText(e.status)
}

// Status returns the HTTP status code.
func (e *Error) Status() int {
	return e.status
}

// StatusErrorf returns a new Error containing the specified status and message.
func StatusErrorf(status int, format string, a ...any) *Error {
	return &Error{
		status:  status,
		Code:    codeForStatus(status),
		Message: fmt.Sprintf(format, a...),
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnprocessableEntity:
		return CodeInvalidParameters
	case http.StatusConflict:
		return CodeInUse
	case http.StatusNotFound:
		return CodeResourceNotFound
	case http.StatusForbidden:
		return CodeNotAuthorized
	case http.StatusPreconditionFailed:
		return CodePreconditionFailed
	case http.StatusInsufficientStorage:
		return CodeSubnetFull
	}

	return CodeInternalError
}

// StatusErrorMatch checks if err was caused by an Error. Can optionally also
// check whether the Error's status code matches one of the supplied codes.
func StatusErrorMatch(err error, matchStatusCodes ...int) (int, bool) {
	var apiErr *Error

	if errors.As(err, &apiErr) {
		if len(matchStatusCodes) <= 0 {
			return apiErr.Status(), true
		}

		for _, s := range matchStatusCodes {
			if apiErr.Status() == s {
				return apiErr.Status(), true
			}
		}
	}

	return -1, false
}

// StatusErrorCheck returns whether err was caused by an Error with one of the
// given status codes.
func StatusErrorCheck(err error, matchStatusCodes ...int) bool {
	_, found := StatusErrorMatch(err, matchStatusCodes...)
	return found
}

// InvalidParams returns a 422 validation error carrying the given field
// errors. The caller is responsible for ordering them by field name.
func InvalidParams(errs ...FieldError) *Error {
	return &Error{
		status:  http.StatusUnprocessableEntity,
		Code:    CodeInvalidParameters,
		Message: "Invalid parameters",
		Errors:  errs,
	}
}

// MissingParam returns a field error for an absent required field.
func MissingParam(field string) FieldError {
	return FieldError{Field: field, Code: CodeMissingParameter, Message: "Missing parameter"}
}

// InvalidParam returns a field error for a malformed or unacceptable value.
func InvalidParam(field string, message string, invalid any) FieldError {
	return FieldError{Field: field, Code: CodeInvalidParameter, Message: message, Invalid: invalid}
}

// DuplicateParam returns a field error for a uniqueness violation.
func DuplicateParam(field string) FieldError {
	return FieldError{Field: field, Code: CodeDuplicateParameter, Message: "Already exists"}
}

// UsedByParam returns a field error describing the current holder of an
// address that a caller attempted to claim.
func UsedByParam(field string, belongsToType string, belongsToUUID string) FieldError {
	return FieldError{
		Field:   field,
		Code:    CodeUsedBy,
		Message: fmt.Sprintf("In use by %s %q", belongsToType, belongsToUUID),
		Invalid: belongsToUUID,
	}
}

// InUseError returns a 409 referential-integrity error. The field errors name
// the referencing resources.
func InUseError(message string, errs ...FieldError) *Error {
	return &Error{
		status:  http.StatusConflict,
		Code:    CodeInUse,
		Message: message,
		Errors:  errs,
	}
}

// UsedByResource names a resource that blocks a delete or rename.
func UsedByResource(resourceType string, id string) FieldError {
	return FieldError{
		Field:   resourceType,
		Code:    CodeUsedBy,
		Message: fmt.Sprintf("In use by %s %q", resourceType, id),
		Invalid: id,
	}
}

// NotFoundErrorf returns a 404 error.
func NotFoundErrorf(format string, a ...any) *Error {
	return &Error{
		status:  http.StatusNotFound,
		Code:    CodeResourceNotFound,
		Message: fmt.Sprintf(format, a...),
	}
}

// NotAuthorizedError returns a 403 error for an explicit owner mismatch.
func NotAuthorizedError() *Error {
	return &Error{
		status:  http.StatusForbidden,
		Code:    CodeNotAuthorized,
		Message: "Not authorized",
	}
}

// EtagConflictError returns a 412 error after CAS retries are exhausted.
func EtagConflictError(message string) *Error {
	return &Error{
		status:  http.StatusPreconditionFailed,
		Code:    CodeEtagConflict,
		Message: message,
	}
}

// SubnetFullError returns a 507 error for an exhausted provision range.
func SubnetFullError() *Error {
	return &Error{
		status:  http.StatusInsufficientStorage,
		Code:    CodeSubnetFull,
		Message: "No free IP addresses found",
	}
}

// SubnetsExhaustedError returns a 507 error when the automatic fabric subnet
// allocator has no room left.
func SubnetsExhaustedError() *Error {
	return &Error{
		status:  http.StatusInsufficientStorage,
		Code:    CodeSubnetsExhausted,
		Message: "All subnets in use",
	}
}

// NetworkOverlapError returns a 422 error naming the overlapping networks.
func NetworkOverlapError(errs ...FieldError) *Error {
	return &Error{
		status:  http.StatusUnprocessableEntity,
		Code:    CodeNetworkOverlap,
		Message: "Subnet overlaps with another network",
		Errors:  errs,
	}
}
