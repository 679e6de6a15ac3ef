// Package response implements the HTTP response types returned by the API
// handlers. Bodies are bare JSON documents; errors carry the
// { code, message, errors } shape.
package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/util"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

var debug bool

// Init sets the debug variable to the provided value.
func Init(d bool) {
	debug = d
}

// Response represents an API response.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
	String() string
}

type syncResponse struct {
	body any
	code int
	etag any
}

// SyncResponse returns a 200 response with the given body.
func SyncResponse(body any) Response {
	return &syncResponse{body: body, code: http.StatusOK}
}

// SyncResponseCode returns a response with an explicit status code.
func SyncResponseCode(code int, body any) Response {
	return &syncResponse{body: body, code: code}
}

// SyncResponseETag returns a 200 response with an ETag header derived from
// etag.
func SyncResponseETag(body any, etag any) Response {
	return &syncResponse{body: body, code: http.StatusOK, etag: etag}
}

// EmptySyncResponse is a 204 response with no body.
var EmptySyncResponse = &syncResponse{code: http.StatusNoContent}

// Render writes the response.
func (r *syncResponse) Render(w http.ResponseWriter, req *http.Request) error {
	if r.etag != nil {
		etag, err := util.EtagHash(r.etag)
		if err == nil {
			w.Header().Set("ETag", fmt.Sprintf("\"%s\"", etag))
		}
	}

	if r.body == nil {
		w.WriteHeader(r.code)
		return nil
	}

	w.Header().Set("Content-Type", "application/json")
	if r.code != http.StatusOK {
		w.WriteHeader(r.code)
	}

	return util.WriteJSON(w, r.body, debug)
}

func (r *syncResponse) String() string {
	return "success"
}

type errorResponse struct {
	err *api.Error
}

// Render writes the error response.
func (r *errorResponse) Render(w http.ResponseWriter, req *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.err.Status())

	return util.WriteJSON(w, r.err, debug)
}

func (r *errorResponse) String() string {
	return r.err.Error()
}

// SmartError maps an error to the right response: api errors keep their
// status and body, anything else is a 500.
func SmartError(err error) Response {
	if err == nil {
		return EmptySyncResponse
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return &errorResponse{apiErr}
	}

	logger.Error("Internal error", logger.Ctx{"err": err})

	return &errorResponse{api.StatusErrorf(http.StatusInternalServerError, "%s", err.Error())}
}

// NotFound returns a 404 response.
func NotFound(format string, a ...any) Response {
	return &errorResponse{api.NotFoundErrorf(format, a...)}
}

// BadRequest returns a 422 response with a single message.
func BadRequest(err error) Response {
	return SmartError(api.StatusErrorf(http.StatusUnprocessableEntity, "%s", err.Error()))
}

// InternalError returns a 500 response.
func InternalError(err error) Response {
	return SmartError(err)
}

// manualResponse hands the ResponseWriter to a hijacking handler (websocket
// upgrades).
type manualResponse struct {
	hook func(w http.ResponseWriter, r *http.Request) error
}

// ManualResponse creates a response that writes itself.
func ManualResponse(hook func(w http.ResponseWriter, r *http.Request) error) Response {
	return &manualResponse{hook: hook}
}

// Render runs the hook.
func (r *manualResponse) Render(w http.ResponseWriter, req *http.Request) error {
	return r.hook(w, req)
}

func (r *manualResponse) String() string {
	return "unknown"
}
