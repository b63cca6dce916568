package server

import (
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/docingest/pipeline/internal/pipeline"
)

// grpcCode maps a pipeline.ErrorKind to the nearest gRPC status code, the
// same typed-error vocabulary the teacher's internal/service layer uses
// internally (independently of whether a gRPC transport is present).
func grpcCode(kind pipeline.ErrorKind) codes.Code {
	switch kind {
	case pipeline.KindValidation:
		return codes.InvalidArgument
	case pipeline.KindNotFound:
		return codes.NotFound
	case pipeline.KindForbidden:
		return codes.PermissionDenied
	case pipeline.KindRateLimited:
		return codes.ResourceExhausted
	case pipeline.KindTransient:
		return codes.Unavailable
	case pipeline.KindSizeExceeded:
		return codes.InvalidArgument
	case pipeline.KindCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// httpStatus maps a gRPC code to the HTTP status this façade responds with.
func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Canceled:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the structured error response spec.md §7 requires for a
// submission-time ValidationError (and reused for every other façade error).
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newErrorBody(kind pipeline.ErrorKind, message string) errorBody {
	var body errorBody
	body.Error.Code = string(kind)
	body.Error.Message = message
	return body
}
