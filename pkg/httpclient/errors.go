package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
)

// DownstreamErrorResponse mirrors httputil.ErrorResponse. It is used to parse
// structured error bodies returned by rentchain services.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. If the body matches the standard error envelope, the
// code and message are preserved. Otherwise a generic error is returned with
// the status code and raw body.
//
// The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil && downstream.Error != nil {
		return mapDownstreamError(resp.StatusCode, downstream.Error.Code, downstream.Error.Message, serviceName)
	}

	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(bodyBytes))
}

// mapDownstreamError translates a downstream status and error code into an
// AppError. The downstream code is kept so callers can tell, for example, a
// SESSION_NOT_FOUND 403 from a plain FORBIDDEN.
func mapDownstreamError(status int, code, message, serviceName string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", serviceName, message)

	var appErr *apperrors.AppError
	switch {
	case status == http.StatusNotFound:
		appErr = apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest:
		appErr = apperrors.InvalidInput(qualifiedMsg)
	case status == http.StatusConflict:
		appErr = apperrors.Conflict(qualifiedMsg)
	case status == http.StatusUnauthorized:
		appErr = apperrors.Unauthorized(qualifiedMsg)
	case status == http.StatusForbidden:
		appErr = apperrors.Forbidden(qualifiedMsg)
	case status == http.StatusTooManyRequests:
		appErr = apperrors.RateLimited(qualifiedMsg)
	case status == http.StatusServiceUnavailable:
		appErr = &apperrors.AppError{
			Message: qualifiedMsg,
			Status:  http.StatusServiceUnavailable,
			Err:     apperrors.ErrServiceUnavail,
		}
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		appErr = &apperrors.AppError{Message: qualifiedMsg, Status: status}
	}

	if code != "" {
		appErr.Code = code
	}
	return appErr
}
