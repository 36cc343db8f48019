package server

import (
	"github.com/labstack/echo/v4"

	ragerr "localrag/internal/errors"
)

// Problem is the JSON error body for non-2xx responses.
type Problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch ragerr.GetCode(err) {
	case ragerr.ErrCodeInvalidInput, ragerr.ErrCodeInvalidCollection, ragerr.ErrCodeConfigInvalid:
		return 400
	case ragerr.ErrCodeInvalidPath:
		return 403
	case ragerr.ErrCodeNotReady, ragerr.ErrCodeModelMissing:
		return 503
	case ragerr.ErrCodeUpstreamUnavailable, ragerr.ErrCodeUpstreamError:
		return 502
	default:
		return 500
	}
}

// problem writes a problem-details response for err.
func problem(c echo.Context, err error) error {
	code := ragerr.GetCode(err)
	if code == "" {
		code = ragerr.ErrCodeInternal
	}
	return c.JSON(statusFor(err), Problem{
		Type:   code,
		Status: statusFor(err),
		Detail: err.Error(),
	})
}
