package server

import (
	"github.com/labstack/echo/v4"

	ragerr "localrag/internal/errors"
	"localrag/internal/query"
)

// handleChat runs the query pipeline over SSE. Failures before the first
// event map to a problem response; once the stream is open, errors arrive as
// inline events. The request context is cancelled by echo when the client
// disconnects, which aborts the upstream chat call.
func (s *Server) handleChat(c echo.Context) error {
	var req query.Request
	if err := c.Bind(&req); err != nil {
		return problem(c, ragerr.ValidationError("invalid request body"))
	}

	started := false
	emit := func(ev any) error {
		if !started {
			sseHeaders(c)
			started = true
		}
		return sseWrite(c, ev)
	}

	err := s.pipeline.Stream(c.Request().Context(), req, emit)
	if err == nil {
		return nil
	}

	if !started {
		return problem(c, err)
	}

	switch ragerr.GetCode(err) {
	case ragerr.ErrCodeCancelled:
		// Client went away; nothing left to tell it.
		s.logger.Debug("chat stream cancelled")
	default:
		s.logger.Error("chat stream failed", "error", err)
		_ = emit(query.ErrorEvent{Type: "error", Message: err.Error()})
	}
	return nil
}
