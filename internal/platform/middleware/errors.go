package middleware

import (
	"errors"
	"net/http"

	"github.com/carebook/scheduler/internal/platform/apperr"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders domain errors with their mapped status codes. Echo
// HTTP errors keep their own status.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		rid, _ := c.Get("request_id").(string)

		var he *echo.HTTPError
		var resp ErrorResponse
		status := http.StatusInternalServerError

		if errors.As(err, &he) {
			status = he.Code
			resp = ErrorResponse{Error: http.StatusText(he.Code), Message: he.Error()}
			if msg, ok := he.Message.(string); ok {
				resp.Message = msg
			}
		} else {
			status = apperr.HTTPStatus(err)
			resp = ErrorResponse{Error: apperr.KindName(err), Message: apperr.Message(err)}
		}
		resp.RequestID = rid

		if status >= 500 {
			logger.Error().Err(err).Str("request_id", rid).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		if werr := c.JSON(status, resp); werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}
