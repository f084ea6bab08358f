package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/lunch_list/internal/logging"
	"github.com/Skotchmaster/lunch_list/internal/service"
)

const msgNotFound = "Resource not found"

type errorBody struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors,omitempty"`
}

// ErrorHandler renders every handler error as {"error": ...}. Internal
// details are logged, never sent.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, body := classify(err)
	if code >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "status", code, "error", err)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, body)
	}
	if werr != nil {
		logging.FromContext(c.Request().Context()).Error("write_error_response", "error", werr)
	}
}

func classify(err error) (int, errorBody) {
	var verr *service.ValidationError
	var cerr *service.ConflictError
	var herr *echo.HTTPError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Error: "Invalid input", Errors: verr.Fields}
	case errors.As(err, &cerr):
		return http.StatusBadRequest, errorBody{Error: cerr.Error()}
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Error: "Unauthorized"}
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests, errorBody{Error: "Too many failed login attempts"}
	case errors.As(err, &herr):
		if herr.Code == http.StatusNotFound {
			return herr.Code, errorBody{Error: msgNotFound}
		}
		if msg, ok := herr.Message.(string); ok && msg != "" && herr.Code < http.StatusInternalServerError {
			return herr.Code, errorBody{Error: msg}
		}
		return herr.Code, errorBody{Error: http.StatusText(herr.Code)}
	default:
		return http.StatusInternalServerError, errorBody{Error: "Internal Server Error"}
	}
}
