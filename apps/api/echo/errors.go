package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/gate"
	"github.com/trezcool/edutracker/core/insight"
)

var (
	errUnauthorized    = echo.NewHTTPError(http.StatusUnauthorized, "admin access required")
	errHttpNotFound    = echo.NewHTTPError(http.StatusNotFound, "not found")
	errConfirmRequired = echo.NewHTTPError(http.StatusBadRequest, "add ?confirm=true to erase every session")
)

// domainErrors maps the domain sentinel errors to HTTP status codes.
var domainErrors = []struct {
	err  error
	code int
}{
	{attendance.ErrInvalidReference, http.StatusNotFound},
	{attendance.ErrAlreadyActive, http.StatusConflict},
	{attendance.ErrNoActiveSession, http.StatusConflict},
	{attendance.ErrNotConnected, http.StatusConflict},
	{gate.ErrWrongPassword, http.StatusUnauthorized},
	{insight.ErrNoRecipients, http.StatusBadRequest},
}

func domainErrorCode(err error) (int, bool) {
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			return de.code, true
		}
	}
	return 0, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *attendance.ConnectionError:
			code = http.StatusBadGateway
			message = origErr.Error()
		case *attendance.SyncError:
			code = http.StatusBadGateway
			message = origErr.Error()
		default:
			if c, ok := domainErrorCode(origErr); ok {
				code = c
				message = origErr.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
			})

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
