package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	validatorlib "github.com/go-playground/validator/v10"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
)

var (
	errHttpUnauthorized = echo.NewHTTPError(
		http.StatusUnauthorized, "authentication credentials were not provided or are invalid")
	errHttpForbidden = echo.NewHTTPError(
		http.StatusForbidden, "you do not have permission to perform this action")
	errHttpNotFound = echo.NewHTTPError(
		http.StatusNotFound, "not found")
	errHttpRefreshExpired = echo.NewHTTPError(
		http.StatusUnauthorized, "refresh has expired")
)

// httpErrorBody is the uniform error payload: {"detail": <message or field map>}.
func httpErrorBody(detail interface{}) echo.Map {
	return echo.Map{"detail": detail}
}

func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		if ctx.Response().Committed {
			return
		}

		var (
			code = http.StatusInternalServerError
			body echo.Map
		)

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			code = origErr.Code
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					code = herr.Code
					origErr = herr
				}
			}
			body = httpErrorBody(fmt.Sprintf("%v", origErr.Message))
		case validatorlib.ValidationErrors:
			code = http.StatusBadRequest
			fields := make(map[string]string, len(origErr))
			for _, fErr := range origErr {
				fields[fErr.Field()] = fErr.Translate(core.Translator)
			}
			body = httpErrorBody(fields)
		case *core.ValidationError:
			code = http.StatusBadRequest
			if len(origErr.Fields) == 0 {
				body = httpErrorBody(origErr.Error())
			} else {
				fields := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fields[fErr.Field] = fErr.Error
				}
				body = httpErrorBody(fields)
			}
		default:
			switch origErr {
			case user.ErrNotFound, project.ErrNotFound:
				code = http.StatusNotFound
				body = httpErrorBody(errHttpNotFound.Message)
			case project.ErrTraineeNotFound:
				code = http.StatusNotFound
				body = httpErrorBody(origErr.Error())
			case project.ErrNotAssigned:
				code = http.StatusForbidden
				body = httpErrorBody(origErr.Error())
			case project.ErrNoUpdatableFields:
				code = http.StatusForbidden
				body = httpErrorBody(origErr.Error())
			default:
				if fsErr, ok := origErr.(*project.FieldScopeError); ok {
					code = http.StatusForbidden
					body = httpErrorBody(fsErr.Error())
					break
				}

				if ctxUsr, uErr := getContextUserIfAny(ctx); uErr == nil {
					logger.Error(fmt.Sprintf("server error: %+v", err), err, ctxUsr)
				} else {
					logger.Error(fmt.Sprintf("server error: %+v", err), err)
				}
				if core.IsShutdown(origErr) {
					signalShutdown()
				}

				msg := http.StatusText(code)
				if ctx.Echo().Debug {
					msg = err.Error()
				}
				body = httpErrorBody(msg)
			}
		}

		var respErr error
		if ctx.Request().Method == http.MethodHead {
			respErr = ctx.NoContent(code)
		} else {
			respErr = ctx.JSON(code, body)
		}
		if respErr != nil {
			ctx.Logger().Error(respErr)
		}
	}
}

func getContextUserIfAny(ctx echo.Context) (user.User, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}
	return user.User{ID: claims.Subject, Username: claims.Username, Email: claims.Email}, nil
}
