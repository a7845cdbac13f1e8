package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core/gate"
)

type adminApi struct {
	gate     *gate.Gate
	auth     *authenticator
	validate *validator.Validate
}

func registerAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps, auth *authenticator) {
	api := adminApi{
		gate:     deps.Gate,
		auth:     auth,
		validate: deps.Validate,
	}

	ag := g.Group("/admin")
	ag.POST("/unlock", api.unlock)
	ag.PUT("/password", api.changePassword, jwt)
}

// Handlers

func (api *adminApi) unlock(ctx echo.Context) error {
	var data UnlockRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UnlockRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	if err := api.gate.Unlock(ctx.Request().Context(), data.Password); err != nil {
		return err
	}
	defaultPwd := api.gate.IsDefault(ctx.Request().Context())
	token, err := api.auth.generateToken(api.auth.claims(defaultPwd))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, UnlockResponse{Token: token, DefaultPassword: defaultPwd})
}

func (api *adminApi) changePassword(ctx echo.Context) error {
	var data gate.ChangePassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangePassword")
	}
	if err := api.gate.ChangePassword(ctx.Request().Context(), data); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been changed."})
}
