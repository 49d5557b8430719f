package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/user"
)

type userApi struct {
	svc *user.Service
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *user.Service) {
	api := userApi{svc: svc}

	ug := g.Group("/users")
	ug.POST("/login", api.login)

	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", api.tokenRefresh)
	ag.GET("", api.query)

	g.GET("/me", api.me, jwt)
}

type (
	loginRequest struct {
		Username string `json:"username" validate:"required"` // or email
		Password string `json:"password" validate:"required"`
	}
	// LoginResponse is the login payload; exported for API tests.
	LoginResponse struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}
)

func (req *loginRequest) validate() error {
	req.Username = core.CleanString(req.Username, true /* lower */)
	return core.Validate.Struct(req)
}

func (api *userApi) login(ctx echo.Context) error {
	var req loginRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	usr, err := api.svc.GetByUsernameOrEmail(contextCtx(ctx), req.Username)
	if err != nil {
		if err == user.ErrNotFound {
			return errHttpUnauthorized
		}
		return err
	}
	if usr.IsActive != nil && !*usr.IsActive {
		return errHttpUnauthorized
	}
	if err = usr.CheckPassword(req.Password); err != nil {
		return errHttpUnauthorized
	}

	token, err := authenticate(usr)
	if err != nil {
		return err
	}
	if usr, err = api.svc.SetLastLogin(contextCtx(ctx), usr); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, User: usr})
}

func (api *userApi) tokenRefresh(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errHttpUnauthorized
	}
	token, err := refreshToken(&claims)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"token": token})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errHttpUnauthorized
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	var filter user.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return err
	}
	filter.Clean()

	var ordering Ordering
	ordering.Bind(ctx, "name", "username", "created_at")

	users, err := api.svc.Query(contextCtx(ctx), &filter, ordering.Ordering())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, users)
}
