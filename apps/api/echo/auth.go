package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/user"
)

type Claims struct {
	jwt.StandardClaims
	OriginalIssuedAt int64  `json:"orig_iat,omitempty"`
	Username         string `json:"username,omitempty"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role,omitempty"`
	IsTrainee        bool   `json:"is_trainee,omitempty"`
	IsTrainer        bool   `json:"is_trainer,omitempty"`
}

var (
	authConf     *core.Config
	appJWTConfig middleware.JWTConfig
)

func initAuth(conf *core.Config) {
	authConf = conf
	appJWTConfig = middleware.JWTConfig{
		Claims:     new(Claims),
		SigningKey: []byte(conf.SecretKey),
	}
}

// GetUserClaims returns fresh JWT claims for usr.
func GetUserClaims(usr user.User) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   usr.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(authConf.Server.JWTExpirationDelta).Unix(),
		},
		OriginalIssuedAt: now.Unix(),
		Username:         usr.Username,
		Email:            usr.Email,
		Role:             string(usr.Role),
		IsTrainee:        usr.IsTrainee(),
		IsTrainer:        usr.IsTrainer(),
	}
}

// GenerateToken signs claims and returns the token string.
func GenerateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t, err := token.SignedString(appJWTConfig.SigningKey)
	return t, errors.Wrap(err, "signing token")
}

func authenticate(usr user.User) (string, error) {
	return GenerateToken(GetUserClaims(usr))
}

func refreshToken(claims *Claims) (string, error) {
	origIat := claims.OriginalIssuedAt
	if origIat <= 0 {
		origIat = claims.IssuedAt
	}
	refreshExp := time.Unix(origIat, 0).Add(authConf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(refreshExp) {
		return "", errHttpRefreshExpired
	}

	now := time.Now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(authConf.Server.JWTExpirationDelta).Unix()
	claims.OriginalIssuedAt = origIat
	return GenerateToken(claims)
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get("user").(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errors.New("invalid context user")
}

func getContextUser(ctx echo.Context, svc *user.Service, clms ...Claims) (user.User, error) {
	var claims Claims
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		var err error
		if claims, err = getContextClaims(ctx); err != nil {
			return user.User{}, err
		}
	}
	return svc.GetByUsernameOrEmail(contextCtx(ctx), claims.Username)
}

func contextCtx(ctx echo.Context) context.Context {
	return ctx.Request().Context()
}

// trainerMiddleware restricts a route to trainer accounts.
func trainerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errHttpUnauthorized
			}
			if !claims.IsTrainer {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}
