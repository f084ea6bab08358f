package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/lunch_list/internal/logging"
	"github.com/Skotchmaster/lunch_list/internal/tokens"
)

const (
	bearerPrefix = "Bearer "
	claimsKey    = "auth_claims"

	MsgMissingAuthHeader = "Missing 'Authorization' header with Bearer token"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrMalformedAuth     = errors.New("malformed authorization header")
)

type AccessVerifier interface {
	ParseAccess(token string) (*tokens.AccessClaims, error)
}

// BearerToken accepts exactly "Bearer <token>": the scheme is case sensitive,
// separated by a single space, and the token has no further whitespace.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMalformedAuth
	}
	token := header[len(bearerPrefix):]
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", ErrMalformedAuth
	}
	return token, nil
}

// ClaimsFromHeader turns an Authorization header value into verified access
// claims.
func ClaimsFromHeader(header string, v AccessVerifier) (*tokens.AccessClaims, error) {
	token, err := BearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := v.ParseAccess(token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid access token and stores the
// claims on the echo context.
func RequireAuth(v AccessVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := ClaimsFromHeader(c.Request().Header.Get(echo.HeaderAuthorization), v)
			if err != nil {
				ctx := c.Request().Context()
				logging.FromContext(ctx).Warn("auth_rejected", "status", 401, "error", err)
				if errors.Is(err, ErrMissingAuthHeader) {
					return echo.NewHTTPError(http.StatusUnauthorized, MsgMissingAuthHeader).SetInternal(err)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized").SetInternal(err)
			}

			c.Set(claimsKey, claims)
			ctx := logging.IntoContext(c.Request().Context(),
				logging.FromContext(c.Request().Context()).With("user_id", claims.UID))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func ClaimsFrom(c echo.Context) (*tokens.AccessClaims, bool) {
	claims, ok := c.Get(claimsKey).(*tokens.AccessClaims)
	return claims, ok && claims != nil
}
