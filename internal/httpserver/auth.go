package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/lunch_list/internal/logging"
	"github.com/Skotchmaster/lunch_list/internal/service"
)

type AuthHTTP struct {
	Svc          *service.AuthService
	CookieSecure bool
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Secret   string `json:"secret"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req credentials
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Login(ctx, req.Username, req.Password, c.RealIP())
	if err != nil {
		return err
	}

	c.SetCookie(refreshCookie(res.RefreshToken, res.RefreshExp, h.CookieSecure))
	return c.JSON(http.StatusOK, tokenResponse{Token: res.AccessToken})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	cookie, err := c.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		l.Warn("refresh_error", "status", 401, "reason", "missing refresh cookie")
		c.SetCookie(clearRefreshCookie(h.CookieSecure))
		return service.ErrUnauthorized
	}

	res, err := h.Svc.Refresh(ctx, cookie.Value)
	if errors.Is(err, service.ErrUnauthorized) {
		c.SetCookie(clearRefreshCookie(h.CookieSecure))
		return err
	}
	if err != nil {
		return err
	}

	c.SetCookie(refreshCookie(res.RefreshToken, res.RefreshExp, h.CookieSecure))
	return c.JSON(http.StatusOK, tokenResponse{Token: res.AccessToken})
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	all := false
	if raw := c.QueryParam("all"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			l.Warn("logout_error", "status", 400, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'all' must be a boolean")
		}
		all = v
	}

	cookie, err := c.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		l.Warn("logout_error", "status", 401, "reason", "missing refresh cookie")
		return service.ErrUnauthorized
	}

	c.SetCookie(clearRefreshCookie(h.CookieSecure))
	if err := h.Svc.LogOut(ctx, cookie.Value, all); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHTTP) SignUp(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signup")

	var req signupRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("signup_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	id, err := h.Svc.SignUp(ctx, req.Username, req.Password, req.Secret)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}
