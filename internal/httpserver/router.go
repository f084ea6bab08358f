package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/lunch_list/internal/middleware"
	"github.com/Skotchmaster/lunch_list/internal/obs"
)

type Deps struct {
	AuthHandler *AuthHTTP
	Verifier    middleware.AccessVerifier
	Ready       func(ctx context.Context) error // nil means always ready
	StaticDir   string
	TrustProxy  bool
}

// New builds the echo instance with the ambient middleware stack and all routes.
func New(log *slog.Logger, d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.IPExtractor = echo.ExtractIPDirect()
	if d.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	}

	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(
		echomw.Recover(),
		echomw.RequestID(),
		echomw.Secure(),
		obs.HTTPMetrics(),
		middleware.RequestLogger(log),
	)

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 500*time.Millisecond)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "not ready").SetInternal(err)
		}
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", echo.WrapHandler(obs.Handler()))

	api := e.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/login", d.AuthHandler.Login)
	auth.GET("/refresh", d.AuthHandler.Refresh)
	auth.POST("/logout", d.AuthHandler.LogOut)
	auth.POST("/signup", d.AuthHandler.SignUp)

	api.GET("/user", GetUser, middleware.RequireAuth(d.Verifier))

	api.Any("", notFound)
	api.Any("/*", notFound)

	if d.StaticDir != "" {
		e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
			Root:    d.StaticDir,
			Index:   "index.html",
			HTML5:   true,
			Skipper: skipNonStatic,
		}))
	}
}

func notFound(echo.Context) error {
	return echo.NewHTTPError(http.StatusNotFound, msgNotFound)
}

func skipNonStatic(c echo.Context) bool {
	p := c.Request().URL.Path
	for _, prefix := range []string{"/api", "/health", "/metrics"} {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}
