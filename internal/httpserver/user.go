package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/lunch_list/internal/middleware"
	"github.com/Skotchmaster/lunch_list/internal/service"
)

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// GetUser answers from the access token alone.
func GetUser(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return service.ErrUnauthorized
	}
	return c.JSON(http.StatusOK, userResponse{ID: claims.UID, Username: claims.Name})
}
