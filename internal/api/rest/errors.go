package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/screens"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

// respondError maps domain errors to status codes and error payloads.
func respondError(c *gin.Context, err error) {
	var ce *ads.ConnectionError
	switch {
	case errors.As(err, &ce):
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("ADS_502", err.Error(), gin.H{
			"address":   ce.Address,
			"code":      ce.Code,
			"code_name": ce.ErrorCode().String(),
			"operation": string(ce.Op),
		}))
	case errors.Is(err, hmi.ErrUnknownVariable):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("VAR_404", "Variable not found", err.Error()))
	case errors.Is(err, hmi.ErrUnknownWidget):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("WIDGET_404", "Widget not found", err.Error()))
	case errors.Is(err, hmi.ErrReadOnly):
		c.JSON(http.StatusForbidden, types.NewErrorResponse("VAR_403", "Variable is read-only", err.Error()))
	case errors.Is(err, ads.ErrValueType):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Invalid value", err.Error()))
	case errors.Is(err, ads.ErrNotSupported):
		c.JSON(http.StatusNotImplemented, types.NewErrorResponse("ADS_501", "Not supported by transport", err.Error()))
	case errors.Is(err, screens.ErrInvalidScreen):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCREEN_400", "Invalid screen", err.Error()))
	case errors.Is(err, screens.ErrNoStore):
		c.JSON(http.StatusNotImplemented, types.NewErrorResponse("SCREEN_501", "No screen store configured", nil))
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("SCREEN_404", "Screen not found", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("INTERNAL_500", "Internal error", err.Error()))
	}
}
