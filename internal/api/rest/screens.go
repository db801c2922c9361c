package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/screens"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

// GET /api/v1/screens
func (s *Server) listScreens(c *gin.Context) {
	list, err := s.lm.Catalog().List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"screens": list,
		"count":   len(list),
		"active":  s.lm.Panel().Screen().Screen.ID,
	})
}

// GET /api/v1/screens/:id
func (s *Server) getScreen(c *gin.Context) {
	def, source, err := s.lm.Catalog().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source":     source,
		"definition": def,
	})
}

// PUT /api/v1/screens/:id
func (s *Server) putScreen(c *gin.Context) {
	var def types.ScreenDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCREEN_400", "Invalid request body", err.Error()))
		return
	}

	id := c.Param("id")
	if def.Screen.ID == "" {
		def.Screen.ID = id
	}
	if def.Screen.ID != id {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SCREEN_400", "Screen id does not match path", gin.H{
			"path": id,
			"body": def.Screen.ID,
		}))
		return
	}

	if err := s.lm.Catalog().Save(c.Request.Context(), &def); err != nil {
		respondError(c, err)
		return
	}

	s.logger.Info("Screen stored via REST", zap.String("screen", id))
	c.JSON(http.StatusOK, def.Summary(screens.SourceDatabase))
}
