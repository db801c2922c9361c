package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

// GET /api/v1/variables
func (s *Server) listVariables(c *gin.Context) {
	vars := s.lm.Panel().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"variables": vars,
		"count":     len(vars),
	})
}

// GET /api/v1/variables/:name
func (s *Server) getVariable(c *gin.Context) {
	st, err := s.lm.Panel().State(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// POST /api/v1/variables/:name/read
func (s *Server) readVariable(c *gin.Context) {
	panel := s.lm.Panel()
	name := c.Param("name")

	if _, err := panel.Read(name); err != nil {
		respondError(c, err)
		return
	}
	st, err := panel.State(name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// POST /api/v1/variables/:name/write
func (s *Server) writeVariable(c *gin.Context) {
	var req map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Invalid request body", err.Error()))
		return
	}
	raw, ok := req["value"]
	if !ok {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Invalid request body", "value is required"))
		return
	}

	name := c.Param("name")
	val, err := s.lm.Panel().Write(name, raw)
	if err != nil {
		respondError(c, err)
		return
	}

	s.logger.Info("Variable written via REST",
		zap.String("variable", name),
		zap.Any("value", val),
		zap.String("client_ip", c.ClientIP()))

	c.JSON(http.StatusOK, gin.H{
		"variable": name,
		"value":    ads.Normalize(val),
	})
}

// GET /api/v1/widgets
func (s *Server) listWidgets(c *gin.Context) {
	widgets := s.lm.Panel().Widgets()
	out := make([]hmi.WidgetState, 0, len(widgets))
	for _, w := range widgets {
		out = append(out, w.State())
	}
	c.JSON(http.StatusOK, gin.H{
		"widgets": out,
		"count":   len(out),
	})
}

// GET /api/v1/widgets/:id
func (s *Server) getWidget(c *gin.Context) {
	w, err := s.lm.Panel().Widget(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w.State())
}

// GET /api/v1/device
func (s *Server) getDevice(c *gin.Context) {
	info, state, err := s.lm.Panel().Device()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":         info.Name,
		"version":      info.Version,
		"revision":     info.Revision,
		"build":        info.Build,
		"ads_state":    state.ADSState.String(),
		"device_state": state.DeviceState,
	})
}
