package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/litkit/core"
	"github.com/layer-3/litkit/service"
)

// ToolHandlers contains HTTP handlers for the tool endpoints
type ToolHandlers struct {
	toolkit *service.Toolkit
	conn    *service.ConnectionManager
}

// NewToolHandlers creates new tool handlers
func NewToolHandlers(toolkit *service.Toolkit, conn *service.ConnectionManager) *ToolHandlers {
	return &ToolHandlers{
		toolkit: toolkit,
		conn:    conn,
	}
}

// List returns the available tools
func (h *ToolHandlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.toolkit.Tools()})
}

// Invoke runs the tool named in the path with the JSON request body as arguments
func (h *ToolHandlers) Invoke(c *gin.Context) {
	name := c.Param("name")
	if !h.known(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": service.ToolError{Kind: "validation", Message: "unknown tool " + name}})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ToolError{Kind: "validation", Message: "Invalid request"}})
		return
	}

	out, err := h.toolkit.Invoke(c.Request.Context(), name, json.RawMessage(body))
	if err != nil {
		c.Data(statusFor(err), "application/json", service.EncodeToolError(err))
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

// Health reports the node network connection state
func (h *ToolHandlers) Health(c *gin.Context) {
	st := h.conn.State()
	resp := gin.H{
		"state":   st.State.String(),
		"network": st.Network,
		"nodes":   len(st.Nodes),
	}
	if st.Reason != nil {
		resp["reason"] = st.Reason.Error()
	}
	status := http.StatusOK
	if st.State != service.StateReady {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (h *ToolHandlers) known(name string) bool {
	for _, t := range h.toolkit.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSigning):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrContract):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrQuorum), errors.Is(err, core.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
