package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenTestRig/internal/auth"
	"github.com/KevinKickass/OpenTestRig/internal/devices"
	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"github.com/KevinKickass/OpenTestRig/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/machine/status
func (s *Server) getMachineStatus(c *gin.Context) {
	status, err := s.lm.MachineStatus(c.Request.Context())
	if err != nil {
		c.JSON(dispatchErrorStatus(err), types.NewErrorResponse("MACHINE_503", "Machine status unavailable", err.Error()))
		return
	}
	c.JSON(http.StatusOK, status)
}

// GET /api/v1/machine/actions
func (s *Server) listMachineActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"actions": dispatch.Actions(),
	})
}

// POST /api/v1/machine/command
func (s *Server) executeMachineCommand(c *gin.Context) {
	var cmd dispatch.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request body", err.Error()))
		return
	}

	if cmd.Requester == "" {
		if identity, ok := auth.GetIdentity(c); ok {
			cmd.Requester = identity.Subject
		}
	}

	rejection, err := s.lm.Dispatch(c.Request.Context(), cmd)
	if err != nil {
		s.logger.Error("Machine command failed",
			zap.String("action", string(cmd.Action)),
			zap.Error(err))
		status := dispatchErrorStatus(err)
		c.JSON(status, types.NewStatusError("MACHINE", status, "Command execution failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"action":    cmd.Action,
		"accepted":  rejection == "",
		"rejection": rejection,
	})
}

// POST /api/v1/machine/configure
func (s *Server) configureMachine(c *gin.Context) {
	var req struct {
		Profile    string                         `json:"profile"`
		Definition *types.MachineProfileDefinition `json:"definition"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request body", err.Error()))
		return
	}
	if (req.Profile == "") == (req.Definition == nil) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid request body", "exactly one of profile or definition is required"))
		return
	}

	var err error
	if req.Definition != nil {
		err = s.lm.ConfigureMachine(c.Request.Context(), req.Definition)
	} else {
		err = s.lm.SelectMachine(c.Request.Context(), req.Profile)
	}
	if err != nil {
		s.logger.Error("Machine configuration failed", zap.String("profile", req.Profile), zap.Error(err))
		switch {
		case errors.Is(err, devices.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, types.NewErrorResponse("MACHINE_404", "Profile not found", err.Error()))
		case errors.Is(err, devices.ErrInvalidProfile):
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("MACHINE_400", "Invalid machine profile", err.Error()))
		default:
			status := dispatchErrorStatus(err)
			c.JSON(status, types.NewStatusError("MACHINE", status, "Machine configuration failed", err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Machine configured",
		"status":  s.lm.GetCurrentStatus(),
	})
}

func dispatchErrorStatus(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrNoHandler):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNoActiveMachine):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
