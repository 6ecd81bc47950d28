package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

func (s *Server) handleGetState(c *gin.Context) {
	resp := StateResponse{
		State:   s.ctrl.State(),
		Info:    s.ctrl.Info(),
		Mode:    s.ctrl.Mode(),
		Gesture: s.ctrl.Gesture(),
	}
	if dev, ok := s.ctrl.Device(); ok {
		resp.Device = &dev
	}

	c.JSON(http.StatusOK, Response{
		Status: "success",
		Data:   resp,
	})
}

func (s *Server) handleGetLatest(c *gin.Context) {
	snap, ok := s.ctrl.Snapshot()
	if !ok {
		c.JSON(http.StatusNotFound, Response{
			Status: "error",
			Error:  "no data received yet",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Status: "success",
		Data:   snap,
	})
}

func (s *Server) handleGetStats(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Status: "success",
		Data: StatsResponse{
			Stats:   s.ctrl.Stats(),
			Uptime:  time.Since(s.startTime).Round(time.Second).String(),
			Version: s.version,
		},
	})
}

func (s *Server) handleVibrate(c *gin.Context) {
	var req VibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid vibrate request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	var err error
	switch {
	case req.Type != "":
		var t protocol.VibrationType
		if t, err = protocol.ParseVibrationType(req.Type); err != nil {
			s.badRequest(c, err.Error())
			return
		}
		err = s.ctrl.Vibrate(ctx, t)
	case len(req.Steps) > 0:
		var cmd protocol.Vibrate2
		if cmd, err = protocol.NewVibrate2(req.Steps...); err == nil {
			err = s.ctrl.Vibrate2(ctx, cmd)
		}
	case req.DurationMs > 0:
		strength := -1
		if req.Strength != nil {
			strength = *req.Strength
		}
		var cmd protocol.Vibrate2
		if cmd, err = protocol.VibrateFor(req.DurationMs, strength); err == nil {
			err = s.ctrl.Vibrate2(ctx, cmd)
		}
	default:
		s.badRequest(c, "one of type, duration_ms or steps is required")
		return
	}

	s.commandResult(c, "vibrate", err)
}

func (s *Server) handleSetLEDs(c *gin.Context) {
	var req LEDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid leds request: "+err.Error())
		return
	}

	cmd, err := protocol.NewSetLEDs(append(req.Logo, req.Line...)...)
	if err == nil {
		err = s.ctrl.SetLEDs(c.Request.Context(), cmd)
	}
	s.commandResult(c, "set_leds", err)
}

func (s *Server) handleResync(c *gin.Context) {
	s.commandResult(c, "resync", s.ctrl.Resync(c.Request.Context()))
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Status: "error",
		Error:  msg,
	})
}

// commandResult maps a command error onto an HTTP status
func (s *Server) commandResult(c *gin.Context, op string, err error) {
	if err == nil {
		c.JSON(http.StatusOK, Response{
			Status:  "success",
			Message: fmt.Sprintf("%s sent", op),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, protocol.ErrInvalidCommandArgument):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	s.logger.WithFields(logrus.Fields{
		"command": op,
		"status":  status,
		"error":   err,
	}).Warn("Command failed")

	c.JSON(status, Response{
		Status: "error",
		Error:  err.Error(),
	})
}
