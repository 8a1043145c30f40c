package server

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/evs-hal/displayd/internal/display"
)

func (s *Server) handleHealth(c *gin.Context) {
	snapshot := s.monitor.Snapshot()
	code := http.StatusOK
	if snapshot["status"] == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, snapshot)
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"pid":           os.Getpid(),
	}

	if info, err := host.Info(); err == nil {
		status["hostname"] = info.Hostname
		status["os"] = info.Platform
		status["hostUptimeSeconds"] = info.Uptime
	}
	if avg, err := load.Avg(); err == nil {
		status["load1"] = avg.Load1
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			status["rssBytes"] = mem.RSS
		}
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) handleDisplayInfo(c *gin.Context) {
	d, ok := s.arbiter.Display()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no display open"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"info":  d.Info(),
		"state": d.State().String(),
		"mode":  d.Mode(),
	})
}

type setStateRequest struct {
	State string `json:"state" binding:"required"`
}

func (s *Server) handleSetState(c *gin.Context) {
	var req setStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, ok := s.arbiter.Display()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no display open"})
		return
	}

	state, err := display.ParseState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := d.SetState(state)
	c.JSON(resultStatus(result), gin.H{"result": result.String()})
}

func (s *Server) handleOpen(c *gin.Context) {
	sess, err := s.arbiter.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": sess.Token.String()})
}

type closeRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleClose(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := uuid.Parse(req.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed token"})
		return
	}

	if err := s.arbiter.Close(token); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// resultStatus maps a display Result to an HTTP status for the control API.
func resultStatus(r display.Result) int {
	switch r {
	case display.ResultOK:
		return http.StatusOK
	case display.ResultInvalidArg:
		return http.StatusBadRequest
	case display.ResultOwnershipLost:
		return http.StatusConflict
	case display.ResultBufferNotAvailable:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
