package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/application/executor"
	"github.com/strandlabs/strand/internal/domain"
)

// TriggerRequest represents a session trigger request
type TriggerRequest struct {
	Input   domain.Memory            `json:"input"`
	Options *executor.TriggerOptions `json:"options,omitempty"`
}

// TriggerResponse represents a session trigger response
type TriggerResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	TriggeredAt string `json:"triggered_at"`
}

// ResumeRequest represents a resume or replay request
type ResumeRequest struct {
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// InjectInputRequest represents a human input delivery
type InjectInputRequest struct {
	NodeID  string `json:"node_id" binding:"required"`
	Content string `json:"content" binding:"required"`
	GraphID string `json:"graph_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"executor": "ok",
		},
	})
}

// handleRegisterGraph handles graph registration
func (s *Server) handleRegisterGraph(c *gin.Context) {
	var graph domain.GraphSpec
	if err := c.ShouldBindJSON(&graph); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	if err := s.manager.RegisterGraph(&graph); err != nil {
		s.logger.Error("failed to register graph", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "REGISTRATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"graph_id": graph.ID,
		"status":   "registered",
	})
}

// handleTrigger handles triggering a session through an entry point
func (s *Server) handleTrigger(c *gin.Context) {
	entryPoint := c.Param("entrypoint")

	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	executionID, err := s.manager.Trigger(c.Request.Context(), entryPoint, req.Input, req.Options)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidEntryPoint) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "UNKNOWN_ENTRY_POINT",
					Message: err.Error(),
				},
			})
			return
		}
		s.logger.Error("failed to trigger session", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "TRIGGER_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, TriggerResponse{
		ExecutionID: executionID,
		Status:      "running",
		TriggeredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetSession handles getting session state
func (s *Server) handleGetSession(c *gin.Context) {
	sessionID := c.Param("id")

	sess, err := s.manager.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		status, code := http.StatusInternalServerError, "READ_FAILED"
		if errors.Is(err, domain.ErrNotFound) {
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
		c.JSON(status, ErrorResponse{
			Error: ErrorDetail{
				Code:    code,
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, sess)
}

// handleResume handles resuming a paused or interrupted session
func (s *Server) handleResume(c *gin.Context) {
	sessionID := c.Param("id")

	// Body is optional; resuming without a checkpoint picks up the status doc.
	var req ResumeRequest
	_ = c.ShouldBindJSON(&req)

	executionID, err := s.manager.Resume(c.Request.Context(), sessionID, req.CheckpointID)
	if err != nil {
		s.writeResumeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id": executionID,
		"session_id":   sessionID,
		"status":       "running",
	})
}

// handleReplay handles deterministic replay from a checkpoint
func (s *Server) handleReplay(c *gin.Context) {
	sessionID := c.Param("id")

	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CheckpointID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "checkpoint_id is required for replay",
			},
		})
		return
	}

	executionID, err := s.manager.Replay(c.Request.Context(), sessionID, req.CheckpointID)
	if err != nil {
		s.writeResumeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id":  executionID,
		"checkpoint_id": req.CheckpointID,
		"status":        "running",
	})
}

func (s *Server) writeResumeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: err.Error()},
		})
	case errors.Is(err, domain.ErrSessionTerminal):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{Code: "SESSION_TERMINAL", Message: err.Error()},
		})
	default:
		s.logger.Error("resume failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "RESUME_FAILED", Message: err.Error()},
		})
	}
}

// handleGetProgress handles goal progress queries
func (s *Server) handleGetProgress(c *gin.Context) {
	executionID := c.Param("id")

	progress, err := s.manager.GetGoalProgress(c.Request.Context(), executionID)
	if err != nil {
		status, code := http.StatusInternalServerError, "READ_FAILED"
		if errors.Is(err, domain.ErrNotFound) {
			status, code = http.StatusNotFound, "NOT_FOUND"
		}
		c.JSON(status, ErrorResponse{
			Error: ErrorDetail{
				Code:    code,
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, progress)
}

// handleCancel handles execution cancellation
func (s *Server) handleCancel(c *gin.Context) {
	executionID := c.Param("id")

	if !s.manager.CancelExecution(executionID) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: "execution is unknown or already terminal",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution_id": executionID,
		"status":       "cancelling",
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInjectInput handles delivering human input to a waiting node
func (s *Server) handleInjectInput(c *gin.Context) {
	var req InjectInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	if !s.manager.InjectInput(c.Request.Context(), req.NodeID, req.Content, req.GraphID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NO_AWAITING_NODE",
				Message: "no execution is awaiting input on that node",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"node_id": req.NodeID,
		"status":  "delivered",
	})
}
