package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/partnerly/callmesh/internal/api/http/converter"
	"github.com/partnerly/callmesh/internal/session"
)

type CallController struct {
	session *session.Session
}

func NewCallController(callSession *session.Session) *CallController {
	return &CallController{session: callSession}
}

func (c *CallController) CreateCall(ctx *gin.Context) {
	type request struct {
		PartnershipID string `json:"partnership_id" binding:"required"`
		Title         string `json:"title" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	call, err := c.session.CreateCall(ctx.Request.Context(), req.PartnershipID, req.Title)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrCallActive) {
			status = http.StatusConflict
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"call": call})
}

func (c *CallController) JoinCall(ctx *gin.Context) {
	type request struct {
		CallID string `json:"call_id" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := c.session.JoinCall(ctx.Request.Context(), req.CallID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrCallActive) {
			status = http.StatusConflict
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"call_id": req.CallID})
}

func (c *CallController) EndCall(ctx *gin.Context) {
	if err := c.session.EndCall(ctx.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoCall) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (c *CallController) State(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"session": converter.StateToApi(c.session.Snapshot())})
}

func (c *CallController) ToggleMic(ctx *gin.Context) {
	enabled, err := c.session.ToggleMic()
	if err != nil {
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"mic_enabled": enabled})
}

func (c *CallController) ToggleVideo(ctx *gin.Context) {
	enabled, err := c.session.ToggleVideo()
	if err != nil {
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"video_enabled": enabled})
}
