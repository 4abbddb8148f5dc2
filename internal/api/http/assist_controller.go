package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/partnerly/callmesh/internal/assist"
)

type AssistController struct {
	assist *assist.Session
}

func NewAssistController(assistSession *assist.Session) *AssistController {
	return &AssistController{assist: assistSession}
}

func (c *AssistController) SetSource(ctx *gin.Context) {
	type request struct {
		Source string `json:"source" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	source, err := assist.ParseSource(req.Source)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := c.assist.SetSource(source); err != nil {
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"source": source})
}

func (c *AssistController) StartRecording(ctx *gin.Context) {
	if err := c.assist.StartRecording(ctx.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, assist.ErrNoAudioSource):
			status = http.StatusPreconditionFailed
		case errors.Is(err, assist.ErrAlreadyRecording):
			status = http.StatusConflict
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"recording": true})
}

func (c *AssistController) StopRecording(ctx *gin.Context) {
	transcript, err := c.assist.StopRecording(ctx.Request.Context())
	if err != nil {
		ctx.JSON(assistErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"transcript": transcript})
}

func (c *AssistController) Flush(ctx *gin.Context) {
	transcript, err := c.assist.FlushAndContinue(ctx.Request.Context())
	if err != nil {
		ctx.JSON(assistErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"transcript": transcript})
}

func (c *AssistController) Prompt(ctx *gin.Context) {
	type request struct {
		Prompt string `json:"prompt"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := c.assist.Prompt(ctx.Request.Context(), req.Prompt, nil); err != nil {
		ctx.JSON(assistErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"response": c.assist.Response()})
}

func (c *AssistController) State(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"recording":  c.assist.Recording(),
		"source":     c.assist.Source(),
		"transcript": c.assist.Transcript(),
		"response":   c.assist.Response(),
		"suggestion": c.assist.Suggestion(),
	})
}

func assistErrorStatus(err error) int {
	switch {
	case errors.Is(err, assist.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, assist.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, assist.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, assist.ErrEmptyTranscription):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
