package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(callController *CallController, assistController *AssistController) *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{
		"http://localhost:3000",
	}
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	if callController != nil {
		calls := api.Group("/calls")
		calls.POST("/create", callController.CreateCall)
		calls.POST("/join", callController.JoinCall)
		calls.POST("/end", callController.EndCall)
		calls.GET("/state", callController.State)

		mediaGroup := api.Group("/media")
		mediaGroup.POST("/mic/toggle", callController.ToggleMic)
		mediaGroup.POST("/video/toggle", callController.ToggleVideo)
	}

	if assistController != nil {
		ai := api.Group("/assist")
		ai.POST("/source", assistController.SetSource)
		ai.POST("/record/start", assistController.StartRecording)
		ai.POST("/record/stop", assistController.StopRecording)
		ai.POST("/record/flush", assistController.Flush)
		ai.POST("/prompt", assistController.Prompt)
		ai.GET("/state", assistController.State)
	}

	return router
}
