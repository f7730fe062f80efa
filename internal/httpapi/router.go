package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/pipeline-platform/internal/common"
	"github.com/suPer8Hu/pipeline-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/pipeline-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/pipeline-platform/internal/metrics"
)

func NewRouter(h *handlers.Handler, subjects middleware.SubjectLoader, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(h.Log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	if h.Cfg.MediaURL != "" && h.Cfg.MediaDir != "" {
		r.Static(h.Cfg.MediaURL, h.Cfg.MediaDir)
	}

	// CRUD users register
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret), middleware.LoadSubject(subjects))
	authGroup.GET("/me", h.Me)

	// Chat (JWT required)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.DELETE("/chat/sessions", h.DeleteAllChatSessions)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.PUT("/chat/sessions/:session_id", h.RenameChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/sessions/:session_id/run", h.RunPipeline)
	authGroup.GET("/chat/sessions/:session_id/files", h.ListFiles)
	authGroup.POST("/chat/sessions/:session_id/files", h.UploadFile)
	authGroup.POST("/chat/messages/:message_id/:action", h.SetMessageFlag)
	authGroup.POST("/chat/files/:file_id/favorite", h.SetFileFavorite)
	authGroup.GET("/chat/jobs/:job_id", h.GetChatJob)

	// Pipelines
	authGroup.GET("/pipelines", h.ListPipelines)
	authGroup.POST("/pipelines", h.CreatePipeline)
	authGroup.PATCH("/pipelines", h.PatchPipelinesAccess)
	authGroup.GET("/pipelines/kinds", h.PipelinesByOutput)
	authGroup.GET("/pipelines/:alias", h.GetPipeline)
	authGroup.PATCH("/pipelines/:alias", h.PatchPipeline)
	authGroup.DELETE("/pipelines/:alias", h.DeletePipeline)
	authGroup.GET("/factories", h.ListFactories)
	authGroup.GET("/factories/:alias", h.GetFactory)

	authGroup.GET("/channels/:channel_id/events", h.StreamEvents)
	return r
}
