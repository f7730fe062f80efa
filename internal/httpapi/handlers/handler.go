package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/common"
	"github.com/suPer8Hu/pipeline-platform/internal/config"
	"github.com/suPer8Hu/pipeline-platform/internal/httpapi/middleware"
	"github.com/suPer8Hu/pipeline-platform/internal/notify"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
	"github.com/suPer8Hu/pipeline-platform/internal/runner"
	"gorm.io/gorm"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	ChatSvc  *chat.Service
	Engine   *runner.Engine
	Registry *pipeline.Registry
	Manager  *pipeline.Manager
	Events   notify.Subscriber
	Log      zerolog.Logger
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func subjectFromContext(c *gin.Context) (permission.Subject, bool) {
	return middleware.Subject(c)
}

// failErr maps a domain error onto the response envelope.
func (h *Handler) failErr(c *gin.Context, err error) {
	var ve *pipeline.ValidationError
	switch {
	case errors.As(err, &ve):
		common.FailWith(c, http.StatusBadRequest, 10010, "validation failed", ve.Errors)
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
	case errors.Is(err, chat.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
	case errors.Is(err, chat.ErrMessageNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "message not found")
	case errors.Is(err, chat.ErrFileNotFound):
		common.Fail(c, http.StatusNotFound, 40404, "file not found")
	case errors.Is(err, pipeline.ErrPipelineNotFound):
		common.Fail(c, http.StatusNotFound, 40405, "pipeline not found")
	case errors.Is(err, pipeline.ErrUnknownFactory):
		common.Fail(c, http.StatusNotFound, 40406, "factory not found")
	case errors.Is(err, pipeline.ErrPermissionDenied):
		common.Fail(c, http.StatusForbidden, 40300, "permission denied")
	case errors.Is(err, runner.ErrUnavailable):
		common.Fail(c, http.StatusConflict, 40900, "pipeline unavailable")
	default:
		h.Log.Error().Err(err).Str("path", c.FullPath()).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
