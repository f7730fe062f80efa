package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/common"
	"github.com/suPer8Hu/pipeline-platform/internal/runner"
)

func sessionJSON(s *chat.Session) gin.H {
	return gin.H{
		"id":         s.ID,
		"channel_id": s.ChannelID(),
		"title":      s.Title,
		"created_at": s.CreatedAt,
		"updated_at": s.UpdatedAt,
	}
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, sessionJSON(sess))
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid)
	if err != nil {
		h.failErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessionJSON(&sessions[i]))
	}
	common.OK(c, gin.H{"sessions": out})
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	sess, err := h.ChatSvc.GetSession(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, sessionJSON(sess))
}

type renameSessionReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameChatSession(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.ChatSvc.RenameSession(c.Request.Context(), uid, c.Param("session_id"), req.Title); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, nil)
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, c.Param("session_id")); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, nil)
}

func (h *Handler) DeleteAllChatSessions(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	if err := h.ChatSvc.DeleteAllSessions(c.Request.Context(), uid); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, nil)
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	views, err := h.Engine.SerializeMessages(c.Request.Context(), subj, c.Param("session_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"messages": views})
}

// RunPipeline submits a turn. The turn itself is followed on the session's
// event stream.
func (h *Handler) RunPipeline(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	var req runner.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// read idempotency key
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(req.IdempotencyKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	ack, err := h.Engine.Submit(c.Request.Context(), subj, c.Param("session_id"), req)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 0, "message": "ok", "data": ack})
}

type messageFlagReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Value     bool   `json:"value"`
}

// SetMessageFlag handles the "selected" and "valid" actions.
func (h *Handler) SetMessageFlag(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	action := c.Param("action")
	if action != "selected" && action != "valid" {
		common.Fail(c, http.StatusBadRequest, 10005, "unknown action")
		return
	}
	var req messageFlagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	err := h.ChatSvc.SetMessageFlag(c.Request.Context(), uid, req.SessionID, c.Param("message_id"), action, req.Value)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{action: req.Value})
}

func (h *Handler) UploadFile(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "file required")
		return
	}
	src, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "unreadable file")
		return
	}
	defer src.Close()

	f, err := h.ChatSvc.AddFile(c.Request.Context(), uid, c.Param("session_id"), fh.Filename, src)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, f)
}

func (h *Handler) ListFiles(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	files, err := h.ChatSvc.ListFiles(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"files": files})
}

type favoriteReq struct {
	Favorite bool `json:"favorite"`
}

func (h *Handler) SetFileFavorite(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	var req favoriteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.ChatSvc.SetFileFavorite(c.Request.Context(), uid, c.Param("file_id"), req.Favorite); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"favorite": req.Favorite})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, _ := userIDFromContext(c)
	j, err := h.ChatSvc.GetJob(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		h.failErr(c, err)
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                  j.ID,
			"session_id":          j.SessionID,
			"pipeline":            j.Pipeline,
			"status":              j.Status,
			"request_message_id":  j.RequestMessageID,
			"response_message_id": j.ResponseMessageID,
			"error":               j.Error,
			"created_at":          j.CreatedAt,
			"updated_at":          j.UpdatedAt,
		},
	})
}
