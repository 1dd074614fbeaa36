package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ChatReplyRequest is an inbound chat message forwarded by a channel
// adapter.
type ChatReplyRequest struct {
	Text   string `json:"text" binding:"required"`
	UserID string `json:"user_id" binding:"required"`
}

// ChatReply is the chat-router hook feeding the approval manager. When the
// message is an approval reply, the resulting confirmation is posted back
// to the notification channel and echoed in the response.
func (s *Server) ChatReply(c *gin.Context) {
	var req ChatReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text and user_id are required"})
		return
	}

	reply, handled := s.approvals.HandleReply(c.Request.Context(), req.Text, req.UserID)
	if handled && reply != "" {
		if err := s.channels.Send(c.Request.Context(), s.notificationTarget, reply); err != nil {
			s.logger.Warn("Approval confirmation post failed", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"handled": handled, "reply": reply})
}
