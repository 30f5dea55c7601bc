package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-plugin/internal/models"
	"chat-plugin/internal/services"
)

type Memberships interface {
	Follow(ctx context.Context, user models.User, ch models.Channel) (models.Membership, error)
	Unfollow(ctx context.Context, user models.User, ch models.Channel) (*models.Membership, error)
	UpdateNotificationSettings(ctx context.Context, user models.User, ch models.Channel, in services.NotificationSettings) (models.Membership, error)
	ChangeStatus(ctx context.Context, actor models.User, ch models.Channel, status models.ChannelStatus) (models.Channel, error)
	DeleteChannel(ctx context.Context, actor models.User, ch models.Channel) error
}

type Archives interface {
	BeginArchive(ctx context.Context, actor models.User, ch models.Channel, p models.ArchiveParams) (models.ChannelArchive, error)
	RetryArchive(ctx context.Context, actor models.User, ch models.Channel) (models.ChannelArchive, error)
}

// ChannelHandler serves membership and channel administration routes.
type ChannelHandler struct {
	channels    Channels
	memberships Memberships
	archives    Archives
	logger      *slog.Logger
}

func NewChannelHandler(channels Channels, memberships Memberships, archives Archives, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, memberships: memberships, archives: archives, logger: logger}
}

// Register mounts the routes on the authenticated /chat group.
func (h *ChannelHandler) Register(r gin.IRouter) {
	g := r.Group("/chat_channels/:channel_id")
	g.POST("/follow", h.Follow)
	g.DELETE("/follow", h.Unfollow)
	g.PUT("/notification_settings", h.UpdateNotificationSettings)
	g.PUT("/change_status", h.ChangeStatus)
	g.DELETE("", h.DeleteChannel)
	g.PUT("/archive.json", h.Archive)
	g.PUT("/archive/retry", h.RetryArchive)
}

func (h *ChannelHandler) Follow(c *gin.Context) {
	user, ch, ok := resolveChannel(c, h.channels, h.logger)
	if !ok {
		return
	}
	m, err := h.memberships.Follow(c.Request.Context(), user, ch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

// Unfollow keeps the membership row; a user who never followed gets a null
// membership.
func (h *ChannelHandler) Unfollow(c *gin.Context) {
	user, ch, ok := resolveChannel(c, h.channels, h.logger)
	if !ok {
		return
	}
	m, err := h.memberships.Unfollow(c.Request.Context(), user, ch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

func (h *ChannelHandler) UpdateNotificationSettings(c *gin.Context) {
	user, ch, ok := resolveChannel(c, h.channels, h.logger)
	if !ok {
		return
	}
	var req services.NotificationSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.memberships.UpdateNotificationSettings(c.Request.Context(), user, ch, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

func (h *ChannelHandler) ChangeStatus(c *gin.Context) {
	user, ch, ok := resolveChannel(c, h.channels, h.logger)
	if !ok {
		return
	}
	var req struct {
		Status models.ChannelStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	updated, err := h.memberships.ChangeStatus(c.Request.Context(), user, ch, req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_channel": updated})
}

func (h *ChannelHandler) DeleteChannel(c *gin.Context) {
	user, ch, ok := resolveChannel(c, h.channels, h.logger)
	if !ok {
		return
	}
	if err := h.memberships.DeleteChannel(c.Request.Context(), user, ch); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "OK"})
}

// Archive starts moving the channel history into a topic.
func (h *ChannelHandler) Archive(c *gin.Context) {
	user, ch, ok := resolveChannel(c, h.channels, h.logger)
	if !ok {
		return
	}
	var req models.ArchiveParams
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	archive, err := h.archives.BeginArchive(c.Request.Context(), user, ch, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archive": archive})
}

func (h *ChannelHandler) RetryArchive(c *gin.Context) {
	user, ch, ok := resolveChannel(c, h.channels, h.logger)
	if !ok {
		return
	}
	archive, err := h.archives.RetryArchive(c.Request.Context(), user, ch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archive": archive})
}
