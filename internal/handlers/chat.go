package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-plugin/internal/models"
	"chat-plugin/internal/services"
)

// Channels resolves the channel named by a route.
type Channels interface {
	GetChannel(ctx context.Context, channelID int) (models.Channel, error)
}

// Messages is the message lifecycle used by the chat routes.
type Messages interface {
	Create(ctx context.Context, user models.User, ch models.Channel, p services.CreateParams) (models.MessageView, error)
	Edit(ctx context.Context, user models.User, ch models.Channel, messageID int, raw string, uploadIDs []int) (models.MessageView, error)
	Delete(ctx context.Context, actor models.User, ch models.Channel, messageID int) error
	Restore(ctx context.Context, actor models.User, ch models.Channel, messageID int) (models.MessageView, error)
	ListPage(ctx context.Context, viewer models.User, ch models.Channel, p services.PageParams) ([]models.MessageView, models.PageMeta, error)
	UpdateReadCursor(ctx context.Context, user models.User, ch models.Channel, messageID int) (models.TrackingUpdate, error)
	TrackingState(ctx context.Context, user models.User) (map[int]models.TrackingUpdate, error)
}

type Reactions interface {
	React(ctx context.Context, user models.User, ch models.Channel, messageID int, req services.ReactRequest) (bool, error)
}

type Invites interface {
	Invite(ctx context.Context, actor models.User, ch models.Channel, userIDs []int, messageID int) ([]int, error)
}

// ChatHandler serves the message routes of a channel.
type ChatHandler struct {
	channels  Channels
	messages  Messages
	reactions Reactions
	invites   Invites
	logger    *slog.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(channels Channels, messages Messages, reactions Reactions, invites Invites, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{channels: channels, messages: messages, reactions: reactions, invites: invites, logger: logger}
}

// Register mounts the routes on the authenticated /chat group.
func (h *ChatHandler) Register(r gin.IRouter) {
	r.GET("/tracking_state", h.TrackingState)
	r.GET("/:channel_id/messages", h.ListMessages)
	r.POST("/:channel_id", h.CreateMessage)
	r.PUT("/:channel_id/edit/:message_id", h.EditMessage)
	r.DELETE("/:channel_id/:message_id", h.DeleteMessage)
	r.PUT("/:channel_id/restore/:message_id", h.RestoreMessage)
	r.PUT("/:channel_id/react/:message_id", h.React)
	r.PUT("/:channel_id/invite", h.Invite)
	r.PUT("/:channel_id/read/:message_id", h.UpdateReadCursor)
}

// loadChannel resolves the :channel_id route parameter and the current user.
func (h *ChatHandler) loadChannel(c *gin.Context) (models.User, models.Channel, bool) {
	return resolveChannel(c, h.channels, h.logger)
}

func resolveChannel(c *gin.Context, channels Channels, logger *slog.Logger) (models.User, models.Channel, bool) {
	user, ok := currentUser(c)
	if !ok {
		return models.User{}, models.Channel{}, false
	}
	channelID, ok := intParam(c, "channel_id")
	if !ok {
		return models.User{}, models.Channel{}, false
	}
	ch, err := channels.GetChannel(c.Request.Context(), channelID)
	if err != nil {
		respondError(c, logger, err)
		return models.User{}, models.Channel{}, false
	}
	return user, ch, true
}

// ListMessages returns one page of history.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	var q struct {
		TargetMessageID int    `form:"target_message_id" binding:"omitempty,gt=0"`
		Direction       string `form:"direction" binding:"omitempty,oneof=past future around"`
		PageSize        int    `form:"page_size" binding:"omitempty,gte=0"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	views, meta, err := h.messages.ListPage(c.Request.Context(), user, ch, services.PageParams{
		TargetMessageID: q.TargetMessageID,
		Direction:       models.Direction(q.Direction),
		PageSize:        q.PageSize,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_messages": views, "meta": meta})
}

// CreateMessage posts a message to the channel.
func (h *ChatHandler) CreateMessage(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	var req struct {
		Message     string `json:"message"`
		StagedID    string `json:"staged_id"`
		UploadIDs   []int  `json:"upload_ids"`
		InReplyToID *int   `json:"in_reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	view, err := h.messages.Create(c.Request.Context(), user, ch, services.CreateParams{
		Message:     req.Message,
		StagedID:    req.StagedID,
		UploadIDs:   req.UploadIDs,
		InReplyToID: req.InReplyToID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_message": view, "staged_id": req.StagedID})
}

// EditMessage replaces the content of a message.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		NewMessage string `json:"new_message"`
		UploadIDs  []int  `json:"upload_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	view, err := h.messages.Edit(c.Request.Context(), user, ch, messageID, req.NewMessage, req.UploadIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_message": view})
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), user, ch, messageID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "OK"})
}

func (h *ChatHandler) RestoreMessage(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}
	view, err := h.messages.Restore(c.Request.Context(), user, ch, messageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_message": view})
}

// React adds or removes an emoji reaction.
func (h *ChatHandler) React(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		ReactAction models.ReactAction `json:"react_action"`
		Emoji       string             `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	changed, err := h.reactions.React(c.Request.Context(), user, ch, messageID, services.ReactRequest{
		Emoji:  req.Emoji,
		Action: req.ReactAction,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "OK", "changed": changed})
}

// Invite sends chat invitations for the channel.
func (h *ChatHandler) Invite(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	var req struct {
		UserIDs       []int `json:"user_ids" binding:"required,min=1,dive,gt=0"`
		ChatMessageID int   `json:"chat_message_id" binding:"omitempty,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	invited, err := h.invites.Invite(c.Request.Context(), user, ch, req.UserIDs, req.ChatMessageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invited_user_ids": invited})
}

// UpdateReadCursor marks the channel read up to the message.
func (h *ChatHandler) UpdateReadCursor(c *gin.Context) {
	user, ch, ok := h.loadChannel(c)
	if !ok {
		return
	}
	messageID, ok := intParam(c, "message_id")
	if !ok {
		return
	}
	update, err := h.messages.UpdateReadCursor(c.Request.Context(), user, ch, messageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, update)
}

// TrackingState returns read state for every followed channel, keyed by
// channel id.
func (h *ChatHandler) TrackingState(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	state, err := h.messages.TrackingState(c.Request.Context(), user)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": state})
}
