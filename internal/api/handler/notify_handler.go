package handler

import (
	"JobNest/internal/api/dto"
	"JobNest/internal/pkg/response"
	"JobNest/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type NotifyHandler struct {
	notifyService service.NotifyService
}

func NewNotifyHandler(s service.NotifyService) *NotifyHandler {
	return &NotifyHandler{
		notifyService: s,
	}
}

// Create 创建并分发一条通知（内部业务侧调用）
func (h *NotifyHandler) Create(c *gin.Context) {
	var req dto.CreateNotifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.notifyService.Send(c.Request.Context(), &req); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// GetNotificationList 获取通知列表
func (h *NotifyHandler) GetNotificationList(c *gin.Context) {
	page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	pageSize, _ := strconv.ParseInt(c.DefaultQuery("page_size", "20"), 10, 64)
	userID := c.GetUint64("user_id")

	list, err := h.notifyService.GetNotifyList(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, list)
}

// GetUnreadCount 获取未读数
func (h *NotifyHandler) GetUnreadCount(c *gin.Context) {
	userID := c.GetUint64("user_id")

	unread, err := h.notifyService.GetUnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, &dto.NotifyUnreadDTO{UnreadCount: unread})
}

// MarkRead 标记单条已读
func (h *NotifyHandler) MarkRead(c *gin.Context) {
	var req struct {
		NotifyID string `json:"notify_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("user_id")
	if err := h.notifyService.MarkRead(c.Request.Context(), userID, req.NotifyID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// MarkAllRead 一键已读
func (h *NotifyHandler) MarkAllRead(c *gin.Context) {
	userID := c.GetUint64("user_id")
	if err := h.notifyService.MarkAllRead(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}
