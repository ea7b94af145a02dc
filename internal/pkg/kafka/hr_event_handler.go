package kafka

import (
	"JobNest/internal/api/dto"
	"JobNest/internal/service"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// HrEvent 招聘业务事件（投递审批、面试邀约等），由业务侧写入 Kafka
type HrEvent struct {
	EventType   string         `json:"event_type"` // application.approved / application.rejected / interview.invited ...
	RecipientID uint64         `json:"recipient_id"`
	OperatorID  uint64         `json:"operator_id"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload"`
}

// HrEventHandler 消费招聘事件并转成站内通知
type HrEventHandler struct {
	notifyService service.NotifyService
}

func NewHrEventHandler(notifyService service.NotifyService) *HrEventHandler {
	return &HrEventHandler{notifyService: notifyService}
}

func (h *HrEventHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *HrEventHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *HrEventHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	return pullMessageBatch(session, claim, h.handle)
}

func (h *HrEventHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt HrEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		// 脏消息不可恢复，记日志后跳过，避免重试死循环
		log.Error("unmarshal hr event error", "offset", msg.Offset, "err", err)
		return nil
	}
	if evt.RecipientID == 0 || evt.EventType == "" {
		log.Warn("hr event missing recipient or type", "offset", msg.Offset)
		return nil
	}

	return h.notifyService.Send(ctx, &dto.CreateNotifyReq{
		RecipientID: evt.RecipientID,
		SenderID:    evt.OperatorID,
		Type:        evt.EventType,
		Title:       evt.Title,
		Message:     evt.Message,
		Payload:     evt.Payload,
	})
}
