package service

import (
	"JobNest/internal/api/dto"
	"JobNest/internal/hub"
	"JobNest/internal/model"
	"JobNest/internal/pkg/consts"
	"JobNest/internal/pkg/mongo"
	"JobNest/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

// IMService 即时通讯服务接口定义
type IMService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	GetOrCreateConversation(ctx context.Context, creatorID uint64, participantIDs []uint64) (*dto.ConversationDTO, error)
	GetChatHistory(ctx context.Context, userID uint64, convID uint64, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error)
	SyncMessages(ctx context.Context, userID uint64, convID uint64, afterSeq uint64, pageSize int) ([]*dto.MessageDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	MarkAsRead(ctx context.Context, userID uint64, convID uint64, seq uint64) error
}

type imServiceImpl struct {
	convRepo    repository.ConversationRepo
	messageRepo mongo.MessageRepo
	publisher   Publisher
}

func NewIMService(convRepo repository.ConversationRepo, messageRepo mongo.MessageRepo, publisher Publisher) IMService {
	return &imServiceImpl{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		publisher:   publisher,
	}
}

// SendMessage 发送消息：定序 → 落库 → 广播，三步顺序不可调换
// 落库失败时不广播，对端永远不会看到历史里查不到的"幽灵消息"
func (s *imServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	convID := req.ConversationID

	if convID == 0 {
		conv, err := s.GetOrCreateConversation(ctx, senderID, req.ParticipantIDs)
		if err != nil {
			return nil, err
		}
		convID = conv.ConversationID
	} else {
		isMember, err := s.convRepo.IsMember(ctx, convID, senderID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, UnauthorizedError
		}
	}

	// 消息 ID 由服务端生成，先于定序，保证广播与落库引用同一个 ID
	msgID := primitive.NewObjectID().Hex()

	// MySQL 原子定序，行锁保证会话内 Seq 绝对递增
	newSeq, err := s.convRepo.IncrMaxSeq(ctx, convID, msgID, req.Content, senderID)
	if err != nil {
		return nil, err
	}

	msgModel := &mongo.Message{
		ID:             msgID,
		ConversationID: convID,
		SenderID:       senderID,
		Content:        req.Content,
		Payload:        req.Payload,
		Seq:            newSeq,
		CreatedAt:      time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.messageRepo.SaveMessage(writeCtx, msgModel); err != nil {
		log.Error("消息落库失败", "conversationID", convID, "senderID", senderID, "err", err)
		return nil, ErrMessageSave
	}

	msgDTO := s.toMessageDTO(msgModel)
	if err := s.publishToRoom(ctx, convID, msgDTO); err != nil {
		// 广播失败不回滚：消息已持久化，离线路径（REST 对账）仍然可达
		log.Error("消息广播失败", "conversationID", convID, "err", err)
	}

	return msgDTO, nil
}

// GetOrCreateConversation 按参与者集合查找或创建会话，原子幂等
func (s *imServiceImpl) GetOrCreateConversation(ctx context.Context, creatorID uint64, participantIDs []uint64) (*dto.ConversationDTO, error) {
	ids := normalizeParticipants(creatorID, participantIDs)
	if len(ids) < 2 {
		return nil, ErrConvParticipants
	}

	conv, err := s.convRepo.GetOrCreate(ctx, buildPeerKey(ids), ids)
	if err != nil {
		return nil, err
	}

	return &dto.ConversationDTO{
		ConversationID: conv.ID,
		ParticipantIDs: ids,
		LastMessage:    lastMessageOf(conv),
		CreatedAt:      conv.CreatedAt,
	}, nil
}

// GetChatHistory 拉取历史，包含预览空洞自愈
func (s *imServiceImpl) GetChatHistory(ctx context.Context, userID uint64, convID uint64, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return nil, UnauthorizedError
	}
	// 0 会被 mongo 当作不限量，这里统一夹在合法区间内
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	models, err := s.messageRepo.GetHistory(ctx, convID, lastSeq, pageSize)
	if err != nil {
		return nil, err
	}

	if lastSeq == 0 {
		conv, err := s.convRepo.GetConversation(ctx, convID)
		if err == nil {
			// Mongo 最新页落后于 MySQL 水位时，用预览字段补一条占位
			hasGap := (len(models) == 0 && conv.MaxMsgSeq > 0) ||
				(len(models) > 0 && models[0].Seq < conv.MaxMsgSeq)
			if hasGap {
				stub := &dto.MessageDTO{
					ID:             conv.LastMsgID,
					ConversationID: conv.ID,
					SenderID:       conv.LastSenderID,
					Content:        conv.LastMsgContent,
					Seq:            conv.MaxMsgSeq,
					CreatedAt:      conv.LastMessageAt,
				}
				res := []*dto.MessageDTO{stub}
				for _, m := range models {
					res = append(res, s.toMessageDTO(m))
				}
				return res, nil
			}
		}
	}

	res := make([]*dto.MessageDTO, 0, len(models))
	for _, m := range models {
		res = append(res, s.toMessageDTO(m))
	}
	return res, nil
}

// SyncMessages 增量同步，断线重连后的补偿拉取
func (s *imServiceImpl) SyncMessages(ctx context.Context, userID uint64, convID uint64, afterSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return nil, UnauthorizedError
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 100
	}

	models, err := s.messageRepo.SyncMessages(ctx, convID, afterSeq, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]*dto.MessageDTO, 0, len(models))
	for _, m := range models {
		res = append(res, s.toMessageDTO(m))
	}
	return res, nil
}

// GetConversationList 获取会话列表（侧边栏对账源）
func (s *imServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	members, err := s.convRepo.GetUserConversationMemList(ctx, userID)
	if err != nil {
		return nil, err
	}

	convIDs := make([]uint64, 0, len(members))
	for _, m := range members {
		convIDs = append(convIDs, m.ConversationID)
	}
	participants, err := s.convRepo.GetMemberIDsByConvIDs(ctx, convIDs)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ConversationDTO, 0, len(members))
	for _, m := range members {
		res = append(res, &dto.ConversationDTO{
			ConversationID: m.ConversationID,
			ParticipantIDs: participants[m.ConversationID],
			LastMessage:    lastMessageOf(&m.Conversation),
			UnreadCount:    m.UnreadCount,
			CreatedAt:      m.Conversation.CreatedAt,
		})
	}
	return res, nil
}

// MarkAsRead 标记已读并向其他参与者推送回执
func (s *imServiceImpl) MarkAsRead(ctx context.Context, userID uint64, convID uint64, seq uint64) error {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return UnauthorizedError
	}

	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConvNotFound
		}
		return err
	}

	targetSeq := seq
	if targetSeq > conv.MaxMsgSeq {
		targetSeq = conv.MaxMsgSeq
	}

	if err = s.convRepo.UpdateReadSeq(ctx, convID, userID, targetSeq); err != nil {
		return err
	}

	go s.publishReadReceipt(convID, userID, targetSeq)

	return nil
}

// publishToRoom 向会话房间频道广播 newMessage
func (s *imServiceImpl) publishToRoom(ctx context.Context, convID uint64, msg *dto.MessageDTO) error {
	payload, err := hub.NewEnvelope(hub.EventNewMessage, msg)
	if err != nil {
		return err
	}
	channel := consts.IMRoomKey + strconv.FormatUint(convID, 10)
	return s.publisher.Publish(ctx, channel, payload)
}

// publishReadReceipt 向其他参与者的个人频道推送已读回执
func (s *imServiceImpl) publishReadReceipt(convID, fromUID, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	memberIDs, err := s.convRepo.GetMemberIDs(ctx, convID)
	if err != nil {
		log.Error("已读回执查询成员失败", "conversationID", convID, "err", err)
		return
	}

	payload, err := hub.NewEnvelope(hub.EventReadReceipt, &dto.ReadReceiptDTO{
		ConversationID: convID,
		UserID:         fromUID,
		ReadSeq:        seq,
	})
	if err != nil {
		return
	}

	for _, uid := range memberIDs {
		if uid == fromUID {
			continue
		}
		channel := consts.IMUserKey + strconv.FormatUint(uid, 10)
		if err := s.publisher.Publish(ctx, channel, payload); err != nil {
			log.Error("已读回执推送失败", "toUserID", uid, "err", err)
		}
	}
}

func (s *imServiceImpl) toMessageDTO(m *mongo.Message) *dto.MessageDTO {
	return &dto.MessageDTO{
		ID: m.ID, ConversationID: m.ConversationID, SenderID: m.SenderID,
		Content: m.Content, Payload: m.Payload,
		Seq: m.Seq, CreatedAt: m.CreatedAt,
	}
}

// normalizeParticipants 去重并排序，发起者总在集合内
func normalizeParticipants(creatorID uint64, ids []uint64) []uint64 {
	seen := map[uint64]struct{}{creatorID: {}}
	res := []uint64{creatorID}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// buildPeerKey 参与者集合的唯一标识，如 "3_17"
func buildPeerKey(sortedIDs []uint64) string {
	parts := make([]string, 0, len(sortedIDs))
	for _, id := range sortedIDs {
		parts = append(parts, strconv.FormatUint(id, 10))
	}
	return strings.Join(parts, "_")
}

func lastMessageOf(conv *model.Conversation) *dto.MessageDTO {
	if conv.MaxMsgSeq == 0 {
		return nil
	}
	return &dto.MessageDTO{
		ID:             conv.LastMsgID,
		ConversationID: conv.ID,
		SenderID:       conv.LastSenderID,
		Content:        conv.LastMsgContent,
		Seq:            conv.MaxMsgSeq,
		CreatedAt:      conv.LastMessageAt,
	}
}
