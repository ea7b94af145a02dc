package repository

import (
	"JobNest/internal/model"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type ConversationRepo interface {
	GetOrCreate(ctx context.Context, peerKey string, participantIDs []uint64) (*model.Conversation, error)
	GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error)
	IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error)
	GetMemberIDs(ctx context.Context, convID uint64) ([]uint64, error)
	GetMemberIDsByConvIDs(ctx context.Context, convIDs []uint64) (map[uint64][]uint64, error)

	IncrMaxSeq(ctx context.Context, convID uint64, msgID string, lastMsg string, senderID uint64) (uint64, error)
	UpdateReadSeq(ctx context.Context, convID, userID, seq uint64) error

	GetUserConversationMemList(ctx context.Context, userID uint64) ([]*model.ConversationMember, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// GetOrCreate 按参与者集合查找或创建会话，整体原子：
// 并发创建同一 PeerKey 时，后到的事务撞唯一键，回读先到者创建的那条
func (s *conversationRepoImpl) GetOrCreate(ctx context.Context, peerKey string, participantIDs []uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	newConv := &model.Conversation{
		PeerKey:       peerKey,
		LastMessageAt: time.Now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(newConv).Error; err != nil {
			return err
		}
		for _, uid := range participantIDs {
			m := &model.ConversationMember{
				ConversationID: newConv.ID,
				UserID:         uid,
				JoinedAt:       time.Now(),
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return newConv, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing model.Conversation
		if err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return nil, err
}

// GetConversation 根据会话 ID 获取会话
func (s *conversationRepoImpl) GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, convID).Error
	return &conv, err
}

// IsMember 检查用户是否是会话成员
func (s *conversationRepoImpl) IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	return count > 0, err
}

// GetMemberIDs 获取会话全部参与者
func (s *conversationRepoImpl) GetMemberIDs(ctx context.Context, convID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ?", convID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// GetMemberIDsByConvIDs 批量获取参与者，按会话分组
func (s *conversationRepoImpl) GetMemberIDsByConvIDs(ctx context.Context, convIDs []uint64) (map[uint64][]uint64, error) {
	if len(convIDs) == 0 {
		return map[uint64][]uint64{}, nil
	}

	var members []*model.ConversationMember
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Select("conversation_id, user_id").
		Where("conversation_id IN ?", convIDs).
		Order("user_id").
		Find(&members).Error
	if err != nil {
		return nil, err
	}

	res := make(map[uint64][]uint64, len(convIDs))
	for _, m := range members {
		res[m.ConversationID] = append(res[m.ConversationID], m.UserID)
	}
	return res, nil
}

// IncrMaxSeq 核心定序逻辑：利用 MySQL 行锁确保 Seq 绝对递增，并同步刷新预览
func (s *conversationRepoImpl) IncrMaxSeq(ctx context.Context, convID uint64, msgID string, lastMsg string, senderID uint64) (uint64, error) {
	var maxSeq uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Updates(map[string]interface{}{
				"max_msg_seq":      gorm.Expr("max_msg_seq + 1"),
				"last_msg_id":      msgID,
				"last_msg_content": lastMsg,
				"last_sender_id":   senderID,
				"last_message_at":  time.Now(),
			}).Error
		if err != nil {
			return err
		}

		// 读取并返回自增后的最新 Seq
		return tx.Model(&model.Conversation{}).Select("max_msg_seq").Where("id = ?", convID).Scan(&maxSeq).Error
	})
	return maxSeq, err
}

// UpdateReadSeq 更新用户已读进度
func (s *conversationRepoImpl) UpdateReadSeq(ctx context.Context, convID, userID, seq uint64) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("read_msg_seq", seq).Error
}

// GetUserConversationMemList 联表查询，利用嵌套 Model 自动装配
func (s *conversationRepoImpl) GetUserConversationMemList(ctx context.Context, userID uint64) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	// 使用 Conversation__ 别名配合 GORM 的嵌套填充特性
	err := s.db.WithContext(ctx).Table("conversation_members m").
		Select("m.*, "+
			"c.id AS `Conversation__id`, "+
			"c.peer_key AS `Conversation__peer_key`, "+
			"c.max_msg_seq AS `Conversation__max_msg_seq`, "+
			"c.last_msg_id AS `Conversation__last_msg_id`, "+
			"c.last_msg_content AS `Conversation__last_msg_content`, "+
			"c.last_sender_id AS `Conversation__last_sender_id`, "+
			"c.last_message_at AS `Conversation__last_message_at`, "+
			"c.created_at AS `Conversation__created_at`, "+
			"(c.max_msg_seq - m.read_msg_seq) AS unread_count").
		Joins("JOIN conversations c ON m.conversation_id = c.id").
		Where("m.user_id = ?", userID).
		Order("c.last_message_at DESC").
		Find(&members).Error
	return members, err
}
