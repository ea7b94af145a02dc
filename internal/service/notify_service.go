package service

import (
	"JobNest/internal/api/dto"
	"JobNest/internal/hub"
	"JobNest/internal/pkg/consts"
	"JobNest/internal/pkg/mongo"
	"context"
	"errors"
	log "log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
)

// NotifyService 业务通知分发：落库（至少一次）+ 在线推送
type NotifyService interface {
	Send(ctx context.Context, req *dto.CreateNotifyReq) error
	GetNotifyList(ctx context.Context, userID uint64, page, pageSize int64) ([]*dto.NotifyDTO, error)
	GetUnreadCount(ctx context.Context, userID uint64) (int64, error)
	MarkRead(ctx context.Context, userID uint64, notifyID string) error
	MarkAllRead(ctx context.Context, userID uint64) error
	Close()
}

type notifyServiceImpl struct {
	notifyRepo mongo.NotifyRepo
	publisher  Publisher

	retryChan    chan *mongo.NotifyModel
	retryBackoff time.Duration
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

func NewNotifyService(notifyRepo mongo.NotifyRepo, publisher Publisher, retryWorkers int) NotifyService {
	if retryWorkers <= 0 {
		retryWorkers = 2
	}
	s := &notifyServiceImpl{
		notifyRepo:   notifyRepo,
		publisher:    publisher,
		retryChan:    make(chan *mongo.NotifyModel, 256),
		retryBackoff: time.Second,
	}
	for i := 0; i < retryWorkers; i++ {
		s.wg.Add(1)
		go s.retryWorker()
	}
	return s
}

// Send 先落库再推送；落库失败转入重试队列，推送照常进行
// 收件箱是轮询兜底，重试保证最终可查，在线推送只是加速
// 重试队列也满时返回错误，让上游消费者重投，不吞掉落库失败
func (s *notifyServiceImpl) Send(ctx context.Context, req *dto.CreateNotifyReq) error {
	if req.RecipientID == 0 || req.Type == "" {
		return ErrParamInvalid
	}

	model := &mongo.NotifyModel{
		ID:          primitive.NewObjectID(),
		RecipientID: req.RecipientID,
		SenderID:    req.SenderID,
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		Payload:     req.Payload,
		CreatedAt:   time.Now(),
	}

	if err := s.notifyRepo.CreateNotify(ctx, model); err != nil {
		log.Error("通知落库失败，进入重试队列", "recipientID", model.RecipientID, "type", model.Type, "err", err)
		select {
		case s.retryChan <- model:
		default:
			log.Error("通知重试队列已满，等待重投", "recipientID", model.RecipientID, "notifyID", model.ID.Hex())
			return err
		}
	}

	s.pushToUser(ctx, model)
	return nil
}

func (s *notifyServiceImpl) GetNotifyList(ctx context.Context, userID uint64, page, pageSize int64) ([]*dto.NotifyDTO, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	models, err := s.notifyRepo.GetNotifyList(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.NotifyDTO, 0, len(models))
	for _, m := range models {
		res = append(res, toNotifyDTO(m))
	}
	return res, nil
}

func (s *notifyServiceImpl) GetUnreadCount(ctx context.Context, userID uint64) (int64, error) {
	return s.notifyRepo.GetUnreadCount(ctx, userID)
}

// MarkRead 标记单条已读，带归属校验；重复标记为空操作
func (s *notifyServiceImpl) MarkRead(ctx context.Context, userID uint64, notifyID string) error {
	objectID, err := primitive.ObjectIDFromHex(notifyID)
	if err != nil {
		return ErrParamInvalid
	}

	n, err := s.notifyRepo.GetByID(ctx, objectID)
	if err != nil {
		if errors.Is(err, mongodrv.ErrNoDocuments) {
			return ErrNotifyNotFound
		}
		return err
	}
	if n.RecipientID != userID {
		return UnauthorizedError
	}
	if n.IsRead {
		return nil
	}

	return s.notifyRepo.MarkAsRead(ctx, userID, notifyID)
}

func (s *notifyServiceImpl) MarkAllRead(ctx context.Context, userID uint64) error {
	return s.notifyRepo.MarkAllAsRead(ctx, userID)
}

// Close 关闭重试队列并等待在途重试完成
func (s *notifyServiceImpl) Close() {
	s.closeOnce.Do(func() {
		close(s.retryChan)
	})
	s.wg.Wait()
}

// pushToUser 向收件人的个人频道推送 notification 事件
func (s *notifyServiceImpl) pushToUser(ctx context.Context, model *mongo.NotifyModel) {
	payload, err := hub.NewEnvelope(hub.EventNotification, toNotifyDTO(model))
	if err != nil {
		return
	}
	channel := consts.IMUserKey + strconv.FormatUint(model.RecipientID, 10)
	if err := s.publisher.Publish(ctx, channel, payload); err != nil {
		log.Warn("通知在线推送失败", "recipientID", model.RecipientID, "err", err)
	}
}

// retryWorker 落库重试协程：最多 3 次，间隔翻倍
func (s *notifyServiceImpl) retryWorker() {
	defer s.wg.Done()
	for model := range s.retryChan {
		backoff := s.retryBackoff
		var err error
		for attempt := 1; attempt <= 3; attempt++ {
			time.Sleep(backoff)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err = s.notifyRepo.CreateNotify(ctx, model)
			cancel()
			if err == nil {
				log.Info("通知重试落库成功", "notifyID", model.ID.Hex(), "attempt", attempt)
				break
			}
			backoff *= 2
		}
		if err != nil {
			log.Error("通知重试耗尽，放弃", "notifyID", model.ID.Hex(), "recipientID", model.RecipientID, "err", err)
		}
	}
}

func toNotifyDTO(m *mongo.NotifyModel) *dto.NotifyDTO {
	var d dto.NotifyDTO
	_ = copier.Copy(&d, m)
	d.ID = m.ID.Hex()
	d.CreatedAt = m.CreatedAt.Format(time.RFC3339)
	if m.ReadAt != nil {
		d.ReadAt = m.ReadAt.Format(time.RFC3339)
	}
	return &d
}
