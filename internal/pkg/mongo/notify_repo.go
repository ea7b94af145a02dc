package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type NotifyRepo interface {
	CreateNotify(ctx context.Context, n *NotifyModel) error
	GetNotifyList(ctx context.Context, userID uint64, limit, offset int64) ([]*NotifyModel, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*NotifyModel, error)
	MarkAsRead(ctx context.Context, userID uint64, notifyID string) error
	MarkAllAsRead(ctx context.Context, userID uint64) error
	GetUnreadCount(ctx context.Context, userID uint64) (int64, error)
	DeleteReadBefore(ctx context.Context, deadline time.Time) (int64, error)
}

type notifyRepoImpl struct {
	col *mongo.Collection
}

func NewNotifyRepo(db *mongo.Database) NotifyRepo {
	return &notifyRepoImpl{
		col: db.Collection("notify_box"),
	}
}

// CreateNotify 插入新通知
func (s *notifyRepoImpl) CreateNotify(ctx context.Context, n *NotifyModel) error {
	_, err := s.col.InsertOne(ctx, n)
	return err
}

// GetNotifyList 分页获取用户的通知列表 (按时间倒序)
func (s *notifyRepoImpl) GetNotifyList(ctx context.Context, userID uint64, limit, offset int64) ([]*NotifyModel, error) {
	filter := bson.M{"recipient_id": userID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var list []*NotifyModel
	if err = cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetByID 根据 ID 获取通知
func (s *notifyRepoImpl) GetByID(ctx context.Context, id primitive.ObjectID) (*NotifyModel, error) {
	var n NotifyModel
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkAsRead 标记单条通知为已读，记录已读时间
func (s *notifyRepoImpl) MarkAsRead(ctx context.Context, userID uint64, notifyID string) error {
	objectID, err := primitive.ObjectIDFromHex(notifyID)
	if err != nil {
		return mongo.ErrInvalidIndexValue
	}
	filter := bson.M{"_id": objectID, "recipient_id": userID}
	update := bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}}
	result, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// MarkAllAsRead 一键清除未读
func (s *notifyRepoImpl) MarkAllAsRead(ctx context.Context, userID uint64) error {
	filter := bson.M{"recipient_id": userID, "is_read": false}
	update := bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}}
	_, err := s.col.UpdateMany(ctx, filter, update)
	return err
}

// GetUnreadCount 获取用户的未读通知总数
func (s *notifyRepoImpl) GetUnreadCount(ctx context.Context, userID uint64) (int64, error) {
	filter := bson.M{"recipient_id": userID, "is_read": false}
	return s.col.CountDocuments(ctx, filter)
}

// DeleteReadBefore 清理早于 deadline 的已读通知，返回删除条数
func (s *notifyRepoImpl) DeleteReadBefore(ctx context.Context, deadline time.Time) (int64, error) {
	filter := bson.M{"is_read": true, "created_at": bson.M{"$lt": deadline}}
	res, err := s.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
