package service

import (
	"JobNest/internal/pkg/cache"
	"JobNest/internal/repository"
	"context"
	"fmt"
	"time"
)

// MembershipCache 带缓存的成员关系校验
// 会话成员集合创建后不再变动，短 TTL 只为兜底，join 风暴不会打穿 MySQL
type MembershipCache struct {
	repo  repository.ConversationRepo
	cache *cache.Cache[bool]
}

func NewMembershipCache(repo repository.ConversationRepo) *MembershipCache {
	return &MembershipCache{
		repo:  repo,
		cache: cache.New[bool](4096, time.Minute),
	}
}

func (m *MembershipCache) IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error) {
	key := fmt.Sprintf("%d:%d", convID, userID)
	return m.cache.Fetch(ctx, key, func(ctx context.Context) (bool, error) {
		return m.repo.IsMember(ctx, convID, userID)
	})
}
