package job

import (
	"JobNest/internal/api/config"
	"JobNest/internal/pkg/mongo"
	"context"
	log "log/slog"
	"time"
)

// NotifyCleanupJob 清理过期的已读通知，收件箱只保留近期记录
type NotifyCleanupJob struct {
	notifyRepo mongo.NotifyRepo
}

func NewNotifyCleanupJob(notifyRepo mongo.NotifyRepo) *NotifyCleanupJob {
	return &NotifyCleanupJob{notifyRepo: notifyRepo}
}

func (s *NotifyCleanupJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log.Info("start notify cleanup job")

	retention := config.Cfg.Notify.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	deadline := time.Now().AddDate(0, 0, -retention)

	deleted, err := s.notifyRepo.DeleteReadBefore(ctx, deadline)
	if err != nil {
		log.Error("failed to purge read notifications", "err", err)
		return
	}
	if deleted > 0 {
		log.Info("notify cleanup job finished", "deleted_count", deleted)
	}
}
