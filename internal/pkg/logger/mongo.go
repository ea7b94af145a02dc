package logger

import (
	"context"
	"fmt"
	log "log/slog"

	"go.mongodb.org/mongo-driver/event"
)

// NewMongoMonitor 返回命令监视器，只上报慢查询与失败
func NewMongoMonitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Succeeded: func(ctx context.Context, evt *event.CommandSucceededEvent) {
			if evt.Duration > slowThreshold {
				log.WarnContext(ctx, "MongoDB Slow",
					log.String("command", evt.CommandName),
					log.Duration("latency", evt.Duration),
					log.String("request_id", fmt.Sprintf("%d", evt.RequestID)),
				)
			}
		},
		Failed: func(ctx context.Context, evt *event.CommandFailedEvent) {
			log.ErrorContext(ctx, "MongoDB Failed",
				log.String("command", evt.CommandName),
				log.Duration("latency", evt.Duration),
				log.String("request_id", fmt.Sprintf("%d", evt.RequestID)),
				log.String("failure", evt.Failure),
			)
		},
	}
}
