package service

import "context"

// Publisher 总线发布接口，生产环境为 Redis Publish，测试注入内存实现
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PublisherFunc 函数适配器
type PublisherFunc func(ctx context.Context, channel string, payload []byte) error

func (f PublisherFunc) Publish(ctx context.Context, channel string, payload []byte) error {
	return f(ctx, channel, payload)
}
