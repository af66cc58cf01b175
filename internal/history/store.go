package history

import "context"

// Store 抽象了执行日志的持久化接口。
type Store interface {
	Append(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, opts ...ListOption) ([]*Record, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
