package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	xerrors "AgentFlow/internal/errors"
)

// MemoryStore 在内存中保存执行日志，进程退出即丢失，
// 适合测试与开发环境。
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]*Record
}

// NewMemoryStore 创建内存执行日志。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Record)}
}

// Append 追加一条执行记录。
func (s *MemoryStore) Append(_ context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(CodeRecordInvalid, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(CodeRecordInvalid, "记录 ID 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[record.ID]; exists {
		return xerrors.New(CodeRecordInvalid, "记录 ID 重复")
	}
	cloned := *record
	s.records = append(s.records, &cloned)
	s.byID[record.ID] = &cloned
	return nil
}

// Get 按 ID 查找记录。
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[id]
	if !ok {
		return nil, xerrors.New(CodeRecordNotFound, "记录不存在")
	}
	cloned := *record
	return &cloned, nil
}

// List 按过滤条件返回记录副本。
func (s *MemoryStore) List(_ context.Context, opts ...ListOption) ([]*Record, error) {
	options := buildListOptions(opts)

	s.mu.RLock()
	matched := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		if !options.matches(record) {
			continue
		}
		matched = append(matched, record)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if options.Order == SortByExecutedAsc {
			return matched[i].ExecutedAt < matched[j].ExecutedAt
		}
		return matched[i].ExecutedAt > matched[j].ExecutedAt
	})

	if options.Offset >= len(matched) {
		return []*Record{}, nil
	}
	matched = matched[options.Offset:]
	if len(matched) > options.Limit {
		matched = matched[:options.Limit]
	}

	result := make([]*Record, 0, len(matched))
	for _, record := range matched {
		cloned := *record
		result = append(result, &cloned)
	}
	return result, nil
}

// Stats 汇总统计信息。
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{ByStrategy: make(map[string]int)}
	for _, record := range s.records {
		stats.Total++
		if record.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		stats.ByStrategy[record.Strategy]++
		if stats.OldestCreatedAt == 0 || record.CreatedAt < stats.OldestCreatedAt {
			stats.OldestCreatedAt = record.CreatedAt
		}
		if record.CreatedAt > stats.NewestCreatedAt {
			stats.NewestCreatedAt = record.CreatedAt
		}
	}
	if stats.Total == 0 {
		stats.ByStrategy = nil
	}
	return stats, nil
}

// Close 实现 Store 接口，内存实现无资源可释放。
func (s *MemoryStore) Close() error {
	return nil
}

// matches 判断记录是否满足过滤条件。
func (opts ListOptions) matches(record *Record) bool {
	if record == nil {
		return false
	}
	if len(opts.Strategies) > 0 {
		found := false
		for _, strategy := range opts.Strategies {
			if record.Strategy == strategy {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.SuccessOnly != nil && record.Success != *opts.SuccessOnly {
		return false
	}
	if opts.ExecutedGTE > 0 && record.ExecutedAt < opts.ExecutedGTE {
		return false
	}
	if opts.ExecutedLTE > 0 && record.ExecutedAt > opts.ExecutedLTE {
		return false
	}
	return true
}
