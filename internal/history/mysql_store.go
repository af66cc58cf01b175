package history

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "AgentFlow/internal/errors"
)

// MySQLStore 使用 MySQL 持久化执行日志。
type MySQLStore struct {
	db *sql.DB
}

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewMySQLStore 创建一个新的 MySQLStore 并初始化表结构。
func NewMySQLStore(cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 10 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Append 插入新的执行记录。
func (s *MySQLStore) Append(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(CodeRecordInvalid, "record 不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(CodeRecordInvalid, "记录 ID 不能为空")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO execution_records
        (id, decision_id, strategy, action, from_chain, to_chain, from_token, to_token,
         amount, reason, confidence, priority, success, tx_hash, last_error, gas_used,
         executed_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.DecisionID,
		record.Strategy,
		record.Action,
		record.FromChain,
		record.ToChain,
		record.FromToken,
		record.ToToken,
		record.Amount,
		record.Reason,
		record.Confidence,
		record.Priority,
		record.Success,
		record.TxHash,
		record.Error,
		record.GasUsed,
		record.ExecutedAt,
		record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行记录失败")
	}
	return nil
}

// Get 按 ID 查找记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	const stmt = `SELECT id, decision_id, strategy, action, from_chain, to_chain,
        from_token, to_token, amount, reason, confidence, priority, success,
        tx_hash, last_error, gas_used, executed_at, created_at
        FROM execution_records WHERE id = ?`

	record, err := scanRecord(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(CodeRecordNotFound, "记录不存在")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	return record, nil
}

// List 按过滤条件查询记录。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	options := buildListOptions(opts)

	var (
		conditions []string
		args       []any
	)
	if len(options.Strategies) > 0 {
		placeholders := make([]string, len(options.Strategies))
		for i, strategy := range options.Strategies {
			placeholders[i] = "?"
			args = append(args, strategy)
		}
		conditions = append(conditions, fmt.Sprintf("strategy IN (%s)", strings.Join(placeholders, ",")))
	}
	if options.SuccessOnly != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *options.SuccessOnly)
	}
	if options.ExecutedGTE > 0 {
		conditions = append(conditions, "executed_at >= ?")
		args = append(args, options.ExecutedGTE)
	}
	if options.ExecutedLTE > 0 {
		conditions = append(conditions, "executed_at <= ?")
		args = append(args, options.ExecutedLTE)
	}

	query := `SELECT id, decision_id, strategy, action, from_chain, to_chain,
        from_token, to_token, amount, reason, confidence, priority, success,
        tx_hash, last_error, gas_used, executed_at, created_at
        FROM execution_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if options.Order == SortByExecutedAsc {
		query += " ORDER BY executed_at ASC"
	} else {
		query += " ORDER BY executed_at DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, options.Limit, options.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录失败")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行记录失败")
	}
	return records, nil
}

// Stats 汇总统计信息。
func (s *MySQLStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{}

	const summary = `SELECT COUNT(*),
        COALESCE(SUM(success = 1), 0),
        COALESCE(SUM(success = 0), 0),
        COALESCE(MIN(created_at), 0),
        COALESCE(MAX(created_at), 0)
        FROM execution_records`
	if err := s.db.QueryRowContext(ctx, summary).Scan(
		&stats.Total, &stats.Succeeded, &stats.Failed,
		&stats.OldestCreatedAt, &stats.NewestCreatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计执行记录失败")
	}
	if stats.Total == 0 {
		return stats, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, COUNT(*) FROM execution_records GROUP BY strategy`)
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "按策略统计失败")
	}
	defer rows.Close()

	stats.ByStrategy = make(map[string]int)
	for rows.Next() {
		var (
			strategy string
			count    int
		)
		if err := rows.Scan(&strategy, &count); err != nil {
			return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析策略统计失败")
		}
		stats.ByStrategy[strategy] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历策略统计失败")
	}
	return stats, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rowScanner 同时匹配 *sql.Row 与 *sql.Rows。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	if err := row.Scan(
		&record.ID,
		&record.DecisionID,
		&record.Strategy,
		&record.Action,
		&record.FromChain,
		&record.ToChain,
		&record.FromToken,
		&record.ToToken,
		&record.Amount,
		&record.Reason,
		&record.Confidence,
		&record.Priority,
		&record.Success,
		&record.TxHash,
		&record.Error,
		&record.GasUsed,
		&record.ExecutedAt,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}
