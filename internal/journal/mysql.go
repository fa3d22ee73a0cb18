package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "TradeFleet-Chain/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化订单流水。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 通过 DSN 创建 MySQL 流水。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS order_records (
        id VARCHAR(64) PRIMARY KEY,
        agent_name VARCHAR(128) NOT NULL,
        market_id VARCHAR(128) NOT NULL,
        side VARCHAR(8) NOT NULL,
        price DOUBLE NOT NULL,
        quantity DOUBLE NOT NULL,
        tx_hash VARCHAR(66) DEFAULT '',
        opportunity_id VARCHAR(64) DEFAULT '',
        edge DOUBLE NOT NULL DEFAULT 0,
        confidence DOUBLE NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_order_agent (agent_name, created_at),
        INDEX idx_order_status (agent_name, status)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 order_records 表失败")
	}
	return nil
}

// Append 插入新的订单记录。
func (s *MySQLStore) Append(ctx context.Context, record *OrderRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	if record.Status == "" {
		record.Status = StatusSubmitted
	}

	const stmt = `INSERT INTO order_records
        (id, agent_name, market_id, side, price, quantity, tx_hash, opportunity_id, edge, confidence, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.AgentName,
		record.MarketID,
		record.Side,
		record.Price,
		record.Quantity,
		record.TxHash,
		record.OpportunityID,
		record.Edge,
		record.Confidence,
		record.Status,
		record.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRecordConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入订单记录失败")
	}
	return nil
}

// Get 查询指定订单记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*OrderRecord, error) {
	const stmt = `SELECT id, agent_name, market_id, side, price, quantity, tx_hash, opportunity_id, edge, confidence, status, created_at
        FROM order_records WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)

	var record OrderRecord
	if err := row.Scan(
		&record.ID,
		&record.AgentName,
		&record.MarketID,
		&record.Side,
		&record.Price,
		&record.Quantity,
		&record.TxHash,
		&record.OpportunityID,
		&record.Edge,
		&record.Confidence,
		&record.Status,
		&record.CreatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单记录失败")
	}
	return &record, nil
}

// ListRecent 返回指定 agent 最近的订单记录。
func (s *MySQLStore) ListRecent(ctx context.Context, agentName string, limit int) ([]*OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, agent_name, market_id, side, price, quantity, tx_hash, opportunity_id, edge, confidence, status, created_at
        FROM order_records`
	args := make([]any, 0, 2)
	if agentName != "" {
		query += " WHERE agent_name = ?"
		args = append(args, agentName)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单列表失败")
	}
	defer rows.Close()

	records := make([]*OrderRecord, 0, limit)
	for rows.Next() {
		var record OrderRecord
		if err := rows.Scan(
			&record.ID,
			&record.AgentName,
			&record.MarketID,
			&record.Side,
			&record.Price,
			&record.Quantity,
			&record.TxHash,
			&record.OpportunityID,
			&record.Edge,
			&record.Confidence,
			&record.Status,
			&record.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订单记录失败")
		}
		recordCopy := record
		records = append(records, &recordCopy)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订单记录失败")
	}
	return records, nil
}

// CountSince 统计指定 agent 自 since 以来的订单数。
func (s *MySQLStore) CountSince(ctx context.Context, agentName string, since int64) (int, error) {
	const stmt = `SELECT COUNT(*) FROM order_records WHERE agent_name = ? AND created_at >= ?`

	var count int
	if err := s.db.QueryRowContext(ctx, stmt, agentName, since).Scan(&count); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计订单数量失败")
	}
	return count, nil
}

// CountActive 统计指定 agent 的未完结订单数。
func (s *MySQLStore) CountActive(ctx context.Context, agentName string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM order_records WHERE agent_name = ? AND status = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, stmt, agentName, StatusSubmitted).Scan(&count); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计活跃订单失败")
	}
	return count, nil
}

// UpdateStatus 更新订单状态。
func (s *MySQLStore) UpdateStatus(ctx context.Context, id, status string) error {
	const stmt = `UPDATE order_records SET status = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, status, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新订单状态失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
