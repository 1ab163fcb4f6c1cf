package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/ports"
)

// SQLiteRecorder 把成交与周期汇总写入 SQLite，供离线分析/看板读取。
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logrus.Entry
}

var _ ports.TradeRecorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder 打开（或创建）数据库并执行建表。
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL：写入时允许外部工具并发读
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: logrus.WithField("component", "recorder")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Infof("✅ sqlite recorder 已打开: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp           INTEGER NOT NULL,
			market_slug         TEXT NOT NULL,
			token_type          TEXT,
			side                TEXT,
			price               REAL,
			size                REAL,
			cost                REAL,
			predicted_direction TEXT,
			confidence          REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_slug ON trades(market_slug)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,

		`CREATE TABLE IF NOT EXISTS window_summaries (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			market_slug         TEXT NOT NULL UNIQUE,
			start_time          INTEGER NOT NULL,
			end_time            INTEGER NOT NULL,
			total_predictions   INTEGER,
			correct_predictions INTEGER,
			up_count            INTEGER,
			down_count          INTEGER,
			up_cost             REAL,
			down_cost           REAL,
			total_cost          REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_start ON window_summaries(start_time)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTrade(ctx context.Context, t *domain.RecordedTrade) error {
	if t == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades (timestamp, market_slug, token_type, side, price, size, cost, predicted_direction, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.At.Unix(), t.MarketSlug, string(t.TokenType), string(t.Side),
		t.Price, t.Size, t.Cost, t.PredictedDirection, t.Confidence)
	return err
}

func (r *SQLiteRecorder) RecordWindowSummary(ctx context.Context, s *domain.WindowSummary) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// 周期冻结理论上只发生一次，UPSERT 兜底重复写入
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO window_summaries
		   (market_slug, start_time, end_time, total_predictions, correct_predictions,
		    up_count, down_count, up_cost, down_cost, total_cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(market_slug) DO UPDATE SET
		   end_time=excluded.end_time,
		   total_predictions=excluded.total_predictions,
		   correct_predictions=excluded.correct_predictions,
		   up_count=excluded.up_count,
		   down_count=excluded.down_count,
		   up_cost=excluded.up_cost,
		   down_cost=excluded.down_cost,
		   total_cost=excluded.total_cost`,
		s.MarketSlug, s.StartTime.Unix(), s.EndTime.Unix(),
		s.TotalPredictions, s.CorrectPredictions,
		s.UpCount, s.DownCount, s.UpCost, s.DownCost, s.TotalCost)
	return err
}

func (r *SQLiteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}
