// Package sheet addresses the row-oriented backing store by table name and header.
package sheet

import (
	"context"
	"errors"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrOutOfRange    = errors.New("cell out of range")
)

// Store is the narrow interface to the remote tabular store. Row and column
// indexes are 1-based; row 1 is the header. There are no transactions: a
// multi-cell update is several independent UpdateCell calls.
type Store interface {
	GetTable(ctx context.Context, table string) ([][]string, error)
	GetCell(ctx context.Context, table string, row, col int) (string, error)
	AppendRow(ctx context.Context, table string, values []string) error
	UpdateCell(ctx context.Context, table string, row, col int, value string) error
	// FindRow returns the first row containing value in any cell, or 0.
	FindRow(ctx context.Context, table, value string) (int, error)
	DeleteRow(ctx context.Context, table string, row int) error
}

// Table names used by the application.
const (
	Users        = "users"
	Transactions = "transactions"
	StudyLog     = "study_log"
	Jobs         = "jobs"
	ShopItems    = "shop_items"
	ShopRequests = "shop_requests"
	Missions     = "missions"
)

// DefaultHeaders is the column layout written by `guardian seed` and used by
// the in-memory store when a table is created implicitly.
var DefaultHeaders = map[string][]string{
	Users:        {"user_id", "display_name", "current_exp", "total_study_time", "role", "inventory_json", "rank", "pin_hash"},
	Transactions: {"tx_id", "user_id", "amount", "tx_type", "related_id", "timestamp", "actor_name"},
	StudyLog:     {"user_id", "display_name", "date", "start_time", "end_time", "status", "subject", "duration_min", "rank_score", "comment", "concentration", "earned_exp"},
	Jobs:         {"job_id", "title", "reward", "status", "client_id", "worker_id", "deadline", "comment", "finished_at"},
	ShopItems:    {"item_key", "name", "cost", "description", "is_active"},
	ShopRequests: {"request_id", "user_id", "item_key", "cost", "status", "time", "comment"},
	Missions:     {"mission_id", "user_id", "title", "description", "reward", "status", "created_at", "completed_at"},
}
