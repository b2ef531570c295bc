package sheet

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// RateLimited keeps calls under the store's request ceiling. Every call waits
// for a token; a cancelled context aborts the wait.
type RateLimited struct {
	next    Store
	limiter *rate.Limiter
}

func NewRateLimited(next Store, rps float64, burst int) *RateLimited {
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) GetTable(ctx context.Context, table string) ([][]string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetTable(ctx, table)
}

func (r *RateLimited) GetCell(ctx context.Context, table string, row, col int) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.GetCell(ctx, table, row, col)
}

func (r *RateLimited) AppendRow(ctx context.Context, table string, values []string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.AppendRow(ctx, table, values)
}

func (r *RateLimited) UpdateCell(ctx context.Context, table string, row, col int, value string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.UpdateCell(ctx, table, row, col, value)
}

func (r *RateLimited) FindRow(ctx context.Context, table, value string) (int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return r.next.FindRow(ctx, table, value)
}

func (r *RateLimited) DeleteRow(ctx context.Context, table string, row int) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.DeleteRow(ctx, table, row)
}

// Instrumented records call counts, errors and latency per operation and table.
type Instrumented struct {
	next     Store
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewInstrumented(next Store, reg prometheus.Registerer) *Instrumented {
	in := &Instrumented{
		next: next,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_store_calls_total",
			Help: "Backing store calls by operation and table.",
		}, []string{"op", "table"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_store_errors_total",
			Help: "Failed backing store calls by operation and table.",
		}, []string{"op", "table"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_store_call_seconds",
			Help:    "Backing store call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(in.calls, in.errors, in.duration)
	}
	return in
}

func (in *Instrumented) observe(op, table string, start time.Time, err error) {
	in.calls.WithLabelValues(op, table).Inc()
	in.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		in.errors.WithLabelValues(op, table).Inc()
	}
}

func (in *Instrumented) GetTable(ctx context.Context, table string) ([][]string, error) {
	start := time.Now()
	rows, err := in.next.GetTable(ctx, table)
	in.observe("get_table", table, start, err)
	return rows, err
}

func (in *Instrumented) GetCell(ctx context.Context, table string, row, col int) (string, error) {
	start := time.Now()
	v, err := in.next.GetCell(ctx, table, row, col)
	in.observe("get_cell", table, start, err)
	return v, err
}

func (in *Instrumented) AppendRow(ctx context.Context, table string, values []string) error {
	start := time.Now()
	err := in.next.AppendRow(ctx, table, values)
	in.observe("append_row", table, start, err)
	return err
}

func (in *Instrumented) UpdateCell(ctx context.Context, table string, row, col int, value string) error {
	start := time.Now()
	err := in.next.UpdateCell(ctx, table, row, col, value)
	in.observe("update_cell", table, start, err)
	return err
}

func (in *Instrumented) FindRow(ctx context.Context, table, value string) (int, error) {
	start := time.Now()
	row, err := in.next.FindRow(ctx, table, value)
	in.observe("find_row", table, start, err)
	return row, err
}

func (in *Instrumented) DeleteRow(ctx context.Context, table string, row int) error {
	start := time.Now()
	err := in.next.DeleteRow(ctx, table, row)
	in.observe("delete_row", table, start, err)
	return err
}

var (
	_ Store = (*RateLimited)(nil)
	_ Store = (*Instrumented)(nil)
)
