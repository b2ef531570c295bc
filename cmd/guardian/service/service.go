package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrNotFound          = errors.New("не найдено")
	ErrInvalidTransition = errors.New("недопустимый переход состояния")
	ErrBackingStore      = errors.New("ошибка хранилища")
	ErrInsufficientFunds = errors.New("недостаточно средств")
	ErrForbidden         = errors.New("недостаточно прав")
	ErrNotOwner          = errors.New("не является исполнителем")
	ErrSessionActive     = errors.New("занятие уже начато")
	ErrInvalidInput      = errors.New("неверный формат запроса")
	ErrInvalidPin        = errors.New("неверная пара пользователь/PIN")
	ErrLedgerDiverged    = errors.New("журнал записан, баланс не обновлён")
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05"
	stampLayout = dateLayout + " " + clockLayout

	placeholder = "???"
)

// Clock supplies the current time in the zone rows are written in.
type Clock struct {
	Now func() time.Time
	Loc *time.Location
}

func NewClock(loc *time.Location) Clock {
	return Clock{Now: time.Now, Loc: loc}
}

func (c Clock) now() time.Time {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	loc := c.Loc
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

func (c Clock) location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

func (c Clock) stamp() string { return c.now().Format(stampLayout) }

type Metrics struct {
	LedgerWrites *prometheus.CounterVec
	Diverged     prometheus.Counter
	SweepClosed  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_ledger_writes_total",
			Help: "Journal rows written by kind.",
		}, []string{"kind"}),
		Diverged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_ledger_diverged_total",
			Help: "Journal rows whose balance update failed.",
		}),
		SweepClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardian_study_sweep_closed_total",
			Help: "Study sessions force-closed by the timeout sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.LedgerWrites, m.Diverged, m.SweepClosed)
	}
	return m
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBackingStore, err)
}

func openTable(ctx context.Context, store sheet.Store, name string) (*sheet.Table, error) {
	t, err := sheet.Open(ctx, store, name)
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

func rowAt(t *sheet.Table, index int) (sheet.Row, bool) {
	for _, r := range t.Rows() {
		if r.Index == index {
			return r, true
		}
	}
	return sheet.Row{}, false
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func orPlaceholder(v string) string {
	if v == "" {
		return placeholder
	}
	return v
}
