package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger moves points. Every movement is journaled before the balance cell
// changes; a failed balance write leaves the two apart until reconciled.
type Ledger struct {
	store   sheet.Store
	clock   Clock
	metrics *Metrics
	logger  *zap.Logger
}

func NewLedger(store sheet.Store, clock Clock, metrics *Metrics, logger *zap.Logger) *Ledger {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Ledger{store: store, clock: clock, metrics: metrics, logger: logger}
}

type ReconcileReport struct {
	AccountID  string `json:"user_id"`
	Balance    int64  `json:"balance"`
	JournalSum int64  `json:"journal_sum"`
	Drift      int64  `json:"drift"`
	Entries    int    `json:"entries"`
	Fixed      bool   `json:"fixed"`
}

// Apply credits (amount > 0) or debits (amount <= 0) an account and returns
// the new balance. Balances are not floored.
func (l *Ledger) Apply(ctx context.Context, accountID string, amount int64, reference, actor string) (int64, error) {
	users, err := openTable(ctx, l.store, sheet.Users)
	if err != nil {
		return 0, err
	}
	row, ok := users.Find("user_id", accountID)
	if !ok {
		return 0, fmt.Errorf("%w: пользователь %s", ErrNotFound, accountID)
	}
	current := users.Schema.Int(row.Values, "current_exp")
	balance := current + amount

	kind := models.TxSpend
	if amount > 0 {
		kind = models.TxReward
	}
	txs, err := openTable(ctx, l.store, sheet.Transactions)
	if err != nil {
		return 0, err
	}
	txID := "tx_" + uuid.NewString()
	err = txs.Append(ctx, map[string]string{
		"tx_id":      txID,
		"user_id":    accountID,
		"amount":     itoa(amount),
		"tx_type":    kind,
		"related_id": reference,
		"timestamp":  l.clock.stamp(),
		"actor_name": actor,
	})
	if err != nil {
		return 0, storeErr(err)
	}
	l.metrics.LedgerWrites.WithLabelValues(kind).Inc()

	if err := users.Set(ctx, row.Index, "current_exp", itoa(balance)); err != nil {
		l.metrics.Diverged.Inc()
		l.logger.Error("Журнал и баланс разошлись",
			zap.String("user_id", accountID),
			zap.String("tx_id", txID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return 0, fmt.Errorf("%w: %w", ErrLedgerDiverged, storeErr(err))
	}
	return balance, nil
}

func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	users, err := openTable(ctx, l.store, sheet.Users)
	if err != nil {
		return 0, err
	}
	row, ok := users.Find("user_id", accountID)
	if !ok {
		return 0, ErrNotFound
	}
	return users.Schema.Int(row.Values, "current_exp"), nil
}

// CheckBalance reports whether the account can pay cost. It is not atomic
// with a following Apply.
func (l *Ledger) CheckBalance(ctx context.Context, accountID string, cost int64) (bool, error) {
	balance, err := l.Balance(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return balance >= cost, nil
}

// History returns the account's journal newest first.
func (l *Ledger) History(ctx context.Context, accountID string) ([]models.Transaction, error) {
	txs, err := openTable(ctx, l.store, sheet.Transactions)
	if err != nil {
		return nil, err
	}
	s := txs.Schema
	out := []models.Transaction{}
	for _, r := range txs.Reverse() {
		if s.Get(r.Values, "user_id") != accountID {
			continue
		}
		out = append(out, models.Transaction{
			ID:        s.Get(r.Values, "tx_id"),
			UserID:    accountID,
			Amount:    s.Int(r.Values, "amount"),
			Kind:      s.Get(r.Values, "tx_type"),
			Reference: s.Get(r.Values, "related_id"),
			Timestamp: s.Get(r.Values, "timestamp"),
			Actor:     s.Get(r.Values, "actor_name"),
		})
	}
	return out, nil
}

// Reconcile compares the balance cell with the journal sum. With fix set a
// drifted balance cell is overwritten by the journal sum.
func (l *Ledger) Reconcile(ctx context.Context, accountID string, fix bool) (ReconcileReport, error) {
	users, err := openTable(ctx, l.store, sheet.Users)
	if err != nil {
		return ReconcileReport{}, err
	}
	row, ok := users.Find("user_id", accountID)
	if !ok {
		return ReconcileReport{}, ErrNotFound
	}
	history, err := l.History(ctx, accountID)
	if err != nil {
		return ReconcileReport{}, err
	}
	rep := ReconcileReport{
		AccountID: accountID,
		Balance:   users.Schema.Int(row.Values, "current_exp"),
		Entries:   len(history),
	}
	for _, tx := range history {
		rep.JournalSum += tx.Amount
	}
	rep.Drift = rep.Balance - rep.JournalSum
	if rep.Drift == 0 || !fix {
		return rep, nil
	}
	if err := users.Set(ctx, row.Index, "current_exp", itoa(rep.JournalSum)); err != nil {
		return rep, storeErr(err)
	}
	l.logger.Warn("Баланс пересчитан по журналу",
		zap.String("user_id", accountID),
		zap.Int64("balance", rep.Balance),
		zap.Int64("journal_sum", rep.JournalSum))
	rep.Fixed = true
	return rep, nil
}
