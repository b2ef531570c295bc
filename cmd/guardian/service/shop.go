package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/cache"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShopService sells catalog items. The price is debited when the request is
// made and refunded once if the request is denied.
type ShopService struct {
	store   sheet.Store
	ledger  *Ledger
	catalog *cache.Cache
	clock   Clock
	logger  *zap.Logger
}

func NewShopService(store sheet.Store, ledger *Ledger, catalog *cache.Cache, clock Clock, logger *zap.Logger) *ShopService {
	return &ShopService{store: store, ledger: ledger, catalog: catalog, clock: clock, logger: logger}
}

func isActive(v string) bool {
	switch strings.ToLower(v) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}

func requestFromRow(s sheet.Schema, r sheet.Row) models.ShopRequest {
	return models.ShopRequest{
		Row:     r.Index,
		ID:      s.Get(r.Values, "request_id"),
		UserID:  s.Get(r.Values, "user_id"),
		ItemKey: s.Get(r.Values, "item_key"),
		Cost:    s.Int(r.Values, "cost"),
		Status:  s.Get(r.Values, "status"),
		Time:    s.Get(r.Values, "time"),
		Comment: s.Get(r.Values, "comment"),
	}
}

// Items is the active catalog, cached.
func (s *ShopService) Items(ctx context.Context) ([]models.ShopItem, error) {
	return cache.Load(ctx, s.catalog, "items", func(ctx context.Context) ([]models.ShopItem, error) {
		t, err := openTable(ctx, s.store, sheet.ShopItems)
		if err != nil {
			return nil, err
		}
		out := []models.ShopItem{}
		for _, r := range t.Rows() {
			key := t.Schema.Get(r.Values, "item_key")
			if key == "" || !isActive(t.Schema.Get(r.Values, "is_active")) {
				continue
			}
			out = append(out, models.ShopItem{
				Key:         key,
				Name:        t.Schema.Get(r.Values, "name"),
				Cost:        t.Schema.Int(r.Values, "cost"),
				Description: t.Schema.Get(r.Values, "description"),
			})
		}
		return out, nil
	})
}

func (s *ShopService) Item(ctx context.Context, key string) (models.ShopItem, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return models.ShopItem{}, err
	}
	for _, it := range items {
		if it.Key == key {
			return it, nil
		}
	}
	return models.ShopItem{}, fmt.Errorf("%w: товар %s", ErrNotFound, key)
}

func (s *ShopService) AddItem(ctx context.Context, item models.ShopItem) error {
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" || item.Cost <= 0 {
		return ErrInvalidInput
	}
	t, err := openTable(ctx, s.store, sheet.ShopItems)
	if err != nil {
		return err
	}
	if _, ok := t.Find("item_key", item.Key); ok {
		return fmt.Errorf("%w: товар %s уже есть", ErrInvalidInput, item.Key)
	}
	if item.Name == "" {
		item.Name = item.Key
	}
	return storeErr(t.Append(ctx, map[string]string{
		"item_key":    item.Key,
		"name":        item.Name,
		"cost":        itoa(item.Cost),
		"description": item.Description,
		"is_active":   "TRUE",
	}))
}

// Buy debits the price and files a PENDING request. If the request cannot be
// written the debit is refunded.
func (s *ShopService) Buy(ctx context.Context, userID, itemKey string) (models.ShopRequest, int64, error) {
	item, err := s.Item(ctx, itemKey)
	if err != nil {
		return models.ShopRequest{}, 0, err
	}
	ok, err := s.ledger.CheckBalance(ctx, userID, item.Cost)
	if err != nil {
		return models.ShopRequest{}, 0, err
	}
	if !ok {
		return models.ShopRequest{}, 0, ErrInsufficientFunds
	}
	balance, err := s.ledger.Apply(ctx, userID, -item.Cost, "BUY_"+item.Key, userID)
	if err != nil {
		return models.ShopRequest{}, 0, err
	}

	req := models.ShopRequest{
		ID:      "req_" + uuid.NewString()[:8],
		UserID:  userID,
		ItemKey: item.Key,
		Cost:    item.Cost,
		Status:  models.ShopPending,
		Time:    s.clock.stamp(),
	}
	t, err := openTable(ctx, s.store, sheet.ShopRequests)
	if err == nil {
		err = storeErr(t.Append(ctx, map[string]string{
			"request_id": req.ID,
			"user_id":    req.UserID,
			"item_key":   req.ItemKey,
			"cost":       itoa(req.Cost),
			"status":     req.Status,
			"time":       req.Time,
		}))
	}
	if err != nil {
		s.logger.Error("Не удалось создать заявку, возврат средств",
			zap.String("user_id", userID), zap.String("item_key", item.Key), zap.Error(err))
		if _, rerr := s.ledger.Apply(ctx, userID, item.Cost, "REFUND", "system"); rerr != nil {
			s.logger.Error("Возврат средств не выполнен", zap.String("user_id", userID), zap.Error(rerr))
		}
		return models.ShopRequest{}, 0, err
	}
	return req, balance, nil
}

func (s *ShopService) pending(ctx context.Context, requestID string) (*sheet.Table, models.ShopRequest, error) {
	t, err := openTable(ctx, s.store, sheet.ShopRequests)
	if err != nil {
		return nil, models.ShopRequest{}, err
	}
	r, ok := t.Find("request_id", requestID)
	if !ok {
		return nil, models.ShopRequest{}, fmt.Errorf("%w: заявка %s", ErrNotFound, requestID)
	}
	req := requestFromRow(t.Schema, r)
	if req.Status != models.ShopPending {
		return nil, req, fmt.Errorf("%w: заявка уже обработана", ErrInvalidTransition)
	}
	return t, req, nil
}

func (s *ShopService) Approve(ctx context.Context, requestID string) (models.ShopRequest, error) {
	t, req, err := s.pending(ctx, requestID)
	if err != nil {
		return req, err
	}
	if err := t.Set(ctx, req.Row, "status", models.ShopApproved); err != nil {
		return req, storeErr(err)
	}
	req.Status = models.ShopApproved
	return req, nil
}

// Deny marks the request DENIED and refunds its cost exactly once.
func (s *ShopService) Deny(ctx context.Context, requestID, approver string) (models.ShopRequest, int64, error) {
	t, req, err := s.pending(ctx, requestID)
	if err != nil {
		return req, 0, err
	}
	if err := t.Set(ctx, req.Row, "status", models.ShopDenied); err != nil {
		return req, 0, storeErr(err)
	}
	req.Status = models.ShopDenied
	balance, err := s.ledger.Apply(ctx, req.UserID, req.Cost, "REFUND", approver)
	if err != nil {
		s.logger.Error("Заявка отклонена, но возврат не проведён",
			zap.String("request_id", req.ID), zap.String("user_id", req.UserID), zap.Error(err))
		return req, 0, err
	}
	return req, balance, nil
}

func (s *ShopService) Pending(ctx context.Context) ([]models.ShopRequest, error) {
	t, err := openTable(ctx, s.store, sheet.ShopRequests)
	if err != nil {
		return nil, err
	}
	out := []models.ShopRequest{}
	for _, r := range t.Rows() {
		req := requestFromRow(t.Schema, r)
		if req.Status == models.ShopPending {
			out = append(out, req)
		}
	}
	return out, nil
}
