package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/auth"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/cache"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"go.uber.org/zap"
)

type AccountService struct {
	store   sheet.Store
	ledger  *Ledger
	ranking *cache.Cache
	logger  *zap.Logger
}

func NewAccountService(store sheet.Store, ledger *Ledger, ranking *cache.Cache, logger *zap.Logger) *AccountService {
	return &AccountService{store: store, ledger: ledger, ranking: ranking, logger: logger}
}

func accountFromRow(s sheet.Schema, r sheet.Row) models.Account {
	inv := map[string]int64{}
	if raw := s.Get(r.Values, "inventory_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &inv); err != nil || inv == nil {
			inv = map[string]int64{}
		}
	}
	role := s.Get(r.Values, "role")
	if role == "" {
		role = models.RoleUser
	}
	rank := s.Get(r.Values, "rank")
	total := s.Int(r.Values, "total_study_time")
	if rank == "" {
		rank = RankLetter(total)
	}
	return models.Account{
		Row:               r.Index,
		UserID:            s.Get(r.Values, "user_id"),
		DisplayName:       s.Get(r.Values, "display_name"),
		CurrentExp:        s.Int(r.Values, "current_exp"),
		TotalStudyMinutes: total,
		Role:              role,
		Inventory:         inv,
		Rank:              rank,
		PinHash:           s.Get(r.Values, "pin_hash"),
	}
}

func (s *AccountService) find(ctx context.Context, userID string) (*sheet.Table, models.Account, error) {
	users, err := openTable(ctx, s.store, sheet.Users)
	if err != nil {
		return nil, models.Account{}, err
	}
	row, ok := users.Find("user_id", userID)
	if !ok {
		return users, models.Account{}, fmt.Errorf("%w: пользователь %s", ErrNotFound, userID)
	}
	return users, accountFromRow(users.Schema, row), nil
}

// Register opens an account on first contact. Registering an existing id
// returns the existing account unchanged.
func (s *AccountService) Register(ctx context.Context, req models.RegisterRequest) (models.Account, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return models.Account{}, ErrInvalidInput
	}
	users, acc, err := s.find(ctx, req.UserID)
	if err == nil {
		return acc, nil
	}
	if users == nil {
		return models.Account{}, err
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = req.UserID
	}
	var hash string
	if req.Pin != "" {
		if hash, err = auth.HashPin(req.Pin); err != nil {
			return models.Account{}, err
		}
	}
	acc = models.Account{
		UserID:      req.UserID,
		DisplayName: name,
		Role:        models.RoleUser,
		Inventory:   map[string]int64{},
		Rank:        RankLetter(0),
		PinHash:     hash,
	}
	err = users.Append(ctx, map[string]string{
		"user_id":          acc.UserID,
		"display_name":     acc.DisplayName,
		"current_exp":      "0",
		"total_study_time": "0",
		"role":             acc.Role,
		"inventory_json":   "{}",
		"rank":             acc.Rank,
		"pin_hash":         hash,
	})
	if err != nil {
		return models.Account{}, storeErr(err)
	}
	s.logger.Info("Зарегистрирован пользователь", zap.String("user_id", acc.UserID))
	return acc, nil
}

func (s *AccountService) Login(ctx context.Context, userID, pin string) (models.Account, error) {
	acc, err := s.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return models.Account{}, err
	}
	if acc.PinHash == "" || !auth.CheckPin(acc.PinHash, pin) {
		return models.Account{}, ErrInvalidPin
	}
	return acc, nil
}

func (s *AccountService) Get(ctx context.Context, userID string) (models.Account, error) {
	_, acc, err := s.find(ctx, userID)
	return acc, err
}

func (s *AccountService) List(ctx context.Context) ([]models.Account, error) {
	users, err := openTable(ctx, s.store, sheet.Users)
	if err != nil {
		return nil, err
	}
	out := []models.Account{}
	for _, r := range users.Rows() {
		acc := accountFromRow(users.Schema, r)
		if acc.UserID == "" {
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s *AccountService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	acc, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return acc.IsAdmin(), nil
}

func (s *AccountService) Admins(ctx context.Context) ([]models.Account, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	admins := []models.Account{}
	for _, a := range all {
		if a.IsAdmin() {
			admins = append(admins, a)
		}
	}
	return admins, nil
}

// AdminIDs lists admin user ids for notifications. Errors read as no admins.
func (s *AccountService) AdminIDs(ctx context.Context) []string {
	admins, err := s.Admins(ctx)
	if err != nil {
		s.logger.Warn("Не удалось получить список администраторов", zap.Error(err))
		return nil
	}
	ids := make([]string, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.UserID)
	}
	return ids
}

func (s *AccountService) set(ctx context.Context, userID, column, value string) error {
	users, acc, err := s.find(ctx, userID)
	if err != nil {
		return err
	}
	return storeErr(users.Set(ctx, acc.Row, column, value))
}

func (s *AccountService) SetRole(ctx context.Context, userID, role string) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return ErrInvalidInput
	}
	return s.set(ctx, userID, "role", role)
}

// ResetRole demotes an account back to USER. Accounts are never deleted this way.
func (s *AccountService) ResetRole(ctx context.Context, userID string) error {
	return s.SetRole(ctx, userID, models.RoleUser)
}

// AddStudyMinutes adds approved minutes to the cumulative total and
// recomputes the rank letter.
func (s *AccountService) AddStudyMinutes(ctx context.Context, userID string, minutes int64) (int64, string, error) {
	users, acc, err := s.find(ctx, userID)
	if err != nil {
		return 0, "", err
	}
	total := acc.TotalStudyMinutes + minutes
	rank := RankLetter(total)
	if err := users.Set(ctx, acc.Row, "total_study_time", itoa(total)); err != nil {
		return 0, "", storeErr(err)
	}
	if rank != acc.Rank {
		if err := users.Set(ctx, acc.Row, "rank", rank); err != nil {
			return total, acc.Rank, storeErr(err)
		}
	}
	return total, rank, nil
}

func (s *AccountService) Inventory(ctx context.Context, userID string) (map[string]int64, error) {
	acc, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return acc.Inventory, nil
}

func (s *AccountService) AddInventoryItem(ctx context.Context, userID, key string, count int64) error {
	if key == "" || count == 0 {
		return ErrInvalidInput
	}
	users, acc, err := s.find(ctx, userID)
	if err != nil {
		return err
	}
	acc.Inventory[key] += count
	if acc.Inventory[key] <= 0 {
		delete(acc.Inventory, key)
	}
	raw, err := json.Marshal(acc.Inventory)
	if err != nil {
		return err
	}
	return storeErr(users.Set(ctx, acc.Row, "inventory_json", string(raw)))
}

// ResetSelf removes the caller's own row. Only admins may do this.
func (s *AccountService) ResetSelf(ctx context.Context, userID string) error {
	_, acc, err := s.find(ctx, userID)
	if err != nil {
		return err
	}
	if !acc.IsAdmin() {
		return ErrForbidden
	}
	if err := s.store.DeleteRow(ctx, sheet.Users, acc.Row); err != nil {
		return storeErr(err)
	}
	s.logger.Warn("Администратор удалил свою учётную запись", zap.String("user_id", userID))
	return nil
}

// Ranking orders accounts by approved study minutes.
func (s *AccountService) Ranking(ctx context.Context) ([]models.RankingEntry, error) {
	return cache.Load(ctx, s.ranking, "ranking", func(ctx context.Context) ([]models.RankingEntry, error) {
		all, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].TotalStudyMinutes > all[j].TotalStudyMinutes
		})
		out := make([]models.RankingEntry, 0, len(all))
		for i, a := range all {
			out = append(out, models.RankingEntry{
				Position:          i + 1,
				UserID:            a.UserID,
				DisplayName:       a.DisplayName,
				TotalStudyMinutes: a.TotalStudyMinutes,
				Rank:              a.Rank,
			})
		}
		return out, nil
	})
}

func (s *AccountService) requireAdmin(ctx context.Context, adminID string) (models.Account, error) {
	admin, err := s.Get(ctx, adminID)
	if err != nil {
		return models.Account{}, err
	}
	if !admin.IsAdmin() {
		return models.Account{}, ErrForbidden
	}
	return admin, nil
}

// Grant credits or debits target on an admin's behalf.
func (s *AccountService) Grant(ctx context.Context, adminID, target string, amount int64, reason string) (int64, error) {
	if amount == 0 {
		return 0, ErrInvalidInput
	}
	admin, err := s.requireAdmin(ctx, adminID)
	if err != nil {
		return 0, err
	}
	return s.ledger.Apply(ctx, target, amount, "ADMIN_GRANT:"+reason, admin.DisplayName)
}

// AdjustTo journals the difference needed to bring target to balance.
func (s *AccountService) AdjustTo(ctx context.Context, adminID, target string, balance int64) (int64, error) {
	admin, err := s.requireAdmin(ctx, adminID)
	if err != nil {
		return 0, err
	}
	current, err := s.ledger.Balance(ctx, target)
	if err != nil {
		return 0, err
	}
	if current == balance {
		return current, nil
	}
	return s.ledger.Apply(ctx, target, balance-current, "ADMIN_ADJUST", admin.DisplayName)
}
