package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MissionService struct {
	store    sheet.Store
	ledger   *Ledger
	accounts *AccountService
	clock    Clock
	logger   *zap.Logger
}

func NewMissionService(store sheet.Store, ledger *Ledger, accounts *AccountService, clock Clock, logger *zap.Logger) *MissionService {
	return &MissionService{store: store, ledger: ledger, accounts: accounts, clock: clock, logger: logger}
}

func missionFromRow(s sheet.Schema, r sheet.Row) models.Mission {
	return models.Mission{
		Row:         r.Index,
		ID:          s.Get(r.Values, "mission_id"),
		UserID:      s.Get(r.Values, "user_id"),
		Title:       s.Get(r.Values, "title"),
		Description: s.Get(r.Values, "description"),
		Reward:      s.Int(r.Values, "reward"),
		Status:      s.Get(r.Values, "status"),
		CreatedAt:   s.Get(r.Values, "created_at"),
		CompletedAt: s.Get(r.Values, "completed_at"),
	}
}

func BadgeKey(missionID string) string { return "mission_" + missionID }

func (s *MissionService) Create(ctx context.Context, userID, title, description string, reward int64) (models.Mission, error) {
	title = strings.TrimSpace(title)
	if userID == "" || title == "" || reward < 0 {
		return models.Mission{}, ErrInvalidInput
	}
	if _, err := s.accounts.Get(ctx, userID); err != nil {
		return models.Mission{}, err
	}
	t, err := openTable(ctx, s.store, sheet.Missions)
	if err != nil {
		return models.Mission{}, err
	}
	m := models.Mission{
		ID:          "msn_" + uuid.NewString()[:8],
		UserID:      userID,
		Title:       title,
		Description: description,
		Reward:      reward,
		Status:      models.MissionOpen,
		CreatedAt:   s.clock.stamp(),
	}
	err = t.Append(ctx, map[string]string{
		"mission_id":  m.ID,
		"user_id":     m.UserID,
		"title":       m.Title,
		"description": m.Description,
		"reward":      itoa(m.Reward),
		"status":      m.Status,
		"created_at":  m.CreatedAt,
	})
	if err != nil {
		return models.Mission{}, storeErr(err)
	}
	return m, nil
}

func (s *MissionService) list(ctx context.Context, keep func(models.Mission) bool) ([]models.Mission, error) {
	t, err := openTable(ctx, s.store, sheet.Missions)
	if err != nil {
		return nil, err
	}
	out := []models.Mission{}
	for _, r := range t.Rows() {
		m := missionFromRow(t.Schema, r)
		if keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MissionService) Active(ctx context.Context, userID string) ([]models.Mission, error) {
	return s.list(ctx, func(m models.Mission) bool {
		return m.UserID == userID && m.Status == models.MissionOpen
	})
}

func (s *MissionService) Pending(ctx context.Context) ([]models.Mission, error) {
	return s.list(ctx, func(m models.Mission) bool { return m.Status == models.MissionPending })
}

func (s *MissionService) find(ctx context.Context, missionID string) (*sheet.Table, models.Mission, error) {
	t, err := openTable(ctx, s.store, sheet.Missions)
	if err != nil {
		return nil, models.Mission{}, err
	}
	r, ok := t.Find("mission_id", missionID)
	if !ok {
		return nil, models.Mission{}, fmt.Errorf("%w: миссия %s", ErrNotFound, missionID)
	}
	return t, missionFromRow(t.Schema, r), nil
}

// Complete is reported by the assignee and waits for approval.
func (s *MissionService) Complete(ctx context.Context, missionID, userID string) (models.Mission, error) {
	t, m, err := s.find(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}
	if m.UserID != userID {
		return m, ErrNotOwner
	}
	if m.Status != models.MissionOpen {
		return m, fmt.Errorf("%w: статус %s", ErrInvalidTransition, m.Status)
	}
	if err := t.Set(ctx, m.Row, "status", models.MissionPending); err != nil {
		return m, storeErr(err)
	}
	m.Status = models.MissionPending
	return m, nil
}

// Approve completes a pending mission, pays the reward and adds the badge.
func (s *MissionService) Approve(ctx context.Context, missionID, approver string) (models.Mission, int64, error) {
	t, m, err := s.find(ctx, missionID)
	if err != nil {
		return models.Mission{}, 0, err
	}
	if m.Status != models.MissionPending {
		return m, 0, fmt.Errorf("%w: миссия не ожидает проверки", ErrInvalidTransition)
	}
	m.Status, m.CompletedAt = models.MissionCompleted, s.clock.stamp()
	if err := t.Set(ctx, m.Row, "status", m.Status); err != nil {
		return m, 0, storeErr(err)
	}
	if err := t.Set(ctx, m.Row, "completed_at", m.CompletedAt); err != nil {
		s.logger.Warn("Не удалось записать время завершения", zap.String("mission_id", m.ID), zap.Error(err))
	}
	balance, err := s.ledger.Apply(ctx, m.UserID, m.Reward, "MISSION_"+m.ID, approver)
	if err != nil {
		s.logger.Error("Миссия завершена, но награда не начислена",
			zap.String("mission_id", m.ID), zap.String("user_id", m.UserID), zap.Error(err))
		return m, 0, err
	}
	if err := s.accounts.AddInventoryItem(ctx, m.UserID, BadgeKey(m.ID), 1); err != nil {
		s.logger.Warn("Не удалось выдать значок", zap.String("mission_id", m.ID), zap.Error(err))
	}
	return m, balance, nil
}

// Reject reopens a pending mission.
func (s *MissionService) Reject(ctx context.Context, missionID string) (models.Mission, error) {
	t, m, err := s.find(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}
	if m.Status != models.MissionPending {
		return m, fmt.Errorf("%w: миссия не ожидает проверки", ErrInvalidTransition)
	}
	if err := t.Set(ctx, m.Row, "status", models.MissionOpen); err != nil {
		return m, storeErr(err)
	}
	m.Status = models.MissionOpen
	return m, nil
}
