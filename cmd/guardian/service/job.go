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

// JobService runs the chore board: OPEN -> ASSIGNED -> REVIEW -> CLOSED,
// with a rejected review going back to ASSIGNED.
type JobService struct {
	store  sheet.Store
	ledger *Ledger
	board  *cache.Cache
	clock  Clock
	logger *zap.Logger
}

func NewJobService(store sheet.Store, ledger *Ledger, board *cache.Cache, clock Clock, logger *zap.Logger) *JobService {
	return &JobService{store: store, ledger: ledger, board: board, clock: clock, logger: logger}
}

func jobFromRow(s sheet.Schema, r sheet.Row) models.Job {
	return models.Job{
		Row:        r.Index,
		ID:         s.Get(r.Values, "job_id"),
		Title:      s.Get(r.Values, "title"),
		Reward:     s.Int(r.Values, "reward"),
		Status:     s.Get(r.Values, "status"),
		ClientID:   s.Get(r.Values, "client_id"),
		WorkerID:   s.Get(r.Values, "worker_id"),
		Deadline:   s.Get(r.Values, "deadline"),
		Comment:    s.Get(r.Values, "comment"),
		FinishedAt: s.Get(r.Values, "finished_at"),
	}
}

func (s *JobService) list(ctx context.Context, keep func(models.Job) bool) ([]models.Job, error) {
	t, err := openTable(ctx, s.store, sheet.Jobs)
	if err != nil {
		return nil, err
	}
	out := []models.Job{}
	for _, r := range t.Rows() {
		j := jobFromRow(t.Schema, r)
		if keep(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *JobService) find(ctx context.Context, jobID string) (*sheet.Table, models.Job, error) {
	t, err := openTable(ctx, s.store, sheet.Jobs)
	if err != nil {
		return nil, models.Job{}, err
	}
	r, ok := t.Find("job_id", jobID)
	if !ok {
		return nil, models.Job{}, fmt.Errorf("%w: задание %s", ErrNotFound, jobID)
	}
	return t, jobFromRow(t.Schema, r), nil
}

func (s *JobService) Create(ctx context.Context, title string, reward int64, deadline, clientID string) (models.Job, error) {
	title = strings.TrimSpace(title)
	if title == "" || reward < 0 {
		return models.Job{}, ErrInvalidInput
	}
	t, err := openTable(ctx, s.store, sheet.Jobs)
	if err != nil {
		return models.Job{}, err
	}
	j := models.Job{
		ID:       "job_" + uuid.NewString()[:8],
		Title:    title,
		Reward:   reward,
		Status:   models.JobOpen,
		ClientID: clientID,
		Deadline: deadline,
	}
	err = t.Append(ctx, map[string]string{
		"job_id":    j.ID,
		"title":     j.Title,
		"reward":    itoa(j.Reward),
		"status":    j.Status,
		"client_id": j.ClientID,
		"deadline":  j.Deadline,
	})
	if err != nil {
		return models.Job{}, storeErr(err)
	}
	return j, nil
}

// Open lists unclaimed jobs. The board is cached and may lag behind writes.
func (s *JobService) Open(ctx context.Context) ([]models.Job, error) {
	return cache.Load(ctx, s.board, "open", func(ctx context.Context) ([]models.Job, error) {
		return s.list(ctx, func(j models.Job) bool { return j.Status == models.JobOpen })
	})
}

func (s *JobService) ActiveFor(ctx context.Context, userID string) ([]models.Job, error) {
	return s.list(ctx, func(j models.Job) bool {
		return j.WorkerID == userID && j.Status == models.JobAssigned
	})
}

func (s *JobService) PendingReviews(ctx context.Context) ([]models.Job, error) {
	return s.list(ctx, func(j models.Job) bool { return j.Status == models.JobReview })
}

func (s *JobService) Accept(ctx context.Context, jobID, userID string) (models.Job, error) {
	t, j, err := s.find(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if j.Status != models.JobOpen {
		return j, fmt.Errorf("%w: задание уже занято", ErrInvalidTransition)
	}
	if err := t.Set(ctx, j.Row, "status", models.JobAssigned); err != nil {
		return j, storeErr(err)
	}
	if err := t.Set(ctx, j.Row, "worker_id", userID); err != nil {
		return j, storeErr(err)
	}
	j.Status, j.WorkerID = models.JobAssigned, userID
	return j, nil
}

func (s *JobService) Finish(ctx context.Context, jobID, userID, comment string) (models.Job, error) {
	t, j, err := s.find(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if j.WorkerID != userID {
		return j, ErrNotOwner
	}
	if j.Status != models.JobAssigned {
		return j, fmt.Errorf("%w: статус %s", ErrInvalidTransition, j.Status)
	}
	j.Status, j.Comment, j.FinishedAt = models.JobReview, comment, s.clock.stamp()
	if err := t.Set(ctx, j.Row, "status", j.Status); err != nil {
		return j, storeErr(err)
	}
	if err := t.Set(ctx, j.Row, "comment", j.Comment); err != nil {
		return j, storeErr(err)
	}
	if err := t.Set(ctx, j.Row, "finished_at", j.FinishedAt); err != nil {
		return j, storeErr(err)
	}
	return j, nil
}

// Approve closes a job under review and pays the worker. The job is closed
// before the credit.
func (s *JobService) Approve(ctx context.Context, jobID, approver string) (models.Job, int64, error) {
	t, j, err := s.find(ctx, jobID)
	if err != nil {
		return models.Job{}, 0, err
	}
	if j.Status != models.JobReview {
		return j, 0, fmt.Errorf("%w: задание не ожидает проверки", ErrInvalidTransition)
	}
	if err := t.Set(ctx, j.Row, "status", models.JobClosed); err != nil {
		return j, 0, storeErr(err)
	}
	j.Status = models.JobClosed
	balance, err := s.ledger.Apply(ctx, j.WorkerID, j.Reward, "JOB_"+j.ID, approver)
	if err != nil {
		s.logger.Error("Задание закрыто, но оплата не проведена",
			zap.String("job_id", j.ID), zap.String("worker_id", j.WorkerID), zap.Error(err))
		return j, 0, err
	}
	return j, balance, nil
}

// Reject sends a reviewed job back to its worker.
func (s *JobService) Reject(ctx context.Context, jobID string) (models.Job, error) {
	t, j, err := s.find(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if j.Status != models.JobReview {
		return j, fmt.Errorf("%w: задание не ожидает проверки", ErrInvalidTransition)
	}
	if err := t.Set(ctx, j.Row, "status", models.JobAssigned); err != nil {
		return j, storeErr(err)
	}
	j.Status = models.JobAssigned
	return j, nil
}
