package service

import (
	"context"
	"strconv"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/cache"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"golang.org/x/sync/errgroup"
)

// ApprovalService builds the reviewer queue from every workflow.
type ApprovalService struct {
	accounts *AccountService
	study    *StudyService
	jobs     *JobService
	shop     *ShopService
	missions *MissionService
	queue    *cache.Cache
}

func NewApprovalService(accounts *AccountService, study *StudyService, jobs *JobService, shop *ShopService, missions *MissionService, queue *cache.Cache) *ApprovalService {
	return &ApprovalService{accounts: accounts, study: study, jobs: jobs, shop: shop, missions: missions, queue: queue}
}

// GetAllPending returns study, job, shop and mission items in that order,
// each group in sheet order. Missing ids and names read as "???".
func (a *ApprovalService) GetAllPending(ctx context.Context) ([]models.PendingItem, error) {
	return cache.Load(ctx, a.queue, "all", func(ctx context.Context) ([]models.PendingItem, error) {
		return a.collect(ctx)
	})
}

func (a *ApprovalService) collect(ctx context.Context) ([]models.PendingItem, error) {
	var (
		users    []models.Account
		studies  []models.StudySession
		jobs     []models.Job
		requests []models.ShopRequest
		items    []models.ShopItem
		missions []models.Mission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { users, err = a.accounts.List(gctx); return })
	g.Go(func() (err error) { studies, err = a.study.Pending(gctx); return })
	g.Go(func() (err error) { jobs, err = a.jobs.PendingReviews(gctx); return })
	g.Go(func() (err error) { requests, err = a.shop.Pending(gctx); return })
	g.Go(func() (err error) { items, err = a.shop.Items(gctx); return })
	g.Go(func() (err error) { missions, err = a.missions.Pending(gctx); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.UserID] = u.DisplayName
	}
	nameOf := func(id, fallback string) string {
		if n := names[id]; n != "" {
			return n
		}
		if fallback != "" {
			return fallback
		}
		return placeholder
	}
	itemNames := make(map[string]string, len(items))
	for _, it := range items {
		itemNames[it.Key] = it.Name
	}

	out := make([]models.PendingItem, 0, len(studies)+len(jobs)+len(requests)+len(missions))
	for _, s := range studies {
		out = append(out, models.PendingItem{
			Type:     models.PendingStudy,
			ID:       strconv.Itoa(s.Row),
			UserID:   orPlaceholder(s.UserID),
			UserName: nameOf(s.UserID, s.DisplayName),
			Title:    orPlaceholder(s.Subject),
			Amount:   s.Reward(),
			Minutes:  s.Minutes,
			Time:     s.Date + " " + s.StartTime + "-" + s.EndTime,
			Comment:  s.Comment,
		})
	}
	for _, j := range jobs {
		out = append(out, models.PendingItem{
			Type:     models.PendingJob,
			ID:       orPlaceholder(j.ID),
			UserID:   orPlaceholder(j.WorkerID),
			UserName: nameOf(j.WorkerID, ""),
			Title:    orPlaceholder(j.Title),
			Amount:   j.Reward,
			Time:     j.FinishedAt,
			Comment:  j.Comment,
		})
	}
	for _, r := range requests {
		title := itemNames[r.ItemKey]
		if title == "" {
			title = r.ItemKey
		}
		out = append(out, models.PendingItem{
			Type:     models.PendingShop,
			ID:       orPlaceholder(r.ID),
			UserID:   orPlaceholder(r.UserID),
			UserName: nameOf(r.UserID, ""),
			Title:    orPlaceholder(title),
			Amount:   r.Cost,
			Time:     r.Time,
			Comment:  r.Comment,
		})
	}
	for _, m := range missions {
		out = append(out, models.PendingItem{
			Type:     models.PendingMission,
			ID:       orPlaceholder(m.ID),
			UserID:   orPlaceholder(m.UserID),
			UserName: nameOf(m.UserID, ""),
			Title:    orPlaceholder(m.Title),
			Amount:   m.Reward,
			Time:     m.CreatedAt,
			Comment:  m.Description,
		})
	}
	return out, nil
}
