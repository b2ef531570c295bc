package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
)

const (
	recentSessions  = 10
	recentJobs      = 5
	defaultActivity = 10
	otherSubject    = "other"
)

// HistoryService derives read-only statistics from the study log, the
// transaction journal and the job board. Nothing here is cached.
type HistoryService struct {
	store    sheet.Store
	accounts *AccountService
	clock    Clock
}

func NewHistoryService(store sheet.Store, accounts *AccountService, clock Clock) *HistoryService {
	return &HistoryService{store: store, accounts: accounts, clock: clock}
}

func (h *HistoryService) today() time.Time {
	now := h.clock.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func sessionMinutes(sess models.StudySession) int64 {
	if sess.Minutes > 0 {
		return sess.Minutes
	}
	if sess.StartTime == "" || sess.EndTime == "" {
		return 0
	}
	return minutesBetween(sess.StartTime, sess.EndTime)
}

func subjectOf(sess models.StudySession) string {
	if sess.Subject == "" {
		return otherSubject
	}
	return sess.Subject
}

// ownedBy matches on user id, falling back to the display name for rows
// written without one.
func ownedBy(sess models.StudySession, acc models.Account) bool {
	if sess.UserID != "" {
		return sess.UserID == acc.UserID
	}
	return acc.DisplayName != "" && sess.DisplayName == acc.DisplayName
}

// UserStats collects the learner's calendar week and month totals, the last
// seven days and the last four rolling weeks split by subject, recent
// approved sessions and closed jobs.
func (h *HistoryService) UserStats(ctx context.Context, userID string) (models.StudyStats, error) {
	acc, err := h.accounts.Get(ctx, userID)
	if err != nil {
		return models.StudyStats{}, err
	}
	log, err := openTable(ctx, h.store, sheet.StudyLog)
	if err != nil {
		return models.StudyStats{}, err
	}
	jobs, err := openTable(ctx, h.store, sheet.Jobs)
	if err != nil {
		return models.StudyStats{}, err
	}

	loc := h.clock.location()
	today := h.today()
	todayStr := today.Format(dateLayout)
	weekStart := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)

	stats := models.StudyStats{UserID: acc.UserID}
	daily := make(map[string]*models.DayStats, 7)
	for i := 6; i >= 0; i-- {
		d := today.AddDate(0, 0, -i)
		day := models.DayStats{
			Date:     d.Format(dateLayout),
			Label:    fmt.Sprintf("%d/%d(%s)", d.Month(), d.Day(), d.Weekday().String()[:3]),
			Subjects: map[string]int64{},
		}
		stats.Daily = append(stats.Daily, day)
	}
	for i := range stats.Daily {
		daily[stats.Daily[i].Date] = &stats.Daily[i]
	}
	for i := 3; i >= 0; i-- {
		end := today.AddDate(0, 0, -7*i)
		start := end.AddDate(0, 0, -6)
		stats.Weeks = append(stats.Weeks, models.WeekStats{
			Label:    fmt.Sprintf("%d/%d~", start.Month(), start.Day()),
			Start:    start.Format(dateLayout),
			End:      end.Format(dateLayout),
			Subjects: map[string]int64{},
		})
	}

	subjects := map[string]int64{}
	stats.Recent = []models.StudySession{}
	for _, r := range log.Reverse() {
		sess := sessionFromRow(log.Schema, r)
		if !ownedBy(sess, acc) {
			continue
		}
		if sess.Date == todayStr && sess.Status != models.StudyCancelled && sess.Status != models.StudyRejected {
			stats.TodaySessions++
		}
		if sess.Status != models.StudyApproved {
			continue
		}
		minutes := sessionMinutes(sess)
		day, err := time.ParseInLocation(dateLayout, sess.Date, loc)
		if err != nil {
			continue
		}
		subject := subjectOf(sess)

		stats.TotalMinutes += minutes
		subjects[subject] += minutes
		if !day.Before(weekStart) {
			stats.WeekMinutes += minutes
		}
		if !day.Before(monthStart) {
			stats.MonthMinutes += minutes
		}
		if d, ok := daily[sess.Date]; ok {
			d.Minutes += minutes
			d.Subjects[subject] += minutes
		}
		for i := range stats.Weeks {
			w := &stats.Weeks[i]
			if sess.Date >= w.Start && sess.Date <= w.End {
				w.Minutes += minutes
				w.Subjects[subject] += minutes
				break
			}
		}
		if minutes > 0 && len(stats.Recent) < recentSessions {
			sess.Minutes = minutes
			stats.Recent = append(stats.Recent, sess)
		}
	}

	stats.Subjects = make([]models.SubjectStats, 0, len(subjects))
	for name, minutes := range subjects {
		s := models.SubjectStats{Subject: name, Minutes: minutes}
		if stats.TotalMinutes > 0 {
			s.Percent = float64(minutes) / float64(stats.TotalMinutes) * 100
		}
		stats.Subjects = append(stats.Subjects, s)
	}
	sort.Slice(stats.Subjects, func(i, j int) bool {
		if stats.Subjects[i].Minutes != stats.Subjects[j].Minutes {
			return stats.Subjects[i].Minutes > stats.Subjects[j].Minutes
		}
		return stats.Subjects[i].Subject < stats.Subjects[j].Subject
	})

	stats.Jobs = []models.Job{}
	for _, r := range jobs.Reverse() {
		j := jobFromRow(jobs.Schema, r)
		if j.WorkerID != acc.UserID || j.Status != models.JobClosed {
			continue
		}
		stats.JobCount++
		if len(stats.Jobs) < recentJobs {
			stats.Jobs = append(stats.Jobs, j)
		}
	}
	return stats, nil
}

// WeeklyRanking orders USER accounts by points credited in the last seven
// days. Admins are left out.
func (h *HistoryService) WeeklyRanking(ctx context.Context) ([]models.WeeklyRankingEntry, error) {
	txs, err := openTable(ctx, h.store, sheet.Transactions)
	if err != nil {
		return nil, err
	}
	users, err := h.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	since := h.clock.now().AddDate(0, 0, -7)
	earned := map[string]int64{}
	for _, r := range txs.Rows() {
		s := txs.Schema
		if s.Get(r.Values, "tx_type") != models.TxReward {
			continue
		}
		at, err := time.ParseInLocation(stampLayout, s.Get(r.Values, "timestamp"), h.clock.location())
		if err != nil || at.Before(since) {
			continue
		}
		earned[s.Get(r.Values, "user_id")] += s.Int(r.Values, "amount")
	}

	admins := map[string]bool{}
	for _, u := range users {
		if u.IsAdmin() {
			admins[u.UserID] = true
		}
	}
	out := []models.WeeklyRankingEntry{}
	for _, u := range users {
		if admins[u.UserID] || u.Role != models.RoleUser {
			continue
		}
		out = append(out, models.WeeklyRankingEntry{
			UserID:            u.UserID,
			DisplayName:       u.DisplayName,
			WeeklyExp:         earned[u.UserID],
			TotalStudyMinutes: u.TotalStudyMinutes,
			Rank:              u.Rank,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WeeklyExp > out[j].WeeklyExp })
	for i := range out {
		out[i].Position = i + 1
	}
	return out, nil
}

// RecentActivity merges approved study sessions and closed jobs of every
// user, newest first.
func (h *HistoryService) RecentActivity(ctx context.Context, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = defaultActivity
	}
	log, err := openTable(ctx, h.store, sheet.StudyLog)
	if err != nil {
		return nil, err
	}
	jobs, err := openTable(ctx, h.store, sheet.Jobs)
	if err != nil {
		return nil, err
	}
	users, err := h.accounts.List(ctx)
	if err != nil {
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

	out := []models.Activity{}
	for _, r := range log.Rows() {
		sess := sessionFromRow(log.Schema, r)
		minutes := sessionMinutes(sess)
		if sess.Status != models.StudyApproved || minutes == 0 {
			continue
		}
		ts := sess.Date
		if sess.StartTime != "" {
			ts += " " + sess.StartTime
		}
		out = append(out, models.Activity{
			Type:        "study",
			UserID:      sess.UserID,
			UserName:    nameOf(sess.UserID, sess.DisplayName),
			Description: fmt.Sprintf("%s, %d мин.", subjectOf(sess), minutes),
			Comment:     sess.Comment,
			Timestamp:   ts,
		})
	}
	for _, r := range jobs.Rows() {
		j := jobFromRow(jobs.Schema, r)
		if j.Status != models.JobClosed {
			continue
		}
		out = append(out, models.Activity{
			Type:        "job",
			UserID:      j.WorkerID,
			UserName:    nameOf(j.WorkerID, ""),
			Description: fmt.Sprintf("%s, +%d EXP", j.Title, j.Reward),
			Comment:     j.Comment,
			Timestamp:   j.FinishedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
