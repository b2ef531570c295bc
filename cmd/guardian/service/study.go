package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/notify"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"go.uber.org/zap"
)

type StudyService struct {
	store      sheet.Store
	ledger     *Ledger
	accounts   *AccountService
	clock      Clock
	maxMinutes int64
	metrics    *Metrics
	logger     *zap.Logger
}

func NewStudyService(store sheet.Store, ledger *Ledger, accounts *AccountService, clock Clock, maxMinutes int64, metrics *Metrics, logger *zap.Logger) *StudyService {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &StudyService{
		store:      store,
		ledger:     ledger,
		accounts:   accounts,
		clock:      clock,
		maxMinutes: maxMinutes,
		metrics:    metrics,
		logger:     logger,
	}
}

func sessionFromRow(s sheet.Schema, r sheet.Row) models.StudySession {
	return models.StudySession{
		Row:           r.Index,
		UserID:        s.Get(r.Values, "user_id"),
		DisplayName:   s.Get(r.Values, "display_name"),
		Date:          s.Get(r.Values, "date"),
		StartTime:     s.Get(r.Values, "start_time"),
		EndTime:       s.Get(r.Values, "end_time"),
		Status:        s.Get(r.Values, "status"),
		Subject:       s.Get(r.Values, "subject"),
		Minutes:       s.Int(r.Values, "duration_min"),
		RankScore:     s.Int(r.Values, "rank_score"),
		Comment:       s.Get(r.Values, "comment"),
		Concentration: s.Int(r.Values, "concentration"),
		EarnedExp:     s.Int(r.Values, "earned_exp"),
	}
}

func isOpen(sess models.StudySession) bool {
	return sess.Status == models.StudyStarted && sess.EndTime == ""
}

// startedAt resolves a session's start in the configured zone.
func (s *StudyService) startedAt(sess models.StudySession) (time.Time, error) {
	return time.ParseInLocation(stampLayout, sess.Date+" "+sess.StartTime, s.clock.location())
}

// minutesBetween derives a duration from clock strings, crossing midnight
// when end is before start.
func minutesBetween(start, end string) int64 {
	st, err := time.Parse(clockLayout, start)
	if err != nil {
		return 0
	}
	et, err := time.Parse(clockLayout, end)
	if err != nil {
		return 0
	}
	if et.Before(st) {
		et = et.Add(24 * time.Hour)
	}
	return int64(et.Sub(st).Minutes())
}

func (s *StudyService) latestOpen(t *sheet.Table, accountID string) (models.StudySession, bool) {
	for _, r := range t.Reverse() {
		sess := sessionFromRow(t.Schema, r)
		if sess.UserID == accountID && isOpen(sess) {
			return sess, true
		}
	}
	return models.StudySession{}, false
}

// Start opens a session. An account with an open session must stop or
// cancel it first; the timeout sweep closes abandoned ones.
func (s *StudyService) Start(ctx context.Context, accountID, subject string) (models.StudySession, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return models.StudySession{}, err
	}
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return models.StudySession{}, err
	}
	if _, ok := s.latestOpen(t, accountID); ok {
		return models.StudySession{}, ErrSessionActive
	}
	now := s.clock.now()
	sess := models.StudySession{
		UserID:      accountID,
		DisplayName: acc.DisplayName,
		Date:        now.Format(dateLayout),
		StartTime:   now.Format(clockLayout),
		Status:      models.StudyStarted,
		Subject:     strings.TrimSpace(subject),
	}
	err = t.Append(ctx, map[string]string{
		"user_id":      sess.UserID,
		"display_name": sess.DisplayName,
		"date":         sess.Date,
		"start_time":   sess.StartTime,
		"status":       sess.Status,
		"subject":      sess.Subject,
	})
	if err != nil {
		return models.StudySession{}, storeErr(err)
	}
	return sess, nil
}

// Stop closes the newest open session, clamps its duration and writes a
// provisional rank estimate.
func (s *StudyService) Stop(ctx context.Context, accountID string) (models.StudySession, error) {
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return models.StudySession{}, err
	}
	sess, ok := s.latestOpen(t, accountID)
	if !ok {
		return models.StudySession{}, fmt.Errorf("%w: нет активного занятия", ErrNotFound)
	}
	now := s.clock.now()
	var minutes int64
	if start, err := s.startedAt(sess); err == nil {
		minutes = int64(now.Sub(start).Minutes())
	} else {
		s.logger.Warn("Некорректное время начала занятия", zap.Int("row", sess.Row), zap.Error(err))
	}
	if minutes < 0 {
		minutes = 0
	}
	if s.maxMinutes > 0 && minutes > s.maxMinutes {
		minutes = s.maxMinutes
	}

	sess.EndTime = now.Format(clockLayout)
	sess.Status = models.StudyPending
	sess.Minutes = minutes
	if err := t.Set(ctx, sess.Row, "end_time", sess.EndTime); err != nil {
		return models.StudySession{}, storeErr(err)
	}
	if err := t.Set(ctx, sess.Row, "status", sess.Status); err != nil {
		return models.StudySession{}, storeErr(err)
	}
	if err := t.Set(ctx, sess.Row, "duration_min", itoa(minutes)); err != nil {
		return sess, storeErr(err)
	}
	if est, ok := EstimateRank(minutes, 1); ok {
		sess.RankScore = est.Position
		if err := t.Set(ctx, sess.Row, "rank_score", itoa(est.Position)); err != nil {
			return sess, storeErr(err)
		}
	}
	return sess, nil
}

func (s *StudyService) Cancel(ctx context.Context, accountID string) error {
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return err
	}
	sess, ok := s.latestOpen(t, accountID)
	if !ok {
		return fmt.Errorf("%w: нет активного занятия", ErrNotFound)
	}
	return storeErr(t.Set(ctx, sess.Row, "status", models.StudyCancelled))
}

// TimeoutSweep moves every session open for at least threshold to PENDING
// with end_time pinned at start + threshold. Rows are updated one by one;
// on a store failure the sessions closed so far are returned with the error.
func (s *StudyService) TimeoutSweep(ctx context.Context, threshold time.Duration) ([]models.StudySession, error) {
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return nil, err
	}
	now := s.clock.now()
	closed := []models.StudySession{}
	for _, r := range t.Rows() {
		sess := sessionFromRow(t.Schema, r)
		if !isOpen(sess) {
			continue
		}
		start, err := s.startedAt(sess)
		if err != nil {
			s.logger.Warn("Пропущена строка с некорректным временем", zap.Int("row", sess.Row), zap.Error(err))
			continue
		}
		if now.Sub(start) < threshold {
			continue
		}
		sess.EndTime = start.Add(threshold).Format(clockLayout)
		sess.Status = models.StudyPending
		sess.Minutes = int64(threshold.Minutes())
		if err := t.Set(ctx, sess.Row, "end_time", sess.EndTime); err != nil {
			return closed, storeErr(err)
		}
		if err := t.Set(ctx, sess.Row, "status", sess.Status); err != nil {
			return closed, storeErr(err)
		}
		if err := t.Set(ctx, sess.Row, "duration_min", itoa(sess.Minutes)); err != nil {
			return closed, storeErr(err)
		}
		s.metrics.SweepClosed.Inc()
		closed = append(closed, sess)
	}
	return closed, nil
}

func (s *StudyService) pendingRow(ctx context.Context, row int) (*sheet.Table, models.StudySession, error) {
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return nil, models.StudySession{}, err
	}
	r, ok := rowAt(t, row)
	if !ok {
		return nil, models.StudySession{}, fmt.Errorf("%w: строка %d", ErrNotFound, row)
	}
	sess := sessionFromRow(t.Schema, r)
	if sess.Status != models.StudyPending {
		return nil, sess, fmt.Errorf("%w: статус %s", ErrInvalidTransition, sess.Status)
	}
	if sess.Minutes == 0 {
		sess.Minutes = minutesBetween(sess.StartTime, sess.EndTime)
	}
	return t, sess, nil
}

// Approve closes a PENDING session and credits it. A reward of zero or less
// pays the amount recorded by the report, falling back to the minutes.
// The status is written before the credit.
func (s *StudyService) Approve(ctx context.Context, row int, reward int64, approver string) (models.StudySession, int64, error) {
	t, sess, err := s.pendingRow(ctx, row)
	if err != nil {
		return sess, 0, err
	}
	if reward <= 0 {
		reward = sess.Reward()
	}
	if err := t.Set(ctx, sess.Row, "status", models.StudyApproved); err != nil {
		return sess, 0, storeErr(err)
	}
	sess.Status = models.StudyApproved
	balance, err := s.ledger.Apply(ctx, sess.UserID, reward, "STUDY_REWARD", approver)
	if err != nil {
		s.logger.Error("Занятие одобрено, но начисление не выполнено",
			zap.Int("row", sess.Row), zap.String("user_id", sess.UserID), zap.Error(err))
		return sess, 0, err
	}
	if _, _, err := s.accounts.AddStudyMinutes(ctx, sess.UserID, sess.Minutes); err != nil {
		s.logger.Error("Не удалось обновить время занятий", zap.String("user_id", sess.UserID), zap.Error(err))
		return sess, balance, err
	}
	return sess, balance, nil
}

func (s *StudyService) Reject(ctx context.Context, row int) (models.StudySession, error) {
	t, sess, err := s.pendingRow(ctx, row)
	if err != nil {
		return sess, err
	}
	if err := t.Set(ctx, sess.Row, "status", models.StudyRejected); err != nil {
		return sess, storeErr(err)
	}
	sess.Status = models.StudyRejected
	return sess, nil
}

func (s *StudyService) Active(ctx context.Context, accountID string) (models.StudySession, bool, error) {
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return models.StudySession{}, false, err
	}
	sess, ok := s.latestOpen(t, accountID)
	return sess, ok, nil
}

// Report stores the learner's comment and concentration (1 to 5) on a
// session together with the amount an approval will pay, first-of-day
// bonus included.
func (s *StudyService) Report(ctx context.Context, row int, comment string, concentration int64) (int64, error) {
	if concentration < 1 || concentration > 5 {
		return 0, ErrInvalidInput
	}
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return 0, err
	}
	r, ok := rowAt(t, row)
	if !ok {
		return 0, ErrNotFound
	}
	sess := sessionFromRow(t.Schema, r)
	if sess.Minutes == 0 {
		sess.Minutes = minutesBetween(sess.StartTime, sess.EndTime)
	}
	first, err := s.IsFirstToday(ctx, sess.UserID, row)
	if err != nil {
		return 0, err
	}
	earned := Earned(sess.Minutes, first)

	if err := t.Set(ctx, row, "comment", comment); err != nil {
		return 0, storeErr(err)
	}
	if err := t.Set(ctx, row, "concentration", itoa(concentration)); err != nil {
		return 0, storeErr(err)
	}
	if err := t.Set(ctx, row, "earned_exp", itoa(earned)); err != nil {
		return 0, storeErr(err)
	}
	return earned, nil
}

// IsFirstToday reports whether row is the account's only reviewed or
// pending session dated today.
func (s *StudyService) IsFirstToday(ctx context.Context, accountID string, row int) (bool, error) {
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return false, err
	}
	today := s.clock.now().Format(dateLayout)
	for _, r := range t.Rows() {
		if r.Index == row {
			continue
		}
		sess := sessionFromRow(t.Schema, r)
		if sess.UserID != accountID || sess.Date != today {
			continue
		}
		if sess.Status == models.StudyPending || sess.Status == models.StudyApproved {
			return false, nil
		}
	}
	return true, nil
}

// Pending lists sessions awaiting review in sheet order.
func (s *StudyService) Pending(ctx context.Context) ([]models.StudySession, error) {
	t, err := openTable(ctx, s.store, sheet.StudyLog)
	if err != nil {
		return nil, err
	}
	out := []models.StudySession{}
	for _, r := range t.Rows() {
		sess := sessionFromRow(t.Schema, r)
		if sess.Status != models.StudyPending {
			continue
		}
		if sess.Minutes == 0 {
			sess.Minutes = minutesBetween(sess.StartTime, sess.EndTime)
		}
		out = append(out, sess)
	}
	return out, nil
}

// SweepAndNotify runs the timeout sweep and tells each affected learner.
func SweepAndNotify(ctx context.Context, study *StudyService, sink notify.Sink, threshold time.Duration, logger *zap.Logger) ([]models.StudySession, error) {
	closed, err := study.TimeoutSweep(ctx, threshold)
	for _, sess := range closed {
		notify.Deliver(ctx, sink, logger, models.Notification{
			Recipients: []string{sess.UserID},
			Kind:       "study.timeout",
			Text: fmt.Sprintf("Занятие «%s» с %s закрыто автоматически через %d мин. и отправлено на проверку.",
				sess.Subject, sess.StartTime, sess.Minutes),
		})
	}
	if err != nil {
		logger.Error("Проверка таймаутов прервана", zap.Int("closed", len(closed)), zap.Error(err))
		return closed, err
	}
	logger.Info("Проверка таймаутов завершена", zap.Int("closed", len(closed)))
	return closed, nil
}
