package service

import (
	"testing"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStudyStartStopApprove(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")

	sess, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)
	assert.Equal(t, "2026-04-01", sess.Date)
	assert.Equal(t, "16:00:00", sess.StartTime)

	f.now = f.now.Add(40 * time.Minute)
	sess, err = f.study.Stop(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.StudyPending, sess.Status)
	assert.Equal(t, int64(40), sess.Minutes)
	assert.Equal(t, 2, sess.Row)
	assert.Equal(t, "16:40:00", f.cell(t, sheet.StudyLog, 2, "end_time"))
	assert.Equal(t, "40", f.cell(t, sheet.StudyLog, 2, "duration_min"))
	assert.NotEmpty(t, f.cell(t, sheet.StudyLog, 2, "rank_score"))

	_, balance, err := f.study.Approve(f.ctx, sess.Row, 40, "Mom")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	acc, err := f.accounts.Get(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acc.CurrentExp)
	assert.Equal(t, int64(40), acc.TotalStudyMinutes)
	assert.Equal(t, "E", acc.Rank)
	assert.Equal(t, models.StudyApproved, f.cell(t, sheet.StudyLog, 2, "status"))
}

func TestStudyApproveIsNotRepeatable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)
	f.now = f.now.Add(30 * time.Minute)
	sess, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)

	_, _, err = f.study.Approve(f.ctx, sess.Row, 0, "Mom")
	require.NoError(t, err)
	_, _, err = f.study.Approve(f.ctx, sess.Row, 0, "Mom")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	history, err := f.ledger.History(f.ctx, "A")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(30), history[0].Amount, "reward defaults to minutes")
	assert.Equal(t, "STUDY_REWARD", history[0].Reference)

	_, err = f.study.Reject(f.ctx, sess.Row)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStudyStartRejectsSecondOpenSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)

	_, err = f.study.Start(f.ctx, "A", "english")
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = f.study.Start(f.ctx, "nobody", "math")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStudyStopClampsDuration(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)

	f.now = f.now.Add(150 * time.Minute)
	sess, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(90), sess.Minutes)
}

func TestStudyStopAcrossMidnight(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2026, 4, 1, 23, 50, 0, 0, jst)
	f.register(t, "A", "Taro")
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Minute)
	sess, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(30), sess.Minutes)

	pending, err := f.study.Pending(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(30), pending[0].Minutes)
}

func TestStudyCancel(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)

	require.NoError(t, f.study.Cancel(f.ctx, "A"))
	assert.Equal(t, models.StudyCancelled, f.cell(t, sheet.StudyLog, 2, "status"))

	_, err = f.study.Stop(f.ctx, "A")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.study.Cancel(f.ctx, "A"), ErrNotFound)

	_, err = f.study.Start(f.ctx, "A", "math")
	assert.NoError(t, err, "a cancelled session does not block a new one")
}

func TestTimeoutSweepPinsEndTime(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	f.register(t, "B", "Hana")

	f.now = time.Date(2026, 4, 1, 10, 0, 0, 0, jst)
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)
	f.now = time.Date(2026, 4, 1, 11, 0, 0, 0, jst)
	_, err = f.study.Start(f.ctx, "B", "science")
	require.NoError(t, err)

	f.now = time.Date(2026, 4, 1, 11, 35, 0, 0, jst)
	closed, err := SweepAndNotify(f.ctx, f.study, f.sink, 90*time.Minute, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, closed, 1)
	assert.Equal(t, "A", closed[0].UserID)
	assert.Equal(t, "11:30:00", closed[0].EndTime, "pinned to start + threshold")
	assert.Equal(t, int64(90), closed[0].Minutes)
	assert.Equal(t, "11:30:00", f.cell(t, sheet.StudyLog, 2, "end_time"))
	assert.Equal(t, models.StudyPending, f.cell(t, sheet.StudyLog, 2, "status"))
	assert.Equal(t, models.StudyStarted, f.cell(t, sheet.StudyLog, 3, "status"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweepClosed))

	sent := f.sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"A"}, sent[0].Recipients)

	again, err := f.study.TimeoutSweep(f.ctx, 90*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestStudyReportAndFirstOfDay(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)
	f.now = f.now.Add(20 * time.Minute)
	first, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)

	ok, err := f.study.IsFirstToday(f.ctx, "A", first.Row)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.study.Start(f.ctx, "A", "english")
	require.NoError(t, err)
	f.now = f.now.Add(20 * time.Minute)
	second, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)
	ok, err = f.study.IsFirstToday(f.ctx, "A", second.Row)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.study.Report(f.ctx, second.Row, "ok", 6)
	assert.ErrorIs(t, err, ErrInvalidInput)
	earned, err := f.study.Report(f.ctx, second.Row, "ok", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(20), earned, "no bonus for the second session of the day")
	assert.Equal(t, "3", f.cell(t, sheet.StudyLog, second.Row, "concentration"))
	assert.Equal(t, "20", f.cell(t, sheet.StudyLog, second.Row, "earned_exp"))
}

func TestEstimateRankAndLetters(t *testing.T) {
	est, ok := EstimateRank(60, 1)
	require.True(t, ok)
	assert.Equal(t, int64(3838), est.Position)
	assert.Equal(t, 50.0, est.Deviation)
	assert.Positive(t, est.Overtaken)

	_, ok = EstimateRank(0, 1)
	assert.False(t, ok)

	cases := map[int64]string{0: "E", 119: "E", 120: "D", 600: "C", 1200: "B", 3000: "A", 6000: "S"}
	for minutes, want := range cases {
		assert.Equal(t, want, RankLetter(minutes), "minutes %d", minutes)
	}
	assert.Equal(t, int64(70), Earned(40, true))
	assert.Equal(t, int64(4), Earned(4, true))
	assert.Equal(t, int64(40), Earned(40, false))
}
