package service

import (
	"testing"
	"time"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportFlowCollectsCommentAndConcentration(t *testing.T) {
	f := newFixture(t)
	f.admin(t, "mom", "Mom")
	f.register(t, "A", "Taro")

	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)
	f.now = f.now.Add(40 * time.Minute)
	sess, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)

	step, err := f.report.Begin(f.ctx, "A", sess)
	require.NoError(t, err)
	assert.Equal(t, ModeWaitingComment, step.Mode)

	step, err = f.report.Handle(f.ctx, "A", "  chapter 3  ")
	require.NoError(t, err)
	assert.Equal(t, ModeWaitingConcentration, step.Mode)

	step, err = f.report.Handle(f.ctx, "A", "9")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, ModeWaitingConcentration, step.Mode, "state is kept after a bad answer")

	step, err = f.report.Handle(f.ctx, "A", "4")
	require.NoError(t, err)
	assert.True(t, step.Done)
	assert.Equal(t, int64(70), step.Earned)
	assert.Equal(t, sess.Row, step.Row)

	assert.Equal(t, "chapter 3", f.cell(t, sheet.StudyLog, sess.Row, "comment"))
	assert.Equal(t, "4", f.cell(t, sheet.StudyLog, sess.Row, "concentration"))

	sent := f.sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"mom"}, sent[0].Recipients)
	assert.Equal(t, "study.review", sent[0].Kind)
	assert.Contains(t, sent[0].Text, "Taro")

	_, ok, err := f.report.Pending(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportedBonusIsPaidOnDefaultApprove(t *testing.T) {
	f := newFixture(t)
	f.admin(t, "mom", "Mom")
	f.register(t, "A", "Taro")

	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)
	f.now = f.now.Add(40 * time.Minute)
	sess, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)
	_, err = f.report.Begin(f.ctx, "A", sess)
	require.NoError(t, err)
	_, err = f.report.Handle(f.ctx, "A", "chapter 3")
	require.NoError(t, err)
	step, err := f.report.Handle(f.ctx, "A", "4")
	require.NoError(t, err)
	require.Equal(t, int64(70), step.Earned)
	assert.Equal(t, "70", f.cell(t, sheet.StudyLog, sess.Row, "earned_exp"))

	pending, err := f.approvals.GetAllPending(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(70), pending[0].Amount)
	assert.Equal(t, int64(40), pending[0].Minutes)

	approved, balance, err := f.study.Approve(f.ctx, sess.Row, 0, "Mom")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
	assert.Equal(t, int64(70), approved.EarnedExp)

	acc, err := f.accounts.Get(f.ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acc.TotalStudyMinutes, "study time counts minutes, not the bonus")
}

func TestReportFlowWithoutState(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")

	_, err := f.report.Handle(f.ctx, "A", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok, err := f.report.Pending(f.ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportStateExpires(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "Taro")
	_, err := f.study.Start(f.ctx, "A", "math")
	require.NoError(t, err)
	f.now = f.now.Add(10 * time.Minute)
	sess, err := f.study.Stop(f.ctx, "A")
	require.NoError(t, err)

	_, err = f.report.Begin(f.ctx, "A", sess)
	require.NoError(t, err)
	f.now = f.now.Add(6 * time.Minute)

	_, err = f.report.Handle(f.ctx, "A", "late")
	assert.ErrorIs(t, err, ErrNotFound)
}
