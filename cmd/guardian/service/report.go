package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/models"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/notify"
	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/state"
	"go.uber.org/zap"
)

const (
	ModeWaitingComment       = "WAITING_COMMENT"
	ModeWaitingConcentration = "WAITING_CONCENTRATION"
)

type reportState struct {
	Mode    string `json:"mode"`
	Row     int    `json:"row"`
	Minutes int64  `json:"minutes"`
	Subject string `json:"subject"`
	Comment string `json:"comment,omitempty"`
}

// ReportStep tells the caller what the flow expects next.
type ReportStep struct {
	Mode   string `json:"mode,omitempty"`
	Done   bool   `json:"done"`
	Earned int64  `json:"earned,omitempty"`
	Row    int    `json:"row,omitempty"`
}

// ReportFlow collects a comment and a concentration score after a session
// stops and then asks the admins for approval.
type ReportFlow struct {
	states   state.Store
	study    *StudyService
	accounts *AccountService
	sink     notify.Sink
	logger   *zap.Logger
}

func NewReportFlow(states state.Store, study *StudyService, accounts *AccountService, sink notify.Sink, logger *zap.Logger) *ReportFlow {
	return &ReportFlow{states: states, study: study, accounts: accounts, sink: sink, logger: logger}
}

func stateKey(accountID string) string { return "report:" + accountID }

func (f *ReportFlow) save(ctx context.Context, accountID string, st reportState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return f.states.Set(ctx, stateKey(accountID), string(raw))
}

// Begin starts the report for a session that has just been stopped.
func (f *ReportFlow) Begin(ctx context.Context, accountID string, sess models.StudySession) (ReportStep, error) {
	st := reportState{Mode: ModeWaitingComment, Row: sess.Row, Minutes: sess.Minutes, Subject: sess.Subject}
	if err := f.save(ctx, accountID, st); err != nil {
		return ReportStep{}, err
	}
	return ReportStep{Mode: st.Mode, Row: st.Row}, nil
}

// Pending returns the step the account is on, if any.
func (f *ReportFlow) Pending(ctx context.Context, accountID string) (ReportStep, bool, error) {
	st, ok, err := f.load(ctx, accountID)
	if err != nil || !ok {
		return ReportStep{}, ok, err
	}
	return ReportStep{Mode: st.Mode, Row: st.Row}, true, nil
}

func (f *ReportFlow) load(ctx context.Context, accountID string) (reportState, bool, error) {
	raw, ok, err := f.states.Get(ctx, stateKey(accountID))
	if err != nil || !ok {
		return reportState{}, ok, err
	}
	var st reportState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		f.logger.Warn("Повреждённое состояние отчёта", zap.String("user_id", accountID), zap.Error(err))
		_ = f.states.Delete(ctx, stateKey(accountID))
		return reportState{}, false, nil
	}
	return st, true, nil
}

// Handle feeds one answer into the flow.
func (f *ReportFlow) Handle(ctx context.Context, accountID, input string) (ReportStep, error) {
	st, ok, err := f.load(ctx, accountID)
	if err != nil {
		return ReportStep{}, err
	}
	if !ok {
		return ReportStep{}, fmt.Errorf("%w: нет ожидающего отчёта", ErrNotFound)
	}
	input = strings.TrimSpace(input)

	switch st.Mode {
	case ModeWaitingComment:
		st.Comment = input
		st.Mode = ModeWaitingConcentration
		if err := f.save(ctx, accountID, st); err != nil {
			return ReportStep{}, err
		}
		return ReportStep{Mode: st.Mode, Row: st.Row}, nil
	case ModeWaitingConcentration:
		level, err := strconv.ParseInt(input, 10, 64)
		if err != nil || level < 1 || level > 5 {
			return ReportStep{Mode: st.Mode, Row: st.Row}, ErrInvalidInput
		}
		return f.finish(ctx, accountID, st, level)
	default:
		_ = f.states.Delete(ctx, stateKey(accountID))
		return ReportStep{}, ErrInvalidTransition
	}
}

func (f *ReportFlow) finish(ctx context.Context, accountID string, st reportState, level int64) (ReportStep, error) {
	earned, err := f.study.Report(ctx, st.Row, st.Comment, level)
	if err != nil {
		return ReportStep{}, err
	}
	if err := f.states.Delete(ctx, stateKey(accountID)); err != nil {
		f.logger.Warn("Не удалось очистить состояние отчёта", zap.String("user_id", accountID), zap.Error(err))
	}

	name := accountID
	if acc, err := f.accounts.Get(ctx, accountID); err == nil {
		name = acc.DisplayName
	}
	notify.Deliver(ctx, f.sink, f.logger, models.Notification{
		Recipients: f.accounts.AdminIDs(ctx),
		Kind:       "study.review",
		Text: fmt.Sprintf("%s: %s, %d мин., концентрация %d/5, к начислению %d EXP. Комментарий: %s",
			name, st.Subject, st.Minutes, level, earned, st.Comment),
	})
	return ReportStep{Done: true, Earned: earned, Row: st.Row}, nil
}
