package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/repository"
)

// SubmitResult — результат отправки ответа.
type SubmitResult struct {
	model.Outcome
	Response *model.Response
	Payout   *model.CreditResult
}

// ReviewResult — результат проверки ответа заказчиком.
type ReviewResult struct {
	model.Outcome
	History *model.HistoryEntry
	Payout  *model.CreditResult
}

func reviewed(e *model.HistoryEntry) bool {
	return e != nil && (e.Status == model.HistorySuccess || e.Status == model.HistoryResponseRejected)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// SubmitResponse сохраняет ответ тестировщика. Для опросов и голосований
// вознаграждение зачисляется в той же транзакции.
func (s *Service) SubmitResponse(ctx context.Context, taskID, testerID uuid.UUID, sub model.Submission) (SubmitResult, error) {
	var res SubmitResult
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		tester, err := tx.GetTester(ctx, testerID)
		if err != nil {
			return err
		}
		task, refreshed, err := s.loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		rules, err := s.rules(task.Kind)
		if err != nil {
			return err
		}

		if rules.roster {
			res, err = s.submitSelected(ctx, tx, task, rules, testerID, &sub)
		} else {
			res, err = s.submitOpen(ctx, tx, task, rules, tester, &sub)
		}
		if err != nil {
			return err
		}
		if !res.Accepted && refreshed {
			return tx.UpdateTask(ctx, task)
		}
		return nil
	})
	if outcome, ok := asDeclined(err); ok {
		s.logOutcome("submit", taskID, testerID, outcome)
		return SubmitResult{Outcome: outcome}, nil
	}
	if err != nil {
		return SubmitResult{}, err
	}
	s.logOutcome("submit", taskID, testerID, res.Outcome)
	return res, nil
}

func (s *Service) newResponse(task *model.Task, testerID uuid.UUID, sub *model.Submission) *model.Response {
	return &model.Response{
		ID:          uuid.New(),
		TaskID:      task.ID,
		TesterID:    testerID,
		Kind:        task.Kind,
		Payload:     *sub,
		SubmittedAt: s.now(),
	}
}

// submitSelected обрабатывает ответ отобранного тестировщика.
// Выплата производится позже, при проверке ответа заказчиком.
func (s *Service) submitSelected(ctx context.Context, tx repository.Tx, task *model.Task, rules kindRules, testerID uuid.UUID, sub *model.Submission) (SubmitResult, error) {
	now := s.now()
	if task.Status == model.TaskPending || !now.Before(task.EndDate) {
		return SubmitResult{Outcome: model.Decline(model.MsgTaskNotOpen)}, nil
	}
	if set, ok := task.Specific.Roster.Lookup(testerID); !ok || set != model.RosterSelected {
		return SubmitResult{Outcome: model.Decline(model.MsgNotSelected)}, nil
	}

	entry, err := tx.GetHistory(ctx, testerID, task.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	if reviewed(entry) {
		return SubmitResult{Outcome: model.Decline(model.MsgAlreadyReviewed)}, nil
	}

	prev, err := tx.ListResponses(ctx, task.ID, testerID)
	if err != nil {
		return SubmitResult{}, err
	}
	if rules.dailyResponses {
		for _, r := range prev {
			if sameDay(r.SubmittedAt, now) {
				return SubmitResult{Outcome: model.Decline(model.MsgDailyLimit)}, nil
			}
		}
	} else if len(prev) > 0 {
		return SubmitResult{Outcome: model.Decline(model.MsgAlreadyResponded)}, nil
	}

	if err := rules.checkSubmission(task.Specific, sub); err != nil {
		return SubmitResult{}, err
	}

	resp := s.newResponse(task, testerID, sub)
	if err := tx.InsertResponse(ctx, resp); err != nil {
		return SubmitResult{}, err
	}
	if rules.submittedHistory != "" {
		if err := s.history(ctx, tx, testerID, task.ID, rules.submittedHistory); err != nil {
			return SubmitResult{}, err
		}
	}
	return SubmitResult{Outcome: model.Accept(), Response: resp}, nil
}

// submitOpen обрабатывает ответ на задание без отбора: один ответ
// на тестировщика, выплата сразу, закрытие при наборе нужного числа ответов.
func (s *Service) submitOpen(ctx context.Context, tx repository.Tx, task *model.Task, rules kindRules, tester *model.Tester, sub *model.Submission) (SubmitResult, error) {
	switch {
	case task.Status != model.TaskOpen:
		return SubmitResult{Outcome: model.Decline(model.MsgTaskNotOpen)}, nil
	case !task.Audience.Admits(tester):
		return SubmitResult{Outcome: model.Decline(model.MsgNotEligible)}, nil
	case task.HasResponded(tester.ID):
		return SubmitResult{Outcome: model.Decline(model.MsgAlreadyResponded)}, nil
	case task.Full():
		task.Advance(model.TaskClosed)
		if err := tx.UpdateTask(ctx, task); err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Outcome: model.Decline(model.MsgTaskAtCapacity)}, nil
	}

	if err := rules.checkSubmission(task.Specific, sub); err != nil {
		return SubmitResult{}, err
	}

	resp := s.newResponse(task, tester.ID, sub)
	if err := tx.InsertResponse(ctx, resp); err != nil {
		return SubmitResult{}, err
	}

	task.AddResponded(tester.ID)
	if task.Full() {
		task.Advance(model.TaskClosed)
	}
	if err := tx.UpdateTask(ctx, task); err != nil {
		return SubmitResult{}, err
	}
	if err := s.history(ctx, tx, tester.ID, task.ID, model.HistorySuccess); err != nil {
		return SubmitResult{}, err
	}

	credit, err := s.ledger.CreditTx(ctx, tx, tester.ID, rules.payout(task.Specific, s.rates), task.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !credit.Accepted {
		return SubmitResult{}, &declined{outcome: credit.Outcome}
	}
	return SubmitResult{Outcome: model.Accept(), Response: resp, Payout: &credit}, nil
}

// SetResponseStatus фиксирует решение заказчика по ответу отобранного
// тестировщика. Принятый ответ оплачивается в той же транзакции.
func (s *Service) SetResponseStatus(ctx context.Context, taskID, testerID, creatorID uuid.UUID, status model.ReviewStatus) (ReviewResult, error) {
	if status != model.ReviewAccepted && status != model.ReviewRejected {
		return ReviewResult{}, fmt.Errorf("%w: unknown review status %q", model.ErrValidation, status)
	}

	var res ReviewResult
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		task, refreshed, err := s.loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.CreatorID != creatorID {
			return fmt.Errorf("task %s: %w", taskID, model.ErrForbidden)
		}
		rules, err := s.rules(task.Kind)
		if err != nil {
			return err
		}
		if !rules.roster {
			return fmt.Errorf("%w: %s responses are not reviewed", model.ErrValidation, task.Kind)
		}
		if _, err := tx.GetTester(ctx, testerID); err != nil {
			return err
		}
		if refreshed {
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}
		}

		if set, ok := task.Specific.Roster.Lookup(testerID); !ok || set != model.RosterSelected {
			res = ReviewResult{Outcome: model.Decline(model.MsgNotSelected)}
			return nil
		}
		entry, err := tx.GetHistory(ctx, testerID, taskID)
		if err != nil {
			return err
		}
		if reviewed(entry) {
			res = ReviewResult{Outcome: model.Decline(model.MsgAlreadyReviewed), History: entry}
			return nil
		}
		responses, err := tx.ListResponses(ctx, taskID, testerID)
		if err != nil {
			return err
		}
		if len(responses) == 0 {
			res = ReviewResult{Outcome: model.Decline(model.MsgNoResponse), History: entry}
			return nil
		}

		next := model.HistoryEntry{
			TesterID:  testerID,
			TaskID:    taskID,
			Status:    model.HistoryResponseRejected,
			UpdatedAt: s.now(),
		}
		res = ReviewResult{Outcome: model.Accept(), History: &next}

		if status == model.ReviewAccepted {
			next.Status = model.HistorySuccess
			credit, err := s.ledger.CreditTx(ctx, tx, testerID, rules.payout(task.Specific, s.rates), taskID)
			if err != nil {
				return err
			}
			if !credit.Accepted {
				return &declined{outcome: credit.Outcome}
			}
			res.Payout = &credit
		}
		return tx.UpsertHistory(ctx, next)
	})
	if outcome, ok := asDeclined(err); ok {
		s.logOutcome("review", taskID, testerID, outcome)
		return ReviewResult{Outcome: outcome}, nil
	}
	if err != nil {
		return ReviewResult{}, err
	}

	if res.Payout != nil {
		s.logger.Info("response accepted and paid",
			zap.String("task_id", taskID.String()),
			zap.String("tester_id", testerID.String()),
			zap.String("balance", res.Payout.Wallet.Balance.String()))
	} else {
		s.logOutcome("review", taskID, testerID, res.Outcome)
	}
	return res, nil
}
