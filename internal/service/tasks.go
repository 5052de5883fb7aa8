package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/repository"
	"github.com/mmeshcher/testermarket/internal/validation"
)

// CreateTaskResult — результат создания задания.
// При Underfunded задание не создаётся, Task пуст.
type CreateTaskResult struct {
	Task        *model.Task
	RewardPool  decimal.Decimal
	Underfunded bool
	Debit       model.DebitResult
}

// TaskOutcome — результат операции над составом участников задания.
type TaskOutcome struct {
	model.Outcome
	Task *model.Task
}

func newTask(p *model.CreateTaskParams, roster bool, now time.Time) *model.Task {
	taskID := uuid.New()
	specificID := uuid.New()

	t := &model.Task{
		ID:             taskID,
		Kind:           p.Kind,
		CreatorID:      p.CreatorID,
		PostDate:       p.PostDate.UTC(),
		EndDate:        p.EndDate.UTC(),
		TesterCount:    p.TesterCount,
		Audience:       p.Audience,
		Heading:        p.Heading,
		Instruction:    p.Instruction,
		Status:         model.StatusAt(p.PostDate, p.EndDate, now),
		Responded:      []uuid.UUID{},
		SpecificTaskID: specificID,
		CreatedAt:      now,
		Specific: &model.SpecificTask{
			ID:        specificID,
			TaskID:    taskID,
			Kind:      p.Kind,
			App:       p.App,
			Marketing: p.Marketing,
			Survey:    p.Survey,
			Youtube:   p.Youtube,
		},
	}
	if t.Audience.Gender == "" {
		t.Audience.Gender = model.GenderAny
	}
	if roster {
		t.Specific.Roster = model.NewRoster()
	}
	return t
}

// CreateTask создаёт задание и списывает с заказчика призовой фонд.
// Если средств не хватает, создание откатывается целиком и результат
// помечается как Underfunded.
func (s *Service) CreateTask(ctx context.Context, p model.CreateTaskParams) (CreateTaskResult, error) {
	if err := validation.TaskParams(&p); err != nil {
		return CreateTaskResult{}, err
	}
	rules, err := s.rules(p.Kind)
	if err != nil {
		return CreateTaskResult{}, err
	}

	task := newTask(&p, rules.roster, s.now())
	pool := rules.rewardPool(task.TesterCount, task.Specific, s.rates)
	if err := validation.Amount(pool); err != nil {
		return CreateTaskResult{}, fmt.Errorf("reward pool: %w", err)
	}

	res := CreateTaskResult{RewardPool: pool}
	err = repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		if _, err := tx.GetCreator(ctx, p.CreatorID); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		if err := tx.AppendCreatorTask(ctx, p.CreatorID, task.ID); err != nil {
			return err
		}

		debit, err := s.ledger.DebitTx(ctx, tx, p.CreatorID, pool, task.ID)
		if err != nil {
			return err
		}
		res.Debit = debit
		if !debit.Accepted {
			return &declined{outcome: debit.Outcome}
		}
		return nil
	})
	if _, ok := asDeclined(err); ok {
		s.logger.Info("task creation underfunded",
			zap.String("creator_id", p.CreatorID.String()),
			zap.String("reward_pool", pool.String()))
		res.Underfunded = true
		return res, nil
	}
	if err != nil {
		return CreateTaskResult{}, err
	}

	res.Task = task
	s.logger.Info("task created",
		zap.String("task_id", task.ID.String()),
		zap.String("kind", string(task.Kind)),
		zap.String("status", string(task.Status)),
		zap.String("reward_pool", pool.String()))
	return res, nil
}

// loadTask читает задание под блокировкой и применяет к нему временное окно.
func (s *Service) loadTask(ctx context.Context, tx repository.Tx, taskID uuid.UUID) (*model.Task, bool, error) {
	task, err := tx.GetTask(ctx, taskID, true)
	if err != nil {
		return nil, false, err
	}
	return task, task.Refresh(s.now()), nil
}

func (s *Service) history(ctx context.Context, tx repository.Tx, testerID, taskID uuid.UUID, status model.HistoryStatus) error {
	return tx.UpsertHistory(ctx, model.HistoryEntry{
		TesterID:  testerID,
		TaskID:    taskID,
		Status:    status,
		UpdatedAt: s.now(),
	})
}

// ApplyToTask добавляет тестировщика в список подавших заявку.
func (s *Service) ApplyToTask(ctx context.Context, testerID, taskID uuid.UUID) (TaskOutcome, error) {
	var res TaskOutcome
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
		if !rules.roster {
			return fmt.Errorf("%w: %s tasks do not take applications", model.ErrValidation, task.Kind)
		}

		res = TaskOutcome{Outcome: model.Accept(), Task: task}
		set, member := task.Specific.Roster.Lookup(testerID)
		switch {
		case member && set == model.RosterSelected:
			res.Outcome = model.Decline(model.MsgAlreadySelected)
		case member && set == model.RosterRejected:
			res.Outcome = model.Decline(model.MsgAlreadyRejected)
		case member:
			res.Outcome = model.Decline(model.MsgAlreadyApplied)
		case task.Status != model.TaskOpen:
			res.Outcome = model.Decline(model.MsgTaskNotOpen)
		case !task.Audience.Admits(tester):
			res.Outcome = model.Decline(model.MsgNotEligible)
		}
		if !res.Accepted {
			if refreshed {
				return tx.UpdateTask(ctx, task)
			}
			return nil
		}

		if err := task.Specific.Roster.Add(testerID, model.RosterApplied); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return s.history(ctx, tx, testerID, taskID, model.HistoryApplied)
	})
	if err != nil {
		return TaskOutcome{}, err
	}
	s.logOutcome("apply", taskID, testerID, res.Outcome)
	return res, nil
}

// ApproveTester переводит тестировщика из подавших заявку в отобранные.
// Отбор последнего участника закрывает задание в той же транзакции.
func (s *Service) ApproveTester(ctx context.Context, taskID, testerID, creatorID uuid.UUID) (TaskOutcome, error) {
	return s.review(ctx, taskID, testerID, creatorID, model.RosterSelected)
}

// RejectTester переводит тестировщика из подавших заявку в отклонённые.
// Отклонение не закрывает задание.
func (s *Service) RejectTester(ctx context.Context, taskID, testerID, creatorID uuid.UUID) (TaskOutcome, error) {
	return s.review(ctx, taskID, testerID, creatorID, model.RosterRejected)
}

func (s *Service) review(ctx context.Context, taskID, testerID, creatorID uuid.UUID, to model.RosterSet) (TaskOutcome, error) {
	var res TaskOutcome
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
			return fmt.Errorf("%w: %s tasks have no roster", model.ErrValidation, task.Kind)
		}
		if _, err := tx.GetTester(ctx, testerID); err != nil {
			return err
		}

		roster := task.Specific.Roster
		res = TaskOutcome{Outcome: model.Accept(), Task: task}

		set, ok := roster.Lookup(testerID)
		switch {
		case !ok:
			res.Outcome = model.Decline(model.MsgNotApplied)
		case set == model.RosterSelected:
			res.Outcome = model.Decline(model.MsgAlreadySelected)
		case set == model.RosterRejected:
			res.Outcome = model.Decline(model.MsgAlreadyRejected)
		case to == model.RosterSelected && task.Status != model.TaskOpen:
			res.Outcome = model.Decline(model.MsgTaskNotOpen)
		case to == model.RosterSelected && roster.Count(model.RosterSelected) >= task.TesterCount:
			res.Outcome = model.Decline(model.MsgTaskAtCapacity)
		}
		if !res.Accepted {
			if refreshed {
				return tx.UpdateTask(ctx, task)
			}
			return nil
		}

		if err := roster.Move(testerID, model.RosterApplied, to); err != nil {
			return err
		}

		status := model.HistoryRejected
		if to == model.RosterSelected {
			status = model.HistoryPending
			if roster.Count(model.RosterSelected) >= task.TesterCount {
				task.Advance(model.TaskClosed)
			}
		}

		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		return s.history(ctx, tx, testerID, taskID, status)
	})
	if err != nil {
		return TaskOutcome{}, err
	}

	op := "approve"
	if to == model.RosterRejected {
		op = "reject"
	}
	s.logOutcome(op, taskID, testerID, res.Outcome)
	return res, nil
}

func (s *Service) logOutcome(op string, taskID, testerID uuid.UUID, o model.Outcome) {
	if o.Accepted {
		s.logger.Debug(op+" accepted",
			zap.String("task_id", taskID.String()),
			zap.String("tester_id", testerID.String()))
		return
	}
	s.logger.Debug(op+" declined",
		zap.String("task_id", taskID.String()),
		zap.String("tester_id", testerID.String()),
		zap.String("reason", o.Message))
}
