// Package service реализует жизненный цикл заданий биржи тестировщиков.
//
// Каждая изменяющая операция выполняется одной транзакцией хранилища,
// охватывающей задание, состав участников, историю тестировщика, кошельки
// и журнал операций. Статус задания пересчитывается по времени в момент вызова.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/testermarket/internal/ledger"
	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/repository"
	"github.com/mmeshcher/testermarket/internal/validation"
)

// DefaultRates — тарифы вознаграждений по умолчанию.
func DefaultRates() model.Rates {
	return model.Rates{
		AppPerTester:         decimal.NewFromInt(500),
		SurveyPerQuestion:    decimal.NewFromInt(1),
		YoutubePerThumbnail:  decimal.NewFromInt(2),
		MarketingPlatformFee: decimal.RequireFromString("0.1"),
	}
}

// Service координирует задания, участников и кошельки.
type Service struct {
	store  repository.Store
	ledger *ledger.Service
	rates  model.Rates
	kinds  map[model.TaskKind]kindRules
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт сервис заданий.
func NewService(store repository.Store, ledgerSvc *ledger.Service, rates model.Rates, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		ledger: ledgerSvc,
		rates:  rates,
		kinds:  defaultKinds(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает хранилище.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Ledger возвращает сервис кошельков.
func (s *Service) Ledger() *ledger.Service {
	return s.ledger
}

// declined прерывает транзакцию с откатом и переносит отказ вызывающей стороне.
type declined struct {
	outcome model.Outcome
}

func (d *declined) Error() string {
	return "declined: " + d.outcome.Message
}

func asDeclined(err error) (model.Outcome, bool) {
	var d *declined
	if errors.As(err, &d) {
		return d.outcome, true
	}
	return model.Outcome{}, false
}

func (s *Service) rules(kind model.TaskKind) (kindRules, error) {
	r, ok := s.kinds[kind]
	if !ok {
		return kindRules{}, fmt.Errorf("%w: unknown task kind %q", model.ErrValidation, kind)
	}
	return r, nil
}

// RegisterTester создаёт профиль тестировщика и его кошелёк.
func (s *Service) RegisterTester(ctx context.Context, t model.Tester) (*model.Tester, *model.Wallet, error) {
	if err := validation.Tester(&t); err != nil {
		return nil, nil, err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	var wallet *model.Wallet
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		if err := tx.InsertTester(ctx, &t); err != nil {
			return err
		}
		w, err := s.ledger.CreateWalletTx(ctx, tx, model.OwnerKindTester, t.ID)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("tester registered", zap.String("tester_id", t.ID.String()))
	return &t, wallet, nil
}

// RegisterCreator создаёт профиль заказчика и его кошелёк.
func (s *Service) RegisterCreator(ctx context.Context, c model.Creator) (*model.Creator, *model.Wallet, error) {
	if err := validation.Creator(&c); err != nil {
		return nil, nil, err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	var wallet *model.Wallet
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		if err := tx.InsertCreator(ctx, &c); err != nil {
			return err
		}
		w, err := s.ledger.CreateWalletTx(ctx, tx, model.OwnerKindCreator, c.ID)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("creator registered", zap.String("creator_id", c.ID.String()))
	return &c, wallet, nil
}

// GetTask возвращает задание со статусом на текущий момент.
func (s *Service) GetTask(ctx context.Context, taskID uuid.UUID) (*model.Task, error) {
	var task *model.Task
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		t, err := tx.GetTask(ctx, taskID, false)
		if err != nil {
			return err
		}
		t.Refresh(s.now())
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListEligibleTasks возвращает открытые задания, под фильтр аудитории которых
// подходит тестировщик и на которые он ещё не откликался.
func (s *Service) ListEligibleTasks(ctx context.Context, testerID uuid.UUID) ([]model.Task, error) {
	var res []model.Task
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		tester, err := tx.GetTester(ctx, testerID)
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasksByStatus(ctx, model.TaskPending, model.TaskOpen)
		if err != nil {
			return err
		}

		now := s.now()
		res = res[:0]
		for _, t := range tasks {
			t.Refresh(now)
			if t.Status != model.TaskOpen || !t.Audience.Admits(tester) {
				continue
			}
			if t.Specific.Roster != nil {
				if _, ok := t.Specific.Roster.Lookup(testerID); ok {
					continue
				}
			} else if t.HasResponded(testerID) || t.Full() {
				continue
			}
			res = append(res, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TaskHistory возвращает историю заданий тестировщика, новые записи первыми.
func (s *Service) TaskHistory(ctx context.Context, testerID uuid.UUID) ([]model.HistoryEntry, error) {
	var res []model.HistoryEntry
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		if _, err := tx.GetTester(ctx, testerID); err != nil {
			return err
		}
		var err error
		res, err = tx.ListHistory(ctx, testerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CreatorTasks возвращает задания заказчика в порядке создания.
func (s *Service) CreatorTasks(ctx context.Context, creatorID uuid.UUID) ([]model.Task, error) {
	var res []model.Task
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		if _, err := tx.GetCreator(ctx, creatorID); err != nil {
			return err
		}
		ids, err := tx.ListCreatorTasks(ctx, creatorID)
		if err != nil {
			return err
		}

		now := s.now()
		res = make([]model.Task, 0, len(ids))
		for _, id := range ids {
			t, err := tx.GetTask(ctx, id, false)
			if err != nil {
				return fmt.Errorf("creator task %s: %w", id, err)
			}
			t.Refresh(now)
			res = append(res, *t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
