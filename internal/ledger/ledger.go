// Package ledger управляет кошельками и журналом операций.
//
// Каждое изменение баланса записывается в журнал в той же транзакции.
// Контрагентом всех списаний и начислений по заданиям выступает системный
// кошелёк: списание пополняет его, начисление уменьшает на ту же сумму.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/testermarket/internal/model"
	"github.com/mmeshcher/testermarket/internal/repository"
	"github.com/mmeshcher/testermarket/internal/validation"
)

var clock = func() time.Time { return time.Now().UTC() }

// Service реализует операции над кошельками.
type Service struct {
	store          repository.Store
	systemWalletID uuid.UUID
	logger         *zap.Logger
	now            func() time.Time
}

// New создаёт сервис кошельков. systemWalletID должен быть получен
// через ResolveSystemWallet при старте процесса.
func New(store repository.Store, systemWalletID uuid.UUID, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:          store,
		systemWalletID: systemWalletID,
		logger:         logger,
		now:            clock,
	}
}

// SystemWalletID возвращает идентификатор системного кошелька.
func (s *Service) SystemWalletID() uuid.UUID {
	return s.systemWalletID
}

// ResolveSystemWallet находит системный кошелёк или создаёт его.
// Если configured задан, найденный кошелёк обязан иметь этот идентификатор.
func ResolveSystemWallet(ctx context.Context, store repository.Store, configured uuid.UUID) (*model.Wallet, error) {
	var wallet *model.Wallet

	isTransient := func(err error) bool {
		return errors.Is(err, repository.ErrWalletExists) || store.IsTransient(err)
	}

	err := repository.WithRetry(ctx, repository.MaxAttempts, isTransient, func() error {
		return store.RunInTx(ctx, func(tx repository.Tx) error {
			w, err := tx.GetSystemWallet(ctx)
			if err == nil {
				if configured != uuid.Nil && w.ID != configured {
					return fmt.Errorf("system wallet %s does not match configured %s", w.ID, configured)
				}
				wallet = w
				return nil
			}
			if !errors.Is(err, model.ErrWalletNotFound) {
				return fmt.Errorf("get system wallet: %w", err)
			}

			id := configured
			if id == uuid.Nil {
				id = uuid.New()
			}
			w = &model.Wallet{
				ID:        id,
				OwnerKind: model.OwnerKindSystem,
				Balance:   decimal.Zero,
				CreatedAt: clock(),
			}
			if err := tx.InsertWallet(ctx, w); err != nil {
				return err
			}
			wallet = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// CreateWallet создаёт кошелёк тестировщика или заказчика с нулевым балансом.
func (s *Service) CreateWallet(ctx context.Context, kind model.OwnerKind, ownerID uuid.UUID) (*model.Wallet, error) {
	var wallet *model.Wallet
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		w, err := s.CreateWalletTx(ctx, tx, kind, ownerID)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// CreateWalletTx создаёт кошелёк в рамках уже открытой транзакции.
func (s *Service) CreateWalletTx(ctx context.Context, tx repository.Tx, kind model.OwnerKind, ownerID uuid.UUID) (*model.Wallet, error) {
	if kind != model.OwnerKindTester && kind != model.OwnerKindCreator {
		return nil, fmt.Errorf("%w: wallet owner kind %q", model.ErrValidation, kind)
	}
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: wallet owner id is required", model.ErrValidation)
	}

	owner := ownerID
	w := &model.Wallet{
		ID:        uuid.New(),
		OwnerID:   &owner,
		OwnerKind: kind,
		Balance:   decimal.Zero,
		CreatedAt: s.now(),
	}
	if err := tx.InsertWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// GetWallet возвращает кошелёк владельца.
func (s *Service) GetWallet(ctx context.Context, ownerID uuid.UUID) (*model.Wallet, error) {
	var wallet *model.Wallet
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		w, err := tx.GetWalletByOwner(ctx, ownerID, false)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// GetSystemWallet возвращает системный кошелёк.
func (s *Service) GetSystemWallet(ctx context.Context) (*model.Wallet, error) {
	var wallet *model.Wallet
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		w, err := tx.GetWalletByID(ctx, s.systemWalletID, false)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// Debit списывает amount с кошелька владельца в пользу системного кошелька.
// Недостаток средств возвращается как отказ, а не как ошибка.
func (s *Service) Debit(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, taskID uuid.UUID) (model.DebitResult, error) {
	if err := validation.Amount(amount); err != nil {
		return model.DebitResult{}, err
	}

	var res model.DebitResult
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		r, err := s.DebitTx(ctx, tx, ownerID, amount, taskID)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		s.logger.Error("debit failed", zap.Error(err), zap.String("owner_id", ownerID.String()))
		return model.DebitResult{}, err
	}
	if !res.Accepted {
		s.logger.Debug("debit declined",
			zap.String("owner_id", ownerID.String()),
			zap.String("amount", amount.String()),
			zap.String("reason", res.Message))
	}
	return res, nil
}

// DebitTx выполняет списание внутри транзакции вызывающей стороны.
// Повторное списание по той же паре (владелец, задание) ничего не меняет,
// а повтор с другой суммой возвращает model.ErrAmountMismatch.
func (s *Service) DebitTx(ctx context.Context, tx repository.Tx, ownerID uuid.UUID, amount decimal.Decimal, taskID uuid.UUID) (model.DebitResult, error) {
	if err := validation.Amount(amount); err != nil {
		return model.DebitResult{}, err
	}
	done, err := tx.FindTransaction(ctx, ownerID, taskID, model.DirectionDebit)
	if err != nil {
		return model.DebitResult{}, err
	}

	wallet, err := tx.GetWalletByOwner(ctx, ownerID, true)
	if err != nil {
		return model.DebitResult{}, err
	}
	system, err := tx.GetWalletByID(ctx, s.systemWalletID, true)
	if err != nil {
		return model.DebitResult{}, fmt.Errorf("system wallet: %w", err)
	}

	if done != nil {
		if err := sameAmount(done, amount); err != nil {
			return model.DebitResult{}, err
		}
		return model.DebitResult{Outcome: model.Accept(), Wallet: wallet, SystemWallet: system}, nil
	}

	if wallet.Balance.LessThan(amount) {
		return model.DebitResult{
			Outcome:      model.Decline(model.MsgInsufficientFunds),
			Wallet:       wallet,
			SystemWallet: system,
		}, nil
	}

	wallet.Balance = wallet.Balance.Sub(amount)
	system.Balance = system.Balance.Add(amount)

	if err := s.move(ctx, tx, wallet, system, amount, taskID); err != nil {
		return model.DebitResult{}, err
	}
	return model.DebitResult{Outcome: model.Accept(), Wallet: wallet, SystemWallet: system}, nil
}

// Credit зачисляет amount на кошелёк владельца за счёт системного кошелька.
func (s *Service) Credit(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal, taskID uuid.UUID) (model.CreditResult, error) {
	if err := validation.Amount(amount); err != nil {
		return model.CreditResult{}, err
	}

	var res model.CreditResult
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		r, err := s.CreditTx(ctx, tx, ownerID, amount, taskID)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		s.logger.Error("credit failed", zap.Error(err), zap.String("owner_id", ownerID.String()))
		return model.CreditResult{}, err
	}
	if !res.Accepted {
		s.logger.Warn("credit declined",
			zap.String("owner_id", ownerID.String()),
			zap.String("amount", amount.String()),
			zap.String("reason", res.Message))
	}
	return res, nil
}

// CreditTx выполняет зачисление внутри транзакции вызывающей стороны.
// Повторное зачисление по той же паре (владелец, задание) ничего не меняет,
// а повтор с другой суммой возвращает model.ErrAmountMismatch.
func (s *Service) CreditTx(ctx context.Context, tx repository.Tx, ownerID uuid.UUID, amount decimal.Decimal, taskID uuid.UUID) (model.CreditResult, error) {
	if err := validation.Amount(amount); err != nil {
		return model.CreditResult{}, err
	}
	done, err := tx.FindTransaction(ctx, ownerID, taskID, model.DirectionCredit)
	if err != nil {
		return model.CreditResult{}, err
	}

	wallet, err := tx.GetWalletByOwner(ctx, ownerID, true)
	if err != nil {
		return model.CreditResult{}, err
	}
	if done != nil {
		if err := sameAmount(done, amount); err != nil {
			return model.CreditResult{}, err
		}
		return model.CreditResult{Outcome: model.Accept(), Wallet: wallet}, nil
	}

	system, err := tx.GetWalletByID(ctx, s.systemWalletID, true)
	if err != nil {
		return model.CreditResult{}, fmt.Errorf("system wallet: %w", err)
	}

	if system.Balance.LessThan(amount) {
		return model.CreditResult{
			Outcome: model.Decline(model.MsgInsufficientSystemFunds),
			Wallet:  wallet,
		}, nil
	}

	system.Balance = system.Balance.Sub(amount)
	wallet.Balance = wallet.Balance.Add(amount)

	if err := s.move(ctx, tx, system, wallet, amount, taskID); err != nil {
		return model.CreditResult{}, err
	}
	return model.CreditResult{Outcome: model.Accept(), Wallet: wallet}, nil
}

// sameAmount проверяет, что повтор по ключу идемпотентности запрашивает
// ту же сумму, что уже проведена.
func sameAmount(done *model.Transaction, amount decimal.Decimal) error {
	if done.Amount.Equal(amount) {
		return nil
	}
	return fmt.Errorf("%w: %s already recorded as %s, requested %s",
		model.ErrAmountMismatch, done.Direction, done.Amount, amount)
}

// move сохраняет новые балансы обоих кошельков и пишет в журнал
// списание с from и зачисление на to.
func (s *Service) move(ctx context.Context, tx repository.Tx, from, to *model.Wallet, amount decimal.Decimal, taskID uuid.UUID) error {
	if err := tx.UpdateWalletBalance(ctx, from.ID, from.Balance); err != nil {
		return err
	}
	if err := tx.UpdateWalletBalance(ctx, to.ID, to.Balance); err != nil {
		return err
	}
	if err := s.record(ctx, tx, from, model.DirectionDebit, amount, taskID); err != nil {
		return err
	}
	return s.record(ctx, tx, to, model.DirectionCredit, amount, taskID)
}

func (s *Service) record(ctx context.Context, tx repository.Tx, w *model.Wallet, dir model.Direction, amount decimal.Decimal, taskID uuid.UUID) error {
	tr := &model.Transaction{
		ID:        uuid.New(),
		WalletID:  w.ID,
		OwnerID:   w.OwnerID,
		Direction: dir,
		Amount:    amount,
		Status:    model.TransactionCompleted,
		CreatedAt: s.now(),
	}
	if taskID != uuid.Nil {
		task := taskID
		tr.RelatedTaskID = &task
	}
	return tx.InsertTransaction(ctx, tr)
}

// Deposit зачисляет средства, уже принятые внешней платёжной системой.
// Системный кошелёк в операции не участвует.
func (s *Service) Deposit(ctx context.Context, ownerID uuid.UUID, amount decimal.Decimal) (*model.Wallet, error) {
	if err := validation.Amount(amount); err != nil {
		return nil, err
	}

	var wallet *model.Wallet
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		w, err := tx.GetWalletByOwner(ctx, ownerID, true)
		if err != nil {
			return err
		}
		w.Balance = w.Balance.Add(amount)
		if err := tx.UpdateWalletBalance(ctx, w.ID, w.Balance); err != nil {
			return err
		}
		if err := s.record(ctx, tx, w, model.DirectionCredit, amount, uuid.Nil); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit accepted",
		zap.String("owner_id", ownerID.String()),
		zap.String("amount", amount.String()))
	return wallet, nil
}

// Transactions возвращает журнал операций кошелька владельца в порядке записи.
func (s *Service) Transactions(ctx context.Context, ownerID uuid.UUID) ([]model.Transaction, error) {
	var res []model.Transaction
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		w, err := tx.GetWalletByOwner(ctx, ownerID, false)
		if err != nil {
			return err
		}
		res, err = tx.ListTransactions(ctx, w.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Reconciliation — сверка баланса кошелька с журналом.
type Reconciliation struct {
	WalletID uuid.UUID       `json:"wallet_id"`
	Balance  decimal.Decimal `json:"balance"`
	Credits  decimal.Decimal `json:"credits"`
	Debits   decimal.Decimal `json:"debits"`
}

// Consistent сообщает, совпадает ли баланс с разностью зачислений и списаний.
func (r Reconciliation) Consistent() bool {
	return r.Balance.Equal(r.Credits.Sub(r.Debits))
}

// Reconcile сверяет кошелёк владельца с журналом.
func (s *Service) Reconcile(ctx context.Context, ownerID uuid.UUID) (Reconciliation, error) {
	return s.reconcile(ctx, func(tx repository.Tx) (*model.Wallet, error) {
		return tx.GetWalletByOwner(ctx, ownerID, false)
	})
}

// ReconcileSystem сверяет системный кошелёк с журналом.
func (s *Service) ReconcileSystem(ctx context.Context) (Reconciliation, error) {
	return s.reconcile(ctx, func(tx repository.Tx) (*model.Wallet, error) {
		return tx.GetWalletByID(ctx, s.systemWalletID, false)
	})
}

func (s *Service) reconcile(ctx context.Context, load func(repository.Tx) (*model.Wallet, error)) (Reconciliation, error) {
	var rec Reconciliation
	err := repository.Atomic(ctx, s.store, func(tx repository.Tx) error {
		w, err := load(tx)
		if err != nil {
			return err
		}
		trs, err := tx.ListTransactions(ctx, w.ID)
		if err != nil {
			return err
		}

		rec = Reconciliation{WalletID: w.ID, Balance: w.Balance, Credits: decimal.Zero, Debits: decimal.Zero}
		for _, tr := range trs {
			if tr.Status != model.TransactionCompleted {
				continue
			}
			switch tr.Direction {
			case model.DirectionCredit:
				rec.Credits = rec.Credits.Add(tr.Amount)
			case model.DirectionDebit:
				rec.Debits = rec.Debits.Add(tr.Amount)
			}
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	if !rec.Consistent() {
		s.logger.Error("wallet does not reconcile",
			zap.String("wallet_id", rec.WalletID.String()),
			zap.String("balance", rec.Balance.String()),
			zap.String("credits", rec.Credits.String()),
			zap.String("debits", rec.Debits.String()))
	}
	return rec, nil
}
